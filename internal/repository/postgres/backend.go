package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/canopy-portal/internal/repository"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

var defaultTables = []string{
	repository.TableAdminUsers,
	repository.TableOrganizations,
	repository.TablePlanters,
	repository.TableTreeApplications,
	repository.TableVolunteers,
	repository.TableAuditLogs,
}

var defaultRPCs = []string{
	repository.RPCCreateAdminUser,
	repository.RPCVerifyAdminLogin,
	repository.RPCUpdatePasswordByOldNew,
	repository.RPCVerifyOrgLoginByEmail,
	repository.RPCVerifyPlanterLoginByEmail,
}

// Backend implements repository.Backend on PostgreSQL. Table and function
// names are never taken from user input; both are checked against allowlists.
type Backend struct {
	db     *sqlx.DB
	tables map[string]struct{}
	rpcs   map[string]struct{}
}

func NewBackend(db *sqlx.DB) *Backend {
	b := &Backend{
		db:     db,
		tables: make(map[string]struct{}, len(defaultTables)),
		rpcs:   make(map[string]struct{}, len(defaultRPCs)),
	}
	for _, t := range defaultTables {
		b.tables[t] = struct{}{}
	}
	for _, r := range defaultRPCs {
		b.rpcs[r] = struct{}{}
	}
	return b
}

var _ repository.Backend = (*Backend)(nil)

func (b *Backend) Ping(ctx context.Context) error {
	return classify("ping", b.db.PingContext(ctx))
}

func (b *Backend) InsertRecord(ctx context.Context, table string, fields map[string]interface{}) (string, error) {
	if _, ok := b.tables[table]; !ok {
		return "", fmt.Errorf("insert: unknown table %q", table)
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("insert %s: no fields", table)
	}

	cols := sortedKeys(fields)
	args := make([]interface{}, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for i, col := range cols {
		if !identifier.MatchString(col) {
			return "", fmt.Errorf("insert %s: invalid column %q", table, col)
		}
		args = append(args, fields[col])
		marks = append(marks, fmt.Sprintf("$%d", i+1))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id::text",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "),
	)

	var id string
	if err := b.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return "", classify("insert "+table, err)
	}
	return id, nil
}

func (b *Backend) CallRPC(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	if _, ok := b.rpcs[name]; !ok {
		return nil, fmt.Errorf("rpc: unknown function %q", name)
	}

	keys := sortedKeys(args)
	params := make([]string, 0, len(keys))
	values := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		if !identifier.MatchString(k) {
			return nil, fmt.Errorf("rpc %s: invalid argument %q", name, k)
		}
		params = append(params, fmt.Sprintf("%s => $%d", k, i+1))
		values = append(values, args[k])
	}

	query := fmt.Sprintf(
		"SELECT COALESCE(json_agg(r), '[]'::json) FROM %s(%s) r",
		name, strings.Join(params, ", "),
	)

	var out []byte
	if err := b.db.QueryRowxContext(ctx, query, values...).Scan(&out); err != nil {
		return nil, classify("rpc "+name, err)
	}
	return json.RawMessage(out), nil
}

func (b *Backend) QueryActiveByID(ctx context.Context, table, id string) (json.RawMessage, error) {
	if _, ok := b.tables[table]; !ok {
		return nil, fmt.Errorf("query: unknown table %q", table)
	}

	query := fmt.Sprintf(
		"SELECT row_to_json(t) FROM %s t WHERE t.id::text = $1 AND t.is_active LIMIT 1",
		table,
	)

	var out []byte
	err := b.db.QueryRowxContext(ctx, query, id).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("query "+table, err)
	}
	return json.RawMessage(out), nil
}

var _ repository.AuditPruner = (*Backend)(nil)

func (b *Backend) PruneAuditLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM "+repository.TableAuditLogs+" WHERE created_at < $1", before)
	if err != nil {
		return 0, classify("prune audit_logs", err)
	}
	return res.RowsAffected()
}

// classify separates explicit rejections raised by the database from
// failures to reach it.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "P0", "28", "23", "22":
			return &repository.RemoteError{Op: op, Message: pqErr.Message}
		}
		if pqErr.Code == "42501" {
			return &repository.RemoteError{Op: op, Message: pqErr.Message}
		}
	}
	return repository.Transient(op, err)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
