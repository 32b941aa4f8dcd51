package postgres

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/canopy-portal/internal/repository"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	raised := classify("rpc update_password_by_old_new", &pq.Error{Code: "P0001", Message: "old password does not match"})
	assert.True(t, repository.IsRemote(raised))
	assert.False(t, repository.IsTransient(raised))

	dup := classify("rpc create_admin_user", &pq.Error{Code: "23505", Message: "duplicate key"})
	assert.True(t, repository.IsRemote(dup))

	conn := classify("insert tree_campaign_applications", driver.ErrBadConn)
	assert.True(t, repository.IsTransient(conn))

	timeout := classify("ping", context.DeadlineExceeded)
	assert.True(t, repository.IsTransient(timeout))

	shutdown := classify("ping", &pq.Error{Code: "57P01", Message: "terminating connection"})
	assert.True(t, repository.IsTransient(shutdown))
}

func TestBackend_RejectsUnknownNames(t *testing.T) {
	b := NewBackend(nil)

	_, err := b.InsertRecord(context.Background(), "users; drop table x", map[string]interface{}{"a": 1})
	assert.Error(t, err)

	_, err = b.InsertRecord(context.Background(), repository.TableTreeApplications, map[string]interface{}{"bad col": 1})
	assert.Error(t, err)

	_, err = b.CallRPC(context.Background(), "pg_sleep", nil)
	assert.Error(t, err)

	_, err = b.QueryActiveByID(context.Background(), "pg_shadow", "1")
	assert.Error(t, err)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]interface{}{"c": 1, "a": 2, "b": 3}))
}
