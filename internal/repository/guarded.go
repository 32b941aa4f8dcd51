package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jwalitptl/canopy-portal/pkg/circuitbreaker"
	"github.com/jwalitptl/canopy-portal/pkg/metrics"
)

// Guarded wraps a Backend with a circuit breaker and latency metrics. Only
// transient failures count against the breaker; explicit rejections do not.
type Guarded struct {
	next    Backend
	cb      *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
}

func NewGuarded(next Backend, settings circuitbreaker.Settings, m *metrics.Metrics) *Guarded {
	settings.IsFailure = IsTransient
	return &Guarded{
		next:    next,
		cb:      circuitbreaker.NewCircuitBreaker(settings),
		metrics: m,
	}
}

var _ Backend = (*Guarded)(nil)

func (g *Guarded) InsertRecord(ctx context.Context, table string, fields map[string]interface{}) (string, error) {
	var id string
	err := g.run("insert_record", func() error {
		var err error
		id, err = g.next.InsertRecord(ctx, table, fields)
		return err
	})
	return id, err
}

func (g *Guarded) CallRPC(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	var out json.RawMessage
	err := g.run("rpc_"+name, func() error {
		var err error
		out, err = g.next.CallRPC(ctx, name, args)
		return err
	})
	return out, err
}

func (g *Guarded) QueryActiveByID(ctx context.Context, table, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := g.run("query_active", func() error {
		var err error
		out, err = g.next.QueryActiveByID(ctx, table, id)
		return err
	})
	return out, err
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}

// State is the breaker state, reported by the readiness check.
func (g *Guarded) State() string {
	return g.cb.State()
}

func (g *Guarded) run(op string, fn func() error) error {
	start := time.Now()
	err := g.cb.Execute(fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = Transient(op, err)
	}

	if g.metrics != nil {
		status := "success"
		switch {
		case IsTransient(err):
			status = "transient"
		case err != nil:
			status = "rejected"
		}
		g.metrics.BackendOperations.WithLabelValues(op, status).Inc()
		g.metrics.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	return err
}
