package redis

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/canopy-portal/pkg/circuitbreaker"
)

// Nothing listens on port 1; retries are off so each call fails fast.
const unreachable = "redis://127.0.0.1:1/0?max_retries=-1&dial_timeout=200ms"

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{URL: "not a url"})
	assert.Error(t, err)

	client, err := NewClient(Config{URL: "redis://127.0.0.1:6379/2", MaxRetries: 7, PoolSize: 4, RetryBackoff: 20 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	opts := client.Options()
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.MaxRetries)
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, 20*time.Millisecond, opts.MinRetryBackoff)
}

func TestPublish_MarshalError(t *testing.T) {
	client, err := NewClient(Config{URL: unreachable})
	require.NoError(t, err)
	broker := NewRedisBroker(client, zerolog.Nop())
	defer broker.Close()

	err = broker.Publish(context.Background(), "portal.notices", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal")
}

func TestPublish_OpensBreaker(t *testing.T) {
	client, err := NewClient(Config{URL: unreachable})
	require.NoError(t, err)
	broker := NewRedisBroker(client, zerolog.Nop())
	defer broker.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := broker.Publish(ctx, "portal.notices", map[string]string{"type": "submitted"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}
	assert.ErrorIs(t, broker.Publish(ctx, "portal.notices", "x"), circuitbreaker.ErrOpen)
}

func TestSubscribe_Unreachable(t *testing.T) {
	client, err := NewClient(Config{URL: unreachable})
	require.NoError(t, err)
	broker := NewRedisBroker(client, zerolog.Nop())
	defer broker.Close()

	ch, err := broker.Subscribe(context.Background(), "portal.notices")
	assert.Error(t, err)
	assert.Nil(t, ch)
}
