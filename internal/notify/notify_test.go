package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/messaging"
)

type fakeBroker struct {
	channel string
	payload []byte
	err     error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, message interface{}) error {
	b.channel = channel
	b.payload, _ = json.Marshal(message)
	return b.err
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBroker) Close() error                                            { return nil }

var _ messaging.Broker = (*fakeBroker)(nil)

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, b}.Notify(context.Background(), Notice{Kind: KindStepSaved, Step: 1})

	assert.Equal(t, 1, a.Count(KindStepSaved))
	assert.Equal(t, 1, b.Count(KindStepSaved))
	assert.Equal(t, 0, a.Count(KindSubmitted))
}

func TestBrokerNotifier(t *testing.T) {
	broker := &fakeBroker{}
	n := NewBrokerNotifier(broker, "portal.notices", logger.Nop())
	n.Notify(context.Background(), Notice{Kind: KindSubmitted, FormID: "f1", Title: "Submitted"})

	assert.Equal(t, "portal.notices", broker.channel)
	var msg struct {
		Type    string `json:"type"`
		Payload Notice `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(broker.payload, &msg))
	assert.Equal(t, "submitted", msg.Type)
	assert.Equal(t, "f1", msg.Payload.FormID)

	broker.err = errors.New("down")
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Notice{Kind: KindSubmitted})
	})
}

func TestRecorder_NilDropsNotices(t *testing.T) {
	var r *Recorder
	var n Notifier = r
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Notice{Kind: KindStepSaved, Step: 1})
	})
}
