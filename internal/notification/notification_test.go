package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, e Event) error {
	return m.Called(ctx, e).Error(0)
}

type fakeProducer struct {
	topic string
	body  []byte
	err   error
}

func (p *fakeProducer) Publish(topic string, body []byte) error {
	p.topic, p.body = topic, body
	return p.err
}

func TestEmitterSuppressesDeliveryErrors(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e Event) bool { return e.Type == TypeTransferOut })).
		Return(errors.New("queue down")).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e Event) bool { return e.Type == TypeTransferIn })).
		Return(nil).Once()

	m := metrics.New()
	em := NewEmitter(pub, logging.Discard(), m)
	em.Emit(context.Background(),
		Event{Type: TypeTransferOut, UserID: "alice", Amount: 1000, Fee: 10, NewBalance: 190, ReferenceID: "tx"},
		Event{Type: TypeTransferIn, UserID: "bob", Amount: 1000, NewBalance: 1000, ReferenceID: "tx"},
	)

	pub.AssertExpectations(t)

	expected := `
# HELP ledger_events_dropped_total Outbound ledger events that could not be delivered
# TYPE ledger_events_dropped_total counter
ledger_events_dropped_total 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "ledger_events_dropped_total"))
}

func TestEmitterStampsTime(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e Event) bool { return !e.OccurredAt.IsZero() })).Return(nil)

	NewEmitter(pub, nil, nil).Emit(context.Background(), Event{Type: TypeDeposit})
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var em *Emitter
	em.Emit(context.Background(), Event{Type: TypeDeposit})
	NewEmitter(nil, nil, nil).Emit(context.Background(), Event{Type: TypeDeposit})
}

func TestNSQPublisherEncodesEvent(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewNSQPublisher(producer, "ledger.events")

	err := pub.Publish(context.Background(), Event{Type: TypeWithdrawal, UserID: "u1", Amount: -5000, Fee: 1500, NewBalance: 0, ReferenceID: "wd-1"})
	require.NoError(t, err)
	assert.Equal(t, "ledger.events", producer.topic)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(producer.body, &decoded))
	assert.Equal(t, "withdrawal", decoded["type"])
	assert.Equal(t, "u1", decoded["userId"])
	assert.Equal(t, float64(1500), decoded["fee"])
	assert.Equal(t, "wd-1", decoded["referenceId"])

	producer.err = errors.New("closed")
	assert.Error(t, pub.Publish(context.Background(), Event{Type: TypeDeposit}))
}

func TestLoggerPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLoggerPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, pub.Publish(context.Background(), Event{Type: TypeDeposit, UserID: "u1", Amount: 10}))
	assert.Contains(t, buf.String(), `"type":"deposit"`)

	var nilPub *LoggerPublisher
	assert.NoError(t, nilPub.Publish(context.Background(), Event{}))
}
