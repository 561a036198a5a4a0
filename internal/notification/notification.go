package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
)

// Event types emitted after a committed mutation. They mirror the ledger row
// type that caused them.
const (
	TypeDeposit            = "deposit"
	TypeWithdrawal         = "withdrawal"
	TypeWithdrawalReversed = "withdrawal_reversed"
	TypeTransferIn         = "transfer_in"
	TypeTransferOut        = "transfer_out"
	TypeLoanDisbursement   = "loan_disbursement"
	TypeLoanRepayment      = "loan_repayment"
	TypeBalanceCorrected   = "balance_corrected"
)

// Event is the structured payload handed to downstream display and
// notification systems.
type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	WalletID    string    `json:"walletId,omitempty"`
	Amount      int64     `json:"amount"`
	Fee         int64     `json:"fee"`
	NewBalance  int64     `json:"newBalance"`
	ReferenceID string    `json:"referenceId"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

func (p *LoggerPublisher) Publish(_ context.Context, e Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("ledger event",
		"type", e.Type,
		"user_id", e.UserID,
		"amount", e.Amount,
		"fee", e.Fee,
		"new_balance", e.NewBalance,
		"reference_id", e.ReferenceID)
	return nil
}

// RawPublisher is the subset of a message-queue producer the NSQ publisher
// needs. *nsq.Producer satisfies it.
type RawPublisher interface {
	Publish(topic string, body []byte) error
}

// NSQPublisher publishes events as JSON to a topic.
type NSQPublisher struct {
	producer RawPublisher
	topic    string
}

// NewNSQPublisher constructs a queue-backed publisher.
func NewNSQPublisher(producer RawPublisher, topic string) *NSQPublisher {
	return &NSQPublisher{producer: producer, topic: topic}
}

func (p *NSQPublisher) Publish(_ context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("publish event to %s: %w", p.topic, err)
	}
	return nil
}

// Emitter fans events out to a publisher. Delivery failures are logged and
// counted, never returned: the mutation they describe has already committed.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewEmitter constructs an emitter. A nil publisher makes Emit a no-op.
func NewEmitter(publisher Publisher, logger *slog.Logger, m *metrics.Metrics) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logging.Component(logger, "events"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Emit delivers each event in order.
func (e *Emitter) Emit(ctx context.Context, events ...Event) {
	if e == nil || e.publisher == nil {
		return
	}
	for _, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = e.now()
		}
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn("event delivery failed", "type", ev.Type, "reference_id", ev.ReferenceID, "error", err)
			e.metrics.EventDropped()
		}
	}
}
