package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
)

// Breakdown is the fee quote returned to callers before they commit.
type Breakdown struct {
	TransactionType  string `json:"transaction_type"`
	Amount           int64  `json:"amount"`
	Fee              int64  `json:"fee"`
	NetAmount        int64  `json:"net_amount"`
	TotalDebit       int64  `json:"total_debit"`
	RuleKind         Kind   `json:"rule_kind,omitempty"`
	ConfigurationGap bool   `json:"configuration_gap"`
	// Unmatched is set when a tiered rule has no band for the amount and the
	// fee fell back to zero.
	Unmatched bool `json:"unmatched_tier"`
}

// Calculator loads schedule snapshots and turns them into quotes.
type Calculator struct {
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCalculator constructs a calculator over source.
func NewCalculator(source Source, logger *slog.Logger, m *metrics.Metrics) *Calculator {
	return &Calculator{source: source, logger: logging.Component(logger, "fees"), metrics: m}
}

// Snapshot loads the current rules once. Callers keep the snapshot for the
// whole operation so a concurrent configuration change cannot split it.
func (c *Calculator) Snapshot(ctx context.Context) (Schedule, error) {
	rules, err := c.source.Rules(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("load fee rules: %w", err)
	}
	return NewSchedule(rules)
}

// Quote prices amount for txType against a snapshot. Gaps are logged and
// counted but never fail the quote.
func (c *Calculator) Quote(schedule Schedule, txType string, amount int64) Breakdown {
	b := Breakdown{TransactionType: txType, Amount: amount}

	fee, err := schedule.Fee(txType, amount)
	var gap *ConfigurationGapError
	if errors.As(err, &gap) {
		b.ConfigurationGap = true
		c.logger.Warn("fee configuration gap", "transaction_type", txType, "amount", amount)
		c.metrics.FeeGap(txType)
	}

	if rule, ok := schedule.Rule(txType); ok {
		b.RuleKind = rule.Kind
		if !Matches(rule, amount) {
			b.Unmatched = true
			c.logger.Warn("amount outside configured fee tiers", "transaction_type", txType, "amount", amount)
		}
	}

	b.Fee = fee
	b.NetAmount = amount - fee
	b.TotalDebit = amount + fee
	return b
}

// Breakdown implements the fee preview: validate, snapshot, quote.
func (c *Calculator) Breakdown(ctx context.Context, txType string, amount int64) (Breakdown, error) {
	if txType == "" {
		return Breakdown{}, ledger.Invalid("transaction_type", "is required")
	}
	if amount <= 0 {
		return Breakdown{}, ledger.Invalid("amount", "must be positive")
	}
	schedule, err := c.Snapshot(ctx)
	if err != nil {
		return Breakdown{}, err
	}
	b := c.Quote(schedule, txType, amount)
	if b.Fee > 0 && amount > math.MaxInt64-b.Fee {
		return Breakdown{}, ledger.Invalid("amount", "amount plus fee exceeds the representable range")
	}
	return b, nil
}
