package fees

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chama-pay/chama_ledger/internal/money"
)

// ConfigurationGapError reports a fee lookup for a transaction type with no
// configured rule. It is soft: the fee is taken as zero.
type ConfigurationGapError struct {
	TransactionType string
}

func (e *ConfigurationGapError) Error() string {
	return fmt.Sprintf("no fee configuration for transaction type %q", e.TransactionType)
}

func (e *ConfigurationGapError) Kind() string { return "configuration_gap" }

func (e *ConfigurationGapError) Fields() map[string]any {
	return map[string]any{"transaction_type": e.TransactionType}
}

// Schedule is an immutable snapshot of fee rules keyed by transaction type.
// One snapshot is loaded per operation and passed down explicitly.
type Schedule struct {
	rules    map[string]Rule
	loadedAt time.Time
}

// NewSchedule validates rules and freezes them into a snapshot.
func NewSchedule(rules []Rule) (Schedule, error) {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return Schedule{}, err
		}
		r.Tiers = append([]Tier(nil), r.Tiers...)
		m[r.TransactionType] = r
	}
	return Schedule{rules: m, loadedAt: time.Now().UTC()}, nil
}

// Rule returns the rule for txType, if any.
func (s Schedule) Rule(txType string) (Rule, bool) {
	r, ok := s.rules[txType]
	return r, ok
}

// Rules lists the snapshot ordered by transaction type.
func (s Schedule) Rules() []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionType < out[j].TransactionType })
	return out
}

// LoadedAt is when the snapshot was taken.
func (s Schedule) LoadedAt() time.Time { return s.loadedAt }

// Fee computes the fee for txType. A missing rule returns 0 together with a
// *ConfigurationGapError.
func (s Schedule) Fee(txType string, amount int64) (int64, error) {
	r, ok := s.rules[txType]
	if !ok {
		return 0, &ConfigurationGapError{TransactionType: txType}
	}
	return Compute(r, amount), nil
}

// Source loads the current fee rules from wherever they are configured.
type Source interface {
	Rules(ctx context.Context) ([]Rule, error)
}

// Writer stores or replaces the rule for its transaction type.
type Writer interface {
	Upsert(ctx context.Context, r Rule) error
}

// RuleStore is a source that also accepts rule changes.
type RuleStore interface {
	Source
	Writer
}

// DefaultRules returns the platform's stock fee table in minor units:
// sending money costs 1% clamped to 10.00..100.00, withdrawals use three
// bands up to 5,000.00 and deposits are free.
func DefaultRules() []Rule {
	return []Rule{
		{
			TransactionType: TypeSendMoney,
			Kind:            KindPercentage,
			Rate:            decimal.NewFromInt(1),
			MinimumFee:      money.FromMajor(10),
			MaximumFee:      Bound(money.FromMajor(100)),
		},
		{
			TransactionType: TypeWithdrawal,
			Kind:            KindTiered,
			Tiers: []Tier{
				{Min: money.FromMajor(0), Max: Bound(money.FromMajor(100)), Fee: 0},
				{Min: money.FromMajor(101), Max: Bound(money.FromMajor(2500)), Fee: money.FromMajor(15)},
				{Min: money.FromMajor(2501), Max: Bound(money.FromMajor(5000)), Fee: money.FromMajor(30)},
			},
		},
		{
			TransactionType: TypeDeposit,
			Kind:            KindFixed,
			MinimumFee:      0,
		},
	}
}

// MemorySource serves rules held in process. Replace swaps the table
// atomically; snapshots taken earlier are unaffected.
type MemorySource struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewMemorySource copies the given rules; nil selects DefaultRules.
func NewMemorySource(rules []Rule) *MemorySource {
	if rules == nil {
		rules = DefaultRules()
	}
	s := &MemorySource{}
	s.Replace(rules)
	return s
}

func (s *MemorySource) Rules(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Rule(nil), s.rules...), nil
}

// Replace installs a new rule table for subsequent snapshots.
func (s *MemorySource) Replace(rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]Rule(nil), rules...)
}

func (s *MemorySource) Upsert(_ context.Context, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].TransactionType == r.TransactionType {
			s.rules[i] = r
			return nil
		}
	}
	s.rules = append(s.rules, r)
	return nil
}
