package fees

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/chama-pay/chama_ledger/internal/money"
)

// Kind selects how a rule turns an amount into a fee.
type Kind string

const (
	KindFixed      Kind = "fixed"
	KindPercentage Kind = "percentage"
	KindTiered     Kind = "tiered"
)

// Transaction types with platform defaults.
const (
	TypeSendMoney  = "send_money"
	TypeWithdrawal = "withdrawal"
	TypeDeposit    = "deposit"
)

// Tier is one band of a tiered rule. A nil Max leaves the band open-ended.
type Tier struct {
	Min int64  `json:"min"`
	Max *int64 `json:"max,omitempty"`
	Fee int64  `json:"fee"`
}

func (t Tier) contains(amount int64) bool {
	return amount >= t.Min && (t.Max == nil || amount <= *t.Max)
}

// Rule is the fee configuration for one transaction type. Amounts are minor
// units; Rate is a percentage (1.5 means 1.5%).
type Rule struct {
	TransactionType string          `json:"transaction_type"`
	Kind            Kind            `json:"kind"`
	MinimumFee      int64           `json:"minimum_fee"`
	MaximumFee      *int64          `json:"maximum_fee,omitempty"`
	Rate            decimal.Decimal `json:"rate"`
	Tiers           []Tier          `json:"tiers,omitempty"`
}

// Validate rejects rules that could produce a negative or ambiguous fee.
func (r Rule) Validate() error {
	if r.TransactionType == "" {
		return fmt.Errorf("fee rule: transaction type is required")
	}
	if r.MinimumFee < 0 {
		return fmt.Errorf("fee rule %s: minimum fee must not be negative", r.TransactionType)
	}
	if r.MaximumFee != nil && *r.MaximumFee < 0 {
		return fmt.Errorf("fee rule %s: maximum fee must not be negative", r.TransactionType)
	}
	switch r.Kind {
	case KindFixed:
	case KindPercentage:
		if r.Rate.IsNegative() {
			return fmt.Errorf("fee rule %s: rate must not be negative", r.TransactionType)
		}
	case KindTiered:
		for _, t := range r.Tiers {
			if t.Fee < 0 || t.Min < 0 {
				return fmt.Errorf("fee rule %s: tier values must not be negative", r.TransactionType)
			}
			if t.Max != nil && *t.Max < t.Min {
				return fmt.Errorf("fee rule %s: tier max below min", r.TransactionType)
			}
		}
	default:
		return fmt.Errorf("fee rule %s: unknown kind %q", r.TransactionType, r.Kind)
	}
	return nil
}

// Compute returns the fee for amount under rule. It is pure and never
// negative. A tiered rule with no matching band yields 0; callers that care
// can detect that case with Matches.
func Compute(rule Rule, amount int64) int64 {
	var fee int64
	switch rule.Kind {
	case KindFixed:
		fee = rule.MinimumFee
	case KindPercentage:
		raw := money.RoundMinor(decimal.NewFromInt(amount).Mul(rule.Rate).Div(decimal.NewFromInt(100)))
		fee = raw
		if fee < rule.MinimumFee {
			fee = rule.MinimumFee
		}
		if rule.MaximumFee != nil && fee > *rule.MaximumFee {
			fee = *rule.MaximumFee
		}
	case KindTiered:
		if t, ok := matchTier(rule.Tiers, amount); ok {
			fee = t.Fee
		}
	}
	if fee < 0 {
		return 0
	}
	return fee
}

// Matches reports whether a tiered rule has a band covering amount. Fixed and
// percentage rules always match.
func Matches(rule Rule, amount int64) bool {
	if rule.Kind != KindTiered {
		return true
	}
	_, ok := matchTier(rule.Tiers, amount)
	return ok
}

func matchTier(tiers []Tier, amount int64) (Tier, bool) {
	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Min < ordered[j].Min })
	for _, t := range ordered {
		if t.contains(amount) {
			return t, true
		}
	}
	return Tier{}, false
}

// Bound is a helper for building optional limits.
func Bound(v int64) *int64 { return &v }
