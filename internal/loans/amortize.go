package loans

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chama-pay/chama_ledger/internal/money"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// Amortize builds a reducing-balance schedule with equal monthly payments.
// Every figure is rounded half-up to a minor unit per period; the final
// period takes whatever principal remains so the principal portions add up
// to exactly principal. A zero rate splits principal evenly.
func Amortize(principal int64, annualRate decimal.Decimal, term int, start time.Time) ([]Installment, error) {
	if principal <= 0 {
		return nil, fmt.Errorf("amortize: principal must be positive")
	}
	if term <= 0 {
		return nil, fmt.Errorf("amortize: term must be positive")
	}
	if annualRate.IsNegative() {
		return nil, fmt.Errorf("amortize: rate must not be negative")
	}

	monthlyRate := annualRate.Div(hundred).Div(twelve)
	p := decimal.NewFromInt(principal)

	var payment int64
	if monthlyRate.IsZero() {
		payment = money.RoundMinor(p.Div(decimal.NewFromInt(int64(term))))
	} else {
		growth := decimal.NewFromInt(1).Add(monthlyRate).Pow(decimal.NewFromInt(int64(term)))
		payment = money.RoundMinor(p.Mul(monthlyRate).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))))
	}

	schedule := make([]Installment, 0, term)
	remaining := principal
	for month := 1; month <= term; month++ {
		interest := money.RoundMinor(decimal.NewFromInt(remaining).Mul(monthlyRate))
		portion := payment - interest
		if month == term || portion > remaining {
			portion = remaining
		}
		if portion < 0 {
			portion = 0
		}
		remaining -= portion
		schedule = append(schedule, Installment{
			Month:            month,
			DueDate:          start.AddDate(0, month, 0),
			Principal:        portion,
			Interest:         interest,
			Payment:          portion + interest,
			RemainingBalance: remaining,
		})
	}
	return schedule, nil
}

// TotalPayable sums the payments of a schedule.
func TotalPayable(schedule []Installment) int64 {
	var total int64
	for _, inst := range schedule {
		total += inst.Payment
	}
	return total
}
