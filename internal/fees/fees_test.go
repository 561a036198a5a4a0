package fees

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
)

func TestComputePercentageClamps(t *testing.T) {
	rule := Rule{
		TransactionType: TypeSendMoney,
		Kind:            KindPercentage,
		Rate:            decimal.NewFromInt(1),
		MinimumFee:      10,
		MaximumFee:      Bound(100),
	}

	cases := []struct {
		amount int64
		want   int64
	}{
		{500, 10},
		{50000, 100},
		{2000, 20},
		{1050, 11},
		{1049, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Compute(rule, tc.amount), "amount %d", tc.amount)
	}
}

func TestComputePercentageWithoutMaximum(t *testing.T) {
	rule := Rule{TransactionType: "card", Kind: KindPercentage, Rate: decimal.RequireFromString("2.5")}
	assert.Equal(t, int64(2500), Compute(rule, 100000))
	assert.Equal(t, int64(3), Compute(rule, 100))
}

func TestComputeTieredFirstMatchWins(t *testing.T) {
	rule := Rule{
		TransactionType: TypeWithdrawal,
		Kind:            KindTiered,
		Tiers: []Tier{
			{Min: 2501, Max: Bound(5000), Fee: 30},
			{Min: 0, Max: Bound(100), Fee: 0},
			{Min: 101, Max: Bound(2500), Fee: 15},
		},
	}

	cases := []struct {
		amount  int64
		want    int64
		matched bool
	}{
		{100, 0, true},
		{101, 15, true},
		{2500, 15, true},
		{5000, 30, true},
		{5001, 0, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Compute(rule, tc.amount), "amount %d", tc.amount)
		assert.Equal(t, tc.matched, Matches(rule, tc.amount), "amount %d", tc.amount)
	}
}

func TestComputeTieredOpenEnded(t *testing.T) {
	rule := Rule{TransactionType: "bulk", Kind: KindTiered, Tiers: []Tier{{Min: 0, Max: Bound(99), Fee: 1}, {Min: 100, Fee: 7}}}
	assert.Equal(t, int64(7), Compute(rule, 1_000_000))
}

func TestComputeFixed(t *testing.T) {
	assert.Equal(t, int64(25), Compute(Rule{TransactionType: "x", Kind: KindFixed, MinimumFee: 25}, 1))
}

func TestValidateRejectsBadRules(t *testing.T) {
	bad := []Rule{
		{TransactionType: "", Kind: KindFixed},
		{TransactionType: "a", Kind: "weird"},
		{TransactionType: "a", Kind: KindFixed, MinimumFee: -1},
		{TransactionType: "a", Kind: KindPercentage, Rate: decimal.NewFromInt(-1)},
		{TransactionType: "a", Kind: KindTiered, Tiers: []Tier{{Min: 10, Max: Bound(5), Fee: 1}}},
	}
	for _, r := range bad {
		assert.Error(t, r.Validate(), "%+v", r)
	}
	for _, r := range DefaultRules() {
		assert.NoError(t, r.Validate())
	}
}

func TestScheduleReportsConfigurationGap(t *testing.T) {
	s, err := NewSchedule(DefaultRules())
	require.NoError(t, err)

	fee, err := s.Fee("airtime", 1000)
	assert.Zero(t, fee)
	var gap *ConfigurationGapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, "airtime", gap.TransactionType)
	assert.Equal(t, "configuration_gap", gap.Kind())
}

func TestDefaultRulesInMinorUnits(t *testing.T) {
	s, err := NewSchedule(DefaultRules())
	require.NoError(t, err)

	fee, err := s.Fee(TypeSendMoney, 50_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), fee)

	fee, _ = s.Fee(TypeSendMoney, 5_000_000)
	assert.Equal(t, int64(10_000), fee)

	fee, _ = s.Fee(TypeWithdrawal, 10_100)
	assert.Equal(t, int64(1500), fee)

	fee, _ = s.Fee(TypeDeposit, 10_100)
	assert.Zero(t, fee)
}

func TestSnapshotIsolatedFromLaterChanges(t *testing.T) {
	src := NewMemorySource(nil)
	calc := NewCalculator(src, logging.Discard(), nil)

	snap, err := calc.Snapshot(context.Background())
	require.NoError(t, err)

	src.Replace([]Rule{{TransactionType: TypeSendMoney, Kind: KindFixed, MinimumFee: 1}})

	before := calc.Quote(snap, TypeSendMoney, 50_000)
	assert.Equal(t, int64(1000), before.Fee)

	after, err := calc.Breakdown(context.Background(), TypeSendMoney, 50_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.Fee)
}

func TestBreakdown(t *testing.T) {
	m := metrics.New()
	calc := NewCalculator(NewMemorySource(nil), logging.Discard(), m)
	ctx := context.Background()

	b, err := calc.Breakdown(ctx, TypeWithdrawal, 10_100)
	require.NoError(t, err)
	assert.Equal(t, Breakdown{
		TransactionType: TypeWithdrawal,
		Amount:          10_100,
		Fee:             1500,
		NetAmount:       8600,
		TotalDebit:      11_600,
		RuleKind:        KindTiered,
	}, b)

	gap, err := calc.Breakdown(ctx, "airtime", 500)
	require.NoError(t, err)
	assert.True(t, gap.ConfigurationGap)
	assert.Zero(t, gap.Fee)

	outside, err := calc.Breakdown(ctx, TypeWithdrawal, 600_000)
	require.NoError(t, err)
	assert.True(t, outside.Unmatched)
	assert.Zero(t, outside.Fee)

	_, err = calc.Breakdown(ctx, TypeWithdrawal, 0)
	var verr *ledger.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = calc.Breakdown(ctx, TypeSendMoney, math.MaxInt64-5)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)
}

type countingSource struct {
	calls int
	rules []Rule
}

func (s *countingSource) Rules(context.Context) ([]Rule, error) {
	s.calls++
	return s.rules, nil
}

func TestCachedSource(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &countingSource{rules: DefaultRules()}
	cached := NewCachedSource(inner, client, time.Minute, logging.Discard())
	ctx := context.Background()

	first, err := cached.Rules(ctx)
	require.NoError(t, err)
	second, err := cached.Rules(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	require.Len(t, second, len(first))
	assert.True(t, first[0].Rate.Equal(second[0].Rate))
	assert.Equal(t, first[1].Tiers, second[1].Tiers)

	mr.FastForward(2 * time.Minute)
	_, err = cached.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	require.NoError(t, cached.Invalidate(ctx))
	_, err = cached.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestCachedSourceFallsThroughWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	inner := &countingSource{rules: DefaultRules()}
	rules, err := NewCachedSource(inner, client, time.Minute, nil).Rules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 3)
}

func TestCachedSourceUpsertInvalidates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	inner := NewMemorySource(nil)
	cached := NewCachedSource(inner, client, time.Hour, logging.Discard())
	calc := NewCalculator(cached, logging.Discard(), nil)

	before, err := calc.Breakdown(ctx, TypeSendMoney, 100_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), before.Fee)

	require.NoError(t, cached.Upsert(ctx, Rule{TransactionType: TypeSendMoney, Kind: KindFixed, MinimumFee: 2_500}))
	after, err := calc.Breakdown(ctx, TypeSendMoney, 100_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500), after.Fee)

	err = cached.Upsert(ctx, Rule{TransactionType: TypeSendMoney, Kind: "surge"})
	assert.Error(t, err)

	readOnly := NewCachedSource(&countingSource{rules: DefaultRules()}, client, time.Hour, nil)
	assert.Error(t, readOnly.Upsert(ctx, Rule{TransactionType: TypeDeposit, Kind: KindFixed}))
}

func TestMemorySourceUpsertAddsNewType(t *testing.T) {
	src := NewMemorySource(nil)
	require.NoError(t, src.Upsert(context.Background(), Rule{TransactionType: "loan_disbursement", Kind: KindFixed, MinimumFee: 100}))

	rules, err := src.Rules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 4)
}
