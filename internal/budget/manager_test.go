package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus/smartacus/internal/persistence"
)

// fakeLedger is an in-memory BudgetRepo.
type fakeLedger struct {
	months map[string]*persistence.BudgetMonth
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{months: map[string]*persistence.BudgetMonth{}}
}

func (f *fakeLedger) EnsureMonth(_ context.Context, month string, limit, discoveryPct, scanningPct int) error {
	if _, ok := f.months[month]; ok {
		return nil
	}
	f.months[month] = &persistence.BudgetMonth{
		MonthYear:         month,
		MonthlyLimit:      limit,
		TokensRemaining:   limit,
		DiscoveryAllocPct: discoveryPct,
		ScanningAllocPct:  scanningPct,
	}
	return nil
}

func (f *fakeLedger) GetMonth(_ context.Context, month string) (*persistence.BudgetMonth, error) {
	row, ok := f.months[month]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeLedger) AddUsage(_ context.Context, month string, tokens int) (int, error) {
	row, ok := f.months[month]
	if !ok {
		return 0, persistence.ErrNotFound
	}
	row.TokensUsed += tokens
	row.TokensRemaining = row.MonthlyLimit - row.TokensUsed
	return row.TokensRemaining, nil
}

func (f *fakeLedger) RecordRun(_ context.Context, month string, tokens, categories, opportunities int) error {
	row, ok := f.months[month]
	if !ok {
		return persistence.ErrNotFound
	}
	row.TokensUsed += tokens
	row.TokensRemaining = row.MonthlyLimit - row.TokensUsed
	row.RunsCompleted++
	row.CategoriesScanned += categories
	row.OpportunitiesFound += opportunities
	return nil
}

func newTestManager(ledger *fakeLedger, cfg Config) *Manager {
	m := NewManager(ledger, cfg)
	// Mid-month so DaysLeft is stable and nonzero.
	m.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestCurrentMonthKey(t *testing.T) {
	m := newTestManager(newFakeLedger(), Config{})
	assert.Equal(t, "2026-08", m.CurrentMonth())
}

func TestStatusBootstrapsMonth(t *testing.T) {
	ledger := newFakeLedger()
	m := newTestManager(ledger, Config{MonthlyLimit: 100000})

	st, err := m.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2026-08", st.Month)
	assert.Equal(t, 100000, st.MonthlyLimit)
	assert.Equal(t, 100000, st.TokensRemaining)
	assert.Zero(t, st.TokensUsed)
	assert.Equal(t, 20000, st.DiscoveryBudget)
	assert.Equal(t, 80000, st.ScanningBudget)
	assert.Greater(t, st.DaysLeft, 0)
	assert.Greater(t, st.DailyBudget, 0)
	require.Contains(t, ledger.months, "2026-08")
}

func TestEstimateTokens(t *testing.T) {
	m := newTestManager(newFakeLedger(), Config{})
	// 1 category discovery at 5 tokens, 100 products at 2 tokens each.
	assert.Equal(t, 205, m.EstimateTokens(1, 100))
	assert.Equal(t, 200, m.EstimateTokens(0, 100))
	assert.Zero(t, m.EstimateTokens(0, 0))
}

func TestCanRun(t *testing.T) {
	m := newTestManager(newFakeLedger(), Config{MonthlyLimit: 300})

	ok, st, err := m.CanRun(context.Background(), 205)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 300, st.TokensRemaining)

	_, err = m.AddUsage(context.Background(), 200)
	require.NoError(t, err)

	ok, st, err = m.CanRun(context.Background(), 205)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 100, st.TokensRemaining)

	// Exactly fitting spend is allowed.
	ok, _, err = m.CanRun(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddUsage(t *testing.T) {
	m := newTestManager(newFakeLedger(), Config{MonthlyLimit: 1000})
	require.NoError(t, m.EnsureMonth(context.Background()))

	remaining, err := m.AddUsage(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, 600, remaining)

	// Zero spend is a read, not a write.
	remaining, err = m.AddUsage(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 600, remaining)
}

func TestRecordRun(t *testing.T) {
	ledger := newFakeLedger()
	m := newTestManager(ledger, Config{MonthlyLimit: 1000})
	require.NoError(t, m.EnsureMonth(context.Background()))

	require.NoError(t, m.RecordRun(context.Background(), 250, 1, 7))

	row := ledger.months["2026-08"]
	assert.Equal(t, 250, row.TokensUsed)
	assert.Equal(t, 750, row.TokensRemaining)
	assert.Equal(t, 1, row.RunsCompleted)
	assert.Equal(t, 1, row.CategoriesScanned)
	assert.Equal(t, 7, row.OpportunitiesFound)
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(newFakeLedger(), Config{})
	assert.Equal(t, DefaultMonthlyLimit, m.cfg.MonthlyLimit)
	assert.Equal(t, DefaultDiscoveryPct, m.cfg.DiscoveryPct)
	assert.Equal(t, DefaultScanningPct, m.cfg.ScanningPct)
	assert.Equal(t, DefaultDiscoveryTokens, m.cfg.DiscoveryTokens)
	assert.Equal(t, DefaultProductTokens, m.cfg.ProductTokens)
}
