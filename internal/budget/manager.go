// Package budget tracks the monthly external-API token allowance and
// decides up front whether a run fits into what is left.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartacus/smartacus/internal/persistence"
)

// Defaults mirror the entry plan of the upstream API.
const (
	DefaultMonthlyLimit    = 900000
	DefaultDiscoveryPct    = 20
	DefaultScanningPct     = 80
	DefaultDiscoveryTokens = 5
	DefaultProductTokens   = 2
)

// Config sizes the ledger.
type Config struct {
	MonthlyLimit    int
	DiscoveryPct    int
	ScanningPct     int
	DiscoveryTokens int
	ProductTokens   int
}

// DefaultConfig returns the entry-plan sizing.
func DefaultConfig() Config {
	return Config{
		MonthlyLimit:    DefaultMonthlyLimit,
		DiscoveryPct:    DefaultDiscoveryPct,
		ScanningPct:     DefaultScanningPct,
		DiscoveryTokens: DefaultDiscoveryTokens,
		ProductTokens:   DefaultProductTokens,
	}
}

// Status is the current ledger view plus derived pacing numbers.
type Status struct {
	Month           string  `json:"month"`
	MonthlyLimit    int     `json:"monthly_limit"`
	TokensUsed      int     `json:"tokens_used"`
	TokensRemaining int     `json:"tokens_remaining"`
	UsedPct         float64 `json:"used_pct"`
	DaysLeft        int     `json:"days_left"`
	DailyBudget     int     `json:"daily_budget"`
	DiscoveryBudget int     `json:"discovery_budget"`
	ScanningBudget  int     `json:"scanning_budget"`
	RunsCompleted   int     `json:"runs_completed"`
}

// Manager is the monthly ledger over the budget store. One instance
// per process; the store is the source of truth so concurrent runs on
// other hosts still share one ledger.
type Manager struct {
	repo persistence.BudgetRepo
	cfg  Config
	now  func() time.Time
}

// NewManager wires the ledger. A zero-valued cfg falls back to defaults.
func NewManager(repo persistence.BudgetRepo, cfg Config) *Manager {
	if cfg.MonthlyLimit <= 0 {
		cfg.MonthlyLimit = DefaultMonthlyLimit
	}
	if cfg.DiscoveryPct <= 0 {
		cfg.DiscoveryPct = DefaultDiscoveryPct
	}
	if cfg.ScanningPct <= 0 {
		cfg.ScanningPct = DefaultScanningPct
	}
	if cfg.DiscoveryTokens <= 0 {
		cfg.DiscoveryTokens = DefaultDiscoveryTokens
	}
	if cfg.ProductTokens <= 0 {
		cfg.ProductTokens = DefaultProductTokens
	}
	return &Manager{repo: repo, cfg: cfg, now: time.Now}
}

// CurrentMonth is the ledger key, YYYY-MM in UTC.
func (m *Manager) CurrentMonth() string {
	return m.now().UTC().Format("2006-01")
}

// EnsureMonth makes sure the current month's row exists.
func (m *Manager) EnsureMonth(ctx context.Context) error {
	month := m.CurrentMonth()
	if err := m.repo.EnsureMonth(ctx, month, m.cfg.MonthlyLimit, m.cfg.DiscoveryPct, m.cfg.ScanningPct); err != nil {
		return fmt.Errorf("ensure budget month %s: %w", month, err)
	}
	return nil
}

// Status reads the ledger and derives the pacing view.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if err := m.EnsureMonth(ctx); err != nil {
		return nil, err
	}
	month := m.CurrentMonth()
	row, err := m.repo.GetMonth(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("load budget month %s: %w", month, err)
	}

	st := &Status{
		Month:           row.MonthYear,
		MonthlyLimit:    row.MonthlyLimit,
		TokensUsed:      row.TokensUsed,
		TokensRemaining: row.TokensRemaining,
		RunsCompleted:   row.RunsCompleted,
		DiscoveryBudget: row.MonthlyLimit * row.DiscoveryAllocPct / 100,
		ScanningBudget:  row.MonthlyLimit * row.ScanningAllocPct / 100,
	}
	if row.MonthlyLimit > 0 {
		st.UsedPct = float64(row.TokensUsed) / float64(row.MonthlyLimit) * 100
	}
	st.DaysLeft = m.daysLeftInMonth()
	if st.DaysLeft > 0 {
		st.DailyBudget = st.TokensRemaining / st.DaysLeft
	}
	return st, nil
}

// EstimateTokens prices a run before it starts.
func (m *Manager) EstimateTokens(categories, products int) int {
	return categories*m.cfg.DiscoveryTokens + products*m.cfg.ProductTokens
}

// CanRun reports whether an estimated spend fits the remaining
// allowance. The returned status lets callers log the shortfall.
func (m *Manager) CanRun(ctx context.Context, estimatedTokens int) (bool, *Status, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return false, nil, err
	}
	ok := estimatedTokens <= st.TokensRemaining
	if !ok {
		log.Warn().Int("estimated", estimatedTokens).Int("remaining", st.TokensRemaining).
			Str("month", st.Month).Msg("monthly token budget insufficient")
	}
	return ok, st, nil
}

// AddUsage posts actual spend to the ledger and returns the remainder.
func (m *Manager) AddUsage(ctx context.Context, tokens int) (int, error) {
	if tokens <= 0 {
		st, err := m.Status(ctx)
		if err != nil {
			return 0, err
		}
		return st.TokensRemaining, nil
	}
	remaining, err := m.repo.AddUsage(ctx, m.CurrentMonth(), tokens)
	if err != nil {
		return 0, fmt.Errorf("record token usage: %w", err)
	}
	return remaining, nil
}

// RecordRun posts a completed run's totals to the ledger.
func (m *Manager) RecordRun(ctx context.Context, tokens, categories, opportunities int) error {
	if err := m.repo.RecordRun(ctx, m.CurrentMonth(), tokens, categories, opportunities); err != nil {
		return fmt.Errorf("record run in budget ledger: %w", err)
	}
	return nil
}

func (m *Manager) daysLeftInMonth() int {
	now := m.now().UTC()
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	days := int(firstOfNext.Sub(now).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}
