package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smartacus/smartacus/internal/events"
	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/shortlist"
)

// auditDocument is the on-disk record of one run, written next to the
// opportunities file under the configured output directory.
type auditDocument struct {
	Run          *persistence.PipelineRun `json:"run"`
	Timings      map[string]float64       `json:"phase_timings_seconds"`
	Result       *Result                  `json:"result"`
	Selection    *shortlist.Selection     `json:"selection,omitempty"`
	MarketEvents []events.EconomicEvent   `json:"market_events,omitempty"`
}

// writeAudit persists the run audit and, when scoring happened, the
// full opportunity breakdowns. Returns the audit file path.
func (r *Runner) writeAudit(st *runState, res *Result) (string, error) {
	dir := r.cfg.OutputDir
	if dir == "" {
		dir = "out/runs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	doc := auditDocument{
		Run:          st.run,
		Timings:      st.timings,
		Result:       res,
		Selection:    st.selection,
		MarketEvents: st.theses,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	auditPath := filepath.Join(dir, st.run.RunID+"_audit.json")
	if err := os.WriteFile(auditPath, raw, 0o644); err != nil {
		return "", err
	}

	if len(st.opps) > 0 {
		oppRaw, err := json.MarshalIndent(st.opps, "", "  ")
		if err != nil {
			return auditPath, err
		}
		oppPath := filepath.Join(dir, st.run.RunID+"_opportunities.json")
		if err := os.WriteFile(oppPath, oppRaw, 0o644); err != nil {
			return auditPath, err
		}
	}
	return auditPath, nil
}
