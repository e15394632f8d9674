package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smartacus/smartacus/internal/persistence"
)

var (
	flagShortlistJSON bool
	flagShortlistMax  int
)

var shortlistCmd = &cobra.Command{
	Use:   "shortlist",
	Short: "Show the current shortlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, err := connectStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		snap, err := repo.Shortlists().Active(cmd.Context())
		if errors.Is(err, persistence.ErrNotFound) {
			snap, err = repo.Shortlists().LatestCompleted(cmd.Context())
		}
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				fmt.Println("no shortlist available yet")
				return nil
			}
			return err
		}

		if flagShortlistMax > 0 && len(snap.ASINs) > flagShortlistMax {
			snap.ASINs = snap.ASINs[:flagShortlistMax]
			if len(snap.Scores) > flagShortlistMax {
				snap.Scores = snap.Scores[:flagShortlistMax]
			}
		}

		if flagShortlistJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		artifacts, err := repo.Artifacts().ByRun(cmd.Context(), snap.RunID)
		if err != nil {
			return err
		}
		byASIN := map[string]*persistence.OpportunityArtifact{}
		for i := range artifacts {
			byASIN[artifacts[i].ASIN] = &artifacts[i]
		}

		state := "active"
		if snap.Frozen {
			state = "frozen"
		} else if !snap.Active {
			state = "inactive"
		}
		fmt.Printf("shortlist from run %s (%s, stability %.2f)\n\n", snap.RunID, state, snap.StabilityScore)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tASIN\tSCORE\tWINDOW\tVALUE/YR\tACTION")
		for i, asin := range snap.ASINs {
			score := ""
			window := ""
			value := ""
			action := ""
			if a, ok := byASIN[asin]; ok {
				score = fmt.Sprintf("%d", a.FinalScore)
				window = fmt.Sprintf("%dd %s", a.WindowDays, a.UrgencyLabel)
				value = fmt.Sprintf("$%.0f", a.RiskAdjustedValue)
				action = a.Action
			} else if i < len(snap.Scores) {
				score = fmt.Sprintf("%d", snap.Scores[i])
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, asin, score, window, value, action)
		}
		w.Flush()
		fmt.Printf("\ntotal risk-adjusted value: $%.0f/yr\n", snap.TotalValue)
		return nil
	},
}

func init() {
	shortlistCmd.Flags().BoolVar(&flagShortlistJSON, "json", false, "emit JSON instead of a table")
	shortlistCmd.Flags().IntVar(&flagShortlistMax, "max", 0, "show at most this many entries (0 = all)")
}
