package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagBudgetJSON bool

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show the monthly token ledger",
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

		st, err := newBudgetManager(cfg, repo).Status(cmd.Context())
		if err != nil {
			return err
		}

		if flagBudgetJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		fmt.Printf("month %s: %d / %d tokens used (%.1f%%)\n",
			st.Month, st.TokensUsed, st.MonthlyLimit, st.UsedPct)
		fmt.Printf("remaining: %d  daily budget: %d (%d days left)\n",
			st.TokensRemaining, st.DailyBudget, st.DaysLeft)
		fmt.Printf("allocation: %d discovery / %d scanning\n",
			st.DiscoveryBudget, st.ScanningBudget)
		fmt.Printf("runs completed this month: %d\n", st.RunsCompleted)
		return nil
	},
}

func init() {
	budgetCmd.Flags().BoolVar(&flagBudgetJSON, "json", false, "emit JSON instead of text")
}
