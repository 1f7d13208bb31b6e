package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/clinicaltrials"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/cache"
)

// commonMutations seeds the built-in warming strategy when no strategies
// are configured.
var commonMutations = []string{
	"EGFR L858R",
	"EGFR T790M",
	"KRAS G12C",
	"BRAF V600E",
	"ALK",
	"ROS1",
}

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Pre-populate the cache",
	Long: `Runs the configured cache warming strategies once and reports how
many keys each one populated. Without configured strategies a built-in
common-mutations list is warmed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		warmer, err := a.newWarmer()
		if err != nil {
			return err
		}
		if len(a.cfg.Warming) == 0 {
			keys := make([]string, len(commonMutations))
			for i, m := range commonMutations {
				keys[i] = clinicaltrials.QueryRequest{Mutation: m}.CacheKey()
			}
			warmer.AddStrategy(cache.WarmingStrategy{
				Name:          "common-mutations",
				Keys:          keys,
				Priority:      1,
				MaxConcurrent: 5,
				TTL:           2 * time.Hour,
			})
		}

		populated, err := warmer.RunAll(cmd.Context())
		if err != nil {
			return err
		}
		for name, n := range populated {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keys warmed\n", name, n)
		}
		stats := warmer.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, succeeded %d, skipped %d, failed %d\n",
			stats.Attempted, stats.Succeeded, stats.Skipped, stats.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(warmCmd)
}
