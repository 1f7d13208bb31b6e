package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/config"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the metrics snapshot of a running server",
	Long: `Fetches the structured metrics snapshot from a running server's
observability endpoint and prints it in exposition format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		addr := cfg.Server.HTTPAddr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + addr + "/metrics.json")
		if err != nil {
			return fmt.Errorf("fetching snapshot (is the server running?): %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetching snapshot: status %d", resp.StatusCode)
		}

		var snap metrics.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return fmt.Errorf("decoding snapshot: %w", err)
		}

		fmt.Fprint(cmd.OutOrStdout(), snap.Text())
		fmt.Fprintf(cmd.OutOrStdout(), "# taken at %s\n", snap.TakenAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}
