package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trialmatch",
	Short: "trialmatch finds clinical trials matching genetic mutations",
	Long: `trialmatch queries clinicaltrials.gov for trials matching genetic
mutations and serves the results to MCP clients, with caching, retry and
circuit-breaker protection around the upstream API.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
}

func appFromFlags(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	return newApp(configPath, logLevel)
}
