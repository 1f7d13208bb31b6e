package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/adapters/mcp"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of trialmatch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trialmatch version %s\n", mcp.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
