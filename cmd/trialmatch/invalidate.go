package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [trigger]",
	Short: "Invalidate cached entries",
	Long: `Removes cached entries, either by firing a configured invalidation
trigger or by a glob pattern given with --pattern.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		pattern, _ := cmd.Flags().GetString("pattern")
		switch {
		case pattern != "":
			n, err := a.cache.InvalidatePattern(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d entries matching %q\n", n, pattern)
		case len(args) == 1:
			n, err := a.newInvalidator().Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trigger %q invalidated %d entries\n", args[0], n)
		default:
			return errors.New("either a trigger argument or --pattern is required")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(invalidateCmd)
	invalidateCmd.Flags().String("pattern", "", "Glob pattern of keys to invalidate")
}
