package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the lexical index and repair the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closer, err := openManager()
		if err != nil {
			return err
		}
		defer closer()

		report, err := mgr.RebuildIndexes(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("rebuilt: %d, errors: %d\n", report.Rebuilt, report.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}
