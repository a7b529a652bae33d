package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index health",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closer, err := openManager()
		if err != nil {
			return err
		}
		defer closer()

		status, err := mgr.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("acceleration:     %v\n", status.AccelerationActive)
		fmt.Printf("total chunks:     %d\n", status.TotalChunks)
		fmt.Printf("lexical records:  %d\n", status.LexicalRecords)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
