package cli

import (
	"github.com/spf13/cobra"
)

var (
	forgetOwner   string
	forgetSession string
)

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete memories for an owner, optionally scoped to a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closer, err := openManager()
		if err != nil {
			return err
		}
		defer closer()

		if forgetSession != "" {
			return mgr.DeleteBySession(cmd.Context(), forgetOwner, forgetSession)
		}
		return mgr.DeleteByAgent(cmd.Context(), forgetOwner)
	},
}

func init() {
	forgetCmd.Flags().StringVar(&forgetOwner, "owner", "", "owner id (required)")
	forgetCmd.Flags().StringVar(&forgetSession, "session", "", "session key (omit to delete all sessions)")
	forgetCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(forgetCmd)
}
