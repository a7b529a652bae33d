package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/pkg/memory"
)

var (
	addOwner   string
	addSession string
	addSource  string
)

var addCmd = &cobra.Command{
	Use:   "add [content...]",
	Short: "Store a memory chunk",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closer, err := openManager()
		if err != nil {
			return err
		}
		defer closer()

		id, err := mgr.Add(cmd.Context(), memory.AddParams{
			OwnerID:    addOwner,
			SessionKey: addSession,
			Content:    strings.Join(args, " "),
			Source:     addSource,
		})
		if err != nil {
			return err
		}

		fmt.Println(id)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addOwner, "owner", "", "owner id (required)")
	addCmd.Flags().StringVar(&addSession, "session", "", "session key")
	addCmd.Flags().StringVar(&addSource, "source", "", "source tag")
	addCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(addCmd)
}
