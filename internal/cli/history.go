package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show every committed version of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.History(cmd.Context(), args[0])
			if err != nil {
				return storeError(err)
			}

			w := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(w, entries)
			}
			for _, e := range entries {
				fmt.Fprintf(w, "v%d %s %s %s\n",
					e.Version,
					e.Operation,
					e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
					formatValue(e.Fields),
				)
			}
			return nil
		},
	}
}
