package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <type> [field=value...]",
		Short: "List records of a type with optional filters",
		Long: `List prints the live records of an entity type in creation order.

Filters are field=value pairs and are ANDed together. Dotted paths reach
into object fields. Values that parse as JSON keep their JSON type.

Example:
  c2store list target
  c2store list target status=engaged
  c2store list casevac precedence=1 location.lat=34.1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilters(args[1:])
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var recs []*types.Record
			for rec, err := range store.List(cmd.Context(), args[0], types.MatchFields(filter)) {
				if err != nil {
					return storeError(err)
				}
				recs = append(recs, rec)
			}

			if a.flags.jsonMode {
				docs := make([]map[string]any, 0, len(recs))
				for _, rec := range recs {
					docs = append(docs, recordDoc(rec))
				}
				return printJSON(cmd.OutOrStdout(), docs)
			}
			printRecordTable(cmd.OutOrStdout(), recs)
			return nil
		},
	}
}
