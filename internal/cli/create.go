package cli

import (
	"github.com/spf13/cobra"
)

func newCreateCmd(a *app) *cobra.Command {
	var data, actor string
	cmd := &cobra.Command{
		Use:   "create <type> --data <json>",
		Short: "Create a record of an entity type",
		Long: `Create validates the JSON payload against the type's schema, fills
declared defaults, and stores the result as version 1.

Example:
  c2store create target --data '{"targetType":"vehicle","location":{"lat":34.1,"lon":-117.2}}'
  c2store create force --data '{"name":"1st PLT","affiliation":"friendly"}' --actor ops`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseData(data)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sub := store.Subscribe()
			rec, err := store.Create(cmd.Context(), args[0], payload, actor)
			if err != nil {
				return storeError(err)
			}
			if err := a.fireTriggers(cmd.Context(), cmd.ErrOrStderr(), store, sub); err != nil {
				return err
			}
			return a.printRecord(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "record fields as a JSON object")
	cmd.Flags().StringVar(&actor, "actor", "", "who is making the change")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}
