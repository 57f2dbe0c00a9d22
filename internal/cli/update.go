package cli

import (
	"github.com/spf13/cobra"
)

func newUpdateCmd(a *app) *cobra.Command {
	var (
		data    string
		actor   string
		version int64
	)
	cmd := &cobra.Command{
		Use:   "update <id> --data <json> --version <n>",
		Short: "Merge fields into a record",
		Long: `Update merges the JSON patch onto the record's current fields and
re-validates the result. --version must match the stored version or the
update fails with a version conflict. A null value removes the field.

Example:
  c2store update 01926f3a-... --version 1 --data '{"status":"engaged"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseData(data)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sub := store.Subscribe()
			rec, err := store.Update(cmd.Context(), args[0], patch, version, actor)
			if err != nil {
				return storeError(err)
			}
			if err := a.fireTriggers(cmd.Context(), cmd.ErrOrStderr(), store, sub); err != nil {
				return err
			}
			return a.printRecord(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "fields to merge as a JSON object")
	cmd.Flags().StringVar(&actor, "actor", "", "who is making the change")
	cmd.Flags().Int64Var(&version, "version", 0, "expected current version")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
