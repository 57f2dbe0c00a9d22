package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/c2store/internal/feed"
	"github.com/mesh-intelligence/c2store/internal/trigger"
	"github.com/mesh-intelligence/c2store/pkg/c2store"
)

func newTriggerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage trigger rules",
		Long: `Trigger rules fire when create or update leaves a record matching the
rule's sourceQuery. Each rule runs its actions: createEntity adds a record,
updateEntity patches every record matching the action's query. Rules are
kept in triggers.json in the data directory.

Example rule:
  {"type":"queryRule",
   "sourceQuery":{"type":"target","targetType":"vehicle"},
   "actions":[{"type":"updateEntity",
               "query":{"type":"force","status":"idle"},
               "payload":{"status":"alerted"}}]}`,
	}
	cmd.AddCommand(newTriggerAddCmd(a))
	cmd.AddCommand(newTriggerGetCmd(a))
	cmd.AddCommand(newTriggerListCmd(a))
	cmd.AddCommand(newTriggerUpdateCmd(a))
	cmd.AddCommand(newTriggerDeleteCmd(a))
	return cmd
}

func newTriggerAddCmd(a *app) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "add --data <json>",
		Short: "Add a trigger rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := parseRule(data)
			if err != nil {
				return err
			}
			rules, err := a.loadRules()
			if err != nil {
				return err
			}
			added, err := rules.Add(rule)
			if err != nil {
				return userError(err)
			}
			if err := a.saveRules(rules); err != nil {
				return err
			}
			return a.printRule(cmd.OutOrStdout(), added)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "rule as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newTriggerGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a trigger rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := a.loadRules()
			if err != nil {
				return err
			}
			rule, err := rules.Get(args[0])
			if err != nil {
				return storeError(err)
			}
			return a.printRule(cmd.OutOrStdout(), rule)
		},
	}
}

func newTriggerListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trigger rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := a.loadRules()
			if err != nil {
				return err
			}
			list := rules.List()
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), list)
			}
			printRuleTable(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func newTriggerUpdateCmd(a *app) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "update <id> --data <json>",
		Short: "Replace the body of a trigger rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := parseRule(data)
			if err != nil {
				return err
			}
			rules, err := a.loadRules()
			if err != nil {
				return err
			}
			replaced, err := rules.Replace(args[0], rule)
			if err != nil {
				return storeError(err)
			}
			if err := a.saveRules(rules); err != nil {
				return err
			}
			return a.printRule(cmd.OutOrStdout(), replaced)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "rule as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newTriggerDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a trigger rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := a.loadRules()
			if err != nil {
				return err
			}
			if err := rules.Remove(args[0]); err != nil {
				return storeError(err)
			}
			if err := a.saveRules(rules); err != nil {
				return err
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{"id": args[0], "deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted trigger %s\n", args[0])
			return nil
		},
	}
}

func (a *app) rulesPath() string {
	return filepath.Join(a.config.DataDir, trigger.FileName)
}

func (a *app) loadRules() (*trigger.Rules, error) {
	rules, err := trigger.LoadFile(a.rulesPath())
	if err != nil {
		return nil, sysError(err)
	}
	return rules, nil
}

func (a *app) saveRules(rules *trigger.Rules) error {
	if err := os.MkdirAll(a.config.DataDir, 0o755); err != nil {
		return sysError(fmt.Errorf("create data directory: %w", err))
	}
	if err := rules.SaveFile(a.rulesPath()); err != nil {
		return sysError(err)
	}
	return nil
}

// parseRule decodes a --data argument into a rule body. Unknown keys are
// rejected so a misspelled sourceQuery does not yield a rule that never fires.
func parseRule(data string) (trigger.Rule, error) {
	var rule trigger.Rule
	if strings.TrimSpace(data) == "" {
		return rule, userError(fmt.Errorf("--data is required"))
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rule); err != nil {
		return rule, userError(fmt.Errorf("invalid --data JSON: %w", err))
	}
	return rule, nil
}

// fireTriggers runs the stored rules over the events committed since sub
// was taken and reports each firing on w.
func (a *app) fireTriggers(ctx context.Context, w io.Writer, store *c2store.Store, sub *feed.Subscription) error {
	rules, err := a.loadRules()
	if err != nil {
		return err
	}
	if rules.Len() == 0 {
		return nil
	}
	runner := trigger.NewRunner(store, rules, trigger.Options{
		OnMatch: func(m trigger.Match) { reportMatch(w, m) },
	}, a.logger)
	if err := runner.Drain(ctx, sub, store.Feed()); err != nil {
		return sysError(fmt.Errorf("run triggers: %w", err))
	}
	return nil
}

func reportMatch(w io.Writer, m trigger.Match) {
	fmt.Fprintf(w, "trigger %s fired on %s %s v%d\n", m.Rule.ID, m.Event.EntityType, m.Event.ID, m.Event.Version)
	for _, res := range m.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "  %s failed: %v\n", res.Action.Type, res.Err)
			continue
		}
		for _, rec := range res.Records {
			fmt.Fprintf(w, "  %s: %s %s v%d\n", res.Action.Type, rec.Type, rec.ID, rec.Version)
		}
	}
}

func (a *app) printRule(w io.Writer, rule *trigger.Rule) error {
	if a.flags.jsonMode {
		return printJSON(w, rule)
	}
	fmt.Fprintf(w, "trigger %s (%s)\n", rule.ID, rule.Kind)
	fmt.Fprintf(w, "created: %s\n", rule.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "updated: %s\n", rule.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "  when: %s\n", formatValue(rule.SourceQuery))
	for _, act := range rule.Actions {
		target := act.EntityType
		if act.Type == trigger.ActionUpdate {
			target = formatValue(act.Query)
		}
		fmt.Fprintf(w, "  then: %s %s %s\n", act.Type, target, formatValue(act.Payload))
	}
	return nil
}

func printRuleTable(w io.Writer, rules []*trigger.Rule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No triggers found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tACTIONS")
	for _, rule := range rules {
		source, _, _ := trigger.SplitQuery(rule.SourceQuery)
		fmt.Fprintf(tw, "%s\t%s\t%d\n", rule.ID, source, len(rule.Actions))
	}
	tw.Flush()
}
