package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/c2store/internal/schema"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and check schema definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [dir]",
		Short: "Compile every schema file in a directory",
		Long: `Check parses and compiles every *.json, *.yaml, and *.yml file in the
directory (default: the configured schema directory) and reports every
problem found. Nothing is loaded into a running store.

Example:
  c2store schema check
  c2store schema check ./schemas`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.config.SchemaDir
			if len(args) == 1 {
				dir = args[0]
			}
			return a.runSchemaCheck(cmd, dir)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the entity types in the schema directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSchemaList(cmd)
		},
	})
	return cmd
}

func compileDir(dir string) (*schema.Set, error) {
	docs, err := schema.ReadDir(dir)
	if err != nil {
		return nil, userError(err)
	}
	reg := schema.NewRegistry(nil)
	if err := reg.Load(docs); err != nil {
		return nil, userError(err)
	}
	return reg.Snapshot(), nil
}

func (a *app) runSchemaCheck(cmd *cobra.Command, dir string) error {
	set, err := compileDir(dir)
	if err != nil {
		return err
	}
	if a.flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"dir":   dir,
			"types": set.Types(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d type(s) in %s", set.Len(), dir)
	if set.Len() > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ": %s", strings.Join(set.Types(), ", "))
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

// fieldSummary is the JSON shape of one declared field in schema list.
type fieldSummary struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Required bool     `json:"required"`
	Default  any      `json:"default,omitempty"`
	Enum     []any    `json:"enum,omitempty"`
	Format   string   `json:"format,omitempty"`
	Fields   []string `json:"fields,omitempty"`
}

type typeSummary struct {
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Fields      []fieldSummary `json:"fields"`
}

func summarize(def *types.SchemaDefinition) typeSummary {
	ts := typeSummary{Type: def.Name, Description: def.Description}
	for _, name := range def.FieldNames() {
		spec := def.Fields[name]
		fs := fieldSummary{
			Name:     name,
			Kind:     spec.Kind,
			Required: spec.Required,
			Enum:     spec.Enum,
			Format:   spec.Format,
		}
		if spec.HasDefault {
			fs.Default = spec.Default
		}
		for sub := range spec.Properties {
			fs.Fields = append(fs.Fields, sub)
		}
		sort.Strings(fs.Fields)
		ts.Fields = append(ts.Fields, fs)
	}
	return ts
}

func (a *app) runSchemaList(cmd *cobra.Command) error {
	set, err := compileDir(a.config.SchemaDir)
	if err != nil {
		return err
	}

	var summaries []typeSummary
	for _, name := range set.Types() {
		def, err := set.Resolve(name)
		if err != nil {
			return sysError(err)
		}
		summaries = append(summaries, summarize(def))
	}

	w := cmd.OutOrStdout()
	if a.flags.jsonMode {
		if summaries == nil {
			summaries = []typeSummary{}
		}
		return printJSON(w, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No schemas found.")
		return nil
	}
	for _, ts := range summaries {
		fmt.Fprintln(w, ts.Type)
		for _, f := range ts.Fields {
			line := fmt.Sprintf("  %s %s", f.Name, f.Kind)
			if f.Required {
				line += " required"
			}
			if f.Format != "" {
				line += " format=" + f.Format
			}
			if len(f.Enum) > 0 {
				line += fmt.Sprintf(" enum=%v", f.Enum)
			}
			if f.Default != nil {
				line += fmt.Sprintf(" default=%s", formatValue(f.Default))
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
