package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// recordDoc renders a record as the flat document shown to users.
func recordDoc(rec *types.Record) map[string]any {
	doc := rec.Document()
	doc["entityType"] = rec.Type
	return doc
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError(fmt.Errorf("marshal output: %w", err))
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// printRecord writes one record. Text mode prints the metadata header then
// one field per line in name order.
func (a *app) printRecord(w io.Writer, rec *types.Record) error {
	if a.flags.jsonMode {
		return printJSON(w, recordDoc(rec))
	}
	fmt.Fprintf(w, "%s %s v%d\n", rec.Type, rec.ID, rec.Version)
	fmt.Fprintf(w, "created: %s\n", rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "updated: %s\n", rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))

	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %s\n", name, formatValue(rec.Fields[name]))
	}
	return nil
}

// printRecordTable writes records as an aligned table.
func printRecordTable(w io.Writer, recs []*types.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tVERSION\tUPDATED")
	fmt.Fprintln(tw, "--\t----\t-------\t-------")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			rec.ID,
			rec.Type,
			rec.Version,
			rec.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
		)
	}
	tw.Flush()

	for _, line := range strings.Split(strings.TrimRight(sb.String(), "\n"), "\n") {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(w, "Total: %d record(s)\n", len(recs))
}

func formatValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(out)
	default:
		return fmt.Sprint(v)
	}
}

// parseData decodes a --data argument into a payload object.
func parseData(data string) (map[string]any, error) {
	if strings.TrimSpace(data) == "" {
		return nil, userError(fmt.Errorf("--data is required"))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, userError(fmt.Errorf("invalid --data JSON: %w", err))
	}
	if payload == nil {
		return nil, userError(fmt.Errorf("--data must be a JSON object"))
	}
	return payload, nil
}

// parseFilters turns key=value arguments into a field filter. Values that
// parse as JSON keep their JSON type; anything else is a string.
func parseFilters(args []string) (map[string]any, error) {
	filter := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, userError(fmt.Errorf("invalid filter %q (expected key=value)", arg))
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		filter[key] = parsed
	}
	return filter, nil
}
