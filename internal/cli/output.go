package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// printRows writes search results in the configured format. Text mode
// emits one "key=value" line per row with keys sorted; json mode emits the
// row list as a JSON array.
func printRows(w io.Writer, format string, rows []map[string]any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%s=%v", k, row[k])
		}
		fmt.Fprintln(w)
	}
	return nil
}

// printValue writes a single result value in the configured format.
func printValue(w io.Writer, format string, key string, value any) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(map[string]any{key: value})
	}
	_, err := fmt.Fprintln(w, value)
	return err
}
