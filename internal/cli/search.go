package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/formhist/formhist/internal/history"
)

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var where []string
	var fields []string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "List entries matching a predicate",
		Long: `List stored entries matching a conjunctive predicate.

Each --where key=value term becomes an equality filter; the four range
filters (firstUsedStart, firstUsedEnd, lastUsedStart, lastUsedEnd) become
bounds on their timestamp column. No --where terms means every entry.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate, err := parseWhere(where)
			if err != nil {
				return err
			}

			s, _, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer s.Shutdown(cmd.Context())

			rows, err := s.Search(cmd.Context(), fields, predicate)
			if err != nil {
				return err
			}
			return printRows(cmd.OutOrStdout(), rootOpts.Format, rows)
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "predicate term key=value (repeatable)")
	cmd.Flags().StringSliceVar(&fields, "select", nil, "fields to project (default: all)")
	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	var where []string

	cmd := &cobra.Command{
		Use:          "count",
		Short:        "Count entries matching a predicate",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate, err := parseWhere(where)
			if err != nil {
				return err
			}

			s, _, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer s.Shutdown(cmd.Context())

			n, err := s.Count(cmd.Context(), predicate)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), rootOpts.Format, "count", n)
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "predicate term key=value (repeatable)")
	return cmd
}

// numericKeys are the predicate keys whose values are integers.
var numericKeys = map[string]bool{
	history.FieldTimesUsed:       true,
	history.FieldFirstUsed:       true,
	history.FieldLastUsed:        true,
	history.FilterFirstUsedStart: true,
	history.FilterFirstUsedEnd:   true,
	history.FilterLastUsedStart:  true,
	history.FilterLastUsedEnd:    true,
}

// parseWhere turns repeated key=value flags into a predicate map.
func parseWhere(terms []string) (map[string]any, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	predicate := make(map[string]any, len(terms))
	for _, t := range terms {
		key, value, ok := strings.Cut(t, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --where term %q: expected key=value", t)
		}
		if numericKeys[key] {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid --where term %q: %s must be an integer", t, key)
			}
			predicate[key] = n
		} else {
			predicate[key] = value
		}
	}
	return predicate, nil
}
