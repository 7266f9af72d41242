package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/formhist/formhist/internal/history"
	"github.com/formhist/formhist/internal/store"
)

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "complete <fieldname> [text]",
		Short: "Rank autocomplete candidates for a field",
		Long: `Rank the stored values of a field against a search text.

Results are ordered by total score (frecency times boundary bonus)
descending, ties broken by case-insensitive value text. Empty search text
ranks every value of the field.`,
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fieldName := args[0]
			text := ""
			if len(args) == 2 {
				text = args[1]
			}

			s, _, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer s.Shutdown(cmd.Context())

			cfg := store.DefaultRankingConfig(history.SystemClock{}.NowMicros())
			scan := s.Autocomplete(cmd.Context(), text, fieldName, cfg)
			defer scan.Cancel()

			truncated := false
			rows := []map[string]any{}
			for r := range scan.Results() {
				rows = append(rows, map[string]any{
					"value":      r.Text,
					"frecency":   r.Frecency,
					"totalScore": r.TotalScore,
				})
				if limit > 0 && len(rows) >= limit {
					scan.Cancel()
					truncated = true
					break
				}
			}
			if !truncated {
				if err := scan.Err(); err != nil {
					return fmt.Errorf("autocomplete: %w", err)
				}
			}
			return printRows(cmd.OutOrStdout(), rootOpts.Format, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many results (0 = all)")
	return cmd
}
