package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/formhist/formhist/internal/store"
)

// NewExpireCommand creates the expire command.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete entries older than the retention period",
		Long: `Delete every entry whose last use is older than the configured
retention period (expire_days). A pass that removes a large number of rows
also compacts the database, best-effort.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer s.Shutdown(cmd.Context())

			var cutoff int64
			unsubscribe := s.Notifier().Subscribe(func(ev store.Event) {
				if ev.Name == store.EventExpired {
					cutoff = ev.Cutoff
				}
			})
			defer unsubscribe()

			if err := s.ExpireOldEntries(cmd.Context(), cfg.Retention()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "expired entries last used at or before %d\n", cutoff)
			return nil
		},
	}
	return cmd
}
