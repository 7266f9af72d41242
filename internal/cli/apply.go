package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/formhist/formhist/internal/history"
	"github.com/formhist/formhist/internal/store"
)

// NewApplyCommand creates the apply command, the CLI face of the write
// pipeline's update operation.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <changes.json>",
		Short: "Apply a batch of change requests atomically",
		Long: `Apply an ordered batch of change requests as one atomic transaction.

The file ("-" for stdin) holds a JSON array of requests:

  [{"op": "add", "fieldname": "email", "value": "a@example.com"},
   {"op": "bump", "fieldname": "email", "value": "a@example.com"}]

Ops: add, update, remove, bump. update and bump identify their row by
exactly one of guid or the (fieldname, value) pair. Either every request
commits together or none do.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Requests are decoded and validated before the store opens:
			// malformed input never starts asynchronous work.
			changes, err := readChanges(args[0])
			if err != nil {
				return err
			}

			s, cfg, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer s.Shutdown(cmd.Context())

			if !cfg.Enabled {
				return fmt.Errorf("form history is disabled by configuration")
			}

			var applied []store.Event
			unsubscribe := s.Notifier().Subscribe(func(ev store.Event) {
				switch ev.Name {
				case store.EventEntryAdded, store.EventEntryUpdated, store.EventEntryRemoved:
					applied = append(applied, ev)
				}
			})
			defer unsubscribe()

			if err := s.Update(cmd.Context(), changes...); err != nil {
				return err
			}

			for _, ev := range applied {
				if ev.GUID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ev.Name, ev.GUID)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), ev.Name)
				}
			}
			return nil
		},
	}
	return cmd
}

// readChanges decodes a JSON change list from a file or stdin.
func readChanges(path string) ([]history.Change, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open changes file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var reqs []map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&reqs); err != nil {
		return nil, fmt.Errorf("parse changes: %w", err)
	}
	return history.ParseChanges(reqs)
}
