package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jules-labs/fleet/pkg/jules"
)

func syncCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "sync [session-id...]",
		Short: "Reconcile local cache state for one or more sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("sync requires at least one session id")
			}
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()

			client, err := newClient(ctx)
			if err != nil {
				return err
			}

			return client.Sync(ctx, args, jules.SyncOptions{
				Concurrency: concurrency,
				OnProgress: func(p jules.SyncProgress) {
					switch p.Phase {
					case "error":
						fail("%s: %v", p.SessionID, p.Err)
					default:
						fmt.Printf("%s: %s\n", p.SessionID, p.Phase)
					}
				},
			})
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max sessions synced in parallel (default from constants.DefaultSessionInfoConcurrency)")
	return cmd
}
