package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frotahub/frotahub/internal/daemon"
	"github.com/frotahub/frotahub/internal/sync"
)

var submitNoSync bool

var submitCmd = &cobra.Command{
	Use:   "submit FILE...",
	Short: "Save submission JSON files and push them",
	Long: `Validate one or more submission JSON files and save them to the local
store as pending. Files missing an id or timestamp get them assigned.

After saving, an immediate push attempt runs unless --no-sync is given;
unsent submissions stay pending and are retried by the daemon.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()

		saved := 0
		for _, path := range args {
			sub, err := daemon.ReadIntakeFile(path)
			if err != nil {
				fatal("%v", err)
			}

			if err := st.SaveSubmission(ctx, sub); err != nil {
				fatal("failed to save %s: %v", path, err)
			}

			fmt.Printf("Saved %s (unit %s, %s)\n", sub.ID, sub.UnitID, sub.OperationalDate)
			saved++
		}

		if submitNoSync {
			fmt.Printf("%d submissions pending; run 'frotahub push' to send them\n", saved)
			return
		}

		endpoint := resolveEndpoint(ctx, st)
		if endpoint == "" {
			fmt.Printf("%d submissions pending; no endpoint configured yet\n", saved)
			return
		}

		syncer := newSyncer(st, newClient(endpoint, nil), nil, nil)
		if err := syncer.PushPending(ctx); err != nil && !errors.Is(err, sync.ErrSyncInFlight) {
			// The submissions are safe in the store; pushing failed, the
			// next pass retries.
			fmt.Printf("Saved locally, push failed: %v\n", err)
			return
		}

		fmt.Println("Push complete")
	},
}

func init() {
	submitCmd.Flags().BoolVar(&submitNoSync, "no-sync", false, "save only, skip the immediate push")
	rootCmd.AddCommand(submitCmd)
}
