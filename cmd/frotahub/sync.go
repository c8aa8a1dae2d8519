package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/frotahub/frotahub/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass (push, then pull for managers)",
	Long: `Run one outbound-drain-then-inbound-pull sequence.

This is the same pass the daemon runs on its schedule:
  1. Pending submissions are pushed one at a time
  2. Manager sessions pull the authoritative remote set and merge it
  3. A published roster in the pull response replaces the local one`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()
		endpoint := resolveEndpoint(ctx, st)
		if endpoint == "" {
			fatal("no endpoint configured; set endpoint in frotahub.yaml or run 'frotahub endpoint <url>'")
		}

		syncer := newSyncer(st, newClient(endpoint, nil), nil, nil)

		start := time.Now()
		err = syncer.SyncPass(ctx, sync.PassOptions{Privileged: cfg.Privileged()})
		if err != nil {
			fatal("sync failed: %v", err)
		}

		counts, err := st.CountByStatus(ctx)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		for status, n := range counts {
			fmt.Printf("   %s: %d\n", status, n)
		}
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Drain pending submissions to the remote endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()
		endpoint := resolveEndpoint(ctx, st)
		if endpoint == "" {
			fatal("no endpoint configured")
		}

		syncer := newSyncer(st, newClient(endpoint, nil), nil, nil)

		if err := syncer.PushPending(ctx); err != nil && !errors.Is(err, sync.ErrSyncInFlight) {
			fatal("push failed: %v", err)
		}

		fmt.Println("Push complete")
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the authoritative remote set and merge it locally",
	Long: `Fetch the remote submission set and merge it into the local store.

Remote records win by id: the local copy is overwritten entirely and marked
synced. Records only this device knows survive. A non-empty published roster
in the response replaces the local roster.

Pulling requires the manager role.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.Privileged() {
			fatal("pull requires role: manager")
		}

		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()
		endpoint := resolveEndpoint(ctx, st)
		if endpoint == "" {
			fatal("no endpoint configured")
		}

		syncer := newSyncer(st, newClient(endpoint, nil), nil, nil)

		// Foreground pull: errors surface.
		if err := syncer.Pull(ctx, false); err != nil && !errors.Is(err, sync.ErrSyncInFlight) {
			fatal("pull failed: %v", err)
		}

		fmt.Println("Pull complete")
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe the remote endpoint for reachability",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()
		endpoint := resolveEndpoint(ctx, st)
		if endpoint == "" {
			fatal("no endpoint configured")
		}

		client := newClient(endpoint, nil)

		start := time.Now()
		if err := client.Ping(ctx); err != nil {
			fatal("endpoint unreachable: %v", err)
		}

		fmt.Printf("Endpoint reachable (%v)\n", time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pingCmd)
}
