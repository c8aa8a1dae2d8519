// Command frotahub is the device-side agent for fleet-status reporting:
// it stores field submissions locally, drains them to the remote
// spreadsheet-backed endpoint, pulls the authoritative set back for manager
// sessions, and serves a local dashboard.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/frotahub/frotahub/internal/config"
	"github.com/frotahub/frotahub/internal/store"
	"github.com/frotahub/frotahub/internal/sync"
	"github.com/frotahub/frotahub/internal/transport"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "frotahub",
	Short: "Offline-first fleet-status reporting agent",
	Long: `frotahub keeps field-collected fleet-status submissions in a local
SQLite store and synchronizes them with a remote spreadsheet-backed endpoint.

Submissions are saved as pending and drained in the background; manager
sessions additionally pull the authoritative remote set and the published
unit roster. The agent works fully offline and catches up when the endpoint
becomes reachable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./frotahub.yaml, ~/.config/frotahub/frotahub.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the record store, initializes the schema and seeds the
// default roster on first run.
func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.DBPath, err)
	}

	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, err
	}

	if err := st.EnsureDefaultRoster(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// resolveEndpoint prefers the configured endpoint, falling back to the one
// persisted in the store's settings.
func resolveEndpoint(ctx context.Context, st *store.Store) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	saved, err := st.GetSetting(ctx, store.SettingEndpointURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read saved endpoint: %v\n", err)
		return ""
	}
	return saved
}

// newClient builds a transport client for the given endpoint.
func newClient(endpoint string, logger *log.Logger) *transport.Client {
	return transport.New(transport.Config{
		Endpoint:   endpoint,
		Capability: transport.Capability{ObserveResponse: cfg.ObserveResponse},
		PullAction: cfg.PullAction,
		Logger:     logger,
	})
}

// newSyncer builds a syncer over the store and client with the configured
// queue policy.
func newSyncer(st *store.Store, client *transport.Client, events sync.Events, logger *log.Logger) *sync.Syncer {
	return sync.New(st, client, &sync.Config{
		ContinueOnError: cfg.ContinueOnError,
		Events:          events,
		Logger:          logger,
	})
}

// fatal prints an error and exits, for Run funcs that cannot return one.
func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
