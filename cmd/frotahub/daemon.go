package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/frotahub/frotahub/internal/daemon"
	"github.com/frotahub/frotahub/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the background sync loop in the foreground.

The daemon:
  1. Watches the intake directory for submission JSON files and saves
     them into the local store as pending
  2. Runs a sync pass on startup and then every sync interval
  3. For manager sessions, also pulls the authoritative remote set
  4. Optionally serves the real-time dashboard on the configured port

Example usage:
  frotahub daemon                  # sync loop only
  frotahub daemon --dashboard      # sync loop plus WebSocket dashboard`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		logger := newDaemonLogger("[daemon] ")

		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		endpoint := resolveEndpoint(ctx, st)
		if endpoint == "" {
			logger.Printf("no endpoint configured; submissions will queue locally")
		}

		client := newClient(endpoint, newDaemonLogger("[transport] "))

		// The dashboard doubles as the event sink: every sync transition is
		// broadcast to connected clients.
		var (
			syncer  = newSyncer(st, client, nil, newDaemonLogger("[sync] "))
			dashSrv *dashboard.Server
		)
		if withDashboard {
			dashSrv = dashboard.NewServer(st, nil, &dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: newDaemonLogger("[dashboard] "),
			})
			handler := dashboard.NewHandler(dashSrv, newDaemonLogger("[events] "))
			syncer = newSyncer(st, client, handler, newDaemonLogger("[sync] "))
			dashSrv.SetSyncer(syncer)

			if err := dashSrv.Start(); err != nil {
				fatal("failed to start dashboard: %v", err)
			}
			defer func() {
				if err := dashSrv.Stop(); err != nil {
					logger.Printf("dashboard shutdown: %v", err)
				}
			}()
			fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n",
				cfg.DashboardPort, cfg.DashboardPort)
		}

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = cfg.SyncInterval
		dcfg.Privileged = cfg.Privileged()
		dcfg.IntakeDir = cfg.IntakeDir
		dcfg.Logger = logger

		d, err := daemon.New(st, syncer, dcfg)
		if err != nil {
			fatal("failed to create daemon: %v", err)
		}

		fmt.Printf("Sync daemon started\n")
		fmt.Printf("   Intake dir: %s\n", cfg.IntakeDir)
		fmt.Printf("   Interval: %v\n", cfg.SyncInterval)
		fmt.Printf("   Role: %s\n", cfg.Role)
		fmt.Println("\nPress Ctrl+C to stop")

		// Blocks until the signal context is cancelled; Start handles its
		// own teardown on cancellation.
		if err := d.Start(ctx); err != nil && ctx.Err() == nil {
			fatal("daemon stopped with error: %v", err)
		}

		fmt.Println("\nDaemon stopped")
	},
}

// newDaemonLogger builds a logger writing to stderr, and additionally to a
// rotating log file when one is configured.
func newDaemonLogger(prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "also serve the WebSocket dashboard")
	rootCmd.AddCommand(daemonCmd)
}
