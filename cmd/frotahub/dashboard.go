package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frotahub/frotahub/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the real-time dashboard (without the sync loop)",
	Long: `Serve the WebSocket dashboard over the local store.

The dashboard exposes stored submissions, the roster and the sync state over
HTTP, and broadcasts sync events to WebSocket clients. Run it standalone to
inspect a store, or pass --dashboard to 'frotahub daemon' to serve it
alongside the sync loop.

Endpoints:
  GET /healthz              liveness check
  GET /ws                   WebSocket event stream
  GET /api/submissions      all submissions, newest first
  GET /api/submissions/{id} one submission
  GET /api/roster           active roster and its source
  GET /api/sync             sync state and queue counts

Example usage:
  frotahub dashboard              # default port 8080
  frotahub dashboard --port 9000`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.DashboardPort
		}

		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()
		endpoint := resolveEndpoint(ctx, st)

		server := dashboard.NewServer(st, nil, &dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		server.SetSyncer(newSyncer(st, newClient(endpoint, nil), nil, nil))

		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-sigCtx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatal("error during shutdown: %v", err)
		}
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "port to listen on (default: config dashboard_port)")
	rootCmd.AddCommand(dashboardCmd)
}
