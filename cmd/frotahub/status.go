package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frotahub/frotahub/internal/schema"
	"github.com/frotahub/frotahub/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()

		counts, err := st.CountByStatus(ctx)
		if err != nil {
			fatal("%v", err)
		}

		units, source, err := st.GetRoster(ctx)
		if err != nil {
			fatal("%v", err)
		}

		endpoint := resolveEndpoint(ctx, st)
		if endpoint == "" {
			endpoint = "(not configured)"
		}

		fmt.Printf("\nfrotahub status\n\n")
		fmt.Printf("Store: %s\n", cfg.DBPath)
		fmt.Printf("Role: %s\n", cfg.Role)
		fmt.Printf("Endpoint: %s\n", endpoint)
		fmt.Printf("Submissions: %d pending, %d synced\n",
			counts[schema.StatusPending], counts[schema.StatusSynced])
		fmt.Printf("Roster: %d units (source: %s)\n", len(units), source)
		fmt.Println()
	},
}

var statusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored submissions, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		subs, err := st.GetAllSubmissions(context.Background())
		if err != nil {
			fatal("%v", err)
		}

		if len(subs) == 0 {
			fmt.Println("No submissions stored")
			return
		}

		for _, s := range subs {
			marker := " "
			if s.SyncStatus == schema.StatusPending {
				marker = "*"
			}
			fmt.Printf("%s %s  %s  %s  %s\n",
				marker, s.ID, s.OperationalDate, s.UnitID,
				s.Timestamp.Local().Format("15:04:05"))
		}
		fmt.Printf("\n%d submissions (* = pending)\n", len(subs))
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all submissions, roster and settings from the local store",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Fprintf(os.Stderr, "This deletes all local data, including submissions not yet pushed.\n")
			fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
			os.Exit(1)
		}

		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		if err := st.Reset(context.Background()); err != nil {
			fatal("reset failed: %v", err)
		}

		fmt.Println("Local store reset")
	},
}

var endpointCmd = &cobra.Command{
	Use:   "endpoint [URL]",
	Short: "Show or persist the remote endpoint URL",
	Long: `With no argument, print the endpoint currently in effect. With a URL,
persist it in the local store; the config file and FROTAHUB_ENDPOINT still
take precedence over the stored value.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx := context.Background()

		if len(args) == 0 {
			endpoint := resolveEndpoint(ctx, st)
			if endpoint == "" {
				fmt.Println("No endpoint configured")
				return
			}
			fmt.Println(endpoint)
			return
		}

		if err := st.SetSetting(ctx, store.SettingEndpointURL, args[0]); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Endpoint saved: %s\n", args[0])
	},
}

func init() {
	statusCmd.AddCommand(statusListCmd)
	resetCmd.Flags().Bool("force", false, "skip the confirmation check")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(endpointCmd)
}
