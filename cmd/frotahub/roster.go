package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frotahub/frotahub/internal/schema"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the unit/vehicle roster",
	Long: `Manage the roster of operational units and their vehicles.

The roster pre-populates each submission's vehicle checklist. It starts from
a built-in default, can be edited locally via YAML import, and converges
fleet-wide when a manager publishes it to the remote endpoint: every device
picks the published roster up on its next pull.`,
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the active roster and its source",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		units, source, err := st.GetRoster(context.Background())
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Roster source: %s (%d units)\n", source, len(units))
		for _, unit := range units {
			fmt.Printf("  %s  %s\n", unit.ID, unit.DisplayName)
			for _, v := range unit.Vehicles {
				fmt.Printf("     %-10s %s\n", v.Plate, v.Category)
			}
		}
	},
}

var rosterImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the local roster from a YAML file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		units, err := schema.ReadRosterFile(args[0])
		if err != nil {
			fatal("%v", err)
		}

		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		if err := st.ReplaceRoster(context.Background(), units, schema.SourceLocal); err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Roster replaced: %d units (source: local)\n", len(units))
	},
}

var rosterExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write the active roster to a YAML file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		units, _, err := st.GetRoster(context.Background())
		if err != nil {
			fatal("%v", err)
		}

		if err := schema.WriteRosterFile(args[0], units); err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Roster exported to %s (%d units)\n", args[0], len(units))
	},
}

var rosterPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the local roster to the remote endpoint",
	Long: `Push the entire local roster as one config_update envelope.

This is a full-replace publish: other devices converge on it on their next
pull, so propagation latency equals the polling interval. Like report pushes,
the publish is response-blind. Publishing requires the manager role.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.Privileged() {
			fatal("roster publish requires role: manager")
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

		units, _, err := st.GetRoster(ctx)
		if err != nil {
			fatal("%v", err)
		}
		if len(units) == 0 {
			fatal("roster is empty; nothing to publish")
		}

		client := newClient(endpoint, nil)
		if err := client.PublishRoster(ctx, units); err != nil {
			fatal("publish failed: %v", err)
		}

		fmt.Printf("Roster published: %d units\n", len(units))
	},
}

func init() {
	rosterCmd.AddCommand(rosterListCmd)
	rosterCmd.AddCommand(rosterImportCmd)
	rosterCmd.AddCommand(rosterExportCmd)
	rosterCmd.AddCommand(rosterPublishCmd)
	rootCmd.AddCommand(rosterCmd)
}
