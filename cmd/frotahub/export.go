package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frotahub/frotahub/internal/schema"
)

var exportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Export stored submissions as CSV",
	Long: `Write all stored submissions as a CSV report: one row per submission
with the stopped-vehicle count and the summed spot offers. Writes to stdout
when no file is given.`,
	Args: cobra.MaximumNArgs(1),
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

		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				fatal("failed to create %s: %v", args[0], err)
			}
			defer f.Close()
			out = f
		}

		if err := schema.WriteSubmissionsCSV(out, subs); err != nil {
			fatal("export failed: %v", err)
		}

		if len(args) == 1 {
			fmt.Printf("Exported %d submissions to %s\n", len(subs), args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
