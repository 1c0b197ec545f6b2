package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show the dashboard view: stats, alerts and recent scans.",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := api().Snapshot()
		if err != nil {
			return err
		}

		if snap.Stale {
			fmt.Println("WARNING: durable store unreachable, showing a degraded view")
		}
		fmt.Printf("Scans today:      %d\n", snap.Stats.ScansToday)
		fmt.Printf("Active threats:   %d\n", snap.Stats.ActiveThreats)
		fmt.Printf("Evidence records: %d\n", snap.Stats.EvidenceRecords)
		fmt.Printf("Protected users:  %d\n", snap.Stats.ProtectedUsers)

		if len(snap.Alerts) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SEVERITY\tSTATUS\tTYPE\tALERT ID\t")
			for _, a := range snap.Alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", a.Severity, a.Status, a.Type, a.ID)
			}
			w.Flush()
		}

		if len(snap.Scans) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SCAN ID\tTYPE\tCATEGORY\tSCORE\tVERIFICATION\t")
			for _, s := range snap.Scans {
				id := string(s.ID)
				if s.Unsynced {
					id += " (unsynced)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n",
					id, s.ContentType, s.RiskCategory, s.RiskScore, s.VerificationStatus)
			}
			w.Flush()
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
