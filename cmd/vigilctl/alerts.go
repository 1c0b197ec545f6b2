package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// alertsCmd represents the alerts command
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List threat alerts, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		list, err := api().ListAlerts(limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no alerts")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SEVERITY\tSTATUS\tTYPE\tSOURCE\tALERT ID\t")
		for _, a := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", a.Severity, a.Status, a.Type, a.Source, a.ID)
		}
		return w.Flush()
	},
}

// alertsReadCmd represents the alerts read command
var alertsReadCmd = &cobra.Command{
	Use:   "read <alert-id>",
	Short: "Mark one alert as read.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api().MarkAlertRead(args[0]); err != nil {
			return err
		}
		fmt.Printf("alert %s marked read\n", args[0])
		return nil
	},
}

func init() {
	alertsCmd.Flags().Int("limit", 0, "max alerts to list (0 = all)")
	alertsCmd.AddCommand(alertsReadCmd)
	rootCmd.AddCommand(alertsCmd)
}
