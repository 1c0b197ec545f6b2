package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sosCmd represents the sos command
var sosCmd = &cobra.Command{
	Use:   "sos",
	Short: "Trigger the emergency protocol: a CRITICAL alert plus a forensic log entry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("confirm")
		if !confirmed {
			return fmt.Errorf("sos is for actual emergencies; re-run with --confirm")
		}
		alert, err := api().TriggerEmergency()
		if err != nil {
			return err
		}
		fmt.Printf("emergency protocol active: %s (%s)\n", alert.Type, alert.ID)
		return nil
	},
}

func init() {
	sosCmd.Flags().Bool("confirm", false, "confirm the emergency trigger")
	rootCmd.AddCommand(sosCmd)
}
