package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <scan-id>",
	Short: "Run evidence verification for one scan record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := api().Verify(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s", rec.ID, rec.VerificationStatus)
		if rec.VerificationNote != "" {
			fmt.Printf(" (%s)", rec.VerificationNote)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
