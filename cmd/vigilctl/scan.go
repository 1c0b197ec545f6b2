package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vigil-sec/vigil/internal/client"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [content]",
	Short: "Submit content for analysis. Use '-' to read from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := args[0]
		if content == "-" {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			content = strings.TrimSpace(string(raw))
		}

		contentType, _ := cmd.Flags().GetString("type")
		label, _ := cmd.Flags().GetString("label")

		rec, err := api().SubmitScan(client.SubmitScanRequest{
			Type:    contentType,
			Content: content,
			Label:   label,
		})
		if err != nil {
			return err
		}
		return printRecord(rec)
	},
}

// scanImageCmd represents the scan-image command
var scanImageCmd = &cobra.Command{
	Use:   "scan-image <url>",
	Short: "Fetch an image by URL and submit it for analysis.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		rec, err := api().ScanArtifact(client.ScanArtifactRequest{URL: args[0], Label: label})
		if err != nil {
			return err
		}
		return printRecord(rec)
	},
}

// scansCmd represents the scans command
var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List scan records, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		list, err := api().ListScans(limit)
		if err != nil {
			return err
		}
		for _, rec := range list {
			fmt.Printf("%s  %-7s %-10s score=%-3d %s  %s\n",
				rec.CreatedAt.Format("2006-01-02 15:04:05"),
				rec.ContentType, rec.RiskCategory, rec.RiskScore,
				rec.VerificationStatus, rec.ID)
		}
		return nil
	},
}

// pendingCmd represents the pending command
var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Pop the context-menu scan result awaiting display, if any.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := api().PendingResult()
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("no pending result")
			return nil
		}
		return printRecord(rec)
	},
}

func printRecord(rec any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func init() {
	scanCmd.Flags().String("type", "text", "content type: text, image, video, audio")
	scanCmd.Flags().String("label", "Manual", "display label for the sample")
	scanImageCmd.Flags().String("label", "", "display label for the image")
	scansCmd.Flags().Int("limit", 20, "max records to list (0 = all)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(scanImageCmd)
	rootCmd.AddCommand(scansCmd)
	rootCmd.AddCommand(pendingCmd)
}
