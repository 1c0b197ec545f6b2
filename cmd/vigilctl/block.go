package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// blockCmd represents the block command
var blockCmd = &cobra.Command{
	Use:   "block <domain-or-url>",
	Short: "Add a domain to the navigation blocklist.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := api().Block(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("blocked %s\n", entry.Domain)
		return nil
	},
}

// unblockCmd represents the unblock command
var unblockCmd = &cobra.Command{
	Use:   "unblock <domain>",
	Short: "Remove a domain from the navigation blocklist.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api().Unblock(args[0]); err != nil {
			return err
		}
		fmt.Printf("unblocked %s\n", args[0])
		return nil
	},
}

// blocklistCmd represents the blocklist command
var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "List blocked domains.",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := api().ListBlocked()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("blocklist is empty")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tADDED\tORIGIN\t")
		for _, e := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", e.Domain, e.AddedAt.Format("2006-01-02 15:04"), e.OriginURL)
		}
		return w.Flush()
	},
}

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Test a navigation target against the blocklist.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subframe, _ := cmd.Flags().GetBool("subframe")
		decision, err := api().CheckNavigation(args[0], !subframe)
		if err != nil {
			return err
		}
		if decision.Allowed {
			fmt.Printf("%s: allowed\n", decision.Domain)
		} else {
			fmt.Printf("%s: blocked, redirect to %s\n", decision.Domain, decision.RedirectTo)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().Bool("subframe", false, "check as a sub-frame navigation")

	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(blocklistCmd)
	rootCmd.AddCommand(checkCmd)
}
