package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigil-sec/vigil/internal/client"
)

var serverURL string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vigilctl",
	Short: "Inspect and control the vigil threat-scanning coordinator.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8790", "coordinator base URL")
}

func api() *client.Client {
	if v := os.Getenv("VIGIL_SERVER"); v != "" && !rootCmd.PersistentFlags().Changed("server") {
		return client.NewClient(v)
	}
	return client.NewClient(serverURL)
}
