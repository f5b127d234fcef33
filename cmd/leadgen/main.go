package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "leadgen",
	Short: "Lead capture and marketing analytics server",
	Long: `leadgen serves the landing page lead forms and the admin analytics API.

Available commands:
  serve   - Run the HTTP server and background workers
  migrate - Apply the PostgreSQL schema
  sync    - Run one Meta Ads sync action and print the result`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
