package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "qbo-sync-worker",
	Short: "Incremental QuickBooks Online sync worker",
	Long: `Keeps a local PostgreSQL copy of QuickBooks Online customers and invoices
for every connected company, pulling only what changed since the last
successful checkpoint.`,
	SilenceUsage: true,
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run(args []string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}
