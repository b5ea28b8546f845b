package main

import (
	"github.com/spf13/cobra"

	"github.com/vipul43/qbo-sync-worker/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return database.RunMigrations(cfg.DatabaseURL, logger)
	},
}

var authURLCmd = &cobra.Command{
	Use:   "auth-url [state]",
	Short: "Print the Intuit consent URL for connecting a company",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		state := "qbo-sync-worker"
		if len(args) == 1 {
			state = args[0]
		}
		oauth := newOAuthClient(cfg, logger)
		cmd.Println(oauth.AuthCodeURL(state))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(authURLCmd)
}
