package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vipul43/qbo-sync-worker/internal/service"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Runs a single sync cycle. With --realm-id only that company is synced,
otherwise every active account is. Exits non-zero if any pairing failed.`,
	RunE: runSync,
}

var syncRealmID string

func init() {
	syncCmd.Flags().StringVar(&syncRealmID, "realm-id", "", "sync only this QuickBooks company")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var results []service.AccountResult
	if syncRealmID != "" {
		result, err := a.orchestrator.SyncAccount(ctx, syncRealmID)
		if err != nil {
			return fmt.Errorf("sync %s: %w", syncRealmID, err)
		}
		results = append(results, *result)
	} else {
		report, err := a.orchestrator.SyncAll(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		results = report.Accounts
	}

	failed := 0
	for _, r := range results {
		for _, p := range r.Pairings {
			line := fmt.Sprintf("%s\t%s\t%s\t%d records", r.RealmID, p.ObjectType, p.Status, p.RecordsProcessed)
			if p.Error != "" {
				line += "\t" + p.Error
			}
			cmd.Println(line)
			if p.Status == service.PairingFailed {
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d pairing(s) failed", failed)
	}
	return nil
}
