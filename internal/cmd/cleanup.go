package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"samay/internal/auth"
)

var cleanupConfigPath string

func NewCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired login sessions",
		RunE:  runCleanup,
	}
	cmd.Flags().StringVarP(&cleanupConfigPath, "config", "c", "", "Path to config file")
	return cmd
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := openApp(cleanupConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	authSvc, err := auth.NewService(a.storage, a.cfg.Auth)
	if err != nil {
		return err
	}

	n, err := authSvc.DeleteExpiredSessions(context.Background())
	if err != nil {
		return fmt.Errorf("failed to cleanup sessions: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Cleanup completed. %d expired sessions have been removed.\n", n)
	return nil
}
