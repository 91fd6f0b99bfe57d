package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var statusConfigPath string

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database status and row counts",
		RunE:  runStatus,
	}
	cmd.Flags().StringVarP(&statusConfigPath, "config", "c", "", "Path to config file")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(statusConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	dbState := "ok"
	if err := a.storage.Ping(ctx); err != nil {
		dbState = err.Error()
	}

	counts, err := a.storage.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count rows: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Samay Status\n")
	fmt.Fprintf(os.Stdout, "============\n\n")
	fmt.Fprintf(os.Stdout, "Database: %s (%s)\n", a.cfg.Database.Driver, dbState)
	fmt.Fprintf(os.Stdout, "Timezone: %s\n", a.executor.Location())
	fmt.Fprintf(os.Stdout, "LLM: %s\n\n", configured(a.cfg.OpenAI.APIKey != ""))

	tables := make([]string, 0, len(counts))
	for name := range counts {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	fmt.Fprintf(os.Stdout, "Rows:\n")
	for _, name := range tables {
		fmt.Fprintf(os.Stdout, "  %-16s %d\n", name+":", counts[name])
	}

	return nil
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
