package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"samay/internal/task"
)

var triggerConfigPath string
var triggerMerge bool
var triggerTagging bool
var triggerInsights bool
var triggerVerbose bool

func NewTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manually run background jobs once",
		Long:  "Runs the merge, tagging or insights job immediately, outside the schedule.",
		RunE:  runTrigger,
	}

	cmd.Flags().StringVarP(&triggerConfigPath, "config", "c", "", "Path to config file")
	cmd.Flags().BoolVar(&triggerMerge, "merge", false, "Merge the previous day's activity")
	cmd.Flags().BoolVar(&triggerTagging, "tagging", false, "Tag untagged activity")
	cmd.Flags().BoolVar(&triggerInsights, "insights", false, "Generate yesterday's insights for every user")
	cmd.Flags().BoolVarP(&triggerVerbose, "verbose", "v", false, "Print job results as JSON")
	cmd.Flags().BoolP("all", "a", false, "Run all jobs (merge, tagging, insights)")

	return cmd
}

func runTrigger(cmd *cobra.Command, args []string) error {
	triggerAll, _ := cmd.Flags().GetBool("all")
	if triggerAll {
		triggerMerge = true
		triggerTagging = true
		triggerInsights = true
	}

	if !triggerMerge && !triggerTagging && !triggerInsights {
		return fmt.Errorf("please specify at least one job: --merge, --tagging, --insights, or --all")
	}

	if triggerVerbose {
		fmt.Fprintf(os.Stdout, "[VERBOSE] Loading configuration...\n")
	}
	a, err := openApp(triggerConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if triggerVerbose {
		fmt.Fprintf(os.Stdout, "[VERBOSE] Database: %s, timezone: %s\n",
			a.cfg.Database.Driver, a.executor.Location())
	}

	selected := map[string]bool{
		task.JobMerge:    triggerMerge,
		task.JobTagging:  triggerTagging,
		task.JobInsights: triggerInsights,
	}

	ctx := context.Background()
	completed := []string{}
	var failed []string
	for _, name := range task.JobNames {
		if !selected[name] {
			continue
		}
		fmt.Fprintf(os.Stdout, "Running %s job...\n", name)
		result, err := a.executor.Run(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s job failed: %v\n", name, err)
			failed = append(failed, name)
			continue
		}
		if triggerVerbose {
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintf(os.Stdout, "%s\n", out)
		}
		fmt.Fprintf(os.Stdout, "%s job completed.\n\n", name)
		completed = append(completed, name)
	}

	if len(completed) > 0 {
		fmt.Fprintf(os.Stdout, "Completed jobs: %v\n", completed)
	}
	if len(failed) > 0 {
		return fmt.Errorf("jobs failed: %v", failed)
	}
	return nil
}
