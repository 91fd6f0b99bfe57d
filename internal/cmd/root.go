package cmd

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "samay",
		Short: "Samay - activity time tracking backend",
		Long:  "A time tracking backend that ingests desktop activity, tags it and writes daily insights using an LLM",
	}

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewCleanupCmd())
	rootCmd.AddCommand(NewDaemonCmd())
	rootCmd.AddCommand(NewTriggerCmd()) // Run a background job once

	return rootCmd
}
