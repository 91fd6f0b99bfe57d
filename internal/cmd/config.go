package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"samay/internal/config"
)

var configConfigPath string

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE:  runConfig,
	}
	cmd.Flags().StringVarP(&configConfigPath, "config", "c", "", "Path to config file")
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Configuration\n")
	fmt.Fprintf(os.Stdout, "=============\n\n")
	fmt.Fprintf(os.Stdout, "Server:\n")
	fmt.Fprintf(os.Stdout, "  Addr: %s\n", cfg.Server.Addr())
	fmt.Fprintf(os.Stdout, "  Mode: %s\n", cfg.Server.Mode)
	fmt.Fprintf(os.Stdout, "  Environment: %s\n", cfg.Server.Environment)
	fmt.Fprintf(os.Stdout, "  CORS Origins: %v\n", cfg.Server.CORSOrigins)
	fmt.Fprintf(os.Stdout, "  Shutdown Timeout: %s\n", cfg.Server.ShutdownTimeout)
	fmt.Fprintf(os.Stdout, "\nDatabase:\n")
	fmt.Fprintf(os.Stdout, "  Driver: %s\n", cfg.Database.Driver)
	fmt.Fprintf(os.Stdout, "  DSN: %s\n", maskDSN(cfg.Database.DSN))
	fmt.Fprintf(os.Stdout, "\nAuth:\n")
	fmt.Fprintf(os.Stdout, "  JWT Secret: %s\n", maskAPIKey(cfg.Auth.JWTSecret))
	fmt.Fprintf(os.Stdout, "  Session TTL: %s\n", cfg.Auth.SessionTTL)
	fmt.Fprintf(os.Stdout, "\nOpenAI:\n")
	fmt.Fprintf(os.Stdout, "  Base URL: %s\n", cfg.OpenAI.BaseURL)
	fmt.Fprintf(os.Stdout, "  Tagging Model: %s\n", cfg.OpenAI.TaggingModel)
	fmt.Fprintf(os.Stdout, "  Insight Model: %s\n", cfg.OpenAI.InsightModel)
	fmt.Fprintf(os.Stdout, "  API Key: %s\n", maskAPIKey(cfg.OpenAI.APIKey))
	fmt.Fprintf(os.Stdout, "\nJobs:\n")
	fmt.Fprintf(os.Stdout, "  Timezone: %s\n", cfg.Jobs.Timezone)
	fmt.Fprintf(os.Stdout, "  Merge: %s\n", schedule(cfg.Jobs.EnableMerge, cfg.Jobs.MergeInterval, cfg.Jobs.MergeCron))
	fmt.Fprintf(os.Stdout, "  Tagging: %s\n", schedule(cfg.Jobs.EnableTagging, cfg.Jobs.TaggingInterval, cfg.Jobs.TaggingCron))
	fmt.Fprintf(os.Stdout, "  Insights: %s\n", schedule(cfg.Jobs.EnableInsights, "", cfg.Jobs.InsightsCron))
	fmt.Fprintf(os.Stdout, "  Insights On Start: %v\n", cfg.Jobs.InsightsRunOnStart)
	fmt.Fprintf(os.Stdout, "\nTags:\n")
	fmt.Fprintf(os.Stdout, "  Cache Backend: %s\n", cfg.Tags.CacheBackend)
	fmt.Fprintf(os.Stdout, "  Cache TTL: %s\n", cfg.Tags.CacheTTL)
	if cfg.Tags.CacheBackend == config.CacheRedis {
		fmt.Fprintf(os.Stdout, "  Redis: %s (db %d, prefix %q)\n", cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	}
	fmt.Fprintf(os.Stdout, "\nActivity:\n")
	fmt.Fprintf(os.Stdout, "  Excluded Apps: %s\n", strings.Join(cfg.Activity.ExcludedApps, ", "))
	fmt.Fprintf(os.Stdout, "\nLog:\n")
	fmt.Fprintf(os.Stdout, "  Level: %s\n", cfg.Log.Level)
	if cfg.Log.Path != "" {
		fmt.Fprintf(os.Stdout, "  Path: %s\n", cfg.Log.Path)
	} else {
		fmt.Fprintf(os.Stdout, "  Path: (stdout)\n")
	}

	return nil
}

func schedule(enabled bool, interval, cronSpec string) string {
	if !enabled {
		return "disabled"
	}
	if cronSpec != "" {
		return "cron " + cronSpec
	}
	return "every " + interval
}

func maskAPIKey(key string) string {
	if len(key) == 0 {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// maskDSN hides the password of a URL-style postgres DSN
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}
