package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // reference timezone must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"samay/internal/logger"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	CacheMemory = "memory"
	CacheRedis  = "redis"

	defaultJWTSecret = "samay-dev-secret"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Tags     TagsConfig     `mapstructure:"tags"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Activity ActivityConfig `mapstructure:"activity"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`        // gin mode: debug, release, test
	Environment     string        `mapstructure:"environment"` // development or production
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address for the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction reports whether error details must be hidden from clients
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, EnvProduction)
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite or postgres
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level"` // gorm logger level: silent, error, warn, info
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`      // API base URL, supports OpenAI-compatible endpoints
	TaggingModel string        `mapstructure:"tagging_model"` // cheap model for bulk classification
	InsightModel string        `mapstructure:"insight_model"` // model for the daily summary
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type JobsConfig struct {
	Timezone string `mapstructure:"timezone"`

	EnableMerge    bool `mapstructure:"enable_merge"`
	EnableTagging  bool `mapstructure:"enable_tagging"`
	EnableInsights bool `mapstructure:"enable_insights"`

	MergeCron       string `mapstructure:"merge_cron"`
	MergeInterval   string `mapstructure:"merge_interval"`
	TaggingCron     string `mapstructure:"tagging_cron"`
	TaggingInterval string `mapstructure:"tagging_interval"`
	InsightsCron    string `mapstructure:"insights_cron"`

	InsightsRunOnStart bool `mapstructure:"insights_run_on_start"`

	MergeTimeout     time.Duration `mapstructure:"merge_timeout"`
	MergeBatchSize   int           `mapstructure:"merge_batch_size"`
	TaggingBatchSize int           `mapstructure:"tagging_batch_size"`
	InsightTopN      int           `mapstructure:"insight_top_n"`
}

// Location resolves the reference timezone used for day boundaries
func (j JobsConfig) Location() (*time.Location, error) {
	if j.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", j.Timezone, err)
	}
	return loc, nil
}

type TagsConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheBackend string        `mapstructure:"cache_backend"` // memory or redis
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ActivityConfig struct {
	ExcludedApps []string `mapstructure:"excluded_apps"`
}

type LogConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	Path         string `mapstructure:"path"`
	RotationTime string `mapstructure:"rotation_time"`
	MaxSize      int    `mapstructure:"max_size"`
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAge       int    `mapstructure:"max_age"`
	Compress     bool   `mapstructure:"compress"`
}

var globalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "./data/samay.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", "168h") // 7 days
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.tagging_model", "gpt-4o-mini")
	v.SetDefault("openai.insight_model", "gpt-5-mini")
	v.SetDefault("openai.timeout", "2m")
	v.SetDefault("openai.max_retries", 3)

	v.SetDefault("jobs.timezone", "Asia/Kolkata")
	v.SetDefault("jobs.enable_merge", true)
	v.SetDefault("jobs.enable_tagging", true)
	v.SetDefault("jobs.enable_insights", true)
	v.SetDefault("jobs.merge_cron", "0 0 0 * * *")      // midnight
	v.SetDefault("jobs.merge_interval", "")
	v.SetDefault("jobs.tagging_cron", "0 */10 * * * *") // every 10 minutes
	v.SetDefault("jobs.tagging_interval", "")
	v.SetDefault("jobs.insights_cron", "0 1 0 * * *") // 00:01, after the merge
	v.SetDefault("jobs.insights_run_on_start", true)
	v.SetDefault("jobs.merge_timeout", "10m")
	v.SetDefault("jobs.merge_batch_size", 500)
	v.SetDefault("jobs.tagging_batch_size", 25)
	v.SetDefault("jobs.insight_top_n", 100)

	v.SetDefault("tags.cache_ttl", "300s")
	v.SetDefault("tags.cache_backend", CacheMemory)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "samay:")

	v.SetDefault("activity.excluded_apps", []string{"loginwindow", "dock", "LockApp", "ScreenSaverEngine"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.path", "")
	v.SetDefault("log.rotation_time", "24h")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// Load reads configuration from file and environment, validates it and
// initializes the global logger.
func Load(configPath string) (*Config, error) {
	cfg, err := Parse(configPath)
	if err != nil {
		return nil, err
	}

	if err := initLogger(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Parse reads and validates configuration without touching global state.
func Parse(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		if execPath, err := os.Executable(); err == nil {
			execDir := filepath.Dir(execPath)
			v.AddConfigPath(filepath.Join(execDir, "config"))
			v.AddConfigPath(execDir)
		}
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".samay"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("SAMAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvFallbacks(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	normalizePaths(&cfg, v.ConfigFileUsed())
	return &cfg, nil
}

// applyEnvFallbacks honours the conventional variables used by deployments
// that predate the SAMAY_ prefix.
func applyEnvFallbacks(cfg *Config) {
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if model := os.Getenv("OPENAI_ACTIVITY_SUMMARY_MODEL"); model != "" {
		cfg.OpenAI.InsightModel = model
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.DSN = url
		if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
			cfg.Database.Driver = DriverPostgres
		}
	}
}

// ApplyDefaults fills zero values that viper defaults cannot express
// (explicit zeros or empty strings in the config file).
func (c *Config) ApplyDefaults() {
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = 7 * 24 * time.Hour
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 10
	}
	if c.Auth.JWTSecret == "" && !c.Server.IsProduction() {
		c.Auth.JWTSecret = defaultJWTSecret
	}
	if c.Jobs.MergeBatchSize <= 0 {
		c.Jobs.MergeBatchSize = 500
	}
	if c.Jobs.TaggingBatchSize <= 0 {
		c.Jobs.TaggingBatchSize = 25
	}
	if c.Jobs.InsightTopN <= 0 {
		c.Jobs.InsightTopN = 100
	}
	if c.Jobs.MergeTimeout <= 0 {
		c.Jobs.MergeTimeout = 10 * time.Minute
	}
	if c.Tags.CacheTTL <= 0 {
		c.Tags.CacheTTL = 300 * time.Second
	}
	if c.Tags.CacheBackend == "" {
		c.Tags.CacheBackend = CacheMemory
	}
	if c.OpenAI.Timeout <= 0 {
		c.OpenAI.Timeout = 2 * time.Minute
	}
	if c.OpenAI.TaggingModel == "" {
		c.OpenAI.TaggingModel = "gpt-4o-mini"
	}
	if c.OpenAI.InsightModel == "" {
		c.OpenAI.InsightModel = "gpt-5-mini"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.Tags.CacheBackend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("tags.cache_backend must be %q or %q, got %q", CacheMemory, CacheRedis, c.Tags.CacheBackend)
	}
	if c.Tags.CacheBackend == CacheRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when tags.cache_backend is redis")
	}

	if _, err := c.Jobs.Location(); err != nil {
		return err
	}

	specs := map[string]string{
		"jobs.merge_cron":    c.Jobs.MergeCron,
		"jobs.tagging_cron":  c.Jobs.TaggingCron,
		"jobs.insights_cron": c.Jobs.InsightsCron,
	}
	for key, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("%s: invalid cron spec %q: %w", key, spec, err)
		}
	}
	for key, interval := range map[string]string{
		"jobs.merge_interval":   c.Jobs.MergeInterval,
		"jobs.tagging_interval": c.Jobs.TaggingInterval,
	} {
		if interval == "" {
			continue
		}
		if _, err := time.ParseDuration(interval); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if c.Server.IsProduction() && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == defaultJWTSecret) {
		return fmt.Errorf("auth.jwt_secret must be set in production")
	}

	return nil
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded")
	}
	return globalConfig
}

// EnsureDBPath creates the parent directory of a file-backed SQLite database
func (c *DatabaseConfig) EnsureDBPath() error {
	if c.Driver != DriverSQLite {
		return nil
	}
	if strings.Contains(c.DSN, ":memory:") || strings.Contains(c.DSN, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(c.DSN, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// normalizePaths resolves relative file paths against the directory of the
// config file in use, or the working directory when none was found.
func normalizePaths(cfg *Config, configFile string) {
	baseDir := ""
	if configFile != "" {
		baseDir = filepath.Dir(configFile)
	} else if wd, err := os.Getwd(); err == nil {
		baseDir = wd
	}
	if baseDir == "" {
		return
	}

	if cfg.Log.Path != "" && !filepath.IsAbs(cfg.Log.Path) {
		cfg.Log.Path = filepath.Join(baseDir, cfg.Log.Path)
	}
	if cfg.Log.Path != "" && filepath.Ext(cfg.Log.Path) == "" {
		cfg.Log.Path = filepath.Join(cfg.Log.Path, "samay.log")
	}

	if cfg.Database.Driver == DriverSQLite && !strings.HasPrefix(cfg.Database.DSN, "file:") &&
		!strings.Contains(cfg.Database.DSN, ":memory:") && !filepath.IsAbs(cfg.Database.DSN) {
		cfg.Database.DSN = filepath.Join(baseDir, cfg.Database.DSN)
	}
}

func initLogger(c *LogConfig) error {
	return logger.Init(logger.LogConfig{
		Level:        c.Level,
		Format:       c.Format,
		FilePath:     c.Path,
		RotationTime: c.RotationTime,
		MaxSize:      c.MaxSize,
		MaxBackups:   c.MaxBackups,
		MaxAge:       c.MaxAge,
		Compress:     c.Compress,
	})
}
