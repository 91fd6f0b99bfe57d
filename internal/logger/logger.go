package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DeRuina/timberjack"
	"github.com/sirupsen/logrus"
)

var (
	// Logger is the global logger instance
	Logger *logrus.Logger

	initialized bool
	mu          sync.Mutex
)

// LogConfig holds configuration for logging
type LogConfig struct {
	Level        string // "debug", "info", "warn", "error"
	Format       string // "text" or "json"
	FilePath     string // Path to log file, empty disables file output
	RotationTime string // Time-based rotation interval (e.g., "1h", "24h")
	MaxSize      int    // Maximum size in megabytes before rotation
	MaxBackups   int    // Maximum number of old log files to retain
	MaxAge       int    // Maximum number of days to retain old log files
	Compress     bool   // Whether to compress rotated log files
}

// Init initializes the global logger with the given configuration.
// Subsequent calls are no-ops.
func Init(config LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized && Logger != nil {
		return nil
	}
	if Logger == nil {
		Logger = logrus.New()
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)
	Logger.SetFormatter(newFormatter(config.Format))

	var writers []io.Writer

	// Daemon mode redirects stdout to the log file already
	if !isStdoutRedirectedToFile() {
		writers = append(writers, os.Stdout)
	}

	if config.FilePath != "" {
		fileWriter, err := newRotatingWriter(config)
		if err != nil {
			return err
		}
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		Logger.SetOutput(io.Discard)
	} else {
		Logger.SetOutput(io.MultiWriter(writers...))
	}

	initialized = true
	return nil
}

func newRotatingWriter(config LogConfig) (io.Writer, error) {
	dir := filepath.Dir(config.FilePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	maxSize := config.MaxSize
	if maxSize == 0 {
		maxSize = 100
	}
	maxBackups := config.MaxBackups
	if maxBackups == 0 {
		maxBackups = 3
	}
	maxAge := config.MaxAge
	if maxAge == 0 {
		maxAge = 28
	}

	rotation := 24 * time.Hour
	if config.RotationTime != "" {
		d, err := time.ParseDuration(config.RotationTime)
		if err != nil {
			return nil, fmt.Errorf("invalid rotation_time: %w", err)
		}
		rotation = d
	}

	compression := ""
	if config.Compress {
		compression = "gzip"
	}

	return &timberjack.Logger{
		Filename:         config.FilePath,
		MaxSize:          maxSize,
		MaxBackups:       maxBackups,
		MaxAge:           maxAge,
		RotationInterval: rotation,
		Compression:      compression,
		LocalTime:        true,
	}, nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	}
}

func isStdoutRedirectedToFile() bool {
	stat, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode()&os.ModeCharDevice) == 0 && stat.Mode().IsRegular()
}

// GetLogger returns the global logger instance, creating a quiet default
// when Init has not run yet (tests, early CLI failures).
func GetLogger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if Logger == nil {
		Logger = logrus.New()
		Logger.SetOutput(io.Discard)
		Logger.SetLevel(logrus.InfoLevel)
		Logger.SetFormatter(newFormatter("text"))
	}
	return Logger
}

// ForJob returns an entry tagged with the scheduled job name.
func ForJob(name string) *logrus.Entry {
	return GetLogger().WithField("job", name)
}

// ForComponent returns an entry tagged with a component name.
func ForComponent(name string) *logrus.Entry {
	return GetLogger().WithField("component", name)
}
