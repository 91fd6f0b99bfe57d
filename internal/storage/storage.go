package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"samay/internal/config"
	"samay/internal/logger"
)

// Storage bundles the gorm handle with the per-table stores.
type Storage struct {
	db *gorm.DB

	Users      UserStore
	Sessions   SessionStore
	Activities ActivityStore
	Tags       TagStore
	Projects   ProjectStore
	Insights   InsightStore
}

// NewStorage opens the configured database and migrates the schema
func NewStorage(cfg config.DatabaseConfig) (*Storage, error) {
	if err := cfg.EnsureDBPath(); err != nil {
		return nil, fmt.Errorf("failed to create db path: %w", err)
	}

	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		closeDB(db)
		return nil, err
	}

	return New(db), nil
}

// New wraps an already opened handle
func New(db *gorm.DB) *Storage {
	return &Storage{
		db:         db,
		Users:      NewUserStore(db),
		Sessions:   NewSessionStore(db),
		Activities: NewActivityStore(db),
		Tags:       NewTagStore(db),
		Projects:   NewProjectStore(db),
		Insights:   NewInsightStore(db),
	}
}

// Open connects with the dialector matching cfg.Driver. SQLite uses the
// pure-Go modernc driver through gorm's sqlite dialector.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite, "":
		dialector = sqlite.New(sqlite.Config{
			DriverName: "sqlite",
			DSN:        sqliteDSN(cfg.DSN),
		})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(cfg.LogLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if cfg.Driver == config.DriverPostgres {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	} else {
		// SQLite allows one writer; a single connection serializes statements
		// instead of surfacing SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// Migrate creates or updates all tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}

// sqliteDSN appends the pragmas every connection needs
func sqliteDSN(dsn string) string {
	pragmas := []string{"_pragma=busy_timeout(5000)", "_pragma=foreign_keys(1)"}
	var missing []string
	for _, p := range pragmas {
		if !strings.Contains(dsn, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

func newGormLogger(level string) gormlogger.Interface {
	lvl := gormlogger.Warn
	switch strings.ToLower(level) {
	case "silent":
		lvl = gormlogger.Silent
	case "error":
		lvl = gormlogger.Error
	case "info":
		lvl = gormlogger.Info
	}
	return gormlogger.New(
		logger.GetLogger(),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// DB exposes the underlying handle for transactions spanning several stores
func (s *Storage) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a database transaction
func (s *Storage) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Ping verifies the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Counts returns row counts per table, used by the status command
func (s *Storage) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	tables := map[string]any{
		"users":          &User{},
		"sessions":       &Session{},
		"activities":     &Activity{},
		"projects":       &Project{},
		"tags":           &Tag{},
		"daily_insights": &DailyInsight{},
	}
	for name, model := range tables {
		var n int64
		if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		counts[name] = n
	}

	var unmerged int64
	if err := s.db.WithContext(ctx).Model(&Activity{}).Where("merged = ?", false).Count(&unmerged).Error; err != nil {
		return nil, fmt.Errorf("count unmerged activities: %w", err)
	}
	counts["activities_unmerged"] = unmerged

	var untagged int64
	if err := s.db.WithContext(ctx).Model(&Activity{}).Where("is_auto_tagged = ?", false).Count(&untagged).Error; err != nil {
		return nil, fmt.Errorf("count untagged activities: %w", err)
	}
	counts["activities_untagged"] = untagged

	return counts, nil
}

func (s *Storage) Close() error {
	return closeDB(s.db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func pick(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

// normalizeErr maps driver constraint errors onto gorm's sentinels. The
// postgres dialector already translates; modernc errors arrive as plain text.
func normalizeErr(err error) error {
	if err == nil || errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", gorm.ErrDuplicatedKey, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", gorm.ErrForeignKeyViolated, msg)
	}
	return err
}
