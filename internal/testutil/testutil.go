package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"samay/internal/config"
	"samay/internal/storage"
)

// NewStorage opens a migrated SQLite database in a per-test directory
func NewStorage(tb testing.TB) *storage.Storage {
	tb.Helper()

	st, err := storage.NewStorage(config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(tb.TempDir(), "samay.db"),
		LogLevel: "silent",
	})
	if err != nil {
		tb.Fatalf("open test storage: %v", err)
	}
	tb.Cleanup(func() { _ = st.Close() })
	return st
}

// CreateUser inserts a user with the given email and role
func CreateUser(tb testing.TB, st *storage.Storage, email string, role storage.Role) *storage.User {
	tb.Helper()

	u := &storage.User{Email: email, Name: email, Password: "x", Role: role}
	if err := st.Users.Create(context.Background(), nil, u); err != nil {
		tb.Fatalf("create user %s: %v", email, err)
	}
	return u
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
