package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type UserStore interface {
	Create(ctx context.Context, tx *gorm.DB, user *User) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*User, error)
	GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*User, error)
	ListIDs(ctx context.Context, tx *gorm.DB) ([]string, error)
	CountByIDs(ctx context.Context, tx *gorm.DB, ids []string) (int64, error)
}

type userStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) UserStore {
	return &userStore{db: db}
}

func (s *userStore) Create(ctx context.Context, tx *gorm.DB, user *User) error {
	if err := normalizeErr(pick(s.db, tx).WithContext(ctx).Create(user).Error); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID returns (nil, nil) when the user does not exist
func (s *userStore) GetByID(ctx context.Context, tx *gorm.DB, id string) (*User, error) {
	var user User
	err := pick(s.db, tx).WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetByEmail returns (nil, nil) when no user has that email
func (s *userStore) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*User, error) {
	var user User
	err := pick(s.db, tx).WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

func (s *userStore) ListIDs(ctx context.Context, tx *gorm.DB) ([]string, error) {
	var ids []string
	if err := pick(s.db, tx).WithContext(ctx).Model(&User{}).Order("created_at").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}

func (s *userStore) CountByIDs(ctx context.Context, tx *gorm.DB, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	if err := pick(s.db, tx).WithContext(ctx).Model(&User{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

type SessionStore interface {
	Create(ctx context.Context, tx *gorm.DB, session *Session) error
	GetActive(ctx context.Context, tx *gorm.DB, token string, now time.Time) (*Session, error)
	DeleteByToken(ctx context.Context, tx *gorm.DB, token string) (int64, error)
	DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

type sessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) SessionStore {
	return &sessionStore{db: db}
}

func (s *sessionStore) Create(ctx context.Context, tx *gorm.DB, session *Session) error {
	if err := normalizeErr(pick(s.db, tx).WithContext(ctx).Create(session).Error); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetActive returns (nil, nil) when the token has no unexpired session
func (s *sessionStore) GetActive(ctx context.Context, tx *gorm.DB, token string, now time.Time) (*Session, error) {
	var session Session
	err := pick(s.db, tx).WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, now.UTC()).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

func (s *sessionStore) DeleteByToken(ctx context.Context, tx *gorm.DB, token string) (int64, error) {
	res := pick(s.db, tx).WithContext(ctx).Where("token = ?", token).Delete(&Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete session: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	res := pick(s.db, tx).WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
