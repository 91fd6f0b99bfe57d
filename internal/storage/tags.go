package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TagStore interface {
	ListAll(ctx context.Context, tx *gorm.DB) ([]Tag, error)
	ListByApps(ctx context.Context, tx *gorm.DB, apps []string) ([]Tag, error)
	Get(ctx context.Context, tx *gorm.DB, app, title string) (*Tag, error)
	Create(ctx context.Context, tx *gorm.DB, tag *Tag) error
	// CreateIgnoreDuplicates inserts tags, skipping (app, title) pairs that
	// already exist, and reports how many rows were inserted.
	CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, tags []Tag) (int64, error)
}

type tagStore struct {
	db *gorm.DB
}

func NewTagStore(db *gorm.DB) TagStore {
	return &tagStore{db: db}
}

// ListAll returns every rule, newest first
func (s *tagStore) ListAll(ctx context.Context, tx *gorm.DB) ([]Tag, error) {
	var tags []Tag
	if err := pick(s.db, tx).WithContext(ctx).Order("created_at DESC, id DESC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

func (s *tagStore) ListByApps(ctx context.Context, tx *gorm.DB, apps []string) ([]Tag, error) {
	if len(apps) == 0 {
		return nil, nil
	}
	var tags []Tag
	if err := pick(s.db, tx).WithContext(ctx).Where("app IN ?", apps).Order("created_at DESC, id DESC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags by app: %w", err)
	}
	return tags, nil
}

func (s *tagStore) Get(ctx context.Context, tx *gorm.DB, app, title string) (*Tag, error) {
	var tag Tag
	err := pick(s.db, tx).WithContext(ctx).Where("app = ? AND title = ?", app, title).First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return &tag, nil
}

func (s *tagStore) Create(ctx context.Context, tx *gorm.DB, tag *Tag) error {
	if err := normalizeErr(pick(s.db, tx).WithContext(ctx).Create(tag).Error); err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *tagStore) CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, tags []Tag) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	res := pick(s.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app"}, {Name: "title"}},
			DoNothing: true,
		}).
		CreateInBatches(&tags, 100)
	if res.Error != nil {
		return 0, fmt.Errorf("create tags: %w", res.Error)
	}
	return res.RowsAffected, nil
}
