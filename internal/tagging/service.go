package tagging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"samay/internal/activity"
	"samay/internal/apperr"
	"samay/internal/storage"
)

type CreateTagInput struct {
	App   string `json:"app"`
	Title string `json:"title"`
	Tag   string `json:"tag"`
}

// Service is the admin surface over tag rules
type Service struct {
	store *storage.Storage
}

func NewService(st *storage.Storage) *Service {
	return &Service{store: st}
}

func (s *Service) List(ctx context.Context) ([]storage.Tag, error) {
	tags, err := s.store.Tags.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []storage.Tag{}
	}
	return tags, nil
}

// Create adds a manual rule. Existing tagged activities are left alone;
// untagged ones matching the rule are backfilled.
func (s *Service) Create(ctx context.Context, in CreateTagInput) (*storage.Tag, int64, error) {
	tag := &storage.Tag{
		App:   activity.Sanitize(in.App),
		Title: activity.Sanitize(in.Title),
		Tag:   strings.TrimSpace(in.Tag),
	}
	if tag.App == "" {
		return nil, 0, apperr.Validation("app is required")
	}
	if tag.Title == "" {
		return nil, 0, apperr.Validation("title is required")
	}
	if !IsCategory(tag.Tag) {
		return nil, 0, apperr.Validation(fmt.Sprintf("tag must be one of: %s", strings.Join(Categories, ", ")))
	}

	var backfilled int64
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.store.Tags.Create(ctx, tx, tag); err != nil {
			return err
		}
		n, err := s.store.Activities.BackfillTag(ctx, tx, *tag)
		backfilled = n
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, 0, apperr.Conflict("TAG_EXISTS", "A tag for this app and title already exists")
	}
	if err != nil {
		return nil, 0, err
	}

	return tag, backfilled, nil
}
