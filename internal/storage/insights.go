package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InsightStore interface {
	// Upsert writes the insight for (UserID, Date), replacing both arrays
	// when a row for that day already exists.
	Upsert(ctx context.Context, tx *gorm.DB, insight *DailyInsight) error
	Get(ctx context.Context, tx *gorm.DB, userID string, date time.Time) (*DailyInsight, error)
	ListForUser(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]DailyInsight, error)
}

type insightStore struct {
	db *gorm.DB
}

func NewInsightStore(db *gorm.DB) InsightStore {
	return &insightStore{db: db}
}

// DayKey normalizes t to midnight UTC of its calendar date in loc
func DayKey(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *insightStore) Upsert(ctx context.Context, tx *gorm.DB, insight *DailyInsight) error {
	insight.Date = insight.Date.UTC()
	err := pick(s.db, tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_insights", "improvement_plan", "updated_at"}),
	}).Create(insight).Error
	if err != nil {
		return fmt.Errorf("upsert daily insight: %w", err)
	}
	return nil
}

// Get returns (nil, nil) when no insight exists for that day
func (s *insightStore) Get(ctx context.Context, tx *gorm.DB, userID string, date time.Time) (*DailyInsight, error) {
	var insight DailyInsight
	err := pick(s.db, tx).WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date.UTC()).
		First(&insight).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily insight: %w", err)
	}
	return &insight, nil
}

func (s *insightStore) ListForUser(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]DailyInsight, error) {
	rows := []DailyInsight{}
	q := pick(s.db, tx).WithContext(ctx).Where("user_id = ?", userID).Order("date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list daily insights: %w", err)
	}
	return rows, nil
}
