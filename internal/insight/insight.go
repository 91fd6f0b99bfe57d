package insight

import (
	"context"
	"errors"
	"net/http"
	"time"

	"samay/internal/activity"
	"samay/internal/apperr"
	"samay/internal/storage"
	"samay/internal/task"
)

const defaultHistoryLimit = 30

// Generator produces and stores a summary for one user and day
type Generator interface {
	GenerateForUser(ctx context.Context, userID string, day time.Time) (*task.Summary, error)
}

// View is the client-facing shape of a stored insight
type View struct {
	Date            string   `json:"date"`
	DailyInsights   []string `json:"dailyInsights"`
	ImprovementPlan []string `json:"improvementPlan"`
}

type Service struct {
	store     *storage.Storage
	generator Generator
	location  *time.Location
	now       func() time.Time
}

func NewService(st *storage.Storage, generator Generator, loc *time.Location) *Service {
	return &Service{store: st, generator: generator, location: loc, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// day resolves a YYYY-MM-DD query, defaulting to yesterday in the
// reference timezone.
func (s *Service) day(date string) (time.Time, error) {
	if date == "" {
		return s.now().In(s.location).AddDate(0, 0, -1), nil
	}
	return activity.ParseDate(date, s.location)
}

func toView(d *storage.DailyInsight) *View {
	return &View{
		Date:            activity.FormatISO(d.Date),
		DailyInsights:   nonNil(d.DailyInsights),
		ImprovementPlan: nonNil(d.ImprovementPlan),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Service) Get(ctx context.Context, userID, date string) (*View, error) {
	day, err := s.day(date)
	if err != nil {
		return nil, err
	}
	row, err := s.store.Insights.Get(ctx, nil, userID, storage.DayKey(day, s.location))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperr.NotFound("INSIGHT_NOT_FOUND", "No insights found for this date")
	}
	return toView(row), nil
}

// History lists the caller's stored insights, newest first
func (s *Service) History(ctx context.Context, userID string, limit int) ([]View, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.store.Insights.ListForUser(ctx, nil, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for i := range rows {
		out = append(out, *toView(&rows[i]))
	}
	return out, nil
}

// Generate runs the insight job for the caller on demand. Placeholder
// summaries are returned but not stored.
func (s *Service) Generate(ctx context.Context, userID, date string) (*task.Summary, error) {
	day, err := s.day(date)
	if err != nil {
		return nil, err
	}
	summary, err := s.generator.GenerateForUser(ctx, userID, day)
	if errors.Is(err, task.ErrLLMNotConfigured) {
		return nil, apperr.New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Insight generation is not configured", err)
	}
	return summary, err
}
