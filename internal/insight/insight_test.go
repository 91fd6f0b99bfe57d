package insight_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"samay/internal/apperr"
	"samay/internal/insight"
	"samay/internal/storage"
	"samay/internal/task"
	"samay/internal/testutil"
)

type fakeGenerator struct {
	day time.Time
	err error
}

func (f *fakeGenerator) GenerateForUser(_ context.Context, _ string, day time.Time) (*task.Summary, error) {
	f.day = day
	if f.err != nil {
		return nil, f.err
	}
	return &task.Summary{DailyInsights: []string{"ok"}, ImprovementPlan: []string{}, Stored: true}, nil
}

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	loc := ist(t)
	st := testutil.NewStorage(t)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)
	other := testutil.CreateUser(t, st, "o@example.com", storage.RoleUser)

	require.NoError(t, st.Insights.Upsert(ctx, nil, &storage.DailyInsight{
		UserID:          user.ID,
		Date:            time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DailyInsights:   []string{"focused on code"},
		ImprovementPlan: []string{"fewer meetings"},
	}))

	// 00:30 IST on Mar 2 is still Mar 1 in UTC; yesterday is Mar 1 locally
	svc := insight.NewService(st, &fakeGenerator{}, loc).
		WithClock(func() time.Time { return time.Date(2024, 3, 2, 0, 30, 0, 0, loc) })

	got, err := svc.Get(ctx, user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T00:00:00.000Z", got.Date)
	assert.Equal(t, []string{"focused on code"}, got.DailyInsights)

	got, err = svc.Get(ctx, user.ID, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"fewer meetings"}, got.ImprovementPlan)

	_, err = svc.Get(ctx, other.ID, "2024-03-01")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Equal(t, "No insights found for this date", ae.Message)

	_, err = svc.Get(ctx, user.ID, "03/01/2024")
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStorage(t)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)
	for day := 1; day <= 3; day++ {
		require.NoError(t, st.Insights.Upsert(ctx, nil, &storage.DailyInsight{
			UserID: user.ID,
			Date:   time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		}))
	}

	svc := insight.NewService(st, &fakeGenerator{}, time.UTC)
	views, err := svc.History(ctx, user.ID, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "2024-03-03T00:00:00.000Z", views[0].Date)
	assert.NotNil(t, views[0].DailyInsights)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	loc := ist(t)
	gen := &fakeGenerator{}
	svc := insight.NewService(testutil.NewStorage(t), gen, loc)

	s, err := svc.Generate(ctx, "u", "2024-03-05")
	require.NoError(t, err)
	assert.True(t, s.Stored)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, loc), gen.day)

	gen.err = task.ErrLLMNotConfigured
	_, err = svc.Generate(ctx, "u", "2024-03-05")
	assert.Equal(t, http.StatusServiceUnavailable, apperr.Status(err))
}
