package activity_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"samay/internal/activity"
	"samay/internal/apperr"
	"samay/internal/storage"
	"samay/internal/testutil"
)

type fakeResolver struct {
	rules map[string]string
	loads int
}

func (f *fakeResolver) Matcher(_ context.Context) func(app, title string) (string, bool) {
	f.loads++
	return func(app, title string) (string, bool) {
		if tag, ok := f.rules[app+"|"+title]; ok {
			return tag, true
		}
		if tag, ok := f.rules[app+"|any"]; ok {
			return tag, true
		}
		return "", false
	}
}

var defaultExcluded = []string{"loginwindow", "dock", "LockApp", "ScreenSaverEngine"}

func newService(t *testing.T, resolver activity.TagResolver) (*activity.Service, *storage.Storage) {
	t.Helper()
	st := testutil.NewStorage(t)
	return activity.NewService(st, resolver, defaultExcluded, time.UTC), st
}

func event(app, title string, dur float64) activity.Event {
	return activity.Event{
		Data:      activity.EventData{App: app, Title: title},
		Timestamp: "2024-03-01T10:00:00.000Z",
		Duration:  dur,
	}
}

func TestIngest_FiltersAndTags(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{rules: map[string]string{
		"Chrome|Inbox - Gmail": "Mail",
		"Code|any":             "Code",
	}}
	svc, st := newService(t, resolver)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)

	res, err := svc.Ingest(ctx, user.ID, []activity.Event{
		event("Chrome", "Inbox - Gmail", 30),
		event("Code", "main.go\x00", 12.6),
		event("loginwindow", "", 600),
		event("Slack", "general", 0),
		event("Slack", "random", 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Received)
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 2, res.Excluded)
	assert.Equal(t, 1, resolver.loads, "rules are loaded once per batch")

	rows, err := st.Activities.ListInWindow(ctx, nil, user.ID, storage.TimestampWindow{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byApp := map[string]storage.Activity{}
	for _, r := range rows {
		byApp[r.App] = r
	}
	assert.Equal(t, "Mail", byApp["Chrome"].AutoTags)
	assert.True(t, byApp["Chrome"].IsAutoTagged)
	assert.Equal(t, "main.go", byApp["Code"].Title)
	assert.Equal(t, 13, byApp["Code"].Duration)
	assert.Equal(t, "Code", byApp["Code"].AutoTags)
	assert.False(t, byApp["Slack"].IsAutoTagged)
	assert.Empty(t, byApp["Slack"].AutoTags)
}

func TestIngest_MissingTimestampRejectsBatch(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, nil)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)

	bad := event("Slack", "general", 10)
	bad.Timestamp = "  "
	_, err := svc.Ingest(ctx, user.ID, []activity.Event{event("Code", "a.go", 10), bad})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))

	rows, err := st.Activities.ListInWindow(ctx, nil, user.ID, storage.TimestampWindow{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIngest_Empty(t *testing.T) {
	svc, st := newService(t, nil)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)

	res, err := svc.Ingest(context.Background(), user.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Received)
	assert.Zero(t, res.Stored)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, nil)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)
	other := testutil.CreateUser(t, st, "o@example.com", storage.RoleUser)

	_, err := svc.Ingest(ctx, user.ID, []activity.Event{event("Code", "a.go", 10)})
	require.NoError(t, err)
	rows, err := st.Activities.ListInWindow(ctx, nil, user.ID, storage.TimestampWindow{})
	require.NoError(t, err)
	id := rows[0].ID

	updated, err := svc.Update(ctx, user.ID, id, activity.UpdateInput{
		Description: testutil.Ptr(" reviewing\x07 "),
		Duration:    testutil.Ptr(42.0),
	})
	require.NoError(t, err)
	assert.Equal(t, "Code", updated.App)
	assert.Equal(t, 42, updated.Duration)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "reviewing", *updated.Description)

	_, err = svc.Update(ctx, other.ID, id, activity.UpdateInput{})
	assert.Equal(t, http.StatusNotFound, apperr.Status(err))

	assert.Equal(t, http.StatusNotFound, apperr.Status(svc.Delete(ctx, other.ID, id)))
	require.NoError(t, svc.Delete(ctx, user.ID, id))
	assert.Equal(t, http.StatusNotFound, apperr.Status(svc.Delete(ctx, user.ID, id)))
}

func TestGroupForSelection(t *testing.T) {
	pid := uint(7)
	rows := []storage.Activity{
		{ID: "1", App: "Code", Title: "a.go", Timestamp: "2024-03-01T09:00:00.000Z", Duration: 10},
		{ID: "2", App: "Slack", Title: "general", Timestamp: "2024-03-01T09:05:00.000Z", Duration: 100, AutoTags: "Discussion"},
		{ID: "3", App: "Code", Title: "a.go", Timestamp: "2024-03-01T10:00:00.000Z", Duration: 20, Selected: true, ProjectID: &pid},
	}

	groups := activity.GroupForSelection(rows)
	require.Len(t, groups, 2)

	assert.Equal(t, "Slack", groups[0].App)
	assert.EqualValues(t, 100, groups[0].TotalDuration)
	assert.Equal(t, "Discussion", groups[0].Tag)

	code := groups[1]
	assert.EqualValues(t, 30, code.TotalDuration)
	assert.Equal(t, []string{"1", "3"}, code.ActivityIDs)
	assert.True(t, code.Selected)
	require.NotNil(t, code.ProjectID)
	assert.EqualValues(t, 7, *code.ProjectID)
	assert.Equal(t, "2024-03-01T09:00:00.000Z", code.FirstSeen)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", code.LastSeen)

	assert.Empty(t, activity.GroupForSelection(nil))
}

func TestAddToProject(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, nil)
	member := testutil.CreateUser(t, st, "m@example.com", storage.RoleUser)
	outsider := testutil.CreateUser(t, st, "x@example.com", storage.RoleUser)
	admin := testutil.CreateUser(t, st, "admin@example.com", storage.RoleAdmin)

	project := &storage.Project{Name: "Samay", Icon: "clock"}
	require.NoError(t, st.Projects.Create(ctx, nil, project))
	require.NoError(t, st.Projects.CreateMemberships(ctx, nil, []storage.ProjectUser{
		{ProjectID: project.ID, UserID: member.ID, Active: true},
	}))

	_, err := svc.Ingest(ctx, member.ID, []activity.Event{event("Code", "a.go", 10)})
	require.NoError(t, err)
	rows, err := st.Activities.ListInWindow(ctx, nil, member.ID, storage.TimestampWindow{})
	require.NoError(t, err)
	ids := []string{rows[0].ID}

	_, err = svc.AddToProject(ctx, member, ids, 9999)
	assert.Equal(t, http.StatusNotFound, apperr.Status(err))

	_, err = svc.AddToProject(ctx, outsider, ids, project.ID)
	assert.Equal(t, http.StatusForbidden, apperr.Status(err))

	_, err = svc.AddToProject(ctx, member, nil, project.ID)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))

	n, err := svc.AddToProject(ctx, member, ids, project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// admins bypass membership but only touch their own rows
	n, err = svc.AddToProject(ctx, admin, ids, project.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUserSelectData(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, nil)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)
	other := testutil.CreateUser(t, st, "o@example.com", storage.RoleUser)
	admin := testutil.CreateUser(t, st, "admin@example.com", storage.RoleAdmin)

	_, err := svc.Ingest(ctx, user.ID, []activity.Event{event("Code", "a.go", 60), event("Code", "b.go", 40)})
	require.NoError(t, err)
	rows, err := st.Activities.ListInWindow(ctx, nil, user.ID, storage.TimestampWindow{})
	require.NoError(t, err)
	_, err = svc.Select(ctx, user.ID, []string{rows[0].ID, rows[1].ID}, true)
	require.NoError(t, err)

	r := activity.Range{StartDate: "2024-03-01", EndDate: "2024-03-01"}

	_, err = svc.UserSelectData(ctx, other, user.ID, r)
	assert.Equal(t, http.StatusForbidden, apperr.Status(err))

	_, err = svc.UserSelectData(ctx, user, user.ID, activity.Range{StartDate: "2024-03-01"})
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))

	data, err := svc.UserSelectData(ctx, admin, user.ID, r)
	require.NoError(t, err)
	assert.EqualValues(t, 100, data.TotalDuration)
	require.Len(t, data.Days, 1)
	assert.Equal(t, "2024-03-01", data.Days[0].Day)
}

func TestSelectRequiresIDs(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Select(context.Background(), "u", nil, true)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}
