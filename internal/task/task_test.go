package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"samay/internal/analyzer"
	"samay/internal/config"
	"samay/internal/storage"
	"samay/internal/tagging"
	"samay/internal/testutil"
)

type fakeLLM struct {
	mu      sync.Mutex
	calls   []analyzer.JSONRequest
	respond func(req analyzer.JSONRequest) (string, error)
}

func (f *fakeLLM) GenerateJSON(_ context.Context, req analyzer.JSONRequest, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	raw, err := f.respond(req)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (f *fakeLLM) Calls() []analyzer.JSONRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analyzer.JSONRequest(nil), f.calls...)
}

func mustIST(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func newExecutor(t *testing.T, llm analyzer.Generator) (*Executor, *storage.Storage) {
	t.Helper()
	st := testutil.NewStorage(t)
	cfg := &config.Config{}
	cfg.Jobs.Timezone = "Asia/Kolkata"
	cfg.Activity.ExcludedApps = []string{"loginwindow", "dock"}
	e, err := NewExecutor(cfg, st, llm)
	require.NoError(t, err)
	return e, st
}

func TestMerge_ChromeGmail(t *testing.T) {
	rows := []storage.Activity{
		{ID: "a", UserID: "u1", App: "Chrome", Title: "Gmail", Duration: 60, Timestamp: "2024-01-01T08:00:00Z", URL: "https://mail.google.com"},
		{ID: "b", UserID: "u1", App: "Chrome", Title: "Gmail", Duration: 90, Timestamp: "2024-01-01T08:05:00Z", AutoTags: "Mail", IsAutoTagged: true},
	}

	merged, ids := Merge(rows, mustIST(t))
	require.Len(t, merged, 1)
	assert.Equal(t, []string{"a", "b"}, ids)

	m := merged[0]
	assert.Equal(t, 150, m.Duration)
	assert.True(t, m.Merged)
	require.NotNil(t, m.MergedTimestamp)
	assert.Equal(t, "2024-01-01T08:00:00Z|60,2024-01-01T08:05:00Z|90", *m.MergedTimestamp)
	assert.Equal(t, "https://mail.google.com", m.URL)
	assert.Equal(t, "2024-01-01T08:00:00Z", m.Timestamp)
	assert.Equal(t, "Mail", m.AutoTags)
	assert.True(t, m.IsAutoTagged)
}

func TestMerge_Grouping(t *testing.T) {
	pid := uint(3)
	rows := []storage.Activity{
		// 23:30 and 00:30 IST fall on different local days
		{ID: "1", UserID: "u1", App: "Code", Title: "a.go", Duration: 10, Timestamp: "2024-01-01T18:00:00.000Z", ProjectID: &pid},
		{ID: "2", UserID: "u1", App: "Code", Title: "a.go", Duration: 20, Timestamp: "2024-01-01T19:00:00.000Z"},
		{ID: "3", UserID: "u1", App: "Code", Title: "a.go", Duration: 5, Timestamp: "2024-01-01T18:10:00.000Z", Selected: true},
		{ID: "4", UserID: "u2", App: "Code", Title: "a.go", Duration: 7, Timestamp: "2024-01-01T18:20:00.000Z"},
		{ID: "5", UserID: "u1", App: "Code", Title: "a.go", Duration: 0, Timestamp: "2024-01-01T18:15:00.000Z"},
		{ID: "6", UserID: "u1", App: "", Title: "a.go", Duration: 100, Timestamp: "2024-01-01T18:30:00.000Z"},
		{ID: "7", UserID: "u1", App: "Code", Title: "", Duration: 100, Timestamp: "2024-01-01T18:30:00.000Z"},
		{ID: "8", UserID: "u1", App: "Code", Title: "a.go", Duration: 4, Timestamp: "garbage"},
	}

	merged, ids := Merge(rows, mustIST(t))
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "8"}, ids, "rows missing app or title are neither merged nor deleted")
	require.Len(t, merged, 5)

	first := merged[0]
	assert.Equal(t, 10, first.Duration)
	require.NotNil(t, first.ProjectID)
	assert.EqualValues(t, 3, *first.ProjectID)
	// zero-duration row joins the group without a log token
	assert.Equal(t, "2024-01-01T18:00:00.000Z|10", *first.MergedTimestamp)

	assert.Equal(t, 20, merged[1].Duration)
	assert.True(t, merged[2].Selected)
	assert.Equal(t, "u2", merged[3].UserID)
	assert.Equal(t, 4, merged[4].Duration)

	var total int
	for _, m := range merged {
		total += m.Duration
	}
	assert.Equal(t, 10+20+5+7+0+4, total)
}

func TestMerge_EmptyLog(t *testing.T) {
	merged, _ := Merge([]storage.Activity{{ID: "1", UserID: "u", App: "A", Title: "T"}}, time.UTC)
	require.Len(t, merged, 1)
	assert.Nil(t, merged[0].MergedTimestamp)
}

func TestMergeActivities_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, st := newExecutor(t, nil)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)

	var rows []*storage.Activity
	for i := 0; i < 12; i++ {
		rows = append(rows, &storage.Activity{
			UserID:    user.ID,
			App:       "Chrome",
			Title:     fmt.Sprintf("tab %d", i%3),
			Timestamp: fmt.Sprintf("2024-01-01T08:%02d:00.000Z", i),
			Duration:  10,
		})
	}
	require.NoError(t, st.Activities.CreateBatch(ctx, nil, rows, 5))

	res, err := e.MergeActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Scanned)
	assert.Equal(t, 3, res.Groups)
	assert.EqualValues(t, 12, res.Deleted)

	all, err := st.Activities.ListInWindow(ctx, nil, user.ID, storage.TimestampWindow{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, a := range all {
		assert.True(t, a.Merged)
		assert.Equal(t, 40, a.Duration)
		require.NotNil(t, a.MergedTimestamp)
		assert.Len(t, strings.Split(*a.MergedTimestamp, ","), 4)
	}

	again, err := e.MergeActivities(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Scanned)

	after, err := st.Activities.ListInWindow(ctx, nil, user.ID, storage.TimestampWindow{})
	require.NoError(t, err)
	assert.Len(t, after, 3)
}

func tagResponder(byApp map[string]string) func(analyzer.JSONRequest) (string, error) {
	return func(req analyzer.JSONRequest) (string, error) {
		var reply tagReply
		for _, line := range strings.Split(strings.TrimSpace(req.User), "\n")[1:] {
			_, rest, _ := strings.Cut(line, ". ")
			app, rest, _ := strings.Cut(rest, " - ")
			title, _, _ := strings.Cut(rest, " - ")
			reply.Tags = append(reply.Tags, struct {
				App   string `json:"app"`
				Title string `json:"title"`
				Tag   string `json:"tag"`
			}{App: app, Title: title, Tag: byApp[app]})
		}
		raw, err := json.Marshal(reply)
		return string(raw), err
	}
}

func TestTagActivities(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{respond: tagResponder(map[string]string{
		"Figma": "Design",
		"Zoom":  "Meeting",
		"Weird": "Gaming",
	})}
	e, st := newExecutor(t, llm)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)

	require.NoError(t, st.Tags.Create(ctx, nil, &storage.Tag{App: "Code", Title: storage.AnyTitle, Tag: "Code"}))
	require.NoError(t, st.Tags.Create(ctx, nil, &storage.Tag{App: "Chrome", Title: "Inbox", Tag: "Mail"}))

	require.NoError(t, st.Activities.CreateBatch(ctx, nil, []*storage.Activity{
		{UserID: user.ID, App: "Code", Title: "main.go", Timestamp: "2024-01-01T08:00:00Z", Duration: 1},
		{UserID: user.ID, App: "Chrome", Title: "Inbox", Timestamp: "2024-01-01T08:00:00Z", Duration: 1},
		{UserID: user.ID, App: "Figma", Title: "Mockups", URL: "https://figma.com/a", Timestamp: "2024-01-01T08:00:00Z", Duration: 1},
		{UserID: user.ID, App: "Figma", Title: "Mockups", URL: "https://figma.com/b", Timestamp: "2024-01-01T08:01:00Z", Duration: 1},
		{UserID: user.ID, App: "Zoom", Title: "Standup", Timestamp: "2024-01-01T08:00:00Z", Duration: 1},
		{UserID: user.ID, App: "Weird", Title: "thing", Timestamp: "2024-01-01T08:00:00Z", Duration: 1},
	}, 10))

	res, err := e.TagActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates, "covered pairs are never sent to the classifier")
	assert.Equal(t, 1, res.Batches)
	assert.EqualValues(t, 2, res.TagsCreated)
	assert.EqualValues(t, 3, res.ActivitiesUpdated)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].User, "main.go")
	assert.NotContains(t, calls[0].User, "Inbox")
	assert.Equal(t, "gpt-4o-mini", calls[0].Model)
	assert.Equal(t, 1, strings.Count(calls[0].User, "Figma - Mockups"), "each (app, title) is classified once")
	assert.Contains(t, calls[0].User, "https://figma.com/a")
	assert.NotContains(t, calls[0].User, "https://figma.com/b")

	figma, err := st.Tags.Get(ctx, nil, "Figma", "Mockups")
	require.NoError(t, err)
	require.NotNil(t, figma)
	assert.Equal(t, "Design", figma.Tag)

	weird, err := st.Tags.Get(ctx, nil, "Weird", "thing")
	require.NoError(t, err)
	assert.Nil(t, weird, "categories outside the enum are dropped")

	// second run only sees the pair the classifier rejected
	res, err = e.TagActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Zero(t, res.TagsCreated)
}

func TestUncoveredCombos(t *testing.T) {
	rules := tagging.NewRuleSet([]storage.Tag{{App: "Code", Title: storage.AnyTitle, Tag: "Code"}})
	tests := []struct {
		name   string
		combos []storage.Combo
		want   []storage.Combo
	}{
		{
			name:   "covered dropped",
			combos: []storage.Combo{{App: "Code", Title: "main.go"}, {App: "Zoom", Title: "Standup"}},
			want:   []storage.Combo{{App: "Zoom", Title: "Standup"}},
		},
		{
			name: "same pair keeps first url",
			combos: []storage.Combo{
				{App: "Figma", Title: "Mockups", URL: "https://figma.com/a"},
				{App: "Figma", Title: "Mockups", URL: "https://figma.com/b"},
				{App: "Figma", Title: "Specs", URL: "https://figma.com/a"},
			},
			want: []storage.Combo{
				{App: "Figma", Title: "Mockups", URL: "https://figma.com/a"},
				{App: "Figma", Title: "Specs", URL: "https://figma.com/a"},
			},
		},
		{
			name:   "empty",
			combos: nil,
			want:   []storage.Combo{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uncoveredCombos(tt.combos, rules))
		})
	}
}

func TestTagActivities_FailedBatchContinues(t *testing.T) {
	ctx := context.Background()
	var n int
	llm := &fakeLLM{}
	ok := tagResponder(map[string]string{"App": "Research"})
	llm.respond = func(req analyzer.JSONRequest) (string, error) {
		n++
		if n == 1 {
			return "", errors.New("API error (status 500): boom")
		}
		return ok(req)
	}
	e, st := newExecutor(t, llm)
	e.config.Jobs.TaggingBatchSize = 2
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)

	var rows []*storage.Activity
	for i := 0; i < 4; i++ {
		rows = append(rows, &storage.Activity{UserID: user.ID, App: "App", Title: fmt.Sprintf("t%d", i), Timestamp: "2024-01-01T08:00:00Z", Duration: 1})
	}
	require.NoError(t, st.Activities.CreateBatch(ctx, nil, rows, 10))

	res, err := e.TagActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 1, res.FailedBatches)
	assert.EqualValues(t, 2, res.TagsCreated)
	assert.EqualValues(t, 2, res.ActivitiesUpdated)
}

func TestTagActivities_RequiresLLM(t *testing.T) {
	e, _ := newExecutor(t, nil)
	_, err := e.TagActivities(context.Background())
	assert.ErrorIs(t, err, ErrLLMNotConfigured)
}

func summaryJSON(insights, plan []string) string {
	raw, _ := json.Marshal(map[string]any{"dailyInsights": insights, "improvementPlan": plan})
	return string(raw)
}

func TestGenerateDailyInsights(t *testing.T) {
	ctx := context.Background()
	loc := mustIST(t)
	llm := &fakeLLM{respond: func(req analyzer.JSONRequest) (string, error) {
		if strings.Contains(req.User, "Slack") {
			return "", errors.New("API error (status 400): nope")
		}
		return summaryJSON([]string{"a", "b", "c", "d"}, []string{"e", "f", "g", "h"}), nil
	}}
	e, st := newExecutor(t, llm)
	e.WithClock(func() time.Time { return time.Date(2024, 3, 2, 10, 0, 0, 0, loc) })

	active := testutil.CreateUser(t, st, "active@example.com", storage.RoleUser)
	idle := testutil.CreateUser(t, st, "idle@example.com", storage.RoleUser)
	flaky := testutil.CreateUser(t, st, "flaky@example.com", storage.RoleUser)

	log := "2024-03-01T05:00:00.000Z|1800,2024-03-01T06:00:00.000Z|1800"
	require.NoError(t, st.Activities.CreateBatch(ctx, nil, []*storage.Activity{
		{UserID: active.ID, App: "Code", Title: "main.go", Timestamp: "2024-03-01T05:00:00.000Z", Duration: 3600, Merged: true, MergedTimestamp: &log, AutoTags: "Code"},
		{UserID: active.ID, App: "loginwindow", Title: "lock", Timestamp: "2024-03-01T07:00:00.000Z", Duration: 9000},
		// Feb 29 23:30 IST, outside yesterday
		{UserID: idle.ID, App: "Code", Title: "old.go", Timestamp: "2024-02-29T18:00:00.000Z", Duration: 100},
		{UserID: flaky.ID, App: "Slack", Title: "general", Timestamp: "2024-03-01T05:00:00.000Z", Duration: 100},
	}, 10))

	res, err := e.GenerateDailyInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", res.Date)
	assert.Equal(t, 3, res.Users)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Failed)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := st.Insights.Get(ctx, nil, active.ID, day)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b", "c", "d"}, []string(got.DailyInsights))

	for _, u := range []*storage.User{idle, flaky} {
		none, err := st.Insights.Get(ctx, nil, u.ID, day)
		require.NoError(t, err)
		assert.Nil(t, none, "placeholders are never stored")
	}

	var prompt string
	for _, c := range llm.Calls() {
		if strings.Contains(c.User, "main.go") {
			prompt = c.User
		}
	}
	require.NotEmpty(t, prompt)
	assert.NotContains(t, prompt, "loginwindow")
	assert.Contains(t, prompt, "Date range: 2024-02-29T18:30:00.000Z -> 2024-03-01T18:29:59.999Z")
	assert.Contains(t, prompt, "10:30 AM (1800s), 11:30 AM (1800s)")
}

func TestGenerateForUser_Placeholders(t *testing.T) {
	ctx := context.Background()
	e, st := newExecutor(t, nil)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, e.Location())

	s, err := e.GenerateForUser(ctx, user.ID, day)
	require.NoError(t, err)
	assert.True(t, s.Placeholder)
	assert.False(t, s.Stored)
	assert.Equal(t, []string{noActivityInsight}, s.DailyInsights)
	assert.Equal(t, []string{noActivityPlan}, s.ImprovementPlan)

	require.NoError(t, st.Activities.CreateBatch(ctx, nil, []*storage.Activity{
		{UserID: user.ID, App: "Code", Title: "x", Timestamp: "2024-03-01T05:00:00.000Z", Duration: 60},
	}, 10))
	_, err = e.GenerateForUser(ctx, user.ID, day)
	assert.ErrorIs(t, err, ErrLLMNotConfigured)
}

func TestGenerateForUser_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	reply := summaryJSON([]string{"first"}, []string{"p"})
	llm := &fakeLLM{respond: func(analyzer.JSONRequest) (string, error) { return reply, nil }}
	e, st := newExecutor(t, llm)
	user := testutil.CreateUser(t, st, "u@example.com", storage.RoleUser)
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, e.Location())

	require.NoError(t, st.Activities.CreateBatch(ctx, nil, []*storage.Activity{
		{UserID: user.ID, App: "Code", Title: "x", Timestamp: "2024-03-01T05:00:00.000Z", Duration: 60},
	}, 10))

	_, err := e.GenerateForUser(ctx, user.ID, day)
	require.NoError(t, err)
	reply = summaryJSON([]string{"second"}, []string{"q"})
	s, err := e.GenerateForUser(ctx, user.ID, day)
	require.NoError(t, err)
	assert.True(t, s.Stored)

	rows, err := st.Insights.ListForUser(ctx, nil, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"second"}, []string(rows[0].DailyInsights))
	assert.Equal(t, []string{"q"}, []string(rows[0].ImprovementPlan))
}

func TestFormatActivities(t *testing.T) {
	var tokens []string
	for i := 0; i < 25; i++ {
		tokens = append(tokens, fmt.Sprintf("2024-03-01T%02d:00:00.000Z|60", i%24))
	}
	log := strings.Join(tokens, ",")
	out := FormatActivities([]storage.ActivityGroup{
		{App: "Code", Title: "main.go", AutoTags: "Code", TotalDuration: 5400, MergedTimestamp: &log},
		{App: "Slack", Title: "general", TotalDuration: 1800},
	}, mustIST(t))

	assert.Contains(t, out, `1. Code → "main.go" [Code]`)
	assert.Contains(t, out, "Duration: 1.5h (90min) | 75% of time")
	assert.Contains(t, out, `2. Slack → "general" [Untagged]`)
	assert.Contains(t, out, "Duration: 0.5h (30min) | 25% of time")
	assert.Contains(t, out, "05:30 AM (60s)")
	assert.True(t, strings.Contains(out, "..."), "truncated logs end with an ellipsis")
	assert.Equal(t, maxPromptTimestamps, strings.Count(out, "(60s)"))
}

func TestRun_UnknownJob(t *testing.T) {
	e, _ := newExecutor(t, nil)
	_, err := e.Run(context.Background(), "reindex")
	assert.ErrorIs(t, err, ErrUnknownJob)

	res, err := e.Run(context.Background(), JobMerge)
	require.NoError(t, err)
	assert.IsType(t, &MergeResult{}, res)
}
