package activity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"samay/internal/apperr"
	"samay/internal/logger"
	"samay/internal/metrics"
	"samay/internal/storage"
)

const (
	insertBatchSize   = 500
	topAppsLimit      = 10
	topActivityLimit  = 50
	codeNotFound      = "ACTIVITY_NOT_FOUND"
	codeProjectAbsent = "PROJECT_NOT_FOUND"
)

// TagResolver hands out a lookup over one snapshot of the tag rules, so a
// batch pays for a single cache read.
type TagResolver interface {
	Matcher(ctx context.Context) func(app, title string) (string, bool)
}

type EventData struct {
	App   string `json:"app"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Event is one tracker sample as posted by the desktop client
type Event struct {
	Data      EventData `json:"data"`
	Timestamp string    `json:"timestamp"`
	Duration  float64   `json:"duration"`
}

type IngestResult struct {
	Received int `json:"received"`
	Stored   int `json:"stored"`
	Excluded int `json:"excluded"`
}

type UpdateInput struct {
	Data        *EventData `json:"data"`
	Timestamp   *string    `json:"timestamp"`
	Duration    *float64   `json:"duration"`
	Description *string    `json:"description"`
}

type ListQuery struct {
	Range
	Selected string `form:"selected"`
}

// SelectionGroup buckets every row of one (app, title) entity for the
// selection screen.
type SelectionGroup struct {
	App           string   `json:"app"`
	Title         string   `json:"title"`
	Tag           string   `json:"tag"`
	TotalDuration int64    `json:"totalDuration"`
	Selected      bool     `json:"selected"`
	ProjectID     *uint    `json:"projectId"`
	ActivityIDs   []string `json:"activityIds"`
	FirstSeen     string   `json:"firstSeen"`
	LastSeen      string   `json:"lastSeen"`
}

type UserSelectData struct {
	UserID        string                     `json:"userId"`
	TotalDuration int64                      `json:"totalDuration"`
	Days          []storage.DailyTagDuration `json:"days"`
}

type Service struct {
	store    *storage.Storage
	resolver TagResolver
	excluded map[string]struct{}
	loc      *time.Location
}

func NewService(st *storage.Storage, resolver TagResolver, excludedApps []string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    st,
		resolver: resolver,
		excluded: ExcludedSet(excludedApps),
		loc:      loc,
	}
}

// ExcludedSet builds a lookup of app names that never count as activity
func ExcludedSet(apps []string) map[string]struct{} {
	set := make(map[string]struct{}, len(apps))
	for _, app := range apps {
		set[app] = struct{}{}
	}
	return set
}

func (s *Service) isExcluded(app string) bool {
	_, ok := s.excluded[app]
	return ok
}

// Ingest validates, cleans and stores a batch of tracker events. Events from
// excluded apps and events without duration are dropped. The surviving rows
// are written in one transaction: either all land or none do.
func (s *Service) Ingest(ctx context.Context, userID string, events []Event) (*IngestResult, error) {
	result := &IngestResult{Received: len(events)}

	for i, ev := range events {
		if strings.TrimSpace(ev.Timestamp) == "" {
			return nil, apperr.Validation(fmt.Sprintf("events[%d].timestamp: Timestamp is required", i))
		}
		if math.IsNaN(ev.Duration) || math.IsInf(ev.Duration, 0) {
			return nil, apperr.Validation(fmt.Sprintf("events[%d].duration must be a finite number", i))
		}
	}

	var match func(app, title string) (string, bool)
	if s.resolver != nil && len(events) > 0 {
		match = s.resolver.Matcher(ctx)
	}

	rows := make([]*storage.Activity, 0, len(events))
	for _, ev := range events {
		app := Sanitize(ev.Data.App)
		duration := int(math.Round(ev.Duration))
		if s.isExcluded(app) || duration <= 0 {
			result.Excluded++
			continue
		}

		row := &storage.Activity{
			UserID:    userID,
			App:       app,
			Title:     Sanitize(ev.Data.Title),
			URL:       Sanitize(ev.Data.URL),
			Timestamp: NormalizeTimestamp(ev.Timestamp),
			Duration:  duration,
		}
		if match != nil {
			if tag, ok := match(row.App, row.Title); ok {
				row.AutoTags = tag
				row.IsAutoTagged = true
			}
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
			return s.store.Activities.CreateBatch(ctx, tx, rows, insertBatchSize)
		})
		if err != nil {
			return nil, fmt.Errorf("ingest activities: %w", err)
		}
	}
	result.Stored = len(rows)

	metrics.ActivitiesIngested.Add(float64(result.Stored))
	metrics.ActivitiesExcluded.Add(float64(result.Excluded))
	logger.ForComponent("activity").WithField("user_id", userID).
		Debugf("Ingested %d/%d events (%d excluded)", result.Stored, result.Received, result.Excluded)

	return result, nil
}

func (s *Service) List(ctx context.Context, userID string, q ListQuery) ([]storage.Activity, error) {
	from, to, err := q.bounds(s.loc)
	if err != nil {
		return nil, err
	}
	filter := storage.ActivityFilter{UserID: userID, From: from, To: to}
	switch q.Selected {
	case "true":
		v := true
		filter.Selected = &v
	case "false":
		v := false
		filter.Selected = &v
	}

	rows, err := s.store.Activities.List(ctx, nil, filter)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []storage.Activity{}
	}
	return rows, nil
}

func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (*storage.Activity, error) {
	a, err := s.store.Activities.Get(ctx, nil, userID, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound(codeNotFound, "Activity not found")
	}

	if in.Data != nil {
		a.App = Sanitize(in.Data.App)
		a.Title = Sanitize(in.Data.Title)
		a.URL = Sanitize(in.Data.URL)
	}
	if in.Timestamp != nil {
		ts := strings.TrimSpace(*in.Timestamp)
		if ts == "" {
			return nil, apperr.Validation("Timestamp is required")
		}
		a.Timestamp = NormalizeTimestamp(ts)
	}
	if in.Duration != nil {
		d := int(math.Round(*in.Duration))
		if d < 0 {
			return nil, apperr.Validation("duration must not be negative")
		}
		a.Duration = d
	}
	if in.Description != nil {
		a.Description = SanitizePtr(in.Description)
	}

	if err := s.store.Activities.Save(ctx, nil, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	n, err := s.store.Activities.Delete(ctx, nil, userID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(codeNotFound, "Activity not found")
	}
	return nil
}

func (s *Service) Stats(ctx context.Context, userID string) (*storage.ActivityStats, error) {
	return s.store.Activities.Stats(ctx, nil, userID)
}

func (s *Service) TopApps(ctx context.Context, userID string, r Range) ([]storage.AppDuration, error) {
	w, err := r.Window(s.loc)
	if err != nil {
		return nil, err
	}
	return s.store.Activities.TopApps(ctx, nil, userID, w, topAppsLimit)
}

func (s *Service) TopActivities(ctx context.Context, userID string, r Range) ([]storage.ActivityGroup, error) {
	w, err := r.Window(s.loc)
	if err != nil {
		return nil, err
	}
	return s.store.Activities.TopActivities(ctx, nil, storage.TopQuery{
		UserID: userID,
		Window: w,
		Limit:  topActivityLimit,
	})
}

func (s *Service) Select(ctx context.Context, userID string, ids []string, selected bool) (int64, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("activityIds must not be empty")
	}
	return s.store.Activities.SetSelected(ctx, nil, userID, ids, selected)
}

// ForSelection groups raw and merged rows by (app, title), heaviest first
func (s *Service) ForSelection(ctx context.Context, userID string, r Range) ([]SelectionGroup, error) {
	w, err := r.Window(s.loc)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Activities.ListInWindow(ctx, nil, userID, w)
	if err != nil {
		return nil, err
	}
	return GroupForSelection(rows), nil
}

// GroupForSelection is the pure bucketing step of ForSelection. Rows are
// expected in timestamp order.
func GroupForSelection(rows []storage.Activity) []SelectionGroup {
	index := make(map[string]int)
	groups := []SelectionGroup{}

	for _, row := range rows {
		key := row.App + "\x00" + row.Title
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, SelectionGroup{
				App:       row.App,
				Title:     row.Title,
				FirstSeen: row.Timestamp,
			})
		}
		g := &groups[i]
		g.TotalDuration += int64(row.Duration)
		g.ActivityIDs = append(g.ActivityIDs, row.ID)
		g.LastSeen = row.Timestamp
		if row.Selected {
			g.Selected = true
		}
		if g.Tag == "" && row.AutoTags != "" {
			g.Tag = row.AutoTags
		}
		if g.ProjectID == nil && row.ProjectID != nil {
			g.ProjectID = row.ProjectID
		}
	}

	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].TotalDuration > groups[b].TotalDuration
	})
	return groups
}

// AddToProject assigns the caller's activities to a project the caller
// belongs to. Admins may assign to any project.
func (s *Service) AddToProject(ctx context.Context, caller *storage.User, ids []string, projectID uint) (int64, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("activityIds must not be empty")
	}
	if projectID == 0 {
		return 0, apperr.Validation("Project ID is required")
	}

	project, err := s.store.Projects.Get(ctx, nil, projectID)
	if err != nil {
		return 0, err
	}
	if project == nil {
		return 0, apperr.NotFound(codeProjectAbsent, "Project not found")
	}
	if !caller.IsAdmin() {
		member, err := s.store.Projects.IsActiveMember(ctx, nil, projectID, caller.ID)
		if err != nil {
			return 0, err
		}
		if !member {
			return 0, apperr.Forbidden("You are not a member of this project")
		}
	}

	return s.store.Activities.SetProject(ctx, nil, caller.ID, ids, projectID)
}

// UserSelectData reports a user's selected time per day and tag. Callers
// may read their own data; admins may read anyone's.
func (s *Service) UserSelectData(ctx context.Context, caller *storage.User, userID string, r Range) (*UserSelectData, error) {
	if r.StartDate == "" || r.EndDate == "" {
		return nil, apperr.Validation("startDate and endDate are required")
	}
	if caller.ID != userID && !caller.IsAdmin() {
		return nil, apperr.Forbidden("Not allowed to view another user's data")
	}
	w, err := r.Window(s.loc)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.Activities.DailyBreakdown(ctx, nil, userID, w)
	if err != nil {
		return nil, err
	}
	out := &UserSelectData{UserID: userID, Days: rows}
	for _, row := range rows {
		out.TotalDuration += row.TotalDuration
	}
	return out, nil
}
