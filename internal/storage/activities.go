package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ActivityFilter selects a user's activities by creation time
type ActivityFilter struct {
	UserID   string
	From     *time.Time
	To       *time.Time
	Selected *bool
}

// TimestampWindow bounds the tracker timestamp column with ISO-8601 UTC
// strings: From is inclusive, To exclusive. Empty means unbounded.
type TimestampWindow struct {
	From string
	To   string
}

type TopQuery struct {
	UserID      string
	Window      TimestampWindow
	ExcludeApps []string
	Limit       int
	// ByMergedTimestamp also groups on merged_timestamp, keeping each
	// merged row's event log intact.
	ByMergedTimestamp bool
}

type AppCount struct {
	App   string `json:"app"`
	Count int64  `json:"count"`
}

type AppDuration struct {
	App           string `json:"app"`
	TotalDuration int64  `json:"totalDuration"`
	Count         int64  `json:"count"`
}

type ActivityGroup struct {
	App             string  `json:"app"`
	Title           string  `json:"title"`
	AutoTags        string  `json:"autoTags"`
	MergedTimestamp *string `json:"mergedTimestamp,omitempty"`
	TotalDuration   int64   `json:"totalDuration"`
	Count           int64   `json:"count"`
}

type ActivityStats struct {
	TotalActivities int64      `json:"totalActivities"`
	TotalDuration   int64      `json:"totalDuration"`
	TopApps         []AppCount `json:"topApps"`
	RecentActivity  *Activity  `json:"recentActivity"`
}

// DailyTagDuration is one row of the per-day breakdown of selected time
type DailyTagDuration struct {
	Day           string `json:"day"`
	Tag           string `json:"tag"`
	ProjectID     *uint  `json:"projectId"`
	TotalDuration int64  `json:"totalDuration"`
	ActivityCount int64  `json:"activityCount"`
}

// Combo is a distinct (app, title, url) triple awaiting classification
type Combo struct {
	App   string `json:"app"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type ActivityStore interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, rows []*Activity, batchSize int) error
	Get(ctx context.Context, tx *gorm.DB, userID, id string) (*Activity, error)
	Save(ctx context.Context, tx *gorm.DB, activity *Activity) error
	Delete(ctx context.Context, tx *gorm.DB, userID, id string) (int64, error)
	List(ctx context.Context, tx *gorm.DB, filter ActivityFilter) ([]Activity, error)
	ListInWindow(ctx context.Context, tx *gorm.DB, userID string, window TimestampWindow) ([]Activity, error)

	Stats(ctx context.Context, tx *gorm.DB, userID string) (*ActivityStats, error)
	TopApps(ctx context.Context, tx *gorm.DB, userID string, window TimestampWindow, limit int) ([]AppDuration, error)
	TopActivities(ctx context.Context, tx *gorm.DB, q TopQuery) ([]ActivityGroup, error)
	DailyBreakdown(ctx context.Context, tx *gorm.DB, userID string, window TimestampWindow) ([]DailyTagDuration, error)

	SetSelected(ctx context.Context, tx *gorm.DB, userID string, ids []string, selected bool) (int64, error)
	SetProject(ctx context.Context, tx *gorm.DB, userID string, ids []string, projectID uint) (int64, error)

	ListUnmerged(ctx context.Context, tx *gorm.DB) ([]Activity, error)
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []string, batchSize int) (int64, error)

	UntaggedCombos(ctx context.Context, tx *gorm.DB) ([]Combo, error)
	BackfillTag(ctx context.Context, tx *gorm.DB, tag Tag) (int64, error)
}

type activityStore struct {
	db *gorm.DB
}

func NewActivityStore(db *gorm.DB) ActivityStore {
	return &activityStore{db: db}
}

func (s *activityStore) CreateBatch(ctx context.Context, tx *gorm.DB, rows []*Activity, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	if err := pick(s.db, tx).WithContext(ctx).CreateInBatches(rows, batchSize).Error; err != nil {
		return fmt.Errorf("create activities: %w", err)
	}
	return nil
}

// Get returns (nil, nil) when the activity does not exist or belongs to
// another user
func (s *activityStore) Get(ctx context.Context, tx *gorm.DB, userID, id string) (*Activity, error) {
	var a Activity
	err := pick(s.db, tx).WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return &a, nil
}

func (s *activityStore) Save(ctx context.Context, tx *gorm.DB, activity *Activity) error {
	if err := pick(s.db, tx).WithContext(ctx).Save(activity).Error; err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	return nil
}

func (s *activityStore) Delete(ctx context.Context, tx *gorm.DB, userID, id string) (int64, error) {
	res := pick(s.db, tx).WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Activity{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete activity: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *activityStore) List(ctx context.Context, tx *gorm.DB, filter ActivityFilter) ([]Activity, error) {
	q := pick(s.db, tx).WithContext(ctx).Where("user_id = ?", filter.UserID)
	if filter.From != nil {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", filter.To.UTC())
	}
	if filter.Selected != nil {
		q = q.Where("selected = ?", *filter.Selected)
	}

	var rows []Activity
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return rows, nil
}

func (s *activityStore) ListInWindow(ctx context.Context, tx *gorm.DB, userID string, window TimestampWindow) ([]Activity, error) {
	q := applyWindow(pick(s.db, tx).WithContext(ctx).Where("user_id = ?", userID), window)
	var rows []Activity
	if err := q.Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list activities in window: %w", err)
	}
	return rows, nil
}

func (s *activityStore) Stats(ctx context.Context, tx *gorm.DB, userID string) (*ActivityStats, error) {
	db := pick(s.db, tx).WithContext(ctx)
	stats := &ActivityStats{TopApps: []AppCount{}}

	var totals struct {
		Count    int64
		Duration int64
	}
	if err := db.Model(&Activity{}).
		Select("COUNT(*) AS count, COALESCE(SUM(duration), 0) AS duration").
		Where("user_id = ?", userID).
		Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("activity totals: %w", err)
	}
	stats.TotalActivities = totals.Count
	stats.TotalDuration = totals.Duration

	if err := db.Model(&Activity{}).
		Select("app, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("app").
		Order("count DESC").
		Limit(5).
		Scan(&stats.TopApps).Error; err != nil {
		return nil, fmt.Errorf("activity top apps: %w", err)
	}

	var recent Activity
	err := db.Where("user_id = ?", userID).Order("created_at DESC").First(&recent).Error
	switch {
	case err == nil:
		stats.RecentActivity = &recent
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("recent activity: %w", err)
	}

	return stats, nil
}

func (s *activityStore) TopApps(ctx context.Context, tx *gorm.DB, userID string, window TimestampWindow, limit int) ([]AppDuration, error) {
	q := applyWindow(pick(s.db, tx).WithContext(ctx).Model(&Activity{}).Where("user_id = ?", userID), window)
	rows := []AppDuration{}
	if err := q.Select("app, SUM(duration) AS total_duration, COUNT(*) AS count").
		Group("app").
		Order("total_duration DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("top apps: %w", err)
	}
	return rows, nil
}

func (s *activityStore) TopActivities(ctx context.Context, tx *gorm.DB, q TopQuery) ([]ActivityGroup, error) {
	db := applyWindow(pick(s.db, tx).WithContext(ctx).Model(&Activity{}).Where("user_id = ?", q.UserID), q.Window)
	if len(q.ExcludeApps) > 0 {
		db = db.Where("app NOT IN ?", q.ExcludeApps)
	}

	columns := "app, title, auto_tags"
	if q.ByMergedTimestamp {
		columns += ", merged_timestamp"
	}

	rows := []ActivityGroup{}
	db = db.Select(columns + ", SUM(duration) AS total_duration, COUNT(*) AS count").
		Group(columns).
		Order("total_duration DESC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if err := db.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("top activities: %w", err)
	}
	return rows, nil
}

const dailyBreakdownSQL = `
SELECT substr(timestamp, 1, 10) AS day,
       auto_tags AS tag,
       project_id,
       SUM(duration) AS total_duration,
       COUNT(*) AS activity_count
FROM activities
WHERE user_id = ? AND selected = ? AND timestamp >= ? AND timestamp < ?
GROUP BY substr(timestamp, 1, 10), auto_tags, project_id
ORDER BY day ASC, total_duration DESC`

func (s *activityStore) DailyBreakdown(ctx context.Context, tx *gorm.DB, userID string, window TimestampWindow) ([]DailyTagDuration, error) {
	rows := []DailyTagDuration{}
	if err := pick(s.db, tx).WithContext(ctx).
		Raw(dailyBreakdownSQL, userID, true, window.From, window.To).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("daily breakdown: %w", err)
	}
	return rows, nil
}

func (s *activityStore) SetSelected(ctx context.Context, tx *gorm.DB, userID string, ids []string, selected bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := pick(s.db, tx).WithContext(ctx).Model(&Activity{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Update("selected", selected)
	if res.Error != nil {
		return 0, fmt.Errorf("select activities: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *activityStore) SetProject(ctx context.Context, tx *gorm.DB, userID string, ids []string, projectID uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := pick(s.db, tx).WithContext(ctx).Model(&Activity{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Update("project_id", projectID)
	if res.Error != nil {
		return 0, fmt.Errorf("assign project: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *activityStore) ListUnmerged(ctx context.Context, tx *gorm.DB) ([]Activity, error) {
	var rows []Activity
	if err := pick(s.db, tx).WithContext(ctx).
		Where("merged = ?", false).
		Order("timestamp ASC, created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list unmerged activities: %w", err)
	}
	return rows, nil
}

func (s *activityStore) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = len(ids)
	}
	db := pick(s.db, tx).WithContext(ctx)
	var deleted int64
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		res := db.Where("id IN ?", ids[start:end]).Delete(&Activity{})
		if res.Error != nil {
			return deleted, fmt.Errorf("delete activities batch %d-%d: %w", start, end, res.Error)
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

func (s *activityStore) UntaggedCombos(ctx context.Context, tx *gorm.DB) ([]Combo, error) {
	var combos []Combo
	if err := pick(s.db, tx).WithContext(ctx).Model(&Activity{}).
		Distinct("app", "title", "url").
		Where("is_auto_tagged = ?", false).
		Order("app, title, url").
		Scan(&combos).Error; err != nil {
		return nil, fmt.Errorf("untagged combos: %w", err)
	}
	return combos, nil
}

// BackfillTag applies tag to activities of its app (and title, unless the
// rule is a wildcard) that carry no classification yet.
func (s *activityStore) BackfillTag(ctx context.Context, tx *gorm.DB, tag Tag) (int64, error) {
	q := pick(s.db, tx).WithContext(ctx).Model(&Activity{}).Where("app = ?", tag.App)
	if tag.Title != AnyTitle {
		q = q.Where("title = ?", tag.Title)
	}
	res := q.Where("(is_auto_tagged = ? OR auto_tags = ? OR auto_tags IS NULL)", false, "").
		Updates(map[string]any{"auto_tags": tag.Tag, "is_auto_tagged": true})
	if res.Error != nil {
		return 0, fmt.Errorf("backfill tag %s/%s: %w", tag.App, tag.Title, res.Error)
	}
	return res.RowsAffected, nil
}

func applyWindow(q *gorm.DB, w TimestampWindow) *gorm.DB {
	if w.From != "" {
		q = q.Where("timestamp >= ?", w.From)
	}
	if w.To != "" {
		q = q.Where("timestamp < ?", w.To)
	}
	return q
}
