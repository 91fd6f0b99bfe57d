package task

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"samay/internal/activity"
	"samay/internal/logger"
	"samay/internal/storage"
)

type MergeResult struct {
	Scanned int   `json:"scanned"`
	Groups  int   `json:"groups"`
	Deleted int64 `json:"deleted"`
}

type mergeGroup struct {
	row *storage.Activity
	log strings.Builder
	url strings.Builder
}

// localDate renders the calendar day of ts in loc, or "" when ts does not
// parse.
func localDate(ts string, loc *time.Location) string {
	if ts == "" {
		return ""
	}
	t, err := activity.ParseTimestamp(ts)
	if err != nil {
		return ""
	}
	return t.In(loc).Format("2006-01-02")
}

func mergeKey(a *storage.Activity, loc *time.Location) string {
	return strings.Join([]string{
		a.UserID,
		a.App,
		a.Title,
		strconv.FormatBool(a.Selected),
		localDate(a.Timestamp, loc),
	}, "|")
}

func appendToken(b *strings.Builder, token string) {
	if token == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte(',')
	}
	b.WriteString(token)
}

// Merge folds raw rows sharing (user, app, title, selected, local day) into
// one aggregate each. It returns the aggregates in first-seen order and the
// ids of every source row consumed. Rows missing user, app or title are
// left out of both.
func Merge(rows []storage.Activity, loc *time.Location) ([]*storage.Activity, []string) {
	groups := make(map[string]*mergeGroup)
	var order []*mergeGroup
	ids := make([]string, 0, len(rows))

	for i := range rows {
		a := &rows[i]
		if a.UserID == "" || a.App == "" || a.Title == "" {
			continue
		}
		ids = append(ids, a.ID)

		key := mergeKey(a, loc)
		g, ok := groups[key]
		if !ok {
			g = &mergeGroup{row: &storage.Activity{
				UserID:       a.UserID,
				App:          a.App,
				Title:        a.Title,
				Description:  a.Description,
				Timestamp:    a.Timestamp,
				Selected:     a.Selected,
				ProjectID:    a.ProjectID,
				Merged:       true,
				AutoTags:     a.AutoTags,
				IsAutoTagged: a.IsAutoTagged,
			}}
			groups[key] = g
			order = append(order, g)
		} else {
			if g.row.AutoTags == "" {
				g.row.AutoTags = a.AutoTags
			}
			g.row.IsAutoTagged = g.row.IsAutoTagged || a.IsAutoTagged
		}

		g.row.Duration += a.Duration
		appendToken(&g.url, a.URL)
		if a.Timestamp != "" && a.Duration != 0 {
			appendToken(&g.log, a.Timestamp+"|"+strconv.Itoa(a.Duration))
		}
	}

	merged := make([]*storage.Activity, 0, len(order))
	for _, g := range order {
		g.row.URL = g.url.String()
		if g.log.Len() > 0 {
			log := g.log.String()
			g.row.MergedTimestamp = &log
		}
		merged = append(merged, g.row)
	}
	return merged, ids
}

// MergeActivities replaces every unmerged row with its daily aggregate in a
// single transaction.
func (e *Executor) MergeActivities(ctx context.Context) (*MergeResult, error) {
	log := logger.ForJob(JobMerge)
	log.Info("Starting events merge task")

	rows, err := e.storage.Activities.ListUnmerged(ctx, nil)
	if err != nil {
		return nil, err
	}
	result := &MergeResult{Scanned: len(rows)}
	if len(rows) == 0 {
		log.Info("No unmerged activities")
		return result, nil
	}

	merged, ids := Merge(rows, e.location)
	result.Groups = len(merged)

	batch := e.config.Jobs.MergeBatchSize
	txCtx, cancel := context.WithTimeout(ctx, e.config.Jobs.MergeTimeout)
	defer cancel()

	err = e.storage.Transaction(txCtx, func(tx *gorm.DB) error {
		if err := e.storage.Activities.CreateBatch(txCtx, tx, merged, batch); err != nil {
			return err
		}
		n, err := e.storage.Activities.DeleteByIDs(txCtx, tx, ids, batch)
		result.Deleted = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("merge transaction: %w", err)
	}

	log.Infof("Merged %d activities into %d groups (%d deleted)", result.Scanned, result.Groups, result.Deleted)
	return result, nil
}
