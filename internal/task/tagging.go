package task

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"samay/internal/analyzer"
	"samay/internal/logger"
	"samay/internal/metrics"
	"samay/internal/storage"
	"samay/internal/tagging"
)

const backfillConcurrency = 8

type TagResult struct {
	Candidates        int   `json:"candidates"`
	Batches           int   `json:"batches"`
	FailedBatches     int   `json:"failedBatches"`
	TagsCreated       int64 `json:"tagsCreated"`
	ActivitiesUpdated int64 `json:"activitiesUpdated"`
}

const taggingSystemPrompt = "You classify desktop activity by app name, window title and url. " +
	"Return a JSON object with a 'tags' array holding exactly one entry per input line, in input order. " +
	"Each entry has 'app', 'title' and 'tag'. 'tag' must be one of: "

type tagReply struct {
	Tags []struct {
		App   string `json:"app"`
		Title string `json:"title"`
		Tag   string `json:"tag"`
	} `json:"tags"`
}

func tagSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"app":   map[string]any{"type": "string"},
						"title": map[string]any{"type": "string"},
						"tag":   map[string]any{"type": "string", "enum": tagging.Categories},
					},
					"required":             []string{"app", "title", "tag"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"tags"},
		"additionalProperties": false,
	}
}

// uncoveredCombos drops combos an existing rule already classifies and
// keeps one combo per (app, title), the first URL seen.
func uncoveredCombos(combos []storage.Combo, rules *tagging.RuleSet) []storage.Combo {
	out := make([]storage.Combo, 0, len(combos))
	seen := make(map[string]struct{}, len(combos))
	for _, c := range combos {
		if _, ok := rules.Lookup(c.App, c.Title); ok {
			continue
		}
		key := c.App + "\x00" + c.Title
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func tagUserPrompt(batch []storage.Combo) string {
	var b strings.Builder
	b.WriteString("Tag the following activities (one tag per line):\n")
	for i, c := range batch {
		fmt.Fprintf(&b, "%d. %s - %s - %s\n", i+1, c.App, c.Title, c.URL)
	}
	return b.String()
}

// TagActivities classifies untagged (app, title) pairs in batches,
// stores the new rules and backfills matching activities.
func (e *Executor) TagActivities(ctx context.Context) (*TagResult, error) {
	log := logger.ForJob(JobTagging)
	log.Info("Starting tagging task")

	if e.llm == nil {
		return nil, ErrLLMNotConfigured
	}

	combos, err := e.storage.Activities.UntaggedCombos(ctx, nil)
	if err != nil {
		return nil, err
	}
	apps := make([]string, 0, len(combos))
	seen := make(map[string]struct{})
	for _, c := range combos {
		if _, ok := seen[c.App]; !ok {
			seen[c.App] = struct{}{}
			apps = append(apps, c.App)
		}
	}
	existing, err := e.storage.Tags.ListByApps(ctx, nil, apps)
	if err != nil {
		return nil, err
	}

	pending := uncoveredCombos(combos, tagging.NewRuleSet(existing))
	result := &TagResult{Candidates: len(pending)}
	log.Infof("Found %d activities to tag", len(pending))
	if len(pending) == 0 {
		return result, nil
	}

	batchSize := e.config.Jobs.TaggingBatchSize
	derived := make([]storage.Tag, 0, len(pending))
	known := make(map[string]struct{})
	totalBatches := (len(pending) + batchSize - 1) / batchSize

	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := pending[start:min(start+batchSize, len(pending))]
		result.Batches++
		log.Infof("Processing batch %d of %d (%d activities)", result.Batches, totalBatches, len(batch))

		tags, err := e.classify(ctx, batch)
		if err != nil {
			result.FailedBatches++
			log.Errorf("Error processing batch %d: %v", result.Batches, err)
			continue
		}
		for _, t := range tags {
			key := t.App + "\x00" + t.Title
			if _, ok := known[key]; ok {
				continue
			}
			known[key] = struct{}{}
			derived = append(derived, t)
		}
	}
	log.Infof("Total tags generated: %d", len(derived))
	if len(derived) == 0 {
		return result, nil
	}

	created, err := e.storage.Tags.CreateIgnoreDuplicates(ctx, nil, derived)
	if err != nil {
		return nil, err
	}
	result.TagsCreated = created
	metrics.TagsCreated.Add(float64(created))

	updated, err := e.backfill(ctx, derived)
	result.ActivitiesUpdated = updated
	if err != nil {
		return result, err
	}

	log.Infof("Created %d tags, updated %d activities", result.TagsCreated, result.ActivitiesUpdated)
	return result, nil
}

// classify aligns the model's reply with the batch by position. Entries
// that are missing or carry an unknown category are skipped.
func (e *Executor) classify(ctx context.Context, batch []storage.Combo) ([]storage.Tag, error) {
	var reply tagReply
	err := e.llm.GenerateJSON(ctx, analyzer.JSONRequest{
		Model:      e.config.OpenAI.TaggingModel,
		System:     taggingSystemPrompt + strings.Join(tagging.Categories, ", "),
		User:       tagUserPrompt(batch),
		SchemaName: "tags",
		Schema:     tagSchema(),
	}, &reply)
	if err != nil {
		return nil, err
	}

	log := logger.ForJob(JobTagging)
	tags := make([]storage.Tag, 0, len(batch))
	for i, c := range batch {
		if i >= len(reply.Tags) {
			log.Warnf("No tag returned for %s - %s", c.App, c.Title)
			continue
		}
		tag := reply.Tags[i].Tag
		if !tagging.IsCategory(tag) {
			log.Warnf("Invalid tag %q for %s - %s", tag, c.App, c.Title)
			continue
		}
		tags = append(tags, storage.Tag{App: c.App, Title: c.Title, Tag: tag})
	}
	return tags, nil
}

// backfill runs one update per tag concurrently and sums the rows touched
func (e *Executor) backfill(ctx context.Context, tags []storage.Tag) (int64, error) {
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillConcurrency)

	for _, t := range tags {
		g.Go(func() error {
			n, err := e.storage.Activities.BackfillTag(gctx, nil, t)
			if err != nil {
				return err
			}
			total.Add(n)
			return nil
		})
	}

	err := g.Wait()
	return total.Load(), err
}
