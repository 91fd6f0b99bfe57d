package task

import (
	"context"
	"fmt"
	"time"

	"samay/internal/activity"
	"samay/internal/analyzer"
	"samay/internal/logger"
	"samay/internal/storage"
)

const (
	noActivityInsight = "No activities recorded for yesterday."
	noActivityPlan    = "Ensure your activity tracker is running to get insights."
	errorInsight      = "Error generating insights."
)

// Summary is the generated content for one user and day. Placeholder marks
// fixed fallback text that is returned to callers but never stored.
type Summary struct {
	Date            time.Time `json:"date"`
	DailyInsights   []string  `json:"dailyInsights"`
	ImprovementPlan []string  `json:"improvementPlan"`
	Placeholder     bool      `json:"placeholder"`
	Stored          bool      `json:"stored"`
}

type InsightResult struct {
	Date    string `json:"date"`
	Users   int    `json:"users"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

func noActivitySummary() *Summary {
	return &Summary{
		DailyInsights:   []string{noActivityInsight},
		ImprovementPlan: []string{noActivityPlan},
		Placeholder:     true,
	}
}

func errorSummary() *Summary {
	return &Summary{
		DailyInsights:   []string{errorInsight},
		ImprovementPlan: []string{},
		Placeholder:     true,
	}
}

// Yesterday is the previous calendar day in the reference timezone
func (e *Executor) Yesterday() time.Time {
	return e.now().In(e.location).AddDate(0, 0, -1)
}

// GenerateDailyInsights summarizes yesterday for every user. One user's
// failure never stops the others.
func (e *Executor) GenerateDailyInsights(ctx context.Context) (*InsightResult, error) {
	log := logger.ForJob(JobInsights)
	log.Info("Starting daily insights task")

	day := e.Yesterday()
	userIDs, err := e.storage.Users.ListIDs(ctx, nil)
	if err != nil {
		return nil, err
	}
	result := &InsightResult{Date: day.Format("2006-01-02"), Users: len(userIDs)}
	log.Infof("Found %d users to process for %s", len(userIDs), result.Date)

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		summary, err := e.GenerateForUser(ctx, userID, day)
		switch {
		case err != nil:
			result.Failed++
			log.WithField("user_id", userID).Errorf("Error processing user: %v", err)
		case summary.Stored:
			result.Stored++
		default:
			result.Skipped++
		}
	}

	log.Infof("Daily insights task completed: %d stored, %d skipped, %d failed",
		result.Stored, result.Skipped, result.Failed)
	return result, nil
}

// GenerateForUser builds the summary for userID on day and upserts it
// unless it is placeholder text.
func (e *Executor) GenerateForUser(ctx context.Context, userID string, day time.Time) (*Summary, error) {
	summary, err := e.summarize(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	summary.Date = storage.DayKey(day, e.location)
	if summary.Placeholder {
		return summary, nil
	}

	err = e.storage.Insights.Upsert(ctx, nil, &storage.DailyInsight{
		UserID:          userID,
		Date:            summary.Date,
		DailyInsights:   summary.DailyInsights,
		ImprovementPlan: summary.ImprovementPlan,
	})
	if err != nil {
		return nil, err
	}
	summary.Stored = true
	return summary, nil
}

func (e *Executor) summarize(ctx context.Context, userID string, day time.Time) (*Summary, error) {
	window := activity.DayWindow(day, e.location)
	groups, err := e.storage.Activities.TopActivities(ctx, nil, storage.TopQuery{
		UserID:            userID,
		Window:            window,
		ExcludeApps:       e.config.Activity.ExcludedApps,
		Limit:             e.config.Jobs.InsightTopN,
		ByMergedTimestamp: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load top activities: %w", err)
	}
	if len(groups) == 0 {
		return noActivitySummary(), nil
	}
	if e.llm == nil {
		return nil, ErrLLMNotConfigured
	}

	var out struct {
		DailyInsights   []string `json:"dailyInsights"`
		ImprovementPlan []string `json:"improvementPlan"`
	}
	err = e.llm.GenerateJSON(ctx, analyzer.JSONRequest{
		Model:      e.config.OpenAI.InsightModel,
		System:     fmt.Sprintf(insightSystemPrompt, zoneLabel(e.location, day)),
		User:       BuildInsightPrompt(groups, window, e.location),
		SchemaName: "activity_summary",
		Schema:     insightSchema(),
	}, &out)
	if err != nil {
		logger.ForJob(JobInsights).WithField("user_id", userID).
			Errorf("Failed to generate activity summary: %v", err)
		return errorSummary(), nil
	}
	if len(out.DailyInsights) == 0 {
		return errorSummary(), nil
	}
	if out.ImprovementPlan == nil {
		out.ImprovementPlan = []string{}
	}
	return &Summary{DailyInsights: out.DailyInsights, ImprovementPlan: out.ImprovementPlan}, nil
}
