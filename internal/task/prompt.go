package task

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"samay/internal/activity"
	"samay/internal/storage"
)

const maxPromptTimestamps = 20

const insightSystemPrompt = `You are an expert productivity coach. Analyze the user's computer activity from yesterday and produce:

1. Daily Insights: 4 to 10 bullet points summarizing what the user worked on, suitable for a daily standup or for picking work back up.
2. Improvement Plan: 4 to 10 actionable suggestions for today based on yesterday's data, such as cutting distractions or protecting focus blocks.

Use the per-event timestamps to judge context switching. Frequent jumps between unrelated apps mean fragmented attention.

All timestamps are already in %s. Use them as given.

Keep every bullet between 30 and 40 words. Be specific, encouraging and grounded in the data.`

func insightSchema() map[string]any {
	list := func(desc string) map[string]any {
		return map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"minItems":    4,
			"maxItems":    10,
			"description": desc,
		}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dailyInsights":   list("What the user did yesterday, ready to share in a standup or to resume work"),
			"improvementPlan": list("How the user can be more productive today based on yesterday"),
		},
		"required":             []string{"dailyInsights", "improvementPlan"},
		"additionalProperties": false,
	}
}

func zoneLabel(loc *time.Location, at time.Time) string {
	name, _ := at.In(loc).Zone()
	if name == "" {
		return loc.String()
	}
	return name
}

// formatEventLog renders up to maxPromptTimestamps "ts|dur" tokens as
// local clock times.
func formatEventLog(log string, loc *time.Location) string {
	var parts []string
	for _, p := range strings.Split(log, ",") {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}

	limited := parts
	if len(limited) > maxPromptTimestamps {
		limited = limited[:maxPromptTimestamps]
	}

	formatted := make([]string, 0, len(limited))
	for _, p := range limited {
		ts, dur, _ := strings.Cut(p, "|")
		if ts == "" {
			continue
		}
		clock := ts
		if t, err := activity.ParseTimestamp(ts); err == nil {
			clock = t.In(loc).Format("03:04 PM")
		}
		formatted = append(formatted, fmt.Sprintf("%s (%ss)", clock, dur))
	}

	out := strings.Join(formatted, ", ")
	if len(parts) > maxPromptTimestamps {
		out += "..."
	}
	return out
}

func totalDuration(groups []storage.ActivityGroup) int64 {
	var total int64
	for _, g := range groups {
		total += g.TotalDuration
	}
	return total
}

// FormatActivities lists each group with its share of tracked time
func FormatActivities(groups []storage.ActivityGroup, loc *time.Location) string {
	total := totalDuration(groups)
	label := zoneLabel(loc, time.Now())

	lines := make([]string, 0, len(groups))
	for i, g := range groups {
		secs := float64(g.TotalDuration)
		hours := math.Round(secs/3600*10) / 10
		minutes := int64(math.Round(secs / 60))
		percent := int64(0)
		if total > 0 {
			percent = int64(math.Round(secs / float64(total) * 100))
		}
		tag := "[Untagged]"
		if g.AutoTags != "" {
			tag = "[" + g.AutoTags + "]"
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d. %s → %q %s\n", i+1, g.App, g.Title, tag)
		fmt.Fprintf(&b, "   Duration: %sh (%dmin) | %d%% of time",
			strconv.FormatFloat(hours, 'f', -1, 64), minutes, percent)
		if g.MergedTimestamp != nil && *g.MergedTimestamp != "" {
			fmt.Fprintf(&b, "\n   Timestamps (%s): %s", label, formatEventLog(*g.MergedTimestamp, loc))
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n\n")
}

// BuildInsightPrompt is the user message for one day of activity
func BuildInsightPrompt(groups []storage.ActivityGroup, window storage.TimestampWindow, loc *time.Location) string {
	label := zoneLabel(loc, time.Now())
	return fmt.Sprintf(`ACTIVITY ANALYSIS DATA:
Date range: %s -> %s
Total duration tracked: %d minutes

TOP ACTIVITIES (by duration):
%s

ANALYSIS REQUIREMENTS:
Based on the activities above, generate the requested insights and improvement plan.
REMINDER: The timestamps are in %s. Use them as is.`,
		window.From, activity.LastInstant(window),
		int64(math.Round(float64(totalDuration(groups))/60)),
		FormatActivities(groups, loc),
		label)
}
