package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"samay/internal/analyzer"
	"samay/internal/config"
	"samay/internal/storage"
)

const (
	JobMerge    = "merge"
	JobTagging  = "tagging"
	JobInsights = "insights"
)

// JobNames lists the jobs Run accepts, in their natural order
var JobNames = []string{JobMerge, JobTagging, JobInsights}

// ErrUnknownJob is returned by Run for a name outside JobNames
var ErrUnknownJob = errors.New("unknown job")

// ErrLLMNotConfigured means the job needs a text-generation backend and none is set
var ErrLLMNotConfigured = errors.New("openai api key not configured")

// Executor runs the background jobs against one storage handle
type Executor struct {
	config   *config.Config
	storage  *storage.Storage
	llm      analyzer.Generator
	location *time.Location
	now      func() time.Time
}

// NewExecutor accepts a nil llm; jobs that need it then fail with
// ErrLLMNotConfigured.
func NewExecutor(cfg *config.Config, st *storage.Storage, llm analyzer.Generator) (*Executor, error) {
	cfg.ApplyDefaults()
	loc, err := cfg.Jobs.Location()
	if err != nil {
		return nil, err
	}
	return &Executor{
		config:   cfg,
		storage:  st,
		llm:      llm,
		location: loc,
		now:      time.Now,
	}, nil
}

// WithClock swaps the time source used for day windows
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

func (e *Executor) Location() *time.Location {
	return e.location
}

// Run executes one job by name and returns its summary
func (e *Executor) Run(ctx context.Context, name string) (any, error) {
	switch name {
	case JobMerge:
		return e.MergeActivities(ctx)
	case JobTagging:
		return e.TagActivities(ctx)
	case JobInsights:
		return e.GenerateDailyInsights(ctx)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
}
