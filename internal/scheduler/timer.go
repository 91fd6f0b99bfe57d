package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"samay/internal/logger"
	"samay/internal/metrics"
)

type Scheduler interface {
	Start(task func() error) error
	Stop() error
}

type FixedRateScheduler struct {
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func NewFixedRateScheduler(interval time.Duration) *FixedRateScheduler {
	return &FixedRateScheduler{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs task every interval on one goroutine
func (s *FixedRateScheduler) Start(task func() error) error {
	if s.interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", s.interval)
	}
	s.ticker = time.NewTicker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				if err := task(); err != nil {
					logger.GetLogger().Errorf("Scheduled task execution failed: %v", err)
				}
			case <-s.done:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker and waits for an in-flight run to finish
func (s *FixedRateScheduler) Stop() error {
	s.once.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

type CronScheduler struct {
	spec  string
	cron  *cron.Cron
	entry cron.EntryID
}

// NewCronScheduler parses six-field specs (seconds first) in loc. Each
// firing runs on its own goroutine, so a slow run may overlap the next.
func NewCronScheduler(spec string, loc *time.Location) (*CronScheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	cronLogger := cron.PrintfLogger(logger.GetLogger())
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	return &CronScheduler{
		spec: spec,
		cron: c,
	}, nil
}

func (s *CronScheduler) Start(task func() error) error {
	entryID, err := s.cron.AddFunc(s.spec, func() {
		if err := task(); err != nil {
			logger.GetLogger().Errorf("Scheduled task execution failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec: %w", err)
	}

	s.entry = entryID
	s.cron.Start()
	return nil
}

// Next is the upcoming fire time, zero before Start
func (s *CronScheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop waits for running jobs to return
func (s *CronScheduler) Stop() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return nil
}

// NewScheduler prefers cronSpec over interval when both are set
func NewScheduler(interval string, cronSpec string, loc *time.Location) (Scheduler, error) {
	if cronSpec != "" {
		return NewCronScheduler(cronSpec, loc)
	}

	if interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %w", err)
		}
		return NewFixedRateScheduler(duration), nil
	}

	return nil, fmt.Errorf("either interval or cron must be specified")
}

// Track wraps a job run with timing, outcome logging and metrics
func Track(name string, task func() error) func() error {
	return func() error {
		log := logger.ForJob(name)
		started := time.Now()
		log.Info("Job started")

		err := task()
		metrics.ObserveJob(name, started, err)
		if err != nil {
			log.WithField("elapsed", time.Since(started).Round(time.Millisecond)).Errorf("Job failed: %v", err)
			return err
		}
		log.WithField("elapsed", time.Since(started).Round(time.Millisecond)).Info("Job finished")
		return nil
	}
}
