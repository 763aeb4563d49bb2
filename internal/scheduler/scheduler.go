// Package scheduler drives the two recurring ticks the control plane
// runs on: the scanner tick (spec.md §4.3, once a minute) and the
// closer tick (§4.5, every 10-30s). Perpetual futures trade around the
// clock, so unlike the teacher's nightly/market-hour/weekly job
// calendar there is no session gating here — every tick fires on a
// fixed interval for as long as the process runs.
package scheduler

import (
	"context"
	"log"
	"time"
)

// JobType categorizes which tick a job runs on.
type JobType string

const (
	JobTypeScan  JobType = "SCAN"
	JobTypeClose JobType = "CLOSE"
)

// Job is a named, recurring unit of work.
type Job struct {
	Name    string
	Type    JobType
	Period  time.Duration
	RunFunc func(ctx context.Context) error
}

// Scheduler runs each registered job on its own ticker until stopped.
type Scheduler struct {
	jobs   []Job
	logger *log.Logger
}

// New creates a Scheduler.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{logger: logger}
}

// RegisterJob adds a job. Call before Run.
func (s *Scheduler) RegisterJob(job Job) {
	s.jobs = append(s.jobs, job)
	s.logger.Printf("registered job: %s (type: %s, period: %v)", job.Name, job.Type, job.Period)
}

// Run starts every registered job's ticker and blocks until ctx is
// cancelled. Each job runs in its own goroutine so a slow scanner tick
// never delays the closer tick.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, len(s.jobs))
	for _, job := range s.jobs {
		go s.runJob(ctx, job, done)
	}
	for range s.jobs {
		<-done
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	ticker := time.NewTicker(job.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("stopping job: %s", job.Name)
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.RunFunc(ctx); err != nil {
				s.logger.Printf("job %s failed: %v", job.Name, err)
				continue
			}
			s.logger.Printf("job %s completed in %v", job.Name, time.Since(start))
		}
	}
}
