package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"skytour/pkg/model"
)

// FrameSource advances the vehicle by one frame.
type FrameSource interface {
	Step(dt time.Duration) model.VehiclePose
}

// Scheduler owns the frame loop of the flying phase: every tick it steps the
// simulator and then runs the due jobs in registration order on the same
// goroutine.
type Scheduler struct {
	interval time.Duration
	src      FrameSource
	jobs     []Job
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(interval time.Duration, src FrameSource) *Scheduler {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Scheduler{interval: interval, src: src, now: time.Now}
}

// AddJob registers a job. Jobs must be added before Start.
func (s *Scheduler) AddJob(j Job) {
	s.jobs = append(s.jobs, j)
}

// ResetJobs makes every resettable job fire on the next tick. It must only
// be called while the scheduler is stopped.
func (s *Scheduler) ResetJobs() {
	for _, j := range s.jobs {
		if r, ok := j.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
}

// Start launches the loop and returns immediately. Starting a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop ends the loop and waits for the goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "interval", s.interval, "jobs", len(s.jobs))
	last := s.now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			now := s.now()
			s.tick(ctx, now, now.Sub(last))
			last = now
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time, dt time.Duration) {
	t := Tick{Now: now, Dt: dt, Pose: s.src.Step(dt)}
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		if job.ShouldFire(&t) {
			job.Run(ctx, &t)
		}
	}
}
