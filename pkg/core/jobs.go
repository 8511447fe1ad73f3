package core

import (
	"context"
	"sync/atomic"
	"time"

	"skytour/pkg/geo"
	"skytour/pkg/model"
)

// Tick is the state a job sees on one scheduler tick.
type Tick struct {
	Now  time.Time
	Dt   time.Duration
	Pose model.VehiclePose
}

// Job defines a scheduled task.
type Job interface {
	Name() string
	ShouldFire(t *Tick) bool
	Run(ctx context.Context, t *Tick)
}

// BaseJob provides atomic running state to prevent re-entry.
type BaseJob struct {
	name    string
	running int32 // 1 if running, 0 otherwise
}

func NewBaseJob(name string) BaseJob {
	return BaseJob{name: name}
}

func (b *BaseJob) Name() string {
	return b.name
}

// TryLock attempts to set running to 1. Returns true if successful.
func (b *BaseJob) TryLock() bool {
	return atomic.CompareAndSwapInt32(&b.running, 0, 1)
}

func (b *BaseJob) Unlock() {
	atomic.StoreInt32(&b.running, 0)
}

// DistanceJob fires when distance flown exceeds threshold.
type DistanceJob struct {
	BaseJob
	lastPos   geo.Point
	threshold float64 // meters
	action    func(context.Context, Tick)
	firstRun  bool
}

func NewDistanceJob(name string, thresholdMeters float64, action func(context.Context, Tick)) *DistanceJob {
	return &DistanceJob{
		BaseJob:   NewBaseJob(name),
		threshold: thresholdMeters,
		action:    action,
		firstRun:  true,
	}
}

func (j *DistanceJob) ShouldFire(t *Tick) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}
	if j.firstRun {
		return true
	}
	return geo.Distance(j.lastPos, geo.PoseToPoint(t.Pose)) >= j.threshold
}

func (j *DistanceJob) Run(ctx context.Context, t *Tick) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastPos = geo.PoseToPoint(t.Pose)
	j.firstRun = false

	j.action(ctx, *t)
}

// Reset makes the job fire on the next tick.
func (j *DistanceJob) Reset() {
	j.firstRun = true
}

// TimeJob fires when the tick clock has advanced past threshold since its
// last run.
type TimeJob struct {
	BaseJob
	lastTime  time.Time
	threshold time.Duration
	action    func(context.Context, Tick)
	firstRun  bool
}

func NewTimeJob(name string, threshold time.Duration, action func(context.Context, Tick)) *TimeJob {
	return &TimeJob{
		BaseJob:   NewBaseJob(name),
		threshold: threshold,
		action:    action,
		firstRun:  true,
	}
}

func (j *TimeJob) ShouldFire(t *Tick) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}
	if j.firstRun {
		return true
	}
	return t.Now.Sub(j.lastTime) >= j.threshold
}

func (j *TimeJob) Run(ctx context.Context, t *Tick) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastTime = t.Now
	j.firstRun = false

	j.action(ctx, *t)
}

// Reset makes the job fire on the next tick.
func (j *TimeJob) Reset() {
	j.firstRun = true
}
