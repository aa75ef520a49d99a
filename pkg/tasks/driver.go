// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/events"
)

const (
	reasonSaturated = "executor saturated"
	reasonStopped   = "executor stopped"
	reasonPersist   = "failed to persist run progress"
)

// Job is a single unit of work for the driver: walk one running run through
// the checkpoint schedule
type Job struct {
	Run      *types.TaskRun
	TaskName string
}

type ProgressPayload struct {
	RunID        string          `json:"run_id"`
	TaskID       string          `json:"task_id"`
	Status       types.RunStatus `json:"status"`
	Progress     int             `json:"progress"`
	StepIndex    int             `json:"step_index"`
	StepName     string          `json:"step_name,omitempty"`
	StepProgress int             `json:"step_progress"`
	Reason       string          `json:"reason,omitempty"`
}

type LogPayload struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	StepIndex int       `json:"step_index"`
	StepName  string    `json:"step_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type DriverConfig struct {
	Workers   int
	QueueSize int
	Interval  time.Duration
	Schedule  []types.RunCheckpoint
}

// Driver is a fixed worker pool consuming a bounded queue of running runs
type Driver struct {
	storage  DriverStorageInterface
	bus      events.PublisherInterface
	recorder events.RecorderInterface

	schedule []types.RunCheckpoint
	interval time.Duration
	workers  int

	jobs     chan Job
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	inflight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Start launches the workers, runs submitted before Start wait in the queue
func (d *Driver) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}

	d.logger.Infof("task driver started with %d workers", d.workers)
}

// Submit never blocks, a full queue fails the run instead
func (d *Driver) Submit(job Job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.fail(job, 0, reasonStopped)
		return
	}

	select {
	case d.jobs <- job:
	default:
		d.logger.Warnf("task driver queue full, failing run %s", job.Run.ID)
		d.fail(job, 0, reasonSaturated)
	}
}

func (d *Driver) InFlight() int64 {
	return d.inflight.Load()
}

// Stop closes the queue and waits for the workers to drain it, runs still
// executing when ctx expires are failed
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Driver) work() {
	defer d.wg.Done()

	for job := range d.jobs {
		d.execute(job)
	}
}

func (d *Driver) execute(job Job) {
	ctx, span := d.tracer.Start(d.ctx, "tasks.Driver.execute")
	defer span.End()

	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	run := job.Run
	step := 0

	for _, cp := range d.schedule {
		if !d.wait(ctx) {
			d.fail(job, step, reasonStopped)
			return
		}

		ok, err := d.storage.ApplyCheckpoint(ctx, run.ID, cp, d.now())
		if err != nil {
			d.logger.Errorf("failed to apply checkpoint %d of run %s: %v", cp.RunProgress, run.ID, err)
			d.fail(job, cp.StepIndex, reasonPersist)
			return
		}

		if !ok {
			d.logger.Debugf("run %s is no longer running, stopping", run.ID)
			return
		}

		step = cp.StepIndex
		d.publishCheckpoint(ctx, job, cp)
	}

	at := d.now()

	ok, err := d.storage.CompleteRun(ctx, run.ID, evidence(run, at), at)
	if err != nil {
		d.logger.Errorf("failed to complete run %s: %v", run.ID, err)
		d.fail(job, step, reasonPersist)
		return
	}

	if !ok {
		return
	}

	d.monitor.IncRunTransitions(map[string]string{"status": string(types.RunCompleted)})

	d.bus.Publish(run.OrganizationID, events.TypeTaskProgress, ProgressPayload{
		RunID:        run.ID,
		TaskID:       run.TaskID,
		Status:       types.RunCompleted,
		Progress:     100,
		StepIndex:    step,
		StepName:     stepName(step),
		StepProgress: 100,
	})
}

func (d *Driver) wait(ctx context.Context) bool {
	if d.interval <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d.interval)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Driver) publishCheckpoint(ctx context.Context, job Job, cp types.RunCheckpoint) {
	run := job.Run
	name := stepName(cp.StepIndex)

	d.recorder.Record(ctx, &types.Activity{
		OrganizationID: run.OrganizationID,
		Type:           "task_progress",
		Title:          fmt.Sprintf("%s: %s", job.TaskName, name),
		Description:    cp.Message,
		Status:         string(types.RunRunning),
		Metadata: map[string]any{
			"run_id":   run.ID,
			"task_id":  run.TaskID,
			"progress": cp.RunProgress,
			"step":     cp.StepIndex,
		},
	})

	d.bus.Publish(run.OrganizationID, events.TypeTaskProgress, ProgressPayload{
		RunID:        run.ID,
		TaskID:       run.TaskID,
		Status:       types.RunRunning,
		Progress:     cp.RunProgress,
		StepIndex:    cp.StepIndex,
		StepName:     name,
		StepProgress: cp.StepProgress,
	})

	d.bus.Publish(run.OrganizationID, events.TypeTaskLog, LogPayload{
		RunID:     run.ID,
		TaskID:    run.TaskID,
		StepIndex: cp.StepIndex,
		StepName:  name,
		Message:   cp.Message,
		Timestamp: d.now(),
	})
}

// fail is the terminal path of every error, it outlives a cancelled worker context
func (d *Driver) fail(job Job, step int, reason string) {
	ctx := context.WithoutCancel(d.ctx)
	run := job.Run

	failed, err := d.storage.FailRun(ctx, run.ID, step, reason, d.now())
	if err != nil {
		d.logger.Errorf("failed to mark run %s as failed: %v", run.ID, err)
		return
	}

	if !failed {
		return
	}

	d.monitor.IncRunTransitions(map[string]string{"status": string(types.RunFailed)})

	d.bus.Publish(run.OrganizationID, events.TypeTaskProgress, ProgressPayload{
		RunID:     run.ID,
		TaskID:    run.TaskID,
		Status:    types.RunFailed,
		StepIndex: step,
		StepName:  stepName(step),
		Reason:    reason,
	})

	d.recorder.Record(ctx, &types.Activity{
		OrganizationID: run.OrganizationID,
		Type:           "task_run",
		Title:          fmt.Sprintf("%s failed", job.TaskName),
		Description:    reason,
		Status:         string(types.RunFailed),
		Metadata:       map[string]any{"run_id": run.ID, "task_id": run.TaskID},
	})
}

func NewDriver(
	storage DriverStorageInterface,
	bus events.PublisherInterface,
	recorder events.RecorderInterface,
	cfg DriverConfig,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Driver {
	d := new(Driver)

	d.storage = storage
	d.bus = bus
	d.recorder = recorder

	d.workers = cfg.Workers
	if d.workers <= 0 {
		d.workers = 1
	}

	queue := cfg.QueueSize
	if queue < 0 {
		queue = 0
	}

	d.schedule = cfg.Schedule
	if len(d.schedule) == 0 {
		d.schedule = DefaultSchedule
	}

	d.interval = cfg.Interval
	d.jobs = make(chan Job, queue)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.now = time.Now

	d.tracer = tracer
	d.monitor = monitor
	d.logger = logger

	return d
}
