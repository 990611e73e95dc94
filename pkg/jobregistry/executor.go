package jobregistry

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/airq/pkg/extract"
	"github.com/3leaps/airq/pkg/output"
	"github.com/3leaps/airq/pkg/pipeline"
)

// Runner executes one pipeline run. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, sources extract.Sources, output string) (*pipeline.Result, error)
}

// Submission describes the work of one job.
type Submission struct {
	Files   SubmittedFiles
	Sources extract.Sources

	// Output is the base location artifacts are derived from.
	Output string

	// Cleanup runs after the job reaches a terminal state. May be nil.
	Cleanup func()
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEvents sets the writer that receives job lifecycle events.
func WithEvents(w output.Writer) ExecutorOption {
	return func(e *Executor) {
		if w != nil {
			e.events = w
		}
	}
}

// task is the retained handle of a scheduled job.
type task struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// Executor schedules pipeline runs as independent background tasks and
// records their lifecycle in a Store.
//
// Submit never blocks on the pipeline. Each job's record is written only by
// the goroutine that owns the job.
type Executor struct {
	store  Store
	runner Runner
	events output.Writer
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	tasks    map[string]*task
	wg       sync.WaitGroup
	draining bool
}

// NewExecutor returns an Executor that records jobs in store and runs them
// with runner.
func NewExecutor(store Store, runner Runner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:  store,
		runner: runner,
		events: output.Discard,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the executor's job store.
func (e *Executor) Store() Store {
	return e.store
}

// Submit records a new job as submitted and schedules its pipeline. The
// returned record reflects the state at submission.
func (e *Executor) Submit(ctx context.Context, jobID string, sub Submission) (*JobRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return nil, ErrShuttingDown
	}

	rec := &JobRecord{
		JobID:              jobID,
		Status:             JobStateSubmitted,
		SubmittedFileNames: sub.Files,
		CreatedAt:          e.now(),
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	e.emit(ctx, jobID, &output.TransitionRecord{To: string(JobStateSubmitted)})

	// The task outlives the request that submitted it.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{done: make(chan struct{}), cancel: cancel}
	e.tasks[jobID] = t
	e.wg.Add(1)
	go e.run(taskCtx, t, jobID, sub)

	e.logger.Info("Job submitted", zap.String("job_id", jobID), zap.String("output", sub.Output))
	return rec.Clone(), nil
}

// Wait blocks until jobID reaches a terminal state or ctx ends, and returns
// the latest record.
func (e *Executor) Wait(ctx context.Context, jobID string) (*JobRecord, error) {
	e.mu.Lock()
	t, ok := e.tasks[jobID]
	e.mu.Unlock()
	if ok {
		select {
		case <-t.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.store.Get(ctx, jobID)
}

// Shutdown stops accepting jobs and waits for in-flight jobs. When ctx ends
// first, remaining tasks are cancelled and ctx's error is returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for _, t := range e.tasks {
			t.cancel()
		}
		e.mu.Unlock()
		return ctx.Err()
	}
}

// InFlight returns the number of jobs not yet terminal.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func (e *Executor) run(ctx context.Context, t *task, jobID string, sub Submission) {
	state := JobStateSubmitted
	log := e.logger.With(zap.String("job_id", jobID))

	defer func() {
		e.mu.Lock()
		delete(e.tasks, jobID)
		e.mu.Unlock()
		t.cancel()
		close(t.done)
		e.wg.Done()
	}()
	defer func() {
		if sub.Cleanup != nil {
			sub.Cleanup()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			cerr := &CriticalError{JobID: jobID, Panic: r, Stack: debug.Stack()}
			log.Error("Job panicked", zap.Any("panic", r), zap.ByteString("stack", cerr.Stack))
			e.finish(ctx, jobID, state, JobStateFailedCritical, cerr)
		}
	}()

	started := e.now()
	if _, err := e.transition(ctx, jobID, state, JobStateProcessing, func(r *JobRecord) {
		r.StartedAt = &started
	}); err != nil {
		log.Error("Failed to start job", zap.Error(err))
		e.finish(ctx, jobID, state, JobStateFailedCritical, &CriticalError{JobID: jobID, Err: err})
		return
	}
	e.emit(ctx, jobID, &output.TransitionRecord{From: string(state), To: string(JobStateProcessing)})
	state = JobStateProcessing
	log.Info("Job processing")

	res, err := e.runner.Run(ctx, sub.Sources, sub.Output)
	if err == nil && res == nil {
		err = &CriticalError{JobID: jobID, Err: errors.New("pipeline returned no result")}
	}
	if err != nil {
		next := classify(err)
		e.emitStageFailure(ctx, jobID, err)
		log.Warn("Job failed", zap.String("status", string(next)), zap.Error(err))
		e.finish(ctx, jobID, state, next, err)
		return
	}

	ended := e.now()
	artifacts := res.Artifacts
	stats := res.Statistics
	warnings := res.WarningMessages()
	if _, err := e.transition(ctx, jobID, state, JobStateCompleted, func(r *JobRecord) {
		r.Result = &artifacts
		r.Statistics = &stats
		r.Warnings = warnings
		r.EndedAt = &ended
	}); err != nil {
		log.Error("Failed to record completion", zap.Error(err))
		e.finish(ctx, jobID, state, JobStateFailedCritical, &CriticalError{JobID: jobID, Err: err})
		return
	}
	e.emit(ctx, jobID, &output.TransitionRecord{
		From:      string(state),
		To:        string(JobStateCompleted),
		Artifacts: artifacts.List(),
		Warnings:  len(warnings),
	})
	log.Info("Job completed",
		zap.Int("history_rows", stats.HistoryRows),
		zap.Int("measures_rows", stats.MeasuresRows),
		zap.Int("json_rows", stats.IndicatorRows),
		zap.Int("warnings", len(warnings)))
}

// finish records a failure state. Store errors are logged; nothing else can
// be done with them from inside the task.
func (e *Executor) finish(ctx context.Context, jobID string, from, next JobState, cause error) {
	ended := e.now()
	msg := cause.Error()
	if _, err := e.transition(ctx, jobID, from, next, func(r *JobRecord) {
		r.ErrorMessage = msg
		r.EndedAt = &ended
	}); err != nil {
		e.logger.Error("Failed to record job failure",
			zap.String("job_id", jobID),
			zap.String("status", string(next)),
			zap.Error(err))
		return
	}
	e.emit(ctx, jobID, &output.TransitionRecord{From: string(from), To: string(next), ErrorMessage: msg})
}

// transition writes with a context detached from task cancellation so a
// terminal state is still recorded during a forced shutdown.
func (e *Executor) transition(ctx context.Context, jobID string, from, next JobState, mutate func(*JobRecord)) (*JobRecord, error) {
	return e.store.Transition(context.WithoutCancel(ctx), jobID, from, next, mutate)
}

func (e *Executor) emit(ctx context.Context, jobID string, rec *output.TransitionRecord) {
	if err := e.events.WriteTransition(context.WithoutCancel(ctx), jobID, rec); err != nil {
		e.logger.Warn("Failed to write job event", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (e *Executor) emitStageFailure(ctx context.Context, jobID string, err error) {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		return
	}
	rec := &output.StageRecord{Stage: string(se.Stage), Status: output.StageFailed, Error: se.Err.Error()}
	if werr := e.events.WriteStage(context.WithoutCancel(ctx), jobID, rec); werr != nil {
		e.logger.Warn("Failed to write stage event", zap.String("job_id", jobID), zap.Error(werr))
	}
}
