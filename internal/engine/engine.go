// Package engine is the durable step executor behind every scheduled job. A
// run is identified by (job name, dedupe key) and survives process restarts:
// each named step persists its output before the next step begins, so a
// retried run replays completed steps from storage instead of re-executing
// them. The engine guarantees at-least-once step execution; steps must be
// pure reads or idempotent writes.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/metrics"
	"github.com/citewatch/citewatch/internal/store"
)

// RunStore persists run and step state. *store.Store satisfies it.
type RunStore interface {
	FindRun(ctx context.Context, jobName, dedupeKey string) (*store.JobRun, error)
	CreateRun(ctx context.Context, jobName, dedupeKey string) (*store.JobRun, error)
	MarkRunAttempt(ctx context.Context, runID uuid.UUID, attempt int) error
	FinishRun(ctx context.Context, runID uuid.UUID, status, lastError string) error
	StepOutput(ctx context.Context, runID uuid.UUID, name string) (json.RawMessage, error)
	SaveStepOutput(ctx context.Context, runID uuid.UUID, name string, output json.RawMessage) error
}

// Engine executes jobs as durable runs.
type Engine struct {
	runs       RunStore
	retries    int
	retryDelay time.Duration
}

// New creates an engine. retries is the number of whole-run retries after
// the first failed attempt.
func New(runs RunStore, retries int, retryDelay time.Duration) *Engine {
	return &Engine{
		runs:       runs,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// Execute runs fn as the (jobName, dedupeKey) run. A run that already
// completed returns immediately, which makes re-triggering a cron window a
// no-op. A run that previously failed resumes: fn executes again, but every
// step with persisted output is replayed from storage.
func (e *Engine) Execute(ctx context.Context, jobName, dedupeKey string, fn func(ctx context.Context, run *Run) error) error {
	jr, err := e.runs.CreateRun(ctx, jobName, dedupeKey)
	if err != nil {
		return fmt.Errorf("start run %s/%s: %w", jobName, dedupeKey, err)
	}

	if jr.Status == store.RunStatusCompleted {
		logrus.Infof("Run %s/%s already completed, skipping", jobName, dedupeKey)
		return nil
	}

	// A run still marked running is not claimed: a manual trigger that
	// overlaps a live run executes concurrently, and only re-executes steps
	// whose output has not persisted yet. Steps are idempotent, so the
	// overlap converges to the same state as a single execution.
	run := &Run{ID: jr.ID, Job: jobName, Key: dedupeKey, runs: e.runs}
	attempt := jr.Attempt

	var lastErr error
	for try := 0; try <= e.retries; try++ {
		if try > 0 {
			attempt++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.retryDelay):
			}
			if err := e.runs.MarkRunAttempt(ctx, jr.ID, attempt); err != nil {
				return fmt.Errorf("mark attempt %d of %s/%s: %w", attempt, jobName, dedupeKey, err)
			}
		}

		logrus.Infof("Run %s/%s attempt %d starting", jobName, dedupeKey, attempt)

		lastErr = fn(ctx, run)
		if lastErr == nil {
			if err := e.runs.FinishRun(ctx, jr.ID, store.RunStatusCompleted, ""); err != nil {
				return fmt.Errorf("finish run %s/%s: %w", jobName, dedupeKey, err)
			}
			metrics.RunsTotal.WithLabelValues(jobName, store.RunStatusCompleted).Inc()
			logrus.Infof("Run %s/%s completed", jobName, dedupeKey)
			return nil
		}

		logrus.Errorf("Run %s/%s attempt %d failed: %v", jobName, dedupeKey, attempt, lastErr)
	}

	if err := e.runs.FinishRun(ctx, jr.ID, store.RunStatusFailed, lastErr.Error()); err != nil {
		return fmt.Errorf("record failure of %s/%s: %w", jobName, dedupeKey, err)
	}
	metrics.RunsTotal.WithLabelValues(jobName, store.RunStatusFailed).Inc()

	return fmt.Errorf("run %s/%s: %w", jobName, dedupeKey, lastErr)
}

// Run is the handle job functions use to execute named steps.
type Run struct {
	ID  uuid.UUID
	Job string
	Key string

	runs RunStore
}

// Do executes one named step, or returns its persisted output when the step
// already completed in this run. A failed persist propagates: a half-written
// step is worse than a late one.
func (r *Run) Do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	cached, err := r.runs.StepOutput(ctx, r.ID, name)
	if err == nil {
		logrus.Debugf("Step %s of run %s already completed, reusing output", name, r.Key)
		return cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load step %s: %w", name, err)
	}

	out, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal step %s output: %w", name, err)
	}

	if err := r.runs.SaveStepOutput(ctx, r.ID, name, raw); err != nil {
		return nil, fmt.Errorf("persist step %s: %w", name, err)
	}

	metrics.StepsTotal.WithLabelValues(r.Job).Inc()
	return raw, nil
}

// DoInto runs Do and decodes the step output into out. Pass nil when the
// caller only needs the step executed.
func (r *Run) DoInto(ctx context.Context, name string, out any, fn func(ctx context.Context) (any, error)) error {
	raw, err := r.Do(ctx, name, fn)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode step %s output: %w", name, err)
	}
	return nil
}

// Sleep pauses the run for d, recorded as a completed step so a resumed run
// does not pause again. Used for the rate-limit gaps between probe calls.
func (r *Run) Sleep(ctx context.Context, name string, d time.Duration) error {
	_, err := r.runs.StepOutput(ctx, r.ID, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load pause %s: %w", name, err)
	}

	if d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	raw, err := json.Marshal(map[string]string{"slept": d.String()})
	if err != nil {
		return fmt.Errorf("marshal pause %s: %w", name, err)
	}

	if err := r.runs.SaveStepOutput(ctx, r.ID, name, raw); err != nil {
		return fmt.Errorf("persist pause %s: %w", name, err)
	}
	return nil
}
