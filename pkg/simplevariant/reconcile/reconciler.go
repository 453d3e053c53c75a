// Package reconcile finds originals whose recorded variants do not cover the
// catalog and regenerates the gaps while the service is idle.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-variant/pkg/simplevariant"
)

const (
	DefaultInterval      = 10 * time.Minute
	DefaultIdleThreshold = 5 * time.Minute
	DefaultScanLimit     = 100
	DefaultBatchSize     = 10
	DefaultItemDelay     = time.Second
	DefaultRetryBackoff  = time.Hour

	maxRetryBackoff = 24 * time.Hour
)

var (
	// ErrAlreadyRunning indicates a reconciliation pass is in progress
	ErrAlreadyRunning = errors.New("reconciliation already running")

	// ErrAlreadyStarted indicates the scheduler is already running
	ErrAlreadyStarted = errors.New("reconciler already started")

	// ErrNotStarted indicates the scheduler is not running
	ErrNotStarted = errors.New("reconciler not started")
)

// Source lists images with missing variants and regenerates them.
// simplevariant.Service satisfies it.
type Source interface {
	FindIncomplete(ctx context.Context, limit int) ([]*simplevariant.IncompleteImage, error)
	Regenerate(ctx context.Context, id uuid.UUID, variants ...string) (map[string]*simplevariant.DerivedAsset, error)
}

// Activity reports request activity. *simplevariant.ActivityClock satisfies it.
type Activity interface {
	LastActivity() time.Time
	IdleFor() time.Duration
}

// Recorder receives the outcome of every pass.
type Recorder interface {
	ReconcileRun(outcome Outcome, processed, failed int, elapsed time.Duration)
}

// Outcome describes how a pass ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeBusy      Outcome = "busy"
	OutcomeYielded   Outcome = "yielded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Scheduler states reported by Status.
const (
	StateIdleWatching = "idle-watching"
	StateProcessing   = "processing"
)

// Config options for the reconciler
type Config struct {
	Interval      time.Duration // Time between scheduled passes (default: 10m)
	IdleThreshold time.Duration // Quiet time required before a pass starts (default: 5m)
	ScanLimit     int           // Maximum images examined per pass (default: 100)
	BatchSize     int           // Images processed between activity checks (default: 10)
	ItemDelay     time.Duration // Pause between images (default: 1s, negative disables)
	RetryBackoff  time.Duration // Wait before retrying a failed image, doubled per failure (default: 1h)

	Logger   *slog.Logger
	Recorder Recorder

	// Sleep waits between images; overridable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// RunSummary describes one reconciliation pass.
type RunSummary struct {
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Forced     bool      `json:"forced" yaml:"forced"`
	Found      int       `json:"found" yaml:"found"`
	Deferred   int       `json:"deferred" yaml:"deferred"`
	Processed  int       `json:"processed" yaml:"processed"`
	Failed     int       `json:"failed" yaml:"failed"`
	FailedIDs  []string  `json:"failed_ids,omitempty" yaml:"failed_ids,omitempty"`
	Outcome    Outcome   `json:"outcome" yaml:"outcome"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Status is a point-in-time view of the reconciler.
type Status struct {
	State                string      `json:"state" yaml:"state"`
	SchedulerStarted     bool        `json:"scheduler_started" yaml:"scheduler_started"`
	LastActivity         time.Time   `json:"last_activity" yaml:"last_activity"`
	IdleForSeconds       float64     `json:"idle_for_seconds" yaml:"idle_for_seconds"`
	IsIdle               bool        `json:"is_idle" yaml:"is_idle"`
	IdleThresholdSeconds float64     `json:"idle_threshold_seconds" yaml:"idle_threshold_seconds"`
	IntervalSeconds      float64     `json:"interval_seconds" yaml:"interval_seconds"`
	ScanLimit            int         `json:"scan_limit" yaml:"scan_limit"`
	BatchSize            int         `json:"batch_size" yaml:"batch_size"`
	ItemDelaySeconds     float64     `json:"item_delay_seconds" yaml:"item_delay_seconds"`
	RetryBackoffSeconds  float64     `json:"retry_backoff_seconds" yaml:"retry_backoff_seconds"`
	DeferredImages       int         `json:"deferred_images" yaml:"deferred_images"`
	LastRun              *RunSummary `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

// Reconciler periodically regenerates missing variants while the service is idle.
type Reconciler struct {
	source   Source
	activity Activity
	config   Config
	logger   *slog.Logger

	running atomic.Bool
	passes  sync.WaitGroup

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	passCancel context.CancelFunc
	lastRun    *RunSummary
	retries    map[uuid.UUID]retryState
}

// retryState tracks an image whose regeneration failed. It is left out of
// scans until after.
type retryState struct {
	failures int
	after    time.Time
}

// New creates a reconciler reading gaps from source and pacing itself by activity.
func New(source Source, activity Activity, config Config) (*Reconciler, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if activity == nil {
		return nil, errors.New("activity clock is required")
	}

	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.IdleThreshold <= 0 {
		config.IdleThreshold = DefaultIdleThreshold
	}
	if config.ScanLimit <= 0 {
		config.ScanLimit = DefaultScanLimit
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.ItemDelay == 0 {
		config.ItemDelay = DefaultItemDelay
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		source:   source,
		activity: activity,
		config:   config,
		logger:   logger.With("component", "reconciler"),
		retries:  make(map[uuid.UUID]retryState),
	}, nil
}

// Start runs a pass every Interval until ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx, r.done)
	r.logger.Info("reconciler started",
		"interval", r.config.Interval, "idle_threshold", r.config.IdleThreshold)
	return nil
}

// Stop halts the scheduler, cancels a triggered pass and waits for both to end.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	cancel()
	<-done
	r.stopTriggered()
	r.logger.Info("reconciler stopped")
	return nil
}

// Close stops the scheduler if it is running and waits for any triggered
// pass, so the source can be released afterwards.
func (r *Reconciler) Close() error {
	if err := r.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	r.stopTriggered()
	return nil
}

func (r *Reconciler) stopTriggered() {
	r.mu.Lock()
	cancel := r.passCancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.passes.Wait()
}

// Started reports whether the scheduler is running.
func (r *Reconciler) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Running reports whether a pass is in progress.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx, false); err != nil {
				r.logger.Debug("scheduled pass skipped", "err", err)
			}
		}
	}
}

// RunOnce performs a pass synchronously. A forced pass ignores activity.
func (r *Reconciler) RunOnce(ctx context.Context, force bool) (*RunSummary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	return r.run(ctx, force), nil
}

// Trigger starts a forced pass in the background. The pass outlives ctx and
// ends early only through Stop or Close.
func (r *Reconciler) Trigger(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.passCancel = cancel
	r.mu.Unlock()

	r.passes.Add(1)
	go func() {
		defer r.passes.Done()
		r.run(runCtx, true)

		r.mu.Lock()
		r.passCancel = nil
		r.mu.Unlock()
		cancel()
		r.running.Store(false)
	}()
	return nil
}

// Status returns the current state and the last pass summary.
func (r *Reconciler) Status() Status {
	idleFor := r.activity.IdleFor()
	status := Status{
		State:                StateIdleWatching,
		SchedulerStarted:     r.Started(),
		LastActivity:         r.activity.LastActivity(),
		IdleForSeconds:       idleFor.Seconds(),
		IsIdle:               idleFor >= r.config.IdleThreshold,
		IdleThresholdSeconds: r.config.IdleThreshold.Seconds(),
		IntervalSeconds:      r.config.Interval.Seconds(),
		ScanLimit:            r.config.ScanLimit,
		BatchSize:            r.config.BatchSize,
		ItemDelaySeconds:     max(r.config.ItemDelay, 0).Seconds(),
		RetryBackoffSeconds:  r.config.RetryBackoff.Seconds(),
	}
	if r.running.Load() {
		status.State = StateProcessing
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.config.Now()
	for _, state := range r.retries {
		if now.Before(state.after) {
			status.DeferredImages++
		}
	}
	if r.lastRun != nil {
		last := *r.lastRun
		last.FailedIDs = append([]string(nil), r.lastRun.FailedIDs...)
		status.LastRun = &last
	}
	return status
}

func (r *Reconciler) idle() bool {
	return r.activity.IdleFor() >= r.config.IdleThreshold
}

func (r *Reconciler) run(ctx context.Context, force bool) *RunSummary {
	summary := &RunSummary{StartedAt: r.config.Now(), Forced: force}
	r.process(ctx, summary)
	summary.FinishedAt = r.config.Now()

	r.mu.Lock()
	r.lastRun = summary
	r.mu.Unlock()

	if r.config.Recorder != nil {
		r.config.Recorder.ReconcileRun(summary.Outcome, summary.Processed, summary.Failed, summary.FinishedAt.Sub(summary.StartedAt))
	}

	level := slog.LevelInfo
	if summary.Outcome == OutcomeBusy {
		level = slog.LevelDebug
	}
	r.logger.Log(ctx, level, "reconciliation pass finished",
		"outcome", summary.Outcome, "forced", force,
		"found", summary.Found, "deferred", summary.Deferred,
		"processed", summary.Processed, "failed", summary.Failed)
	return summary
}

func (r *Reconciler) process(ctx context.Context, summary *RunSummary) {
	if !summary.Forced && !r.idle() {
		summary.Outcome = OutcomeBusy
		return
	}

	deferred := r.deferredIDs()
	images, err := r.source.FindIncomplete(ctx, r.config.ScanLimit+len(deferred))
	if err != nil {
		r.logger.Error("failed to find incomplete images", "err", err)
		summary.Outcome = OutcomeFailed
		summary.Error = fmt.Sprintf("find incomplete: %v", err)
		return
	}
	images = slices.DeleteFunc(images, func(image *simplevariant.IncompleteImage) bool {
		if deferred[image.Original.ID] {
			summary.Deferred++
			return true
		}
		return false
	})
	if len(images) > r.config.ScanLimit {
		images = images[:r.config.ScanLimit]
	}
	summary.Found = len(images)

	for start := 0; start < len(images); start += r.config.BatchSize {
		if !summary.Forced && !r.idle() {
			r.logger.Info("activity detected, yielding", "remaining", len(images)-start)
			summary.Outcome = OutcomeYielded
			return
		}

		end := min(start+r.config.BatchSize, len(images))
		for i, image := range images[start:end] {
			if start+i > 0 {
				if err := r.config.Sleep(ctx, r.config.ItemDelay); err != nil {
					summary.Outcome = OutcomeCanceled
					return
				}
			}
			if ctx.Err() != nil {
				summary.Outcome = OutcomeCanceled
				return
			}
			r.reconcileImage(ctx, image, summary)
		}
	}
	summary.Outcome = OutcomeCompleted
}

func (r *Reconciler) reconcileImage(ctx context.Context, image *simplevariant.IncompleteImage, summary *RunSummary) {
	id := image.Original.ID
	generated, err := r.source.Regenerate(ctx, id, image.Missing...)
	if err != nil {
		retry := r.deferRetry(id)
		r.logger.Warn("failed to regenerate variants",
			"image_id", id, "missing", image.Missing, "retry_after", retry, "err", err)
		summary.Failed++
		summary.FailedIDs = append(summary.FailedIDs, id.String())
		return
	}
	if len(generated) < len(image.Missing) {
		retry := r.deferRetry(id)
		r.logger.Debug("variants partially regenerated",
			"image_id", id, "missing", len(image.Missing), "generated", len(generated), "retry_after", retry)
	} else {
		r.clearRetry(id)
	}
	summary.Processed++
}

// deferredIDs returns the images still inside their retry backoff.
func (r *Reconciler) deferredIDs() map[uuid.UUID]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.config.Now()
	ids := make(map[uuid.UUID]bool)
	for id, state := range r.retries {
		if now.Before(state.after) {
			ids[id] = true
		}
	}
	return ids
}

// deferRetry records a failure and returns when the image is scanned again.
func (r *Reconciler) deferRetry(id uuid.UUID) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.retries[id]
	state.failures++
	backoff := r.config.RetryBackoff
	for i := 1; i < state.failures && backoff < maxRetryBackoff; i++ {
		backoff *= 2
	}
	state.after = r.config.Now().Add(min(backoff, maxRetryBackoff))
	r.retries[id] = state
	return state.after
}

func (r *Reconciler) clearRetry(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retries, id)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
