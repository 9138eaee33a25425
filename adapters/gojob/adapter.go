package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-crmsync/core"
	glog "github.com/goliatone/go-logger/glog"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDSweep        = "crmsync.sweep"
	JobIDCleanup      = "crmsync.cleanup"
	JobIDDeriveGrades = "crmsync.grades.derive"
)

const dedupDrop = job.DeduplicationPolicy("drop")

// MaintenanceService is the part of the service the queued jobs drive.
type MaintenanceService interface {
	Sweep(ctx context.Context) (core.SweepStats, error)
	CleanupEvents(ctx context.Context) (int, error)
	DeriveGrades(ctx context.Context, limit int) (core.DerivationStats, error)
}

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay <= 0 && p.BaseDelay > 0 && attempt > 0 {
		out.Delay = time.Duration(attempt) * p.BaseDelay
	}
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func KnownJobID(jobID string) bool {
	switch strings.TrimSpace(jobID) {
	case JobIDSweep, JobIDCleanup, JobIDDeriveGrades:
		return true
	default:
		return false
	}
}

// NewMaintenanceMessage builds a go-job message for one maintenance run. The
// idempotency key buckets runs per minute so duplicate triggers are dropped.
func NewMaintenanceMessage(jobID string, parameters map[string]any, at time.Time) (*job.ExecutionMessage, error) {
	jobID = strings.TrimSpace(jobID)
	if !KnownJobID(jobID) {
		return nil, fmt.Errorf("gojob: unknown job id %q", jobID)
	}
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     copyAnyMap(parameters),
		IdempotencyKey: jobID + ":" + at.UTC().Truncate(time.Minute).Format(time.RFC3339),
		DedupPolicy:    dedupDrop,
	}, nil
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
	now      func() time.Time
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer, now: time.Now}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, jobID string, parameters map[string]any) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := NewMaintenanceMessage(jobID, parameters, a.now())
	if err != nil {
		return err
	}
	return a.enqueuer.Enqueue(ctx, msg)
}

// Handler runs a maintenance message against the service.
type Handler struct {
	service MaintenanceService
}

func NewHandler(service MaintenanceService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Handle(ctx context.Context, msg *job.ExecutionMessage) error {
	if h == nil || h.service == nil {
		return fmt.Errorf("gojob: maintenance service is required")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDSweep:
		_, err := h.service.Sweep(ctx)
		return err
	case JobIDCleanup:
		_, err := h.service.CleanupEvents(ctx)
		return err
	case JobIDDeriveGrades:
		limit, err := intParameter(msg.Parameters, "limit")
		if err != nil {
			return err
		}
		_, err = h.service.DeriveGrades(ctx, limit)
		return err
	default:
		return fmt.Errorf("gojob: unknown job id %q", msg.JobID)
	}
}

// Worker pulls one delivery at a time, runs it and settles it on the queue.
type Worker struct {
	dequeuer queue.Dequeuer
	handler  *Handler
	policy   RetryPolicy
	hooks    []worker.Hook

	mu       sync.Mutex
	attempts map[string]int
}

func NewWorker(dequeuer queue.Dequeuer, handler *Handler, policy RetryPolicy, hooks ...worker.Hook) *Worker {
	return &Worker{
		dequeuer: dequeuer,
		handler:  handler,
		policy:   policy,
		hooks:    append([]worker.Hook(nil), hooks...),
		attempts: map[string]int{},
	}
}

func (w *Worker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.handler == nil {
		return fmt.Errorf("gojob: worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	startedAt := time.Now().UTC()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	w.emit(func(hook worker.Hook) { hook.OnStart(ctx, event) })

	handleErr := w.handler.Handle(ctx, msg)
	event.Duration = time.Since(startedAt)
	if handleErr == nil {
		w.forget(key)
		if err := delivery.Ack(ctx); err != nil {
			return err
		}
		w.emit(func(hook worker.Hook) { hook.OnSuccess(ctx, event) })
		return nil
	}

	event.Err = handleErr
	opts := w.policy.NormalizeAttempt(queue.NackOptions{Requeue: true, Reason: handleErr.Error()}, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		w.emit(func(hook worker.Hook) { hook.OnRetry(ctx, event) })
	} else {
		w.forget(key)
		w.emit(func(hook worker.Hook) { hook.OnFailure(ctx, event) })
	}
	if err := delivery.Nack(ctx, opts); err != nil {
		return err
	}
	return handleErr
}

func (w *Worker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func (w *Worker) emit(fn func(worker.Hook)) {
	for _, hook := range w.hooks {
		if hook != nil {
			fn(hook)
		}
	}
}

// TelemetryHook logs worker lifecycle events and counts outcomes.
type TelemetryHook struct {
	logger  glog.Logger
	metrics core.MetricsRecorder
}

func NewTelemetryHook(logger glog.Logger, metrics core.MetricsRecorder) *TelemetryHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &TelemetryHook{logger: glog.Ensure(logger), metrics: metrics}
}

func (h *TelemetryHook) OnStart(ctx context.Context, event worker.Event) {
	h.logger.Debug("crmsync job started", eventArgs(event)...)
}

func (h *TelemetryHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "success")
	h.logger.Info("crmsync job succeeded", eventArgs(event)...)
}

func (h *TelemetryHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "failure")
	h.logger.Error("crmsync job failed", eventArgs(event)...)
}

func (h *TelemetryHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "retry")
	h.logger.Warn("crmsync job retrying", eventArgs(event)...)
}

func (h *TelemetryHook) record(ctx context.Context, event worker.Event, status string) {
	tags := map[string]string{"job_id": jobIDOf(event), "status": status}
	h.metrics.IncCounter(ctx, "crmsync.jobs.total", 1, tags)
	h.metrics.ObserveHistogram(ctx, "crmsync.jobs.duration_ms", float64(event.Duration.Milliseconds()), tags)
}

func eventArgs(event worker.Event) []any {
	args := []any{"job_id", jobIDOf(event), "attempt", event.Attempt}
	if event.Duration > 0 {
		args = append(args, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

func jobIDOf(event worker.Event) string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return ""
	}
	return strings.TrimSpace(message.JobID)
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

func intParameter(parameters map[string]any, key string) (int, error) {
	raw, ok := parameters[key]
	if !ok || raw == nil {
		return 0, nil
	}
	switch value := raw.(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("gojob: parameter %s must be an integer: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("gojob: parameter %s has unsupported type %T", key, raw)
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ worker.Hook        = (*TelemetryHook)(nil)
	_ MaintenanceService = (*core.Service)(nil)
)
