package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-crmsync/adapters/gojob"
	"github.com/goliatone/go-crmsync/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
)

const DefaultRunTimeout = 10 * time.Minute

// Trigger starts one maintenance run. The go-job enqueuer adapter satisfies
// it for queued execution and Direct runs jobs in process.
type Trigger interface {
	Enqueue(ctx context.Context, jobID string, parameters map[string]any) error
}

type TriggerFunc func(ctx context.Context, jobID string, parameters map[string]any) error

func (fn TriggerFunc) Enqueue(ctx context.Context, jobID string, parameters map[string]any) error {
	return fn(ctx, jobID, parameters)
}

// Direct runs maintenance messages synchronously through the handler.
func Direct(handler *gojob.Handler, now func() time.Time) Trigger {
	if now == nil {
		now = time.Now
	}
	return TriggerFunc(func(ctx context.Context, jobID string, parameters map[string]any) error {
		msg, err := gojob.NewMaintenanceMessage(jobID, parameters, now())
		if err != nil {
			return err
		}
		return handler.Handle(ctx, msg)
	})
}

type Option func(*Scheduler)

func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(s *Scheduler) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

func WithRunTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithLocation(location *time.Location) Option {
	return func(s *Scheduler) {
		if location != nil {
			s.location = location
		}
	}
}

// Entry describes a registered periodic job.
type Entry struct {
	JobID string
	Spec  string
	Next  time.Time
}

// Scheduler fires sweep, cleanup and derive runs on cron expressions.
// Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron     *cron.Cron
	trigger  Trigger
	logger   core.Logger
	metrics  core.MetricsRecorder
	timeout  time.Duration
	location *time.Location

	specs   map[string]string
	params  map[string]map[string]any
	entries map[string]cron.EntryID
	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
}

func New(cfg core.Config, trigger Trigger, opts ...Option) (*Scheduler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("scheduler: trigger is required")
	}
	s := &Scheduler{
		trigger:  trigger,
		logger:   glog.Nop(),
		metrics:  core.NopMetricsRecorder{},
		timeout:  DefaultRunTimeout,
		location: time.UTC,
		specs:    map[string]string{},
		params:   map[string]map[string]any{},
		entries:  map[string]cron.EntryID{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	cronLogger := loggerBridge{logger: s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	jobs := []struct {
		id     string
		spec   string
		params map[string]any
	}{
		{id: gojob.JobIDSweep, spec: cfg.Schedule.Sweep},
		{id: gojob.JobIDCleanup, spec: cfg.Schedule.Cleanup},
		{id: gojob.JobIDDeriveGrades, spec: cfg.Schedule.Derive, params: map[string]any{"limit": cfg.Grades.BatchSize}},
	}
	for _, job := range jobs {
		spec := strings.TrimSpace(job.spec)
		if spec == "" {
			continue
		}
		id, err := s.cron.AddJob(spec, s.jobFor(job.id))
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid %s schedule %q: %w", job.id, spec, err)
		}
		s.entries[job.id] = id
		s.specs[job.id] = spec
		s.params[job.id] = job.params
	}
	return s, nil
}

// Start begins firing entries. Runs inherit ctx and are cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("crmsync scheduler started", "jobs", s.jobIDs())
}

// Stop halts the cron loop and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.entries))
	for _, jobID := range s.jobIDs() {
		entry := s.cron.Entry(s.entries[jobID])
		out = append(out, Entry{JobID: jobID, Spec: s.specs[jobID], Next: entry.Next})
	}
	return out
}

// RunNow triggers a registered job outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	if s == nil {
		return fmt.Errorf("scheduler: scheduler is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if _, ok := s.entries[jobID]; !ok {
		return fmt.Errorf("scheduler: job %q is not scheduled", jobID)
	}
	return s.run(ctx, jobID)
}

func (s *Scheduler) jobFor(jobID string) cron.Job {
	return cron.FuncJob(func() {
		ctx := s.runContext()
		_ = s.run(ctx, jobID)
	})
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Scheduler) run(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startedAt := time.Now()
	err := s.trigger.Enqueue(ctx, jobID, copyParams(s.params[jobID]))
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Error("crmsync scheduled job failed", "job_id", jobID, "error", err)
	} else {
		s.logger.Debug("crmsync scheduled job triggered", "job_id", jobID)
	}
	tags := map[string]string{"job_id": jobID, "status": status}
	s.metrics.IncCounter(ctx, "crmsync.scheduler.runs.total", 1, tags)
	s.metrics.ObserveHistogram(ctx, "crmsync.scheduler.run.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)
	return err
}

func (s *Scheduler) jobIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyParams(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

// loggerBridge routes cron's internal logging into the service logger.
type loggerBridge struct {
	logger core.Logger
}

func (b loggerBridge) Info(msg string, keysAndValues ...any) {
	b.logger.Debug("cron: "+msg, keysAndValues...)
}

func (b loggerBridge) Error(err error, msg string, keysAndValues ...any) {
	b.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
