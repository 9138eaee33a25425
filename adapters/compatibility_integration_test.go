package adapters_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-crmsync/adapters/gocommand"
	"github.com/goliatone/go-crmsync/adapters/gojob"
	"github.com/goliatone/go-crmsync/adapters/gologger"
	"github.com/goliatone/go-crmsync/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
)

// A sweep requested on the command bus is queued as a go-job message and
// executed by the maintenance worker.
func TestRuntimeCompatibility_CommandBusQueuesMaintenanceJob(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}
	_, resolved, jobProvider, jobLogger := gologger.ResolveForJob("crmsync", provider, nil)
	if resolved == nil || jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected glog and go-job logger bridges")
	}

	memory := &compatQueue{}
	enqueuer := gojob.NewEnqueuerAdapter(memory)

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	subscription, err := gocommand.RegisterAndSubscribe(commandAdapter, command.CommandFunc[compatSweepRequest](
		func(ctx context.Context, _ compatSweepRequest) error {
			return enqueuer.Enqueue(ctx, gojob.JobIDSweep, nil)
		},
	))
	if err != nil {
		t.Fatalf("register sweep request: %v", err)
	}
	defer subscription.Unsubscribe()
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("crmsync.compat.sweep_request"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}

	if err := gocommand.Dispatch(ctx, compatSweepRequest{}); err != nil {
		t.Fatalf("dispatch sweep request: %v", err)
	}
	if len(memory.pending) != 1 || memory.pending[0].JobID != gojob.JobIDSweep {
		t.Fatalf("expected one queued sweep job, got %#v", memory.pending)
	}

	svc := &compatMaintenance{}
	metrics := &compatMetrics{}
	worker := gojob.NewWorker(memory, gojob.NewHandler(svc), gojob.RetryPolicy{MaxAttempts: 3},
		gojob.NewTelemetryHook(resolved, metrics))
	if err := worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process queued job: %v", err)
	}
	if svc.sweeps != 1 || memory.acked != 1 {
		t.Fatalf("expected one sweep run and ack, got sweeps=%d acked=%d", svc.sweeps, memory.acked)
	}
	if metrics.counts != 1 {
		t.Fatalf("expected job telemetry to be recorded, got %d", metrics.counts)
	}
}

type compatSweepRequest struct{}

func (compatSweepRequest) Type() string { return "crmsync.compat.sweep_request" }

type compatQueue struct {
	pending []*job.ExecutionMessage
	acked   int
}

func (q *compatQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.pending = append(q.pending, msg)
	return nil
}

func (q *compatQueue) Dequeue(context.Context) (queue.Delivery, error) {
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return &compatDelivery{queue: q, msg: msg}, nil
}

type compatDelivery struct {
	queue *compatQueue
	msg   *job.ExecutionMessage
}

func (d *compatDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *compatDelivery) Ack(context.Context) error {
	d.queue.acked++
	return nil
}

func (d *compatDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if opts.Requeue {
		d.queue.pending = append(d.queue.pending, d.msg)
	}
	return nil
}

type compatMaintenance struct {
	sweeps int
}

func (s *compatMaintenance) Sweep(context.Context) (core.SweepStats, error) {
	s.sweeps++
	return core.SweepStats{}, nil
}

func (s *compatMaintenance) CleanupEvents(context.Context) (int, error) { return 0, nil }

func (s *compatMaintenance) DeriveGrades(context.Context, int) (core.DerivationStats, error) {
	return core.DerivationStats{}, nil
}

type compatMetrics struct {
	counts int
}

func (m *compatMetrics) IncCounter(context.Context, string, int64, map[string]string) { m.counts++ }

func (m *compatMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return compatLogger{}
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }
