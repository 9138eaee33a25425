package core

import (
	"context"
	"fmt"
	"time"
)

const DeriveLockKey = "crmsync:lock:grades_derive"

// FlagDerivationPolicy derives a referral record for rows flagged for an RR
// check and leaves everything else alone.
type FlagDerivationPolicy struct{}

func (FlagDerivationPolicy) Decide(_ context.Context, record GradeQueueRecord) (DerivationDecision, error) {
	if record.NeedsRRCheck {
		return DerivationDecision{Action: DerivationReferral, Reason: "resubmission check requested"}, nil
	}
	return DerivationDecision{Action: DerivationNone}, nil
}

type DerivationPolicyFunc func(ctx context.Context, record GradeQueueRecord) (DerivationDecision, error)

func (fn DerivationPolicyFunc) Decide(ctx context.Context, record GradeQueueRecord) (DerivationDecision, error) {
	return fn(ctx, record)
}

type GradeDeriverConfig struct {
	BatchSize int
	LockTTL   time.Duration
	Locker    RunLocker
	Logger    Logger
	Metrics   MetricsRecorder
}

// GradeDeriver is the scheduled path that synthesizes derived fail or
// referral records for PENDING rows.
type GradeDeriver struct {
	queue     *GradeQueue
	policy    DerivationPolicy
	writer    DerivedRecordWriter
	config    GradeDeriverConfig
	telemetry telemetry
}

func NewGradeDeriver(
	queue *GradeQueue,
	policy DerivationPolicy,
	writer DerivedRecordWriter,
	config GradeDeriverConfig,
) (*GradeDeriver, error) {
	if queue == nil {
		return nil, fmt.Errorf("core: grade queue is required")
	}
	if policy == nil {
		policy = FlagDerivationPolicy{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultClaimLease
	}
	return &GradeDeriver{
		queue:     queue,
		policy:    policy,
		writer:    writer,
		config:    config,
		telemetry: newTelemetry(config.Logger, config.Metrics),
	}, nil
}

func (d *GradeDeriver) Run(ctx context.Context, limit int) (stats DerivationStats, err error) {
	if d == nil || d.queue == nil {
		return DerivationStats{}, fmt.Errorf("core: grade deriver is not configured")
	}
	if d.writer == nil {
		return DerivationStats{}, ErrDerivationNotConfigured
	}
	startedAt := time.Now()
	defer func() {
		d.telemetry.observeOperation(ctx, startedAt, "grades_derive", err, map[string]any{
			"scanned":    stats.Scanned,
			"skipped":    stats.Skipped,
			"f_created":  stats.FCreated,
			"rr_created": stats.RRCreated,
			"failed":     stats.Failed,
		})
	}()

	if d.config.Locker != nil {
		lock, ok, lockErr := d.config.Locker.TryLock(ctx, DeriveLockKey, d.config.LockTTL)
		if lockErr != nil {
			return DerivationStats{}, fmt.Errorf("core: acquire run lock %q: %w", DeriveLockKey, lockErr)
		}
		if !ok || lock == nil {
			return DerivationStats{}, nil
		}
		defer func() {
			_ = lock.Unlock(context.WithoutCancel(ctx))
		}()
	}

	if limit <= 0 {
		limit = d.config.BatchSize
	}
	records, err := d.queue.store.ListForDerivation(ctx, limit)
	if err != nil {
		return DerivationStats{}, err
	}

	var runErr error
	for _, record := range records {
		stats.Scanned++
		if record.Status != GradeStatusPending {
			stats.Skipped++
			continue
		}
		decision, decideErr := d.policy.Decide(ctx, record)
		if decideErr != nil {
			runErr = joinErrors(runErr, d.fail(ctx, record, decideErr, &stats))
			continue
		}
		var target GradeStatus
		switch decision.Action {
		case DerivationFail:
			target = GradeStatusFCreated
		case DerivationReferral:
			target = GradeStatusRRCreated
		default:
			stats.Skipped++
			if markErr := d.queue.store.MarkDeriveChecked(ctx, record.CompositeKey); markErr != nil {
				runErr = joinErrors(runErr, markErr)
			}
			continue
		}
		recordID, writeErr := d.writer.CreateDerived(ctx, record, decision)
		if writeErr != nil {
			runErr = joinErrors(runErr, d.fail(ctx, record, writeErr, &stats))
			continue
		}
		if _, markErr := d.queue.MarkDerived(ctx, record.CompositeKey, target, recordID); markErr != nil {
			runErr = joinErrors(runErr, markErr)
			continue
		}
		if target == GradeStatusFCreated {
			stats.FCreated++
		} else {
			stats.RRCreated++
		}
	}
	return stats, runErr
}

func (d *GradeDeriver) fail(ctx context.Context, record GradeQueueRecord, cause error, stats *DerivationStats) error {
	stats.Failed++
	d.telemetry.logWarn(ctx, "grade derivation failed", map[string]any{
		"composite_key": record.CompositeKey,
		"error":         cause.Error(),
	})
	if _, err := d.queue.MarkDerivationFailed(ctx, record.CompositeKey, cause.Error()); err != nil {
		return err
	}
	return nil
}
