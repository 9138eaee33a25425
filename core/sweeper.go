package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	SweepLockKey   = "crmsync:lock:sweep"
	CleanupLockKey = "crmsync:lock:cleanup"
)

type SweeperConfig struct {
	Policy        DeliveryPolicy
	BatchSize     int
	ClaimLease    time.Duration
	RetentionDays int
	Locker        RunLocker
	Logger        Logger
	Metrics       MetricsRecorder
	Observers     []DeliveryObserver
	Now           func() time.Time
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Policy:        DeliveryPolicy{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay},
		BatchSize:     DefaultRetryBatchSize,
		ClaimLease:    DefaultClaimLease,
		RetentionDays: DefaultRetentionDays,
	}
}

// Sweeper redelivers failed and retrying rows from their stored payload and
// enforces the retention horizon on sent rows.
type Sweeper struct {
	ledger    EventLedger
	deliverer *eventDeliverer
	locker    RunLocker
	config    SweeperConfig
	now       func() time.Time
	telemetry telemetry
}

func NewSweeper(ledger EventLedger, client DeliveryClient, config SweeperConfig) (*Sweeper, error) {
	if ledger == nil {
		return nil, fmt.Errorf("core: event ledger is required")
	}
	defaults := DefaultSweeperConfig()
	config.Policy = config.Policy.withDefaults()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaults.RetentionDays
	}
	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	tel := newTelemetry(config.Logger, config.Metrics)
	return &Sweeper{
		ledger: ledger,
		deliverer: &eventDeliverer{
			ledger:    ledger,
			client:    client,
			policy:    config.Policy,
			observers: append([]DeliveryObserver(nil), config.Observers...),
			now:       now,
			telemetry: tel,
		},
		locker:    config.Locker,
		config:    config,
		now:       now,
		telemetry: tel,
	}, nil
}

func (s *Sweeper) Sweep(ctx context.Context) (stats SweepStats, err error) {
	if s == nil || s.ledger == nil {
		return SweepStats{}, fmt.Errorf("core: sweeper is not configured")
	}
	startedAt := time.Now()
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "sweep", err, map[string]any{
			"claimed":   stats.Claimed,
			"contended": stats.Contended,
			"recovered": stats.Recovered,
			"sent":      stats.Sent,
			"retrying":  stats.Retrying,
			"failed":    stats.Failed,
			"skipped":   stats.Skipped,
		})
	}()

	release, acquired, err := s.acquire(ctx, SweepLockKey)
	if err != nil {
		return SweepStats{}, err
	}
	if !acquired {
		return SweepStats{Skipped: true}, nil
	}
	defer release()

	now := s.now()
	var sweepErr error

	stale, err := s.ledger.ListStale(ctx, now.Add(-s.config.ClaimLease), s.config.BatchSize)
	if err != nil {
		return stats, err
	}
	for _, event := range stale {
		if markErr := s.ledger.MarkRetrying(ctx, event.ID, now); markErr != nil {
			sweepErr = joinErrors(sweepErr, markErr)
			continue
		}
		stats.Recovered++
	}
	s.telemetry.recordCounter(ctx, MetricSweepRecovered, int64(stats.Recovered), nil)

	candidates, err := s.ledger.ListRetryable(ctx, RetryableFilter{
		MaxRetries: s.config.Policy.MaxRetries,
		Now:        now,
		Limit:      s.config.BatchSize,
	})
	if err != nil {
		return stats, joinErrors(sweepErr, err)
	}

	for _, candidate := range candidates {
		claimed, ok, claimErr := s.ledger.Claim(ctx, ClaimInput{
			ID:                 candidate.ID,
			ExpectedStatus:     candidate.Status,
			ExpectedRetryCount: candidate.RetryCount,
		})
		if claimErr != nil {
			sweepErr = joinErrors(sweepErr, claimErr)
			continue
		}
		if !ok {
			stats.Contended++
			continue
		}
		stats.Claimed++
		result, deliverErr := s.deliverer.deliver(ctx, claimed)
		if deliverErr != nil {
			sweepErr = joinErrors(sweepErr, deliverErr)
			continue
		}
		switch result.Status {
		case EventStatusSent:
			stats.Sent++
		case EventStatusRetrying:
			stats.Retrying++
		default:
			stats.Failed++
		}
	}
	s.telemetry.recordCounter(ctx, MetricSweepClaimed, int64(stats.Claimed), nil)
	s.telemetry.recordCounter(ctx, MetricSweepContended, int64(stats.Contended), nil)
	return stats, sweepErr
}

// Retry is the operator's one-click retry for failed or retrying events. It
// ignores the retry ceiling and delivers immediately.
func (s *Sweeper) Retry(ctx context.Context, id string) (result DeliveryResult, err error) {
	if s == nil || s.ledger == nil {
		return DeliveryResult{}, fmt.Errorf("core: sweeper is not configured")
	}
	startedAt := time.Now()
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "manual_retry", err, map[string]any{
			"event_id": id,
			"outcome":  string(result.Outcome),
		})
	}()

	id = strings.TrimSpace(id)
	if id == "" {
		return DeliveryResult{}, fmt.Errorf("core: event id is required")
	}
	event, err := s.ledger.Get(ctx, id)
	if err != nil {
		return DeliveryResult{}, err
	}
	switch event.Status {
	case EventStatusFailed, EventStatusRetrying:
	case EventStatusProcessing:
		return DeliveryResult{}, fmt.Errorf("%w: event %q is in flight", ErrEventClaimConflict, id)
	default:
		return DeliveryResult{}, fmt.Errorf("%w: event %q is %s, only failed or retrying events can be retried", ErrInvalidEventTransition, id, event.Status)
	}
	claimed, ok, err := s.ledger.Claim(ctx, ClaimInput{
		ID:                 event.ID,
		ExpectedStatus:     event.Status,
		ExpectedRetryCount: event.RetryCount,
	})
	if err != nil {
		return DeliveryResult{}, err
	}
	if !ok {
		return DeliveryResult{}, fmt.Errorf("%w: event %q", ErrEventClaimConflict, id)
	}
	return s.deliverer.deliver(ctx, claimed)
}

// Cleanup deletes sent rows older than the retention horizon.
func (s *Sweeper) Cleanup(ctx context.Context) (deleted int, err error) {
	if s == nil || s.ledger == nil {
		return 0, fmt.Errorf("core: sweeper is not configured")
	}
	startedAt := time.Now()
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "cleanup", err, map[string]any{
			"deleted":        deleted,
			"retention_days": s.config.RetentionDays,
		})
	}()

	release, acquired, err := s.acquire(ctx, CleanupLockKey)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer release()

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	deleted, err = s.ledger.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.telemetry.recordCounter(ctx, MetricCleanupDeleted, int64(deleted), nil)
	return deleted, nil
}

func (s *Sweeper) acquire(ctx context.Context, key string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	lock, ok, err := s.locker.TryLock(ctx, key, s.config.ClaimLease)
	if err != nil {
		return nil, false, fmt.Errorf("core: acquire run lock %q: %w", key, err)
	}
	if !ok || lock == nil {
		s.telemetry.logDebug(ctx, "run lock held elsewhere", map[string]any{"lock_key": key})
		return nil, false, nil
	}
	return func() {
		if unlockErr := lock.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			s.telemetry.logWarn(ctx, "run lock release failed", map[string]any{
				"lock_key": key,
				"error":    unlockErr.Error(),
			})
		}
	}, true, nil
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
