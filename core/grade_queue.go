package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type GradePath string

const (
	GradePathRealtime  GradePath = "realtime"
	GradePathScheduled GradePath = "scheduled"
	GradePathManual    GradePath = "manual"
)

type gradeEdge struct {
	from GradeStatus
	to   GradeStatus
}

// An empty from status stands for a row that does not exist yet.
var gradeTransitions = map[gradeEdge][]GradePath{
	{"", GradeStatusPending}:                   {GradePathScheduled},
	{"", GradeStatusSynced}:                    {GradePathRealtime},
	{"", GradeStatusFailed}:                    {GradePathRealtime},
	{GradeStatusPending, GradeStatusSynced}:    {GradePathRealtime},
	{GradeStatusPending, GradeStatusFailed}:    {GradePathRealtime, GradePathScheduled},
	{GradeStatusPending, GradeStatusFCreated}:  {GradePathScheduled},
	{GradeStatusPending, GradeStatusRRCreated}: {GradePathScheduled},
	{GradeStatusFailed, GradeStatusFailed}:     {GradePathRealtime, GradePathScheduled},
	{GradeStatusFailed, GradeStatusPending}:    {GradePathManual},
}

func CanTransitionGrade(from GradeStatus, to GradeStatus, path GradePath) bool {
	paths, ok := gradeTransitions[gradeEdge{from: from, to: to}]
	if !ok {
		return false
	}
	for _, allowed := range paths {
		if allowed == path {
			return true
		}
	}
	return false
}

type GradeQueueConfig struct {
	Logger  Logger
	Metrics MetricsRecorder
}

// GradeQueue owns the grade reconciliation state machine. Every write is a
// compare-and-set on composite key and expected status.
type GradeQueue struct {
	store     GradeQueueStore
	telemetry telemetry
}

func NewGradeQueue(store GradeQueueStore, config GradeQueueConfig) (*GradeQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("core: grade queue store is required")
	}
	return &GradeQueue{store: store, telemetry: newTelemetry(config.Logger, config.Metrics)}, nil
}

// EnqueuePending creates a PENDING row for the scheduled path. An existing
// row is returned untouched.
func (q *GradeQueue) EnqueuePending(ctx context.Context, in GradeSyncInput, flags GradeFlags) (GradeQueueRecord, error) {
	key, err := in.CompositeKey()
	if err != nil {
		return GradeQueueRecord{}, err
	}
	record, created, err := q.store.Insert(ctx, GradeQueueRecord{
		CompositeKey:    key,
		GradeID:         strings.TrimSpace(in.GradeID),
		StudentID:       strings.TrimSpace(in.StudentID),
		AssignmentID:    strings.TrimSpace(in.AssignmentID),
		Attempt:         in.Attempt,
		Status:          GradeStatusPending,
		NeedsEnrichment: flags.NeedsEnrichment,
		NeedsRRCheck:    flags.NeedsRRCheck,
	})
	if err != nil {
		return GradeQueueRecord{}, err
	}
	if created {
		q.recordTransition(ctx, "", record.Status, GradePathScheduled)
	}
	return record, nil
}

// ConfirmSynced records a real-time success. Repeat confirmations on a row
// that already reached the CRM are no-ops. A FAILED row rejects the confirm
// with ErrInvalidGradeTransition; it must go through Reset first, so a manual
// event retry that later succeeds does not settle the grade on its own.
func (q *GradeQueue) ConfirmSynced(ctx context.Context, in GradeSyncInput) (GradeQueueRecord, error) {
	key, err := in.CompositeKey()
	if err != nil {
		return GradeQueueRecord{}, err
	}
	record, created, err := q.store.Insert(ctx, GradeQueueRecord{
		CompositeKey: key,
		GradeID:      strings.TrimSpace(in.GradeID),
		StudentID:    strings.TrimSpace(in.StudentID),
		AssignmentID: strings.TrimSpace(in.AssignmentID),
		Attempt:      in.Attempt,
		Status:       GradeStatusSynced,
		ZohoRecordID: strings.TrimSpace(in.ZohoRecordID),
	})
	if err != nil {
		return GradeQueueRecord{}, err
	}
	if created {
		q.recordTransition(ctx, "", GradeStatusSynced, GradePathRealtime)
		return record, nil
	}
	if record.Status.TerminalSuccess() {
		return record, nil
	}
	return q.transition(ctx, record, GradePathRealtime, GradeTransition{
		To:           GradeStatusSynced,
		GradeID:      strings.TrimSpace(in.GradeID),
		ZohoRecordID: strings.TrimSpace(in.ZohoRecordID),
		ErrorMessage: stringPtr(""),
		ClearFlags:   true,
	})
}

// RecordFailure records a real-time delivery error against the row.
func (q *GradeQueue) RecordFailure(ctx context.Context, in GradeSyncInput, message string) (GradeQueueRecord, error) {
	key, err := in.CompositeKey()
	if err != nil {
		return GradeQueueRecord{}, err
	}
	message = truncateString(strings.TrimSpace(message), maxLastErrorLength)
	record, created, err := q.store.Insert(ctx, GradeQueueRecord{
		CompositeKey: key,
		GradeID:      strings.TrimSpace(in.GradeID),
		StudentID:    strings.TrimSpace(in.StudentID),
		AssignmentID: strings.TrimSpace(in.AssignmentID),
		Attempt:      in.Attempt,
		Status:       GradeStatusFailed,
		ErrorMessage: message,
		RetryCount:   1,
	})
	if err != nil {
		return GradeQueueRecord{}, err
	}
	if created {
		q.recordTransition(ctx, "", GradeStatusFailed, GradePathRealtime)
		return record, nil
	}
	return q.transition(ctx, record, GradePathRealtime, GradeTransition{
		To:             GradeStatusFailed,
		GradeID:        strings.TrimSpace(in.GradeID),
		ErrorMessage:   &message,
		IncrementRetry: true,
	})
}

// MarkDerived moves a PENDING row to F_CREATED or RR_CREATED.
func (q *GradeQueue) MarkDerived(ctx context.Context, compositeKey string, to GradeStatus, zohoRecordID string) (GradeQueueRecord, error) {
	if to != GradeStatusFCreated && to != GradeStatusRRCreated {
		return GradeQueueRecord{}, fmt.Errorf("%w: %s is not a derived status", ErrInvalidGradeTransition, to)
	}
	record, err := q.store.Get(ctx, strings.TrimSpace(compositeKey))
	if err != nil {
		return GradeQueueRecord{}, err
	}
	return q.transition(ctx, record, GradePathScheduled, GradeTransition{
		To:           to,
		ZohoRecordID: strings.TrimSpace(zohoRecordID),
		ErrorMessage: stringPtr(""),
		ClearFlags:   true,
	})
}

func (q *GradeQueue) MarkDerivationFailed(ctx context.Context, compositeKey string, message string) (GradeQueueRecord, error) {
	record, err := q.store.Get(ctx, strings.TrimSpace(compositeKey))
	if err != nil {
		return GradeQueueRecord{}, err
	}
	message = truncateString(strings.TrimSpace(message), maxLastErrorLength)
	return q.transition(ctx, record, GradePathScheduled, GradeTransition{
		To:             GradeStatusFailed,
		ErrorMessage:   &message,
		IncrementRetry: true,
	})
}

// Reset reopens a FAILED row: back to PENDING with the counter and error
// cleared. It is the only way out of FAILED.
func (q *GradeQueue) Reset(ctx context.Context, compositeKey string) (GradeQueueRecord, error) {
	record, err := q.store.Get(ctx, strings.TrimSpace(compositeKey))
	if err != nil {
		return GradeQueueRecord{}, err
	}
	return q.transition(ctx, record, GradePathManual, GradeTransition{
		To:           GradeStatusPending,
		ErrorMessage: stringPtr(""),
		ResetRetry:   true,
	})
}

func (q *GradeQueue) Get(ctx context.Context, compositeKey string) (GradeQueueRecord, error) {
	return q.store.Get(ctx, strings.TrimSpace(compositeKey))
}

func (q *GradeQueue) List(ctx context.Context, filter GradeQueueFilter) (GradeQueuePage, error) {
	return q.store.List(ctx, filter)
}

func (q *GradeQueue) transition(
	ctx context.Context,
	current GradeQueueRecord,
	path GradePath,
	change GradeTransition,
) (GradeQueueRecord, error) {
	if !CanTransitionGrade(current.Status, change.To, path) {
		return GradeQueueRecord{}, fmt.Errorf(
			"%w: %s -> %s via %s path for %q",
			ErrInvalidGradeTransition, current.Status, change.To, path, current.CompositeKey,
		)
	}
	change.From = []GradeStatus{current.Status}
	updated, err := q.store.Transition(ctx, current.CompositeKey, change)
	if err != nil {
		if errors.Is(err, ErrInvalidGradeTransition) {
			q.telemetry.logWarn(ctx, "grade transition lost race", map[string]any{
				"composite_key": current.CompositeKey,
				"from":          string(current.Status),
				"to":            string(change.To),
			})
		}
		return GradeQueueRecord{}, err
	}
	q.recordTransition(ctx, current.Status, updated.Status, path)
	return updated, nil
}

func (q *GradeQueue) recordTransition(ctx context.Context, from, to GradeStatus, path GradePath) {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "NONE"
	}
	q.telemetry.recordCounter(ctx, MetricGradeTransitions, 1, map[string]string{
		"from": fromLabel,
		"to":   string(to),
		"path": string(path),
	})
}

func stringPtr(value string) *string {
	return &value
}
