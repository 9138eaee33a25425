package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultEventPageSize = 25

type EventLedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
	now  func() time.Time
}

func NewEventLedgerStore(db *bun.DB, opts ...StoreOption) (*EventLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	settings := resolveStoreOptions(opts)
	return &EventLedgerStore{db: db, repo: repo, now: settings.now}, nil
}

// Record persists a new pending row. It runs before any delivery attempt and
// its error is always returned to the caller.
func (s *EventLedgerStore) Record(ctx context.Context, in core.RecordInput) (string, error) {
	if s == nil || s.repo == nil {
		return "", fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	if err := in.Validate(); err != nil {
		return "", err
	}
	now := s.now()
	record := &eventRecord{
		ID:              uuid.NewString(),
		EventType:       string(in.EventType),
		Payload:         string(in.Payload),
		RelatedObjectID: strings.TrimSpace(in.RelatedObjectID),
		HostEventID:     in.HostEventID,
		UserID:          strings.TrimSpace(in.UserID),
		Status:          string(core.EventStatusPending),
		CreatedAt:       now,
		ModifiedAt:      now,
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return "", fmt.Errorf("sqlstore: record event: %w", err)
	}
	return record.ID, nil
}

func (s *EventLedgerStore) Get(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, fmt.Errorf("sqlstore: event id is required")
	}
	record := &eventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Event{}, fmt.Errorf("%w: %s", core.ErrEventNotFound, id)
		}
		return core.Event{}, err
	}
	return eventRecordToDomain(record), nil
}

// MarkSent is idempotent: a row that is already sent is left untouched.
func (s *EventLedgerStore) MarkSent(ctx context.Context, id string, httpStatus int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	now := s.now()
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(core.EventStatusSent)).
		Set("http_status = ?", httpStatus).
		Set("processed_at = ?", now).
		Set("next_retry_at = NULL").
		Set("modified_at = ?", now).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status <> ?", string(core.EventStatusSent)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) > 0 {
		return nil
	}
	_, err = s.Get(ctx, id)
	return err
}

func (s *EventLedgerStore) MarkFailed(ctx context.Context, id string, in core.FailureInput) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	status := core.EventStatusFailed
	var next *time.Time
	if !in.NextRetryAt.IsZero() {
		value := in.NextRetryAt.UTC()
		next = &value
		status = core.EventStatusRetrying
	}
	lastError := ""
	if in.Cause != nil {
		lastError = strings.TrimSpace(in.Cause.Error())
	}
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(status)).
		Set("retry_count = retry_count + 1").
		Set("http_status = ?", in.HTTPStatus).
		Set("last_error = ?", lastError).
		Set("response_body = ?", in.ResponseBody).
		Set("next_retry_at = ?", next).
		Set("modified_at = ?", s.now()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status <> ?", string(core.EventStatusSent)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) > 0 {
		return nil
	}
	return s.explainMiss(ctx, id)
}

// MarkRetrying reopens a failed or stuck row for the next sweep.
func (s *EventLedgerStore) MarkRetrying(ctx context.Context, id string, nextRetryAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(core.EventStatusRetrying)).
		Set("next_retry_at = ?", nextRetryAt.UTC()).
		Set("modified_at = ?", s.now()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status <> ?", string(core.EventStatusSent)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) > 0 {
		return nil
	}
	return s.explainMiss(ctx, id)
}

// Claim moves a row to processing only if it still has the status and retry
// count the caller read. A false return means another worker got there first.
func (s *EventLedgerStore) Claim(ctx context.Context, in core.ClaimInput) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(core.EventStatusProcessing)).
		Set("modified_at = ?", s.now()).
		Where("id = ?", strings.TrimSpace(in.ID)).
		Where("status = ?", string(in.ExpectedStatus)).
		Where("retry_count = ?", in.ExpectedRetryCount).
		Exec(ctx)
	if err != nil {
		return core.Event{}, false, err
	}
	if affected(res) == 0 {
		return core.Event{}, false, nil
	}
	event, err := s.Get(ctx, in.ID)
	if err != nil {
		return core.Event{}, false, err
	}
	return event, true, nil
}

func (s *EventLedgerStore) ListRetryable(ctx context.Context, filter core.RetryableFilter) ([]core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	now := filter.Now.UTC()
	if filter.Now.IsZero() {
		now = s.now()
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = core.DefaultRetryBatchSize
	}
	var records []eventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status IN (?)", bun.In([]string{
			string(core.EventStatusFailed),
			string(core.EventStatusRetrying),
		})).
		Where("?TableAlias.retry_count < ?", filter.MaxRetries).
		Where("?TableAlias.next_retry_at IS NOT NULL").
		Where("?TableAlias.next_retry_at <= ?", now).
		OrderExpr("?TableAlias.next_retry_at ASC").
		OrderExpr("?TableAlias.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return eventRecordsToDomain(records), nil
}

// ListStale returns in-flight claims older than the lease and pending rows
// whose first attempt never settled.
func (s *EventLedgerStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	if limit <= 0 {
		limit = core.DefaultRetryBatchSize
	}
	var records []eventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status IN (?)", bun.In([]string{
			string(core.EventStatusProcessing),
			string(core.EventStatusPending),
		})).
		Where("?TableAlias.modified_at < ?", olderThan.UTC()).
		OrderExpr("?TableAlias.modified_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return eventRecordsToDomain(records), nil
}

func (s *EventLedgerStore) List(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	if s == nil || s.repo == nil {
		return core.EventPage{}, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultEventPageSize
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if eventType := strings.TrimSpace(string(filter.EventType)); eventType != "" {
		selectors = append(selectors, repository.SelectBy("event_type", "=", eventType))
	}
	if filter.From != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", ">=", filter.From.UTC()))
	}
	if filter.To != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", "<=", filter.To.UTC()))
	}
	if text := strings.TrimSpace(filter.Text); text != "" {
		pattern := "%" + text + "%"
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					Where("?TableAlias.id = ?", text).
					WhereOr("?TableAlias.payload LIKE ?", pattern).
					WhereOr("?TableAlias.last_error LIKE ?", pattern).
					WhereOr("?TableAlias.related_object_id = ?", text)
			})
		}))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.EventPage{}, err
	}
	items := make([]core.Event, 0, len(records))
	for _, record := range records {
		items = append(items, eventRecordToDomain(record))
	}
	hasNext := offset+len(items) < total
	nextCursor := ""
	if hasNext {
		nextCursor = strconv.Itoa(offset + len(items))
	}
	return core.EventPage{
		Items:      items,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		HasNext:    hasNext,
		NextCursor: nextCursor,
	}, nil
}

// Cleanup deletes sent rows last modified before olderThan. No other status
// is ever removed.
func (s *EventLedgerStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*eventRecord)(nil)).
		Where("status = ?", string(core.EventStatusSent)).
		Where("modified_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return int(affected(res)), nil
}

func (s *EventLedgerStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*eventRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.EventStatusSent)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", core.ErrEventNotCleanupEligible, id)
}

func (s *EventLedgerStore) Stats(ctx context.Context) (core.EventStats, error) {
	if s == nil || s.db == nil {
		return core.EventStats{}, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*eventRecord)(nil)).
		ColumnExpr("?TableAlias.status AS status").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("?TableAlias.status").
		Scan(ctx, &rows)
	if err != nil {
		return core.EventStats{}, err
	}
	stats := core.EventStats{Counts: map[core.EventStatus]int{}}
	for _, row := range rows {
		stats.Counts[core.EventStatus(row.Status)] = row.Count
		stats.Total += row.Count
	}
	return stats, nil
}

func (s *EventLedgerStore) explainMiss(ctx context.Context, id string) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: event %s is %s", core.ErrInvalidEventTransition, event.ID, event.Status)
}

func eventRecordToDomain(record *eventRecord) core.Event {
	if record == nil {
		return core.Event{}
	}
	event := core.Event{
		ID:              record.ID,
		EventType:       core.EventType(record.EventType),
		Payload:         []byte(record.Payload),
		RelatedObjectID: record.RelatedObjectID,
		UserID:          record.UserID,
		Status:          core.EventStatus(record.Status),
		RetryCount:      record.RetryCount,
		LastError:       record.LastError,
		ResponseBody:    record.ResponseBody,
		CreatedAt:       record.CreatedAt.UTC(),
		ModifiedAt:      record.ModifiedAt.UTC(),
		ProcessedAt:     cloneTimePointer(record.ProcessedAt),
		NextRetryAt:     cloneTimePointer(record.NextRetryAt),
	}
	if record.HostEventID != nil {
		value := *record.HostEventID
		event.HostEventID = &value
	}
	if record.HTTPStatus != nil {
		value := *record.HTTPStatus
		event.HTTPStatus = &value
	}
	return event
}

func eventRecordsToDomain(records []eventRecord) []core.Event {
	events := make([]core.Event, 0, len(records))
	for i := range records {
		events = append(events, eventRecordToDomain(&records[i]))
	}
	return events
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return count
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
