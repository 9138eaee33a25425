package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultGradePageSize = 50

type GradeQueueStore struct {
	db   *bun.DB
	repo repository.Repository[*gradeQueueRecord]
	now  func() time.Time
}

func NewGradeQueueStore(db *bun.DB, opts ...StoreOption) (*GradeQueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*gradeQueueRecord](db, gradeQueueHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid grade queue repository wiring: %w", err)
		}
	}
	settings := resolveStoreOptions(opts)
	return &GradeQueueStore{db: db, repo: repo, now: settings.now}, nil
}

func (s *GradeQueueStore) Get(ctx context.Context, compositeKey string) (core.GradeQueueRecord, error) {
	if s == nil || s.db == nil {
		return core.GradeQueueRecord{}, fmt.Errorf("sqlstore: grade queue store is not configured")
	}
	compositeKey = strings.TrimSpace(compositeKey)
	record := &gradeQueueRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.composite_key = ?", compositeKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.GradeQueueRecord{}, fmt.Errorf("%w: %s", core.ErrGradeRecordNotFound, compositeKey)
		}
		return core.GradeQueueRecord{}, err
	}
	return gradeRecordToDomain(record), nil
}

// Insert creates the row for a composite key. When the key already exists the
// stored row is returned with created=false and nothing is written.
func (s *GradeQueueStore) Insert(ctx context.Context, in core.GradeQueueRecord) (core.GradeQueueRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.GradeQueueRecord{}, false, fmt.Errorf("sqlstore: grade queue store is not configured")
	}
	if strings.TrimSpace(in.CompositeKey) == "" {
		return core.GradeQueueRecord{}, false, fmt.Errorf("%w: composite key is required", core.ErrInvalidGradeCompositeKey)
	}
	if !in.Status.Valid() {
		return core.GradeQueueRecord{}, false, fmt.Errorf("%w: unknown status %q", core.ErrInvalidGradeTransition, in.Status)
	}
	now := s.now()
	record := &gradeQueueRecord{
		ID:              uuid.NewString(),
		CompositeKey:    strings.TrimSpace(in.CompositeKey),
		GradeID:         strings.TrimSpace(in.GradeID),
		StudentID:       strings.TrimSpace(in.StudentID),
		AssignmentID:    strings.TrimSpace(in.AssignmentID),
		Attempt:         in.Attempt,
		Status:          string(in.Status),
		ZohoRecordID:    optionalString(in.ZohoRecordID),
		ErrorMessage:    in.ErrorMessage,
		RetryCount:      in.RetryCount,
		NeedsEnrichment: in.NeedsEnrichment,
		NeedsRRCheck:    in.NeedsRRCheck,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, record.CompositeKey)
			if getErr != nil {
				return core.GradeQueueRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return core.GradeQueueRecord{}, false, err
	}
	return gradeRecordToDomain(record), true, nil
}

// Transition applies a single-row compare-and-set keyed by composite key and
// the allowed source statuses. zoho_record_id is only written while empty.
func (s *GradeQueueStore) Transition(
	ctx context.Context,
	compositeKey string,
	change core.GradeTransition,
) (core.GradeQueueRecord, error) {
	if s == nil || s.db == nil {
		return core.GradeQueueRecord{}, fmt.Errorf("sqlstore: grade queue store is not configured")
	}
	compositeKey = strings.TrimSpace(compositeKey)
	if len(change.From) == 0 || !change.To.Valid() {
		return core.GradeQueueRecord{}, fmt.Errorf("%w: transition requires source and target status", core.ErrInvalidGradeTransition)
	}
	from := make([]string, 0, len(change.From))
	for _, status := range change.From {
		from = append(from, string(status))
	}

	query := s.db.NewUpdate().
		Model((*gradeQueueRecord)(nil)).
		Set("status = ?", string(change.To)).
		Set("updated_at = ?", s.now())
	if gradeID := strings.TrimSpace(change.GradeID); gradeID != "" {
		query = query.Set("grade_id = ?", gradeID)
	}
	if zohoID := strings.TrimSpace(change.ZohoRecordID); zohoID != "" {
		query = query.Set("zoho_record_id = COALESCE(NULLIF(zoho_record_id, ''), ?)", zohoID)
	}
	if change.ErrorMessage != nil {
		query = query.Set("error_message = ?", *change.ErrorMessage)
	}
	switch {
	case change.ResetRetry:
		query = query.Set("retry_count = 0")
	case change.IncrementRetry:
		query = query.Set("retry_count = retry_count + 1")
	}
	if change.ClearFlags {
		query = query.Set("needs_enrichment = ?", false).Set("needs_rr_check = ?", false)
	}

	res, err := query.
		Where("composite_key = ?", compositeKey).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return core.GradeQueueRecord{}, err
	}
	if affected(res) == 0 {
		current, getErr := s.Get(ctx, compositeKey)
		if getErr != nil {
			return core.GradeQueueRecord{}, getErr
		}
		return core.GradeQueueRecord{}, fmt.Errorf(
			"%w: %s is %s, expected one of %v",
			core.ErrInvalidGradeTransition,
			compositeKey,
			current.Status,
			from,
		)
	}
	return s.Get(ctx, compositeKey)
}

func (s *GradeQueueStore) List(ctx context.Context, filter core.GradeQueueFilter) (core.GradeQueuePage, error) {
	if s == nil || s.repo == nil {
		return core.GradeQueuePage{}, fmt.Errorf("sqlstore: grade queue store is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultGradePageSize
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if studentID := strings.TrimSpace(filter.StudentID); studentID != "" {
		selectors = append(selectors, repository.SelectBy("student_id", "=", studentID))
	}
	if assignmentID := strings.TrimSpace(filter.AssignmentID); assignmentID != "" {
		selectors = append(selectors, repository.SelectBy("assignment_id", "=", assignmentID))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.GradeQueuePage{}, err
	}
	items := make([]core.GradeQueueRecord, 0, len(records))
	for _, record := range records {
		items = append(items, gradeRecordToDomain(record))
	}
	return core.GradeQueuePage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

// ListForDerivation returns PENDING rows carrying at least one selection flag.
// Rows never evaluated come first, then the ones checked longest ago.
func (s *GradeQueueStore) ListForDerivation(ctx context.Context, limit int) ([]core.GradeQueueRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: grade queue store is not configured")
	}
	if limit <= 0 {
		limit = defaultGradePageSize
	}
	var records []gradeQueueRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.GradeStatusPending)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.needs_enrichment = ?", true).
				WhereOr("?TableAlias.needs_rr_check = ?", true)
		}).
		OrderExpr("?TableAlias.derive_checked_at IS NOT NULL").
		OrderExpr("?TableAlias.derive_checked_at ASC").
		OrderExpr("?TableAlias.created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.GradeQueueRecord, 0, len(records))
	for i := range records {
		out = append(out, gradeRecordToDomain(&records[i]))
	}
	return out, nil
}

func (s *GradeQueueStore) MarkDeriveChecked(ctx context.Context, compositeKey string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: grade queue store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*gradeQueueRecord)(nil)).
		Set("derive_checked_at = ?", s.now()).
		Where("composite_key = ?", strings.TrimSpace(compositeKey)).
		Where("status = ?", string(core.GradeStatusPending)).
		Exec(ctx)
	return err
}

func gradeRecordToDomain(record *gradeQueueRecord) core.GradeQueueRecord {
	if record == nil {
		return core.GradeQueueRecord{}
	}
	out := core.GradeQueueRecord{
		ID:              record.ID,
		CompositeKey:    record.CompositeKey,
		GradeID:         record.GradeID,
		StudentID:       record.StudentID,
		AssignmentID:    record.AssignmentID,
		Attempt:         record.Attempt,
		Status:          core.GradeStatus(record.Status),
		ErrorMessage:    record.ErrorMessage,
		RetryCount:      record.RetryCount,
		NeedsEnrichment: record.NeedsEnrichment,
		NeedsRRCheck:    record.NeedsRRCheck,
		CreatedAt:       record.CreatedAt.UTC(),
		UpdatedAt:       record.UpdatedAt.UTC(),
	}
	if record.ZohoRecordID != nil {
		out.ZohoRecordID = *record.ZohoRecordID
	}
	if record.DeriveCheckedAt != nil {
		checkedAt := record.DeriveCheckedAt.UTC()
		out.DeriveCheckedAt = &checkedAt
	}
	return out
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
