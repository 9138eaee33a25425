package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:crm_events,alias:ce"`

	ID              string     `bun:"id,pk"`
	EventType       string     `bun:"event_type,notnull"`
	Payload         string     `bun:"payload,notnull"`
	RelatedObjectID string     `bun:"related_object_id,notnull"`
	HostEventID     *int64     `bun:"host_event_id"`
	UserID          string     `bun:"user_id,notnull"`
	Status          string     `bun:"status,notnull"`
	HTTPStatus      *int       `bun:"http_status"`
	RetryCount      int        `bun:"retry_count,notnull"`
	LastError       string     `bun:"last_error,notnull"`
	ResponseBody    string     `bun:"response_body,notnull"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ModifiedAt      time.Time  `bun:"modified_at,nullzero,notnull,default:current_timestamp"`
	ProcessedAt     *time.Time `bun:"processed_at,nullzero"`
	NextRetryAt     *time.Time `bun:"next_retry_at,nullzero"`
}

type gradeQueueRecord struct {
	bun.BaseModel `bun:"table:crm_grade_queue,alias:cgq"`

	ID              string     `bun:"id,pk"`
	CompositeKey    string     `bun:"composite_key,notnull"`
	GradeID         string     `bun:"grade_id,notnull"`
	StudentID       string     `bun:"student_id,notnull"`
	AssignmentID    string     `bun:"assignment_id,notnull"`
	Attempt         int        `bun:"attempt,notnull"`
	Status          string     `bun:"status,notnull"`
	ZohoRecordID    *string    `bun:"zoho_record_id"`
	ErrorMessage    string     `bun:"error_message,notnull"`
	RetryCount      int        `bun:"retry_count,notnull"`
	NeedsEnrichment bool       `bun:"needs_enrichment,notnull"`
	NeedsRRCheck    bool       `bun:"needs_rr_check,notnull"`
	DeriveCheckedAt *time.Time `bun:"derive_checked_at"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type settingRecord struct {
	bun.BaseModel `bun:"table:crm_settings,alias:cs"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
