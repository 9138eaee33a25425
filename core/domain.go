package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEventNotFound             = errors.New("core: event not found")
	ErrInvalidEventTransition    = errors.New("core: invalid event status transition")
	ErrEventNotCleanupEligible   = errors.New("core: event is not eligible for cleanup")
	ErrEventClaimConflict        = errors.New("core: event claimed by another worker")
	ErrUnknownEventType          = errors.New("core: unknown event type")
	ErrGradeRecordNotFound       = errors.New("core: grade queue record not found")
	ErrInvalidGradeTransition    = errors.New("core: invalid grade queue status transition")
	ErrInvalidGradeCompositeKey  = errors.New("core: invalid grade composite key")
	ErrDeliveryEndpointMissing   = errors.New("core: delivery endpoint url is not configured")
	ErrDerivationNotConfigured   = errors.New("core: grade derivation is not configured")
	ErrTokenStoreNotConfigured   = errors.New("core: token store is not configured")
	ErrStoreProviderNotAvailable = errors.New("core: store provider is not available")
)

type EventType string

const (
	EventUserCreated       EventType = "user_created"
	EventUserUpdated       EventType = "user_updated"
	EventUserDeleted       EventType = "user_deleted"
	EventEnrollmentCreated EventType = "enrollment_created"
	EventEnrollmentDeleted EventType = "enrollment_deleted"
	EventGradeUpdated      EventType = "grade_updated"
	EventSubmissionCreated EventType = "submission_created"
)

var eventTypes = []EventType{
	EventUserCreated,
	EventUserUpdated,
	EventUserDeleted,
	EventEnrollmentCreated,
	EventEnrollmentDeleted,
	EventGradeUpdated,
	EventSubmissionCreated,
}

// EventTypes returns the closed set of event kinds the dispatcher routes.
func EventTypes() []EventType {
	return append([]EventType(nil), eventTypes...)
}

func (t EventType) Valid() bool {
	for _, known := range eventTypes {
		if t == known {
			return true
		}
	}
	return false
}

func ParseEventType(value string) (EventType, error) {
	candidate := EventType(strings.TrimSpace(strings.ToLower(value)))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, value)
	}
	return candidate, nil
}

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusRetrying   EventStatus = "retrying"
	EventStatusProcessing EventStatus = "processing"
	EventStatusSent       EventStatus = "sent"
	EventStatusFailed     EventStatus = "failed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPending, EventStatusRetrying, EventStatusProcessing, EventStatusSent, EventStatusFailed:
		return true
	default:
		return false
	}
}

func (s EventStatus) Terminal() bool {
	return s == EventStatusSent
}

// Event is one ledger row: a single domain occurrence destined for the CRM.
type Event struct {
	ID              string
	EventType       EventType
	Payload         []byte
	RelatedObjectID string
	HostEventID     *int64
	UserID          string
	Status          EventStatus
	HTTPStatus      *int
	RetryCount      int
	LastError       string
	ResponseBody    string
	CreatedAt       time.Time
	ModifiedAt      time.Time
	ProcessedAt     *time.Time
	NextRetryAt     *time.Time
}

type RecordInput struct {
	EventType       EventType
	Payload         []byte
	RelatedObjectID string
	HostEventID     *int64
	UserID          string
}

func (in RecordInput) Validate() error {
	if !in.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, in.EventType)
	}
	if len(in.Payload) == 0 {
		return fmt.Errorf("core: event payload is required")
	}
	return nil
}

// FailureInput settles a failed attempt. A zero NextRetryAt leaves the row
// failed; a non-zero value schedules it as retrying.
type FailureInput struct {
	HTTPStatus   *int
	Cause        error
	ResponseBody string
	NextRetryAt  time.Time
}

type ClaimInput struct {
	ID                 string
	ExpectedStatus     EventStatus
	ExpectedRetryCount int
}

type RetryableFilter struct {
	MaxRetries int
	Now        time.Time
	Limit      int
}

type EventFilter struct {
	Status    EventStatus
	EventType EventType
	From      *time.Time
	To        *time.Time
	Text      string
	Page      int
	PerPage   int
}

type EventPage struct {
	Items      []Event
	Page       int
	PerPage    int
	Total      int
	HasNext    bool
	NextCursor string
}

type EventStats struct {
	Counts map[EventStatus]int
	Total  int
}

// DomainEvent is what the host hands the dispatcher when something happens.
type DomainEvent struct {
	Type        EventType
	ObjectID    string
	RelatedID   string
	UserID      string
	HostEventID *int64
}

func (e DomainEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if strings.TrimSpace(e.ObjectID) == "" {
		return fmt.Errorf("core: domain event object id is required")
	}
	return nil
}

// Payload is the flat, serializable event_data sent to the CRM backend.
type Payload map[string]any

type DispatchState string

const (
	DispatchStateSkipped  DispatchState = "skipped"
	DispatchStateSent     DispatchState = "sent"
	DispatchStateRetrying DispatchState = "retrying"
	DispatchStateFailed   DispatchState = "failed"
	DispatchStateDisabled DispatchState = "disabled"
)

type DispatchResult struct {
	EventID    string
	State      DispatchState
	StatusCode int
	Reason     string
}

type DeliveryRequest struct {
	URL     string
	Body    []byte
	Headers map[string]string
}

type DeliveryResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

type DeliveryOutcome string

const (
	DeliveryOutcomeSent      DeliveryOutcome = "sent"
	DeliveryOutcomeRetryable DeliveryOutcome = "retryable"
	DeliveryOutcomeTerminal  DeliveryOutcome = "terminal"
)

type DeliveryResult struct {
	EventID    string
	Outcome    DeliveryOutcome
	Status     EventStatus
	StatusCode int
	Body       []byte
	Attempt    int
	Err        error
}

type SweepStats struct {
	Skipped   bool
	Recovered int
	Claimed   int
	Contended int
	Sent      int
	Retrying  int
	Failed    int
}

type GradeStatus string

const (
	GradeStatusPending   GradeStatus = "PENDING"
	GradeStatusSynced    GradeStatus = "SYNCED"
	GradeStatusFailed    GradeStatus = "FAILED"
	GradeStatusFCreated  GradeStatus = "F_CREATED"
	GradeStatusRRCreated GradeStatus = "RR_CREATED"
)

func (s GradeStatus) Valid() bool {
	switch s {
	case GradeStatusPending, GradeStatusSynced, GradeStatusFailed, GradeStatusFCreated, GradeStatusRRCreated:
		return true
	default:
		return false
	}
}

// TerminalSuccess reports the variants that mean the CRM holds a record.
func (s GradeStatus) TerminalSuccess() bool {
	return s == GradeStatusSynced || s == GradeStatusFCreated || s == GradeStatusRRCreated
}

type GradeQueueRecord struct {
	ID              string
	CompositeKey    string
	GradeID         string
	StudentID       string
	AssignmentID    string
	Attempt         int
	Status          GradeStatus
	ZohoRecordID    string
	ErrorMessage    string
	RetryCount      int
	NeedsEnrichment bool
	NeedsRRCheck    bool
	DeriveCheckedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type GradeSyncInput struct {
	GradeID      string
	StudentID    string
	AssignmentID string
	Attempt      int
	ZohoRecordID string
}

func (in GradeSyncInput) CompositeKey() (string, error) {
	return GradeCompositeKey(in.StudentID, in.AssignmentID, in.Attempt)
}

type GradeFlags struct {
	NeedsEnrichment bool
	NeedsRRCheck    bool
}

// GradeTransition is a single-row compare-and-set update on the grade queue.
type GradeTransition struct {
	From           []GradeStatus
	To             GradeStatus
	GradeID        string
	ZohoRecordID   string
	ErrorMessage   *string
	IncrementRetry bool
	ResetRetry     bool
	ClearFlags     bool
}

type GradeQueueFilter struct {
	Status       GradeStatus
	StudentID    string
	AssignmentID string
	Page         int
	PerPage      int
}

type GradeQueuePage struct {
	Items   []GradeQueueRecord
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

// GradeCompositeKey builds the natural key that keeps one active row per
// student, assignment and attempt.
func GradeCompositeKey(studentID, assignmentID string, attempt int) (string, error) {
	studentID = strings.TrimSpace(studentID)
	assignmentID = strings.TrimSpace(assignmentID)
	if studentID == "" || assignmentID == "" {
		return "", fmt.Errorf("%w: student id and assignment id are required", ErrInvalidGradeCompositeKey)
	}
	if attempt < 0 {
		return "", fmt.Errorf("%w: attempt must be >= 0", ErrInvalidGradeCompositeKey)
	}
	return fmt.Sprintf("%s:%s:%d", studentID, assignmentID, attempt), nil
}

type DerivationAction string

const (
	DerivationNone     DerivationAction = "none"
	DerivationFail     DerivationAction = "fail"
	DerivationReferral DerivationAction = "referral"
)

type DerivationDecision struct {
	Action DerivationAction
	Reason string
}

type DerivationStats struct {
	Scanned   int
	Skipped   int
	FCreated  int
	RRCreated int
	Failed    int
}
