package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Extractor turns a host object into the flat event_data payload. A false
// return means the object is not applicable and no ledger row is written.
type Extractor interface {
	Extract(ctx context.Context, objectID string) (Payload, bool, error)
}

type ExtractorFunc func(ctx context.Context, objectID string) (Payload, bool, error)

func (fn ExtractorFunc) Extract(ctx context.Context, objectID string) (Payload, bool, error) {
	return fn(ctx, objectID)
}

// EventLedger is the durable write-ahead record of every delivery attempt.
type EventLedger interface {
	Record(ctx context.Context, in RecordInput) (string, error)
	Get(ctx context.Context, id string) (Event, error)
	MarkSent(ctx context.Context, id string, httpStatus int) error
	MarkFailed(ctx context.Context, id string, in FailureInput) error
	MarkRetrying(ctx context.Context, id string, nextRetryAt time.Time) error
	Claim(ctx context.Context, in ClaimInput) (Event, bool, error)
	ListRetryable(ctx context.Context, filter RetryableFilter) ([]Event, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Event, error)
	List(ctx context.Context, filter EventFilter) (EventPage, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (EventStats, error)
}

type GradeQueueStore interface {
	Get(ctx context.Context, compositeKey string) (GradeQueueRecord, error)
	Insert(ctx context.Context, record GradeQueueRecord) (GradeQueueRecord, bool, error)
	Transition(ctx context.Context, compositeKey string, transition GradeTransition) (GradeQueueRecord, error)
	List(ctx context.Context, filter GradeQueueFilter) (GradeQueuePage, error)
	// ListForDerivation returns flagged PENDING rows, never-checked rows first
	// and then by the oldest derivation check.
	ListForDerivation(ctx context.Context, limit int) ([]GradeQueueRecord, error)
	// MarkDeriveChecked stamps a PENDING row evaluated without a decision so
	// the next scan moves past it.
	MarkDeriveChecked(ctx context.Context, compositeKey string) error
}

type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key string, value string) error
}

type StoreProvider interface {
	EventLedger() EventLedger
	GradeQueueStore() GradeQueueStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// DeliveryClient performs exactly one POST per call. Retry scheduling belongs
// to the caller.
type DeliveryClient interface {
	Deliver(ctx context.Context, req DeliveryRequest) (DeliveryResponse, error)
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenStore interface {
	TokenSource
	Set(ctx context.Context, token string) error
	Masked(ctx context.Context) (string, error)
}

type DeliveryObserver interface {
	OnDelivery(ctx context.Context, event Event, result DeliveryResult)
}

type DeliveryObserverFunc func(ctx context.Context, event Event, result DeliveryResult)

func (fn DeliveryObserverFunc) OnDelivery(ctx context.Context, event Event, result DeliveryResult) {
	fn(ctx, event, result)
}

type RunLock interface {
	Unlock(ctx context.Context) error
}

// RunLocker guards a periodic job across processes. A false return means
// another holder owns the key.
type RunLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (RunLock, bool, error)
}

type DerivationPolicy interface {
	Decide(ctx context.Context, record GradeQueueRecord) (DerivationDecision, error)
}

type DerivedRecordWriter interface {
	CreateDerived(ctx context.Context, record GradeQueueRecord, decision DerivationDecision) (string, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// AdminService is the operator surface exposed through commands and queries.
type AdminService interface {
	RetryEvent(ctx context.Context, id string) (DeliveryResult, error)
	DeleteEvent(ctx context.Context, id string) error
	CleanupEvents(ctx context.Context) (int, error)
	Sweep(ctx context.Context) (SweepStats, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, filter EventFilter) (EventPage, error)
	EventStats(ctx context.Context) (EventStats, error)
	ResetGrade(ctx context.Context, compositeKey string) (GradeQueueRecord, error)
	DeriveGrades(ctx context.Context, limit int) (DerivationStats, error)
	ListGrades(ctx context.Context, filter GradeQueueFilter) (GradeQueuePage, error)
	SetToken(ctx context.Context, token string) error
	MaskedToken(ctx context.Context) (string, error)
}
