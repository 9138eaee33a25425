package crmsync

import "github.com/goliatone/go-crmsync/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type DomainEvent = core.DomainEvent

type DispatchResult = core.DispatchResult

type EventType = core.EventType

const (
	EventUserCreated       = core.EventUserCreated
	EventUserUpdated       = core.EventUserUpdated
	EventUserDeleted       = core.EventUserDeleted
	EventEnrollmentCreated = core.EventEnrollmentCreated
	EventEnrollmentDeleted = core.EventEnrollmentDeleted
	EventGradeUpdated      = core.EventGradeUpdated
	EventSubmissionCreated = core.EventSubmissionCreated
)

var (
	WithLogger              = core.WithLogger
	WithLoggerProvider      = core.WithLoggerProvider
	WithMetricsRecorder     = core.WithMetricsRecorder
	WithErrorFactory        = core.WithErrorFactory
	WithErrorMapper         = core.WithErrorMapper
	WithPersistenceClient   = core.WithPersistenceClient
	WithRepositoryFactory   = core.WithRepositoryFactory
	WithConfigProvider      = core.WithConfigProvider
	WithOptionsResolver     = core.WithOptionsResolver
	WithEventLedger         = core.WithEventLedger
	WithGradeQueueStore     = core.WithGradeQueueStore
	WithDeliveryClient      = core.WithDeliveryClient
	WithTokenStore          = core.WithTokenStore
	WithExtractor           = core.WithExtractor
	WithExtractors          = core.WithExtractors
	WithDeliveryObserver    = core.WithDeliveryObserver
	WithRunLocker           = core.WithRunLocker
	WithDerivationPolicy    = core.WithDerivationPolicy
	WithDerivedRecordWriter = core.WithDerivedRecordWriter
	WithClock               = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
