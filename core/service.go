package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service wires the ledger, dispatcher, sweeper and grade queue behind one
// handle for hosts and the admin surface.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	eventLedger       EventLedger
	gradeStore        GradeQueueStore
	deliveryClient    DeliveryClient
	tokenStore        TokenStore
	dispatcher        *Dispatcher
	sweeper           *Sweeper
	gradeQueue        *GradeQueue
	gradeDeriver      *GradeDeriver
	telemetry         telemetry
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	EventLedger       EventLedger
	GradeQueueStore   GradeQueueStore
	DeliveryClient    DeliveryClient
	TokenStore        TokenStore
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("crmsync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("crmsync"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.eventLedger == nil || builder.gradeStore == nil) && builder.repositoryFactory != nil {
		var stores StoreProvider
		switch factory := builder.repositoryFactory.(type) {
		case RepositoryStoreFactory:
			built, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		case StoreProvider:
			stores = factory
		}
		if stores != nil {
			if builder.eventLedger == nil {
				builder.eventLedger = stores.EventLedger()
			}
			if builder.gradeStore == nil {
				builder.gradeStore = stores.GradeQueueStore()
			}
		}
	}
	if builder.eventLedger == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("%w: event ledger", ErrStoreProviderNotAvailable))
	}

	policy := DeliveryPolicy{
		EndpointURL: finalConfig.Delivery.EndpointURL,
		MaxRetries:  finalConfig.Retry.MaxRetries,
		RetryDelay:  finalConfig.Retry.Delay,
	}

	svc := &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		eventLedger:       builder.eventLedger,
		gradeStore:        builder.gradeStore,
		deliveryClient:    builder.deliveryClient,
		tokenStore:        builder.tokenStore,
		telemetry:         newTelemetry(logger, builder.metricsRecorder),
	}

	observers := append([]DeliveryObserver(nil), builder.observers...)
	if builder.gradeStore != nil {
		queue, queueErr := NewGradeQueue(builder.gradeStore, GradeQueueConfig{
			Logger:  logger,
			Metrics: builder.metricsRecorder,
		})
		if queueErr != nil {
			return nil, mapBuildError(builder.errorMapper, queueErr)
		}
		svc.gradeQueue = queue
		observers = append(observers, NewGradeSyncObserver(queue, logger))

		deriver, deriverErr := NewGradeDeriver(queue, builder.derivationPolicy, builder.derivedWriter, GradeDeriverConfig{
			BatchSize: finalConfig.Grades.BatchSize,
			LockTTL:   finalConfig.Retry.ClaimLease,
			Locker:    builder.runLocker,
			Logger:    logger,
			Metrics:   builder.metricsRecorder,
		})
		if deriverErr != nil {
			return nil, mapBuildError(builder.errorMapper, deriverErr)
		}
		svc.gradeDeriver = deriver
	}

	if builder.deliveryClient != nil {
		dispatcher, dispatchErr := NewDispatcher(builder.eventLedger, builder.deliveryClient, builder.extractors, DispatcherConfig{
			Enabled:   finalConfig.IsEnabled(),
			Policy:    policy,
			Logger:    logger,
			Metrics:   builder.metricsRecorder,
			Observers: observers,
			Now:       builder.now,
		})
		if dispatchErr != nil {
			return nil, mapBuildError(builder.errorMapper, dispatchErr)
		}
		svc.dispatcher = dispatcher
	}

	sweeper, err := NewSweeper(builder.eventLedger, builder.deliveryClient, SweeperConfig{
		Policy:        policy,
		BatchSize:     finalConfig.Retry.BatchSize,
		ClaimLease:    finalConfig.Retry.ClaimLease,
		RetentionDays: finalConfig.Retention.Days,
		Locker:        builder.runLocker,
		Logger:        logger,
		Metrics:       builder.metricsRecorder,
		Observers:     observers,
		Now:           builder.now,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	svc.sweeper = sweeper
	return svc, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		EventLedger:       s.eventLedger,
		GradeQueueStore:   s.gradeStore,
		DeliveryClient:    s.deliveryClient,
		TokenStore:        s.tokenStore,
	}
}

func (s *Service) Dispatcher() *Dispatcher {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

func (s *Service) GradeQueue() *GradeQueue {
	if s == nil {
		return nil
	}
	return s.gradeQueue
}

// HandleEvent is the host entry point for a domain event.
func (s *Service) HandleEvent(ctx context.Context, event DomainEvent) (DispatchResult, error) {
	if s == nil || s.dispatcher == nil {
		return DispatchResult{}, s.mapError(fmt.Errorf("core: dispatcher is not configured: %w", ErrDeliveryEndpointMissing))
	}
	result, err := s.dispatcher.Handle(ctx, event)
	return result, s.mapError(err)
}

// RetryEvent redelivers a failed or retrying event. For grade_updated events
// whose queue row is FAILED, call ResetGrade first or the success is not
// recorded on the grade queue.
func (s *Service) RetryEvent(ctx context.Context, id string) (DeliveryResult, error) {
	result, err := s.sweeper.Retry(ctx, id)
	return result, s.mapError(err)
}

func (s *Service) DeleteEvent(ctx context.Context, id string) (err error) {
	startedAt := time.Now()
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "delete_event", err, map[string]any{"event_id": id})
	}()
	id = strings.TrimSpace(id)
	if id == "" {
		return s.mapError(fmt.Errorf("core: event id is required"))
	}
	return s.mapError(s.eventLedger.Delete(ctx, id))
}

func (s *Service) CleanupEvents(ctx context.Context) (int, error) {
	deleted, err := s.sweeper.Cleanup(ctx)
	return deleted, s.mapError(err)
}

func (s *Service) Sweep(ctx context.Context) (SweepStats, error) {
	stats, err := s.sweeper.Sweep(ctx)
	return stats, s.mapError(err)
}

func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	event, err := s.eventLedger.Get(ctx, strings.TrimSpace(id))
	return event, s.mapError(err)
}

func (s *Service) ListEvents(ctx context.Context, filter EventFilter) (EventPage, error) {
	page, err := s.eventLedger.List(ctx, filter)
	return page, s.mapError(err)
}

func (s *Service) EventStats(ctx context.Context) (EventStats, error) {
	stats, err := s.eventLedger.Stats(ctx)
	return stats, s.mapError(err)
}

// ResetGrade moves a FAILED grade row back to PENDING.
func (s *Service) ResetGrade(ctx context.Context, compositeKey string) (record GradeQueueRecord, err error) {
	if s.gradeQueue == nil {
		return GradeQueueRecord{}, s.mapError(fmt.Errorf("%w: grade queue", ErrStoreProviderNotAvailable))
	}
	startedAt := time.Now()
	defer func() {
		s.telemetry.observeOperation(ctx, startedAt, "reset_grade", err, map[string]any{"composite_key": compositeKey})
	}()
	record, err = s.gradeQueue.Reset(ctx, compositeKey)
	return record, s.mapError(err)
}

func (s *Service) DeriveGrades(ctx context.Context, limit int) (DerivationStats, error) {
	if s.gradeDeriver == nil {
		return DerivationStats{}, s.mapError(ErrDerivationNotConfigured)
	}
	stats, err := s.gradeDeriver.Run(ctx, limit)
	return stats, s.mapError(err)
}

func (s *Service) ListGrades(ctx context.Context, filter GradeQueueFilter) (GradeQueuePage, error) {
	if s.gradeQueue == nil {
		return GradeQueuePage{}, s.mapError(fmt.Errorf("%w: grade queue", ErrStoreProviderNotAvailable))
	}
	page, err := s.gradeQueue.List(ctx, filter)
	return page, s.mapError(err)
}

func (s *Service) SetToken(ctx context.Context, token string) error {
	if s.tokenStore == nil {
		return s.mapError(ErrTokenStoreNotConfigured)
	}
	return s.mapError(s.tokenStore.Set(ctx, token))
}

func (s *Service) MaskedToken(ctx context.Context) (string, error) {
	if s.tokenStore == nil {
		return "", s.mapError(ErrTokenStoreNotConfigured)
	}
	masked, err := s.tokenStore.Masked(ctx)
	return masked, s.mapError(err)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}
