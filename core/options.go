package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
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
	extractors        map[EventType]Extractor
	observers         []DeliveryObserver
	runLocker         RunLocker
	derivationPolicy  DerivationPolicy
	derivedWriter     DerivedRecordWriter
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts either a RepositoryStoreFactory or a
// StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithEventLedger(ledger EventLedger) Option {
	return func(b *serviceBuilder) {
		b.eventLedger = ledger
	}
}

func WithGradeQueueStore(store GradeQueueStore) Option {
	return func(b *serviceBuilder) {
		b.gradeStore = store
	}
}

func WithDeliveryClient(client DeliveryClient) Option {
	return func(b *serviceBuilder) {
		b.deliveryClient = client
	}
}

func WithTokenStore(store TokenStore) Option {
	return func(b *serviceBuilder) {
		b.tokenStore = store
	}
}

func WithExtractor(eventType EventType, extractor Extractor) Option {
	return func(b *serviceBuilder) {
		if b.extractors == nil {
			b.extractors = map[EventType]Extractor{}
		}
		b.extractors[eventType] = extractor
	}
}

func WithExtractors(extractors map[EventType]Extractor) Option {
	return func(b *serviceBuilder) {
		for eventType, extractor := range extractors {
			WithExtractor(eventType, extractor)(b)
		}
	}
}

func WithDeliveryObserver(observer DeliveryObserver) Option {
	return func(b *serviceBuilder) {
		if observer != nil {
			b.observers = append(b.observers, observer)
		}
	}
}

func WithRunLocker(locker RunLocker) Option {
	return func(b *serviceBuilder) {
		b.runLocker = locker
	}
}

func WithDerivationPolicy(policy DerivationPolicy) Option {
	return func(b *serviceBuilder) {
		b.derivationPolicy = policy
	}
}

func WithDerivedRecordWriter(writer DerivedRecordWriter) Option {
	return func(b *serviceBuilder) {
		b.derivedWriter = writer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("crmsync", nil, nil)
	return serviceBuilder{
		runtimeConfig:    runtime,
		loggerProvider:   loggerProvider,
		logger:           logger,
		metricsRecorder:  NopMetricsRecorder{},
		errorFactory:     goerrors.New,
		errorMapper:      defaultErrorMapper,
		configProvider:   NewCfgxConfigProvider(nil),
		optionsResolver:  GoOptionsResolver{},
		derivationPolicy: FlagDerivationPolicy{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw map, typically parsed from env vars.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap drops zero values unless includeZero is set, so partial
// runtime configs only override what they name.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if cfg.Enabled != nil {
		layer["enabled"] = *cfg.Enabled
	}

	delivery := map[string]any{}
	putString(delivery, "endpoint_url", cfg.Delivery.EndpointURL, includeZero)
	putDuration(delivery, "connect_timeout", cfg.Delivery.ConnectTimeout, includeZero)
	putDuration(delivery, "request_timeout", cfg.Delivery.RequestTimeout, includeZero)
	if includeZero || cfg.Delivery.InsecureSkipVerify {
		delivery["insecure_skip_verify"] = cfg.Delivery.InsecureSkipVerify
	}
	breaker := map[string]any{}
	if includeZero || cfg.Delivery.Breaker.Enabled {
		breaker["enabled"] = cfg.Delivery.Breaker.Enabled
	}
	if includeZero || cfg.Delivery.Breaker.MaxFailures > 0 {
		breaker["max_failures"] = cfg.Delivery.Breaker.MaxFailures
	}
	putDuration(breaker, "open_timeout", cfg.Delivery.Breaker.OpenTimeout, includeZero)
	putSection(delivery, "breaker", breaker)
	putSection(layer, "delivery", delivery)

	retry := map[string]any{}
	putInt(retry, "max_retries", cfg.Retry.MaxRetries, includeZero)
	putDuration(retry, "delay", cfg.Retry.Delay, includeZero)
	putInt(retry, "batch_size", cfg.Retry.BatchSize, includeZero)
	putDuration(retry, "claim_lease", cfg.Retry.ClaimLease, includeZero)
	putSection(layer, "retry", retry)

	retention := map[string]any{}
	putInt(retention, "days", cfg.Retention.Days, includeZero)
	putSection(layer, "retention", retention)

	grades := map[string]any{}
	putInt(grades, "batch_size", cfg.Grades.BatchSize, includeZero)
	putString(grades, "derive_endpoint_url", cfg.Grades.DeriveEndpointURL, includeZero)
	putSection(layer, "grades", grades)

	schedule := map[string]any{}
	putString(schedule, "sweep", cfg.Schedule.Sweep, includeZero)
	putString(schedule, "cleanup", cfg.Schedule.Cleanup, includeZero)
	putString(schedule, "derive", cfg.Schedule.Derive, includeZero)
	putSection(layer, "schedule", schedule)
	return layer
}

func putString(section map[string]any, key, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		section[key] = value
	}
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putDuration(section map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}
