package crmsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/delivery"
	"github.com/goliatone/go-crmsync/extract"
	"github.com/goliatone/go-crmsync/security"
	sqlstore "github.com/goliatone/go-crmsync/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

// SetupOptions names the concrete pieces Setup composes. Persistence accepts
// a *persistence.Client or a *bun.DB.
type SetupOptions struct {
	Persistence    any
	AppKey         string
	Sources        extract.Sources
	GradeItemCache repositorycache.CacheService
	HTTPDoer       delivery.HTTPDoer
	Hooks          *ExtensionHooks
	Clock          func() time.Time
}

// Runtime is the composed service plus the adapters it was built from.
type Runtime struct {
	Service  *Service
	Facade   *Facade
	Stores   *sqlstore.RepositoryFactory
	Tokens   *security.SealedTokenStore
	Delivery *delivery.Client
}

// ResolveConfig layers defaults, the raw loader values and the runtime config
// and validates the result.
func ResolveConfig(ctx context.Context, runtime Config, loader core.RawConfigLoader) (Config, error) {
	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	resolved, err := core.GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// Setup wires the SQL stores, the sealed token, the webhook client and the LMS
// extractors into one service. Extra options are applied last.
func Setup(cfg Config, setup SetupOptions, opts ...Option) (*Runtime, error) {
	if setup.Persistence == nil {
		return nil, fmt.Errorf("crmsync: persistence client is required")
	}
	if strings.TrimSpace(setup.AppKey) == "" {
		return nil, fmt.Errorf("crmsync: app key is required")
	}

	storeOpts := []sqlstore.StoreOption{}
	if setup.Clock != nil {
		storeOpts = append(storeOpts, sqlstore.WithClock(setup.Clock))
	}
	stores := sqlstore.NewRepositoryFactory(storeOpts...)
	if _, err := stores.BuildStores(setup.Persistence); err != nil {
		return nil, err
	}

	secrets, err := security.NewAppKeySecretProviderFromString(setup.AppKey)
	if err != nil {
		return nil, err
	}
	tokens, err := security.NewSealedTokenStore(stores.SettingsStore(), secrets)
	if err != nil {
		return nil, err
	}

	clientOpts := []delivery.Option{delivery.WithTokenSource(tokens)}
	if setup.HTTPDoer != nil {
		clientOpts = append(clientOpts, delivery.WithHTTPDoer(setup.HTTPDoer))
	}
	client, err := delivery.NewClient(cfg.Delivery, clientOpts...)
	if err != nil {
		return nil, err
	}

	sources := setup.Sources
	if sources.GradeItems != nil && setup.GradeItemCache != nil {
		cached, cacheErr := extract.NewCachedGradeItemSource(sources.GradeItems, setup.GradeItemCache)
		if cacheErr != nil {
			return nil, cacheErr
		}
		sources.GradeItems = cached
	}

	serviceOpts := []Option{
		core.WithRepositoryFactory(stores),
		core.WithPersistenceClient(setup.Persistence),
		core.WithDeliveryClient(client),
		core.WithTokenStore(tokens),
		core.WithExtractors(extract.Extractors(sources)),
	}
	if endpoint := strings.TrimSpace(cfg.Grades.DeriveEndpointURL); endpoint != "" {
		writer, writerErr := delivery.NewDerivedRecordWriter(client, endpoint)
		if writerErr != nil {
			return nil, writerErr
		}
		serviceOpts = append(serviceOpts, core.WithDerivedRecordWriter(writer))
	}
	if setup.Clock != nil {
		serviceOpts = append(serviceOpts, core.WithClock(setup.Clock))
	}
	serviceOpts = append(serviceOpts, setup.Hooks.Options()...)
	serviceOpts = append(serviceOpts, opts...)

	service, err := core.NewService(cfg, serviceOpts...)
	if err != nil {
		return nil, err
	}
	facade, err := NewFacade(service)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Service:  service,
		Facade:   facade,
		Stores:   stores,
		Tokens:   tokens,
		Delivery: client,
	}, nil
}
