package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-crmsync/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db   *bun.DB
	opts []StoreOption

	eventLedger     *EventLedgerStore
	gradeQueueStore *GradeQueueStore
	settingsStore   *SettingsStore
}

func NewRepositoryFactory(opts ...StoreOption) *RepositoryFactory {
	return &RepositoryFactory{opts: append([]StoreOption(nil), opts...)}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...StoreOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...StoreOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.eventLedger != nil && f.gradeQueueStore != nil && f.settingsStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) EventLedger() core.EventLedger {
	if f == nil || f.eventLedger == nil {
		return nil
	}
	return f.eventLedger
}

func (f *RepositoryFactory) GradeQueueStore() core.GradeQueueStore {
	if f == nil || f.gradeQueueStore == nil {
		return nil
	}
	return f.gradeQueueStore
}

func (f *RepositoryFactory) SettingsStore() core.SettingsStore {
	if f == nil || f.settingsStore == nil {
		return nil
	}
	return f.settingsStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	eventLedger, err := NewEventLedgerStore(f.db, f.opts...)
	if err != nil {
		return err
	}
	gradeQueueStore, err := NewGradeQueueStore(f.db, f.opts...)
	if err != nil {
		return err
	}
	settingsStore, err := NewSettingsStore(f.db, f.opts...)
	if err != nil {
		return err
	}
	f.eventLedger = eventLedger
	f.gradeQueueStore = gradeQueueStore
	f.settingsStore = settingsStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
