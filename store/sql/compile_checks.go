package sqlstore

import "github.com/goliatone/go-crmsync/core"

var (
	_ core.EventLedger            = (*EventLedgerStore)(nil)
	_ core.GradeQueueStore        = (*GradeQueueStore)(nil)
	_ core.SettingsStore          = (*SettingsStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
