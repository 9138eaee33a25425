package sqlstore

import "time"

type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the timestamp source used for created_at, modified_at
// and retry comparisons.
func WithClock(now func() time.Time) StoreOption {
	return func(opts *storeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func resolveStoreOptions(opts []StoreOption) storeOptions {
	settings := storeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if settings.now == nil {
		settings.now = func() time.Time { return time.Now().UTC() }
	}
	base := settings.now
	settings.now = func() time.Time { return base().UTC() }
	return settings
}
