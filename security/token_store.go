package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-crmsync/core"
)

const (
	DefaultTokenSettingKey = "delivery.token"
	MaskedTokenValue       = "****"
)

type TokenStoreOption func(*SealedTokenStore)

// WithSettingKey overrides the settings row that holds the sealed token.
func WithSettingKey(key string) TokenStoreOption {
	return func(store *SealedTokenStore) {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			store.key = trimmed
		}
	}
}

// SealedTokenStore keeps the delivery bearer token sealed in the settings
// table. Only Token returns the plaintext.
type SealedTokenStore struct {
	settings core.SettingsStore
	secrets  core.SecretProvider
	key      string
}

func NewSealedTokenStore(
	settings core.SettingsStore,
	secrets core.SecretProvider,
	opts ...TokenStoreOption,
) (*SealedTokenStore, error) {
	if settings == nil {
		return nil, fmt.Errorf("security: settings store is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("security: secret provider is required")
	}
	store := &SealedTokenStore{settings: settings, secrets: secrets, key: DefaultTokenSettingKey}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Token returns the plaintext token or "" when none is configured.
func (s *SealedTokenStore) Token(ctx context.Context) (string, error) {
	sealed, ok, err := s.settings.Get(ctx, s.key)
	if err != nil {
		return "", fmt.Errorf("security: read token: %w", err)
	}
	if !ok || strings.TrimSpace(sealed) == "" {
		return "", nil
	}
	plaintext, err := s.secrets.Decrypt(ctx, []byte(sealed))
	if err != nil {
		return "", fmt.Errorf("security: open token: %w", err)
	}
	return string(plaintext), nil
}

// Set seals and stores the token. An empty token clears it.
func (s *SealedTokenStore) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.settings.Put(ctx, s.key, "")
	}
	sealed, err := s.secrets.Encrypt(ctx, []byte(token))
	if err != nil {
		return fmt.Errorf("security: seal token: %w", err)
	}
	return s.settings.Put(ctx, s.key, string(sealed))
}

func (s *SealedTokenStore) Masked(ctx context.Context) (string, error) {
	sealed, ok, err := s.settings.Get(ctx, s.key)
	if err != nil {
		return "", fmt.Errorf("security: read token: %w", err)
	}
	if !ok || strings.TrimSpace(sealed) == "" {
		return "", nil
	}
	return MaskedTokenValue, nil
}

// StaticTokenSource serves a token fixed at startup, typically from the
// environment.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

var (
	_ core.TokenStore  = (*SealedTokenStore)(nil)
	_ core.TokenSource = StaticTokenSource("")
)
