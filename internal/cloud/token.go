package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CredentialStore persists credentials between runs. The database layer
// implements it; tests use an in-memory map.
type CredentialStore interface {
	Load(ctx context.Context, provider Provider) (Credential, error)
	Save(ctx context.Context, cred Credential) error
}

// RefreshFunc performs one provider refresh call, dispatching on
// cred.Provider.
type RefreshFunc func(ctx context.Context, cred Credential) (Credential, error)

// TokenStore hands out live access tokens, refreshing lazily. Refreshes are
// serialized per provider: two concurrent uploads to the same provider
// cannot race to refresh the same credential, while distinct providers never
// block each other.
type TokenStore struct {
	persist CredentialStore
	refresh RefreshFunc
	now     func() time.Time

	mu    sync.Mutex
	locks map[Provider]*sync.Mutex
}

func NewTokenStore(persist CredentialStore, refresh RefreshFunc) *TokenStore {
	return &TokenStore{
		persist: persist,
		refresh: refresh,
		now:     time.Now,
		locks:   make(map[Provider]*sync.Mutex),
	}
}

// EnsureValid returns a credential whose access token is usable right now.
// A credential is refreshed if and only if its expiry is unset or already
// reached; a still-valid token is returned untouched with zero provider
// calls. The refreshed credential is persisted before it is returned.
func (s *TokenStore) EnsureValid(ctx context.Context, provider Provider) (Credential, error) {
	lock := s.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	cred, err := s.persist.Load(ctx, provider)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: loading %s credential: %v", ErrToken, provider, err)
	}
	if !s.expired(cred) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return Credential{}, fmt.Errorf("%w: %s access token expired and no refresh token is stored", ErrToken, provider)
	}

	refreshed, err := s.refresh(ctx, cred)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: refreshing %s: %v", ErrToken, provider, err)
	}
	refreshed.Provider = provider
	if refreshed.RefreshToken == "" {
		// Provider does not rotate refresh tokens; keep the stored one.
		refreshed.RefreshToken = cred.RefreshToken
	}
	if err := s.persist.Save(ctx, refreshed); err != nil {
		return Credential{}, fmt.Errorf("%w: persisting refreshed %s credential: %v", ErrToken, provider, err)
	}
	log.Info().Str("provider", string(provider)).Time("expiry", refreshed.Expiry).Msg("Refreshed cloud credential")
	return refreshed, nil
}

func (s *TokenStore) expired(cred Credential) bool {
	return cred.Expiry.IsZero() || !s.now().Before(cred.Expiry)
}

func (s *TokenStore) providerLock(provider Provider) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[provider]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[provider] = lock
	}
	return lock
}
