package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultAPIKeyHeader carries API keys unless configured otherwise.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey describes a registered key. The key itself is stored only as its
// digest.
type APIKey struct {
	ID        string
	Principal string
	Roles     []string

	// ExpiresAt is zero for keys that never expire.
	ExpiresAt time.Time
}

// KeyStore finds API keys by digest.
type KeyStore interface {
	// Lookup returns the key with digest, or nil when there is none.
	Lookup(ctx context.Context, digest string) (*APIKey, error)
}

// DigestAPIKey returns the hex BLAKE3 digest stores index keys by.
func DigestAPIKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthenticator accepts keys found in a KeyStore.
type APIKeyAuthenticator struct {
	header string
	store  KeyStore
	now    func() time.Time
}

// NewAPIKeyAuthenticator reads keys from header, or DefaultAPIKeyHeader
// when header is empty.
func NewAPIKeyAuthenticator(store KeyStore, header string) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyAuthenticator{header: header, store: store, now: time.Now}
}

// Name returns "api_key".
func (a *APIKeyAuthenticator) Name() string { return "api_key" }

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, h http.Header) (*Identity, error) {
	key := strings.TrimSpace(h.Get(a.header))
	if key == "" {
		return nil, ErrMissingCredentials
	}

	info, err := a.store.Lookup(ctx, DigestAPIKey(key))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: unknown api key", ErrInvalidCredentials)
	}

	id := &Identity{
		Principal: info.Principal,
		Roles:     append([]string(nil), info.Roles...),
		Method:    MethodAPIKey,
		KeyID:     info.ID,
		ExpiresAt: info.ExpiresAt,
	}
	if id.Expired(a.now()) {
		return nil, fmt.Errorf("%w: api key %s", ErrExpired, info.ID)
	}
	return id, nil
}

// MemoryKeyStore is a KeyStore held in memory.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewMemoryKeyStore creates an empty store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]APIKey)}
}

// Add registers key under info, replacing any previous registration.
func (s *MemoryKeyStore) Add(key string, info APIKey) {
	s.mu.Lock()
	s.keys[DigestAPIKey(key)] = info
	s.mu.Unlock()
}

// Remove forgets key.
func (s *MemoryKeyStore) Remove(key string) {
	s.mu.Lock()
	delete(s.keys, DigestAPIKey(key))
	s.mu.Unlock()
}

// Len returns the number of registered keys.
func (s *MemoryKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Lookup implements KeyStore.
func (s *MemoryKeyStore) Lookup(_ context.Context, digest string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.keys[digest]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

var (
	_ Authenticator = (*APIKeyAuthenticator)(nil)
	_ KeyStore      = (*MemoryKeyStore)(nil)
)
