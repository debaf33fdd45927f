// Package resolver maps an inbound phone-number ID to the owning tenant and
// its decrypted WhatsApp access token.
//
// The hot path runs once per inbound webhook event, so the tenant-id mapping
// is cached with a TTL. The token itself is never cached: every resolution
// re-reads the encrypted token from the store and decrypts it, so revocation
// takes effect immediately while mapping staleness is bounded by the TTL.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vendra-ai/go-agent-backend/internal/domain"
	"github.com/vendra-ai/go-agent-backend/internal/vault"
)

var (
	// ErrNotFound means no active account is connected for the phone-number
	// ID. Expected during onboarding; callers must not retry.
	ErrNotFound = errors.New("resolver: no active account for phone number id")

	// ErrStoreUnavailable wraps transient store failures. Callers may retry.
	ErrStoreUnavailable = errors.New("resolver: store unavailable")
)

// Credentials is the ephemeral result of a resolution. It is never persisted
// and lives for at most one outbound operation.
type Credentials struct {
	TenantID      string
	PhoneNumberID string
	AccessToken   string

	// SubscriptionActive gates outbound sends in production paths.
	SubscriptionActive bool

	// Settings carries the tenant's optional tool configuration so tool
	// executors do not need a second lookup.
	Settings domain.TenantSettings
}

// AccountStore is the persistence contract required by the Resolver.
// Implementations return repo.ErrNotFound-compatible errors via errors.Is
// on gorm.ErrRecordNotFound; any other error is treated as transient.
type AccountStore interface {
	// FindActive scans for the single active account row matching the
	// phone-number ID. Used on cache misses only.
	FindActive(ctx context.Context, phoneNumberID string) (*domain.ChannelAccount, error)

	// FetchToken re-reads the active account row for a known tenant and
	// phone-number ID, primarily for the current encrypted token. Used on
	// cache hits.
	FetchToken(ctx context.Context, tenantID, phoneNumberID string) (*domain.ChannelAccount, error)
}

// Resolver resolves phone-number IDs against the account store. Construct one
// per process; the embedded cache is the only shared mutable state.
type Resolver struct {
	store AccountStore
	vault *vault.Vault
	ttl   time.Duration

	cache *TTLCache
	now   func() time.Time
}

// New constructs a Resolver with its own isolated cache and TTL.
func New(store AccountStore, v *vault.Vault, ttl time.Duration) *Resolver {
	return &Resolver{
		store: store,
		vault: v,
		ttl:   ttl,
		cache: NewTTLCache(),
		now:   time.Now,
	}
}

// Resolve maps a phone-number ID to credentials.
//
// Cache hit or miss, the store is always read once for the current encrypted
// token (and tenant status); the cache only saves the "find the active
// account" scan. Negative results are never cached: a pending account may
// become active between calls.
func (r *Resolver) Resolve(ctx context.Context, phoneNumberID string) (*Credentials, error) {
	tr := otel.Tracer("resolver")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("channel.phone_number_id", phoneNumberID)),
	)
	defer span.End()

	now := r.now()

	if tenantID, ok := r.cache.Get(phoneNumberID, now); ok {
		acc, err := r.store.FetchToken(ctx, tenantID, phoneNumberID)
		switch {
		case err == nil:
			return r.toCredentials(acc)
		case isNotFound(err):
			// Mapping went stale inside the TTL window (disconnect, or
			// reconnect under another tenant). Drop it and fall through
			// to a fresh scan.
			r.cache.Invalidate(phoneNumberID)
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	acc, err := r.store.FindActive(ctx, phoneNumberID)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	r.cache.Set(phoneNumberID, acc.TenantID, now, r.ttl)
	return r.toCredentials(acc)
}

// toCredentials decrypts the stored token and assembles the ephemeral result.
func (r *Resolver) toCredentials(acc *domain.ChannelAccount) (*Credentials, error) {
	token, err := r.vault.Decrypt(acc.AccessTokenEnc)
	if err != nil {
		// vault.ErrCrypto: fatal for this credential, loud on purpose.
		return nil, err
	}
	return &Credentials{
		TenantID:           acc.TenantID,
		PhoneNumberID:      acc.PhoneNumberID,
		AccessToken:        token,
		SubscriptionActive: acc.Tenant.SubscriptionIsActive(),
		Settings:           acc.Tenant.ParseSettings(),
	}, nil
}

// Invalidate drops the cached mapping for one phone-number ID. Called by the
// onboarding flow on connect/disconnect/reconnect.
func (r *Resolver) Invalidate(phoneNumberID string) { r.cache.Invalidate(phoneNumberID) }

// InvalidateAll clears the whole mapping cache.
func (r *Resolver) InvalidateAll() { r.cache.InvalidateAll() }

// CacheLen exposes the cache size for metrics and tests.
func (r *Resolver) CacheLen() int { return r.cache.Len() }

// isNotFound treats gorm's record-not-found sentinel as a definitive miss
// rather than a transient failure.
func isNotFound(err error) bool {
	return err != nil && errors.Is(err, gorm.ErrRecordNotFound)
}
