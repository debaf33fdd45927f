package resolver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/domain"
	"github.com/vendra-ai/go-agent-backend/internal/vault"
)

// ---------- test helpers ----------

func newVault(t *testing.T) *vault.Vault {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	v, err := vault.New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

// fakeStore serves accounts keyed by phone-number ID and counts the two
// query kinds separately.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.ChannelAccount

	findActiveCalls atomic.Int64
	fetchTokenCalls atomic.Int64
	failWith        error
}

func (f *fakeStore) FindActive(_ context.Context, phoneNumberID string) (*domain.ChannelAccount, error) {
	f.findActiveCalls.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[phoneNumberID]
	if !ok || acc.Status != domain.AccountActive {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *acc
	return &cp, nil
}

func (f *fakeStore) FetchToken(_ context.Context, tenantID, phoneNumberID string) (*domain.ChannelAccount, error) {
	f.fetchTokenCalls.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[phoneNumberID]
	if !ok || acc.TenantID != tenantID || acc.Status != domain.AccountActive {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *acc
	return &cp, nil
}

func account(t *testing.T, v *vault.Vault, tenantID, phoneNumberID, token string) *domain.ChannelAccount {
	t.Helper()
	enc, err := v.Encrypt(token)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return &domain.ChannelAccount{
		ID:             "acc-" + tenantID,
		TenantID:       tenantID,
		PhoneNumberID:  phoneNumberID,
		AccessTokenEnc: enc,
		Status:         domain.AccountActive,
		Tenant: domain.Tenant{
			ID:                 tenantID,
			SubscriptionStatus: domain.SubscriptionActive,
		},
	}
}

// ---------- tests ----------

func TestResolve_NotFound_NeverCached(t *testing.T) {
	v := newVault(t)
	st := &fakeStore{accounts: map[string]*domain.ChannelAccount{}}
	r := New(st, v, 5*time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "999"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if r.CacheLen() != 0 {
		t.Fatalf("negative result was cached: len=%d", r.CacheLen())
	}
	// Every attempt must hit the store again.
	if got := st.findActiveCalls.Load(); got != 3 {
		t.Fatalf("expected 3 FindActive calls, got %d", got)
	}
}

func TestResolve_CacheHitSkipsActiveScanButRefetchesToken(t *testing.T) {
	v := newVault(t)
	st := &fakeStore{accounts: map[string]*domain.ChannelAccount{
		"100": account(t, v, "tenant-a", "100", "tok-1"),
	}}
	r := New(st, v, 5*time.Minute)
	ctx := context.Background()

	c1, err := r.Resolve(ctx, "100")
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if c1.TenantID != "tenant-a" || c1.AccessToken != "tok-1" {
		t.Fatalf("unexpected creds: %+v", c1)
	}

	// Token rotation must be visible on the next call despite the cache.
	st.mu.Lock()
	st.accounts["100"] = account(t, v, "tenant-a", "100", "tok-2")
	st.mu.Unlock()

	c2, err := r.Resolve(ctx, "100")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if c2.AccessToken != "tok-2" {
		t.Fatalf("stale token served from cache: %q", c2.AccessToken)
	}
	if got := st.findActiveCalls.Load(); got != 1 {
		t.Fatalf("active scan must run once, got %d", got)
	}
	if got := st.fetchTokenCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one token re-fetch, got %d", got)
	}
}

func TestResolve_ExpiredEntryScansAgain(t *testing.T) {
	v := newVault(t)
	st := &fakeStore{accounts: map[string]*domain.ChannelAccount{
		"100": account(t, v, "tenant-a", "100", "tok"),
	}}
	r := New(st, v, time.Minute)

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	if _, err := r.Resolve(context.Background(), "100"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := r.Resolve(context.Background(), "100"); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if got := st.findActiveCalls.Load(); got != 2 {
		t.Fatalf("expected fresh scan after TTL, got %d", got)
	}
}

func TestResolve_StoreUnavailableIsDistinct(t *testing.T) {
	v := newVault(t)
	st := &fakeStore{failWith: errors.New("connection refused")}
	r := New(st, v, time.Minute)

	_, err := r.Resolve(context.Background(), "100")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("store failure must not read as NotFound")
	}
}

func TestResolve_StaleMappingFallsBackToScan(t *testing.T) {
	v := newVault(t)
	st := &fakeStore{accounts: map[string]*domain.ChannelAccount{
		"100": account(t, v, "tenant-a", "100", "tok-a"),
	}}
	r := New(st, v, time.Hour)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "100"); err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	// Reconnect the number under another tenant while the mapping is cached.
	st.mu.Lock()
	st.accounts["100"] = account(t, v, "tenant-b", "100", "tok-b")
	st.mu.Unlock()

	got, err := r.Resolve(ctx, "100")
	if err != nil {
		t.Fatalf("Resolve after reconnection: %v", err)
	}
	if got.TenantID != "tenant-b" || got.AccessToken != "tok-b" {
		t.Fatalf("stale tenant served: %+v", got)
	}
}

func TestResolve_CryptoErrorIsLoud(t *testing.T) {
	v := newVault(t)
	other := newVault(t)
	acc := account(t, other, "tenant-a", "100", "tok") // sealed with a different key
	st := &fakeStore{accounts: map[string]*domain.ChannelAccount{"100": acc}}
	r := New(st, v, time.Minute)

	if _, err := r.Resolve(context.Background(), "100"); !errors.Is(err, vault.ErrCrypto) {
		t.Fatalf("expected vault.ErrCrypto, got %v", err)
	}
}

func TestResolve_ConcurrentTenantsNeverCross(t *testing.T) {
	v := newVault(t)
	st := &fakeStore{accounts: map[string]*domain.ChannelAccount{
		"100": account(t, v, "tenant-a", "100", "tok-a"),
		"200": account(t, v, "tenant-b", "200", "tok-b"),
	}}
	r := New(st, v, time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c, err := r.Resolve(context.Background(), "100")
			if err != nil {
				errs <- err
				return
			}
			if c.TenantID != "tenant-a" || c.AccessToken != "tok-a" {
				errs <- errors.New("wrong credentials for 100")
			}
		}()
		go func() {
			defer wg.Done()
			c, err := r.Resolve(context.Background(), "200")
			if err != nil {
				errs <- err
				return
			}
			if c.TenantID != "tenant-b" || c.AccessToken != "tok-b" {
				errs <- errors.New("wrong credentials for 200")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestInvalidate(t *testing.T) {
	v := newVault(t)
	st := &fakeStore{accounts: map[string]*domain.ChannelAccount{
		"100": account(t, v, "tenant-a", "100", "tok"),
		"200": account(t, v, "tenant-b", "200", "tok"),
	}}
	r := New(st, v, time.Hour)
	ctx := context.Background()

	_, _ = r.Resolve(ctx, "100")
	_, _ = r.Resolve(ctx, "200")
	if r.CacheLen() != 2 {
		t.Fatalf("expected 2 cached mappings, got %d", r.CacheLen())
	}

	r.Invalidate("100")
	if r.CacheLen() != 1 {
		t.Fatalf("expected 1 after Invalidate, got %d", r.CacheLen())
	}
	r.InvalidateAll()
	if r.CacheLen() != 0 {
		t.Fatalf("expected empty after InvalidateAll, got %d", r.CacheLen())
	}
}
