package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/interbank-service/pkg/registryclient"
)

type mapBankCache struct {
	entries map[string]registryclient.BankDetails
	err     error
	sets    int
}

func newMapBankCache() *mapBankCache {
	return &mapBankCache{entries: make(map[string]registryclient.BankDetails)}
}

func (c *mapBankCache) GetBank(ctx context.Context, prefix string) (*registryclient.BankDetails, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	details, ok := c.entries[prefix]
	if !ok {
		return nil, false, nil
	}
	return &details, true, nil
}

func (c *mapBankCache) SetBank(ctx context.Context, prefix string, details *registryclient.BankDetails, ttl time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.sets++
	c.entries[prefix] = *details
	return nil
}

func TestCachedRegistry_ServesRepeatLookupsFromCache(t *testing.T) {
	fake := registryclient.NewFake()
	fake.AddBank("EXT", registryclient.BankDetails{BankName: "External", TransactionURL: "http://ext/b2b", JWKSURL: "http://ext/jwks"})
	cache := newMapBankCache()
	registry := NewCachedRegistry(fake, cache, time.Minute, discardLogger())

	for i := 0; i < 3; i++ {
		details, err := registry.LookupBank(context.Background(), "EXT")
		if err != nil {
			t.Fatalf("LookupBank() error = %v", err)
		}
		if details.TransactionURL != "http://ext/b2b" {
			t.Fatalf("unexpected details %+v", details)
		}
	}
	if fake.Lookups() != 1 {
		t.Fatalf("expected one registry call, got %d", fake.Lookups())
	}
}

func TestCachedRegistry_DoesNotCacheFailures(t *testing.T) {
	fake := registryclient.NewFake()
	cache := newMapBankCache()
	registry := NewCachedRegistry(fake, cache, time.Minute, discardLogger())

	if _, err := registry.LookupBank(context.Background(), "NOP"); !errors.Is(err, registryclient.ErrBankNotFound) {
		t.Fatalf("expected bank not found, got %v", err)
	}
	if registry.ValidateBank(context.Background(), "NOP") {
		t.Fatal("expected unknown bank to be invalid")
	}
	if cache.sets != 0 || fake.Lookups() != 2 {
		t.Fatalf("expected no cache writes and two lookups, got sets=%d lookups=%d", cache.sets, fake.Lookups())
	}
}

func TestCachedRegistry_CacheErrorsFallThrough(t *testing.T) {
	fake := registryclient.NewFake()
	fake.AddBank("EXT", registryclient.BankDetails{BankName: "External", TransactionURL: "http://ext/b2b", JWKSURL: "http://ext/jwks"})
	cache := newMapBankCache()
	cache.err = errors.New("connection refused")
	registry := NewCachedRegistry(fake, cache, time.Minute, discardLogger())

	if !registry.ValidateBank(context.Background(), "EXT") {
		t.Fatal("expected lookup to succeed despite cache failure")
	}
}
