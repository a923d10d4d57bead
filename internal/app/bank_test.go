package app

import (
	"context"
	"errors"
	"testing"

	"github.com/transfa/interbank-service/internal/config"
	"github.com/transfa/interbank-service/internal/store"
	"github.com/transfa/interbank-service/pkg/registryclient"
)

func newEmptyRepository(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLiteRepository(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testConfig() config.Config {
	return config.Config{
		BankName:       "Test Bank",
		PublicBaseURL:  "http://bank.test",
		CentralBankURL: "http://registry.test",
		JWTKeyID:       "1",
	}
}

func TestLoadBankIdentity_WithoutSettings(t *testing.T) {
	repo := newEmptyRepository(t)

	identity, err := LoadBankIdentity(context.Background(), repo, testConfig())
	if err != nil {
		t.Fatalf("LoadBankIdentity() error = %v", err)
	}
	if identity.Prefix != "" || identity.IsRegistered() || identity.Keys != nil {
		t.Fatalf("expected empty identity, got %+v", identity)
	}
	if identity.TransactionURL != "http://bank.test/transactions/b2b" || identity.JWKSURL != "http://bank.test/transactions/jwks" {
		t.Fatalf("unexpected advertised urls %+v", identity)
	}
	if _, err := identity.JWKS(); !errors.Is(err, ErrKeyFormat) {
		t.Fatalf("expected key format error without keys, got %v", err)
	}
	if identity.OwnsAccount("BNK1111") {
		t.Fatal("identity without prefix must not own any account")
	}
}

func TestGenerateKeys(t *testing.T) {
	repo := newEmptyRepository(t)
	ctx := context.Background()

	first, err := GenerateKeys(ctx, repo, "1", false)
	if err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}
	if _, err := GenerateKeys(ctx, repo, "1", false); !errors.Is(err, ErrKeysExist) {
		t.Fatalf("expected existing keys to be kept, got %v", err)
	}
	second, err := GenerateKeys(ctx, repo, "1", true)
	if err != nil {
		t.Fatalf("GenerateKeys(force) error = %v", err)
	}
	if first.PublicKeyPEM == second.PublicKeyPEM {
		t.Fatal("expected forced generation to replace the key")
	}

	identity, err := LoadBankIdentity(ctx, repo, testConfig())
	if err != nil {
		t.Fatalf("LoadBankIdentity() error = %v", err)
	}
	set, err := identity.JWKS()
	if err != nil {
		t.Fatalf("JWKS() error = %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0].Kid != "1" {
		t.Fatalf("unexpected key set %+v", set)
	}
}

func TestRegisterBank(t *testing.T) {
	repo := newEmptyRepository(t)
	ctx := context.Background()
	registry := registryclient.NewFake()

	settings, err := RegisterBank(ctx, repo, registry, testConfig(), "ops@bank.test", false)
	if err != nil {
		t.Fatalf("RegisterBank() error = %v", err)
	}
	if settings.BankPrefix != "F01" || settings.APIKey == "" {
		t.Fatalf("unexpected credentials %+v", settings)
	}

	details, err := registry.LookupBank(ctx, "F01")
	if err != nil {
		t.Fatalf("LookupBank() error = %v", err)
	}
	if details.TransactionURL != "http://bank.test/transactions/b2b" || details.JWKSURL != "http://bank.test/transactions/jwks" {
		t.Fatalf("unexpected registered urls %+v", details)
	}

	identity, err := LoadBankIdentity(ctx, repo, testConfig())
	if err != nil {
		t.Fatalf("LoadBankIdentity() error = %v", err)
	}
	if !identity.IsRegistered() || !identity.OwnsAccount("F01abc") {
		t.Fatalf("expected registered identity, got %+v", identity)
	}

	if _, err := RegisterBank(ctx, repo, registry, testConfig(), "", false); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected second registration refused, got %v", err)
	}
}

func TestRegisterBank_Failures(t *testing.T) {
	repo := newEmptyRepository(t)
	ctx := context.Background()
	registry := registryclient.NewFake()

	cfg := testConfig()
	cfg.BankName = ""
	if _, err := RegisterBank(ctx, repo, registry, cfg, "", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without bank name, got %v", err)
	}

	registry.SetUnreachable(true)
	if _, err := RegisterBank(ctx, repo, registry, testConfig(), "", false); !errors.Is(err, ErrRegistryUnreachable) {
		t.Fatalf("expected registry unreachable, got %v", err)
	}
}
