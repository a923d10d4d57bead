/**
 * @description
 * Bank identity bootstrap. The persisted bank_settings row and the runtime
 * configuration are folded into one BankIdentity value at startup, and that
 * value is handed to every component that needs to know who this bank is.
 *
 * @dependencies
 * - internal/keys: key generation and PEM parsing.
 * - internal/config: advertised URLs, key id and registry location.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/transfa/interbank-service/internal/config"
	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/internal/keys"
	"github.com/transfa/interbank-service/internal/store"
	"github.com/transfa/interbank-service/pkg/registryclient"
)

var (
	ErrKeysExist         = errors.New("signing keys already exist")
	ErrAlreadyRegistered = errors.New("bank is already registered")
)

// BankIdentity is this bank as seen by the transfer protocol.
type BankIdentity struct {
	Name           string
	Prefix         string
	APIKey         string
	KeyID          string
	TransactionURL string
	JWKSURL        string
	RegistryURL    string
	Keys           *keys.KeyPair
}

// OwnsAccount reports whether accountNumber carries this bank's prefix.
func (b *BankIdentity) OwnsAccount(accountNumber string) bool {
	return b.Prefix != "" && domain.BankPrefixOf(accountNumber) == b.Prefix
}

func (b *BankIdentity) IsRegistered() bool {
	return b.Prefix != "" && b.APIKey != ""
}

// JWKS publishes the verification key. It fails when no key material is
// loaded.
func (b *BankIdentity) JWKS() (keys.JWKS, error) {
	if b.Keys == nil || b.Keys.Public == nil {
		return keys.JWKS{}, newError(ErrKeyFormat, "Bank keys not configured", nil)
	}
	return keys.PublicKeyToJWKS(b.Keys.Public, b.KeyID), nil
}

// LoadBankIdentity reads bank_settings and overlays the configured URLs and
// key id. Missing settings or keys are not an error.
func LoadBankIdentity(ctx context.Context, repo store.Repository, cfg config.Config) (*BankIdentity, error) {
	settings, err := loadSettings(ctx, repo)
	if err != nil {
		return nil, err
	}

	identity := &BankIdentity{
		Name:           firstNonEmpty(cfg.BankName, settings.BankName),
		Prefix:         settings.BankPrefix,
		APIKey:         settings.APIKey,
		KeyID:          firstNonEmpty(cfg.JWTKeyID, settings.KeyID, "1"),
		TransactionURL: cfg.TransactionURL(),
		JWKSURL:        cfg.JWKSURL(),
		RegistryURL:    firstNonEmpty(cfg.CentralBankURL, settings.RegistryURL),
	}

	if settings.HasKeys() {
		pair, err := keys.ParseKeyPairPEM(settings.PrivateKeyPEM, settings.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load bank keys: %w", err)
		}
		identity.Keys = pair
	}
	return identity, nil
}

// GenerateKeys creates and stores a new signing key pair. Existing keys are
// kept unless force is set.
func GenerateKeys(ctx context.Context, repo store.Repository, keyID string, force bool) (*domain.BankSettings, error) {
	settings, err := loadSettings(ctx, repo)
	if err != nil {
		return nil, err
	}
	if settings.HasKeys() && !force {
		return nil, ErrKeysExist
	}

	pair, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	privatePEM, err := pair.PrivatePEM()
	if err != nil {
		return nil, err
	}
	publicPEM, err := pair.PublicPEM()
	if err != nil {
		return nil, err
	}

	settings.PrivateKeyPEM = privatePEM
	settings.PublicKeyPEM = publicPEM
	settings.KeyID = firstNonEmpty(keyID, settings.KeyID, "1")
	settings.UpdatedAt = time.Now().UTC()
	if err := repo.SaveBankSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save bank keys: %w", err)
	}
	return settings, nil
}

// RegisterBank registers this bank with the central registry and persists the
// issued prefix and API key. The registry does not deduplicate, so an already
// registered bank is refused unless force is set.
func RegisterBank(ctx context.Context, repo store.Repository, registry Registry, cfg config.Config, ownerInfo string, force bool) (*domain.BankSettings, error) {
	if strings.TrimSpace(cfg.BankName) == "" {
		return nil, newError(ErrValidation, "BANK_NAME is required to register", nil)
	}
	settings, err := loadSettings(ctx, repo)
	if err != nil {
		return nil, err
	}
	if settings.IsRegistered() && !force {
		return nil, ErrAlreadyRegistered
	}

	creds, err := registry.Register(ctx, registryclient.Registration{
		BankName:       cfg.BankName,
		TransactionURL: cfg.TransactionURL(),
		JWKSURL:        cfg.JWKSURL(),
		OwnerInfo:      firstNonEmpty(ownerInfo, cfg.OwnerInfo),
	})
	if err != nil {
		return nil, tag(err, "Registration with central bank failed")
	}
	if len(creds.BankPrefix) != domain.BankPrefixLength || creds.APIKey == "" {
		return nil, newError(ErrRegistryUnreachable, "Registry returned incomplete credentials", nil)
	}

	settings.BankName = cfg.BankName
	settings.BankPrefix = creds.BankPrefix
	settings.APIKey = creds.APIKey
	settings.TransactionURL = cfg.TransactionURL()
	settings.JWKSURL = cfg.JWKSURL()
	settings.RegistryURL = cfg.CentralBankURL
	settings.UpdatedAt = time.Now().UTC()
	if err := repo.SaveBankSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save registration: %w", err)
	}
	return settings, nil
}

func loadSettings(ctx context.Context, repo store.Repository) (*domain.BankSettings, error) {
	settings, err := repo.GetBankSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSettingsNotFound) {
			return &domain.BankSettings{}, nil
		}
		return nil, fmt.Errorf("failed to load bank settings: %w", err)
	}
	return settings, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
