package domain

import "time"

// BankPrefixLength is the number of leading account number characters that
// identify the owning bank.
const BankPrefixLength = 3

// BankSettings is the persisted identity of this bank: registry credentials,
// advertised endpoints and signing keys.
type BankSettings struct {
	BankName       string    `json:"bank_name"`
	BankPrefix     string    `json:"bank_prefix"`
	APIKey         string    `json:"-"`
	TransactionURL string    `json:"transaction_url"`
	JWKSURL        string    `json:"jwks_url"`
	RegistryURL    string    `json:"registry_url"`
	KeyID          string    `json:"key_id"`
	PrivateKeyPEM  string    `json:"-"`
	PublicKeyPEM   string    `json:"public_key_pem,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *BankSettings) IsRegistered() bool {
	return s.BankPrefix != "" && s.APIKey != ""
}

func (s *BankSettings) HasKeys() bool {
	return s.PrivateKeyPEM != ""
}
