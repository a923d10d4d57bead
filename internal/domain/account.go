package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SupportedCurrencies lists the currencies accounts may be opened in.
var SupportedCurrencies = []string{"EUR", "USD", "GBP"}

const DefaultCurrency = "EUR"

// User owns accounts. FullName is the display name shown to counterparties.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a local bank account. Number starts with the bank prefix.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"account_number"`
	UserID    uuid.UUID       `json:"user_id"`
	OwnerName string          `json:"owner_name"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

func IsSupportedCurrency(code string) bool {
	for _, c := range SupportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// BankPrefixOf returns the routing prefix of an account identifier.
func BankPrefixOf(accountNumber string) string {
	if len(accountNumber) < BankPrefixLength {
		return ""
	}
	return accountNumber[:BankPrefixLength]
}
