package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/interbank-service/internal/domain"
)

// TransferClaims is the signed body of a bank-to-bank transfer. Field order
// fixes the serialized payload.
type TransferClaims struct {
	AccountFrom string      `json:"accountFrom"`
	AccountTo   string      `json:"accountTo"`
	Currency    string      `json:"currency"`
	Amount      json.Number `json:"amount"`
	Explanation string      `json:"explanation"`
	SenderName  string      `json:"senderName"`
	jwt.RegisteredClaims
}

func newTransferClaims(tx *domain.Transaction) *TransferClaims {
	return &TransferClaims{
		AccountFrom: tx.Source(),
		AccountTo:   tx.Destination(),
		Currency:    tx.Currency,
		Amount:      json.Number(tx.Amount.StringFixed(2)),
		Explanation: tx.Explanation,
		SenderName:  tx.SenderName,
	}
}

// ParsedAmount returns the claimed amount as a decimal.
func (c *TransferClaims) ParsedAmount() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.Amount.String())
	if raw == "" {
		return decimal.Zero, newError(ErrValidation, "Missing amount", nil)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, newError(ErrValidation, "Invalid amount", err)
	}
	return amount, nil
}

var minimumAmount = decimal.New(1, -2)

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return newError(ErrValidation, "Amount must be positive", nil)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return newError(ErrValidation, "Amount must have at most two decimal places", nil)
	}
	if amount.LessThan(minimumAmount) {
		return newError(ErrValidation, "Amount must be at least 0.01", nil)
	}
	return nil
}

func validateExplanation(explanation string) error {
	if utf8.RuneCountInString(explanation) > domain.MaxExplanationLength {
		return newError(ErrValidation, fmt.Sprintf("Explanation must be at most %d characters", domain.MaxExplanationLength), nil)
	}
	return nil
}

func validateAccountIdentifier(field, value string) error {
	n := utf8.RuneCountInString(value)
	if n < domain.MinAccountNumberLen || n > domain.MaxAccountNumberLen {
		return newError(ErrValidation, fmt.Sprintf("%s must be between %d and %d characters", field, domain.MinAccountNumberLen, domain.MaxAccountNumberLen), nil)
	}
	return nil
}
