/**
 * @description
 * Core domain models for the interbank service: the transaction record that
 * forms the append-only audit trail of every transfer attempt, and the DTOs
 * exchanged with the internal API.
 *
 * @notes
 * - Amounts are decimal.Decimal with two fractional digits; nothing in the
 *   money path uses floating point.
 * - Local account references are account numbers. External identifiers are
 *   kept in separate columns so a record always says which side is ours.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	DirectionInternal = "internal"
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

const (
	MaxExplanationLength  = 256
	MaxErrorMessageLength = 256
	MaxPartyNameLength    = 255
	MinAccountNumberLen   = 3
	MaxAccountNumberLen   = 64
)

// Transaction is one transfer attempt. Status moves from pending to exactly
// one terminal state and never back.
type Transaction struct {
	ID                  string          `json:"transaction_id"`
	Direction           string          `json:"direction"`
	AccountFrom         *string         `json:"account_from,omitempty"`
	AccountTo           *string         `json:"account_to,omitempty"`
	AccountFromExternal *string         `json:"account_from_external,omitempty"`
	AccountToExternal   *string         `json:"account_to_external,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Explanation         string          `json:"explanation"`
	SenderName          string          `json:"sender_name"`
	CounterpartyName    *string         `json:"counterparty_name,omitempty"`
	Status              string          `json:"status"`
	ErrorMessage        *string         `json:"error_message,omitempty"`
	IsInternal          bool            `json:"is_internal"`
	CreatedAt           time.Time       `json:"created_at"`
	DeliveredAt         *time.Time      `json:"delivered_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// Source returns the source account identifier, local or external.
func (t *Transaction) Source() string {
	if t.AccountFrom != nil {
		return *t.AccountFrom
	}
	if t.AccountFromExternal != nil {
		return *t.AccountFromExternal
	}
	return ""
}

// Destination returns the destination account identifier, local or external.
func (t *Transaction) Destination() string {
	if t.AccountTo != nil {
		return *t.AccountTo
	}
	if t.AccountToExternal != nil {
		return *t.AccountToExternal
	}
	return ""
}

func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// TransferRequest is what the UI collaborator submits for an outgoing or
// internal transfer. The source account is already authenticated upstream.
type TransferRequest struct {
	AccountFrom string          `json:"accountFrom"`
	AccountTo   string          `json:"accountTo"`
	Amount      decimal.Decimal `json:"amount"`
	Explanation string          `json:"explanation"`
}

// TransferResult is returned to the UI collaborator.
type TransferResult struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	ReceiverName  string `json:"receiverName,omitempty"`
	Internal      bool   `json:"internal"`
	Error         string `json:"error,omitempty"`
}

// B2BRequest is the body exchanged between banks.
type B2BRequest struct {
	JWT string `json:"jwt"`
}

// B2BResponse is the success body of the bank-to-bank endpoint.
type B2BResponse struct {
	ReceiverName string `json:"receiverName"`
}
