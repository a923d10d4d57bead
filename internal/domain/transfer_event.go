package domain

import "time"

const (
	EventTransferCompleted = "transfer.completed"
	EventTransferFailed    = "transfer.failed"
	EventTransferReceived  = "transfer.received"
)

// TransferEvent is published after a transfer reaches a terminal state.
type TransferEvent struct {
	TransactionID    string    `json:"transactionId"`
	Direction        string    `json:"direction"`
	Status           string    `json:"status"`
	AccountFrom      string    `json:"accountFrom"`
	AccountTo        string    `json:"accountTo"`
	Amount           string    `json:"amount"`
	Currency         string    `json:"currency"`
	CounterpartyName string    `json:"counterpartyName,omitempty"`
	Error            string    `json:"error,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// NewTransferEvent snapshots a transaction record for publishing.
func NewTransferEvent(tx *Transaction) TransferEvent {
	event := TransferEvent{
		TransactionID: tx.ID,
		Direction:     tx.Direction,
		Status:        tx.Status,
		AccountFrom:   tx.Source(),
		AccountTo:     tx.Destination(),
		Amount:        tx.Amount.StringFixed(2),
		Currency:      tx.Currency,
		OccurredAt:    time.Now().UTC(),
	}
	if tx.CounterpartyName != nil {
		event.CounterpartyName = *tx.CounterpartyName
	}
	if tx.ErrorMessage != nil {
		event.Error = *tx.ErrorMessage
	}
	return event
}
