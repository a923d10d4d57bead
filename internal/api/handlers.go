/**
 * @description
 * This file contains the HTTP handlers for the interbank service. Handlers
 * parse requests, call the transfer orchestrators or the ledger, and map
 * tagged application errors onto HTTP status codes.
 *
 * @dependencies
 * - internal/app: orchestrators, ledger, bank identity and error kinds.
 * - github.com/go-chi/chi/v5: URL parameters.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/interbank-service/internal/app"
	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/internal/store"
)

const maxRequestBodyBytes = 64 << 10

// TransactionHandlers holds the application components the handlers use.
type TransactionHandlers struct {
	identity *app.BankIdentity
	outgoing *app.OutgoingTransferOrchestrator
	incoming *app.IncomingTransferReceiver
	ledger   *app.Ledger
	limiter  *app.SenderLimiter
	logger   *slog.Logger
}

// NewTransactionHandlers creates a new instance of TransactionHandlers.
func NewTransactionHandlers(
	identity *app.BankIdentity,
	outgoing *app.OutgoingTransferOrchestrator,
	incoming *app.IncomingTransferReceiver,
	ledger *app.Ledger,
	limiter *app.SenderLimiter,
	logger *slog.Logger,
) *TransactionHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionHandlers{
		identity: identity,
		outgoing: outgoing,
		incoming: incoming,
		ledger:   ledger,
		limiter:  limiter,
		logger:   logger.With("component", "api"),
	}
}

// B2BTransferHandler accepts a signed transfer from a foreign bank.
func (h *TransactionHandlers) B2BTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.B2BRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// The claimed sender is unverified here, so only the caller's address is charged.
	addr := remoteHost(r)
	if err := h.limiter.AllowAddress(r.Context(), addr); err != nil {
		h.logger.Warn("b2b request rate limited", "endpoint", "b2b", "outcome", "reject", "remote_addr", addr)
		h.writeAppError(w, err, true)
		return
	}

	result, err := h.incoming.Receive(r.Context(), req.JWT)
	if err != nil {
		h.writeAppError(w, err, true)
		return
	}
	h.writeJSON(w, http.StatusOK, domain.B2BResponse{ReceiverName: result.ReceiverName})
}

// JWKSHandler publishes this bank's verification key.
func (h *TransactionHandlers) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	set, err := h.identity.JWKS()
	if err != nil {
		h.logger.Error("jwks requested without key material", "endpoint", "jwks")
		h.writeError(w, http.StatusInternalServerError, "Bank keys not configured")
		return
	}
	h.writeJSON(w, http.StatusOK, set)
}

// TransferHandler starts a transfer on behalf of the UI collaborator.
func (h *TransactionHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.outgoing.Transfer(r.Context(), req)
	if err != nil {
		h.writeAppError(w, err, false)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetAccountHandler returns one local account.
func (h *TransactionHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.Account(r.Context(), chi.URLParam(r, "accountNumber"))
	if err != nil {
		h.writeAppError(w, err, false)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// GetAccountTransactionsHandler returns the history of one account.
func (h *TransactionHandlers) GetAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	transactions, err := h.ledger.Transactions(r.Context(), chi.URLParam(r, "accountNumber"), limit, offset)
	if err != nil {
		h.writeAppError(w, err, false)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// GetTransactionByIDHandler returns one transaction record.
func (h *TransactionHandlers) GetTransactionByIDHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionID"))
	if transactionID == "" {
		h.writeError(w, http.StatusBadRequest, "Transaction ID is required")
		return
	}

	tx, err := h.ledger.Transaction(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.logger.Error("failed to load transaction", "endpoint", "get_transaction", "transaction_id", transactionID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// statusForError maps an error kind to an HTTP status. A few kinds answer
// differently depending on whether this bank is receiving or sending.
func statusForError(err error, incoming bool) int {
	switch app.KindOf(err) {
	case app.ErrValidation:
		return http.StatusBadRequest
	case app.ErrInsufficientFunds:
		return http.StatusPaymentRequired
	case app.ErrAccountNotFound:
		return http.StatusNotFound
	case app.ErrBankNotFound:
		if incoming {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case app.ErrRegistryUnreachable, app.ErrTransportFailure:
		return http.StatusBadGateway
	case app.ErrNotRegistered:
		if incoming {
			return http.StatusInternalServerError
		}
		return http.StatusBadGateway
	case app.ErrSignatureInvalid, app.ErrKeyFormat, app.ErrUnsupportedKey:
		if incoming {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case app.ErrRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (h *TransactionHandlers) writeAppError(w http.ResponseWriter, err error, incoming bool) {
	status := statusForError(err, incoming)
	if retryAfter := app.RetryAfterOf(err); retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	if app.KindOf(err) == nil {
		h.logger.Error("request failed", "incoming", incoming, "error", err)
		h.writeError(w, status, "Internal server error")
		return
	}
	h.writeError(w, status, err.Error())
}

// writeJSON is a helper for writing JSON responses.
func (h *TransactionHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TransactionHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// remoteHost strips the port from the connection address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer")
	}
	return value, nil
}
