/**
 * @description
 * This file sets up the HTTP router for the interbank service: the public
 * bank-to-bank endpoints, the key discovery endpoint, and the internal API
 * used by the UI collaborator.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the key discovery endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// InternalAPIKey enables the internal API when non-empty.
	InternalAPIKey string
	AllowedOrigins []string
}

// NewRouter creates the service router.
func NewRouter(h *TransactionHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Post("/b2b", h.B2BTransferHandler)

		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: opts.AllowedOrigins,
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
			r.Get("/jwks", h.JWKSHandler)
			r.Options("/jwks", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		})

		if opts.InternalAPIKey == "" {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
			r.Post("/transfers", h.TransferHandler)
			r.Get("/accounts/{accountNumber}", h.GetAccountHandler)
			r.Get("/accounts/{accountNumber}/transactions", h.GetAccountTransactionsHandler)
			r.Get("/{transactionID}", h.GetTransactionByIDHandler)
		})
	})

	return r
}
