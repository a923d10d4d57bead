/**
 * @description
 * This package provides the client side of the bank-to-bank protocol: it
 * delivers signed transfer tokens to a foreign bank's transaction endpoint
 * and fetches a foreign bank's published signing keys.
 *
 * @dependencies
 * - internal/keys: JWKS wire types.
 */
package bankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/interbank-service/internal/keys"
)

const maxResponseBytes = 1 << 20

var (
	ErrDeliveryFailed     = errors.New("transfer delivery failed")
	ErrKeyDiscoveryFailed = errors.New("key discovery failed")
)

// RemoteError is a non-200 answer from a foreign bank.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("foreign bank returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("foreign bank returned status %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error { return ErrDeliveryFailed }

// Client talks to foreign banks.
type Client struct {
	HTTPClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client whose every call is bounded by timeout. A nil
// logger falls back to slog.Default().
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "bank_client"),
	}
}

// Deliver posts {"jwt": token} to transactionURL and returns the receiver
// name from a 200 response.
func (c *Client) Deliver(ctx context.Context, transactionURL, token string) (string, error) {
	body, err := json.Marshal(map[string]string{"jwt": token})
	if err != nil {
		return "", fmt.Errorf("failed to marshal delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, transactionURL, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("%w: invalid transaction url: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrDeliveryFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		remote := &RemoteError{StatusCode: resp.StatusCode, Message: errorMessage(bodyBytes)}
		c.logger.WarnContext(ctx, "foreign bank rejected transfer", "op", "deliver", "status", resp.StatusCode, "detail", remote.Message)
		return "", remote
	}

	var success struct {
		ReceiverName string `json:"receiverName"`
	}
	if err := json.Unmarshal(bodyBytes, &success); err != nil {
		return "", fmt.Errorf("%w: malformed response body: %v", ErrDeliveryFailed, err)
	}
	name := strings.TrimSpace(success.ReceiverName)
	if name == "" {
		return "", fmt.Errorf("%w: response missing receiverName", ErrDeliveryFailed)
	}
	return name, nil
}

// FetchJWKS downloads a foreign bank's key set.
func (c *Client) FetchJWKS(ctx context.Context, jwksURL string) (keys.JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return keys.JWKS{}, fmt.Errorf("%w: invalid jwks url: %v", ErrKeyDiscoveryFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return keys.JWKS{}, fmt.Errorf("%w: %v", ErrKeyDiscoveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(ctx, "key set fetch failed", "op", "fetch_jwks", "status", resp.StatusCode, "url", jwksURL)
		return keys.JWKS{}, fmt.Errorf("%w: status %d", ErrKeyDiscoveryFailed, resp.StatusCode)
	}

	var set keys.JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&set); err != nil {
		return keys.JWKS{}, fmt.Errorf("%w: failed to decode key set: %v", ErrKeyDiscoveryFailed, err)
	}
	return set, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
