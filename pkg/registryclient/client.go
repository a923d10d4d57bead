/**
 * @description
 * This package provides a client for the central bank registry. The registry
 * issues bank prefixes and API keys, and resolves a prefix to the bank's
 * transaction delivery and key discovery endpoints.
 *
 * @notes
 * - No call is retried here. Callers decide what a failure means for the
 *   transfer in flight.
 */
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotRegistered       = errors.New("bank is not registered with the central registry")
	ErrBankNotFound        = errors.New("bank not found in registry")
	ErrRegistryUnreachable = errors.New("central registry unreachable")
)

// Registration is the self-description sent when registering this bank.
type Registration struct {
	BankName       string `json:"bank_name"`
	TransactionURL string `json:"transaction_url"`
	JWKSURL        string `json:"jwks_url"`
	OwnerInfo      string `json:"owner_info"`
}

// Credentials are issued by the registry on registration.
type Credentials struct {
	BankPrefix string `json:"bank_prefix"`
	APIKey     string `json:"api_key"`
}

// BankDetails is the routing metadata of a bank.
type BankDetails struct {
	BankName       string `json:"bank_name"`
	TransactionURL string `json:"transaction_url"`
	JWKSURL        string `json:"jwks_url"`
}

// Client is an HTTP client for the central registry.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// NewClient creates a registry client. apiKey may be empty until Register
// has been called.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetAPIKey replaces the key used for authenticated lookups.
func (c *Client) SetAPIKey(apiKey string) {
	c.mu.Lock()
	c.apiKey = strings.TrimSpace(apiKey)
	c.mu.Unlock()
}

func (c *Client) currentAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Register performs the one-time self registration. On success the client
// adopts the issued API key; persisting the credentials is up to the caller.
func (c *Client) Register(ctx context.Context, reg Registration) (*Credentials, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: registry base url is empty", ErrRegistryUnreachable)
	}

	body, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: registry returned status %d", ErrRegistryUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("registry rejected registration with status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
	}

	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrRegistryUnreachable, err)
	}
	creds.BankPrefix = strings.TrimSpace(creds.BankPrefix)
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	if creds.BankPrefix == "" || creds.APIKey == "" {
		return nil, fmt.Errorf("%w: registration response missing bank_prefix or api_key", ErrRegistryUnreachable)
	}

	c.SetAPIKey(creds.APIKey)
	return &creds, nil
}

// LookupBank resolves a bank prefix to its routing metadata.
func (c *Client) LookupBank(ctx context.Context, prefix string) (*BankDetails, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty prefix", ErrBankNotFound)
	}
	apiKey := c.currentAPIKey()
	if apiKey == "" {
		return nil, ErrNotRegistered
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: registry base url is empty", ErrRegistryUnreachable)
	}

	endpoint := fmt.Sprintf("%s/banks/%s", c.baseURL, url.PathEscape(prefix))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrBankNotFound, prefix)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: registry returned status %d", ErrNotRegistered, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: registry returned status %d", ErrRegistryUnreachable, resp.StatusCode)
	}

	var details BankDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrRegistryUnreachable, err)
	}
	if strings.TrimSpace(details.TransactionURL) == "" || strings.TrimSpace(details.JWKSURL) == "" {
		return nil, fmt.Errorf("%w: bank %s has no endpoints registered", ErrBankNotFound, prefix)
	}
	return &details, nil
}

// ValidateBank reports whether LookupBank succeeds for prefix. Advisory only.
func (c *Client) ValidateBank(ctx context.Context, prefix string) bool {
	_, err := c.LookupBank(ctx, prefix)
	return err == nil
}

func readErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}
