package registryclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory registry with the same contract as Client.
type Fake struct {
	mu          sync.Mutex
	banks       map[string]BankDetails
	registered  bool
	unreachable bool
	next        int
	lookups     int
}

// NewFake returns a fake that already treats the caller as registered.
func NewFake() *Fake {
	return &Fake{banks: make(map[string]BankDetails), registered: true}
}

// AddBank makes prefix resolvable.
func (f *Fake) AddBank(prefix string, details BankDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banks[prefix] = details
}

// SetRegistered toggles whether lookups are authorized.
func (f *Fake) SetRegistered(registered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = registered
}

// SetUnreachable makes every call fail with ErrRegistryUnreachable.
func (f *Fake) SetUnreachable(unreachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = unreachable
}

// Lookups counts LookupBank calls.
func (f *Fake) Lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *Fake) Register(ctx context.Context, reg Registration) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable {
		return nil, ErrRegistryUnreachable
	}

	f.next++
	prefix := fmt.Sprintf("F%02d", f.next)
	f.banks[prefix] = BankDetails{BankName: reg.BankName, TransactionURL: reg.TransactionURL, JWKSURL: reg.JWKSURL}
	f.registered = true
	return &Credentials{BankPrefix: prefix, APIKey: "fake-key-" + prefix}, nil
}

func (f *Fake) LookupBank(ctx context.Context, prefix string) (*BankDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.unreachable {
		return nil, ErrRegistryUnreachable
	}
	if !f.registered {
		return nil, ErrNotRegistered
	}
	details, ok := f.banks[strings.TrimSpace(prefix)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBankNotFound, prefix)
	}
	return &details, nil
}

func (f *Fake) ValidateBank(ctx context.Context, prefix string) bool {
	_, err := f.LookupBank(ctx, prefix)
	return err == nil
}
