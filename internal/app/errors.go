package app

import (
	"errors"

	"github.com/transfa/interbank-service/internal/keys"
	"github.com/transfa/interbank-service/internal/store"
	"github.com/transfa/interbank-service/pkg/bankclient"
	"github.com/transfa/interbank-service/pkg/registryclient"
)

// Error kinds returned by the transfer orchestrators. Callers match them with
// errors.Is and choose the HTTP status from the kind.
var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountNotFound     = errors.New("account not found")
	ErrBankNotFound        = errors.New("bank not found")
	ErrRegistryUnreachable = errors.New("central bank registry unreachable")
	ErrNotRegistered       = errors.New("bank not registered with central bank")
	ErrSignatureInvalid    = errors.New("invalid signature")
	ErrKeyFormat           = errors.New("invalid key format")
	ErrUnsupportedKey      = errors.New("unsupported key")
	ErrTransportFailure    = errors.New("transfer delivery failed")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

var kinds = []error{
	ErrValidation,
	ErrInsufficientFunds,
	ErrAccountNotFound,
	ErrBankNotFound,
	ErrRegistryUnreachable,
	ErrNotRegistered,
	ErrSignatureInvalid,
	ErrKeyFormat,
	ErrUnsupportedKey,
	ErrTransportFailure,
	ErrRateLimited,
}

// Error tags a failure with its kind. Msg is safe to show to the caller; Err
// keeps the underlying cause for logs.
type Error struct {
	Kind error
	Msg  string
	Err  error
	// RetryAfter is the delay in seconds for RateLimited errors.
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

// RetryAfterOf returns the retry delay carried by err, or 0.
func RetryAfterOf(err error) int {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.RetryAfter
	}
	return 0
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the error kind carried by err, or nil for untagged errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return classify(err)
}

// classify maps the sentinels of the store, key and client packages onto an
// error kind.
func classify(err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrAccountInactive):
		return ErrAccountNotFound
	case errors.Is(err, registryclient.ErrBankNotFound):
		return ErrBankNotFound
	case errors.Is(err, registryclient.ErrRegistryUnreachable):
		return ErrRegistryUnreachable
	case errors.Is(err, registryclient.ErrNotRegistered):
		return ErrNotRegistered
	case errors.Is(err, keys.ErrSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, keys.ErrKeyFormat):
		return ErrKeyFormat
	case errors.Is(err, keys.ErrUnsupportedKey):
		return ErrUnsupportedKey
	case errors.Is(err, bankclient.ErrDeliveryFailed), errors.Is(err, bankclient.ErrKeyDiscoveryFailed):
		return ErrTransportFailure
	}
	return nil
}

// tag wraps err with its classified kind. Unclassified errors are returned
// unchanged.
func tag(err error, msg string) error {
	if err == nil {
		return nil
	}
	kind := classify(err)
	if kind == nil {
		return err
	}
	return newError(kind, msg, err)
}
