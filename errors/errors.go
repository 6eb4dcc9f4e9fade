// Package errors defines the failure taxonomy shared by the gallery packages.
//
// Every chain, wallet and decryption failure is wrapped into an *Error that
// carries the operation name and one of the sentinel kinds below, so callers
// can classify it with errors.Is and render it with Message.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Provider / network errors
	ErrProviderAbsent     = errors.New("no wallet provider detected")
	ErrWrongNetwork       = errors.New("wrong network")
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// Chain errors
	ErrReadFailed  = errors.New("contract read failed")
	ErrWriteFailed = errors.New("transaction failed")

	// Decryption errors
	ErrDecryptFailed = errors.New("decryption failed")
	ErrNoData        = errors.New("no encrypted data to decrypt")

	// Local errors
	ErrBusy       = errors.New("another action is still pending")
	ErrValidation = errors.New("invalid input")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Error is a classified failure of a named operation.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WrapError classifies err as kind for the operation op. A nil err yields a
// bare classified error so that local rejections share the same shape.
func WrapError(op string, kind error, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrapf is WrapError with a formatted cause.
func Wrapf(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsProviderError reports wallet/provider and network selection failures.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderAbsent) ||
		errors.Is(err, ErrWrongNetwork) ||
		errors.Is(err, ErrUnsupportedNetwork)
}

func IsReadError(err error) bool {
	return errors.Is(err, ErrReadFailed)
}

func IsWriteError(err error) bool {
	return errors.Is(err, ErrWriteFailed)
}

func IsDecryptError(err error) bool {
	return errors.Is(err, ErrDecryptFailed) || errors.Is(err, ErrNoData)
}

// IsLocalRejection reports failures decided before any network call.
func IsLocalRejection(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrValidation)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// rpcCoder matches JSON-RPC errors returned by go-ethereum's rpc client.
type rpcCoder interface {
	ErrorCode() int
}

// UserRejectedCode is the EIP-1193 code for a request the user declined.
const UserRejectedCode = 4001

// RPCCode returns the JSON-RPC error code carried by err, or 0.
func RPCCode(err error) int {
	var coder rpcCoder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return 0
}

// IsUserRejection reports a wallet request the user declined.
func IsUserRejection(err error) bool {
	return RPCCode(err) == UserRejectedCode
}

// Message renders err as the status line shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBusy) {
		return "Another action is still pending, please wait"
	}

	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}

	cause := e.Kind.Error()
	if e.Err != nil {
		cause = e.Err.Error()
	}
	if IsUserRejection(err) {
		cause = "request rejected in wallet"
	}
	if errors.Is(err, ErrNoData) {
		return "No encrypted data to decrypt yet"
	}
	return fmt.Sprintf("%s failed: %s", capitalize(e.Op), cause)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
