// Package errors defines the failure taxonomy shared by the ingestion pipeline,
// the store and the reconciliation engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind string

const (
	// KindDecode: malformed inbound bytes or JSON. Dropped and logged.
	KindDecode Kind = "decode"
	// KindValidation: a normalized record violates storage constraints.
	KindValidation Kind = "validation"
	// KindConnectivity: store or ledger unreachable.
	KindConnectivity Kind = "connectivity"
	// KindComputation: EMC model undefined for the given inputs.
	KindComputation Kind = "computation"
	// KindTransport: broker level disconnects.
	KindTransport Kind = "transport"
)

// Error is a classified failure. The wrapped error is kept for logging and
// errors.Is/As chains.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// HTTPStatus maps the error kind to the status code an HTTP caller should see.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindDecode, KindValidation:
		return http.StatusBadRequest
	case KindConnectivity, KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, err: err}
}

// NewDecodeError creates a new decode error
func NewDecodeError(msg string, err error) *Error { return newError(KindDecode, msg, err) }

// NewValidationError creates a new validation error
func NewValidationError(msg string, err error) *Error { return newError(KindValidation, msg, err) }

// NewConnectivityError creates a new connectivity error
func NewConnectivityError(msg string, err error) *Error {
	return newError(KindConnectivity, msg, err)
}

// NewComputationError creates a new computation error
func NewComputationError(msg string, err error) *Error {
	return newError(KindComputation, msg, err)
}

// NewTransportError creates a new transport error
func NewTransportError(msg string, err error) *Error { return newError(KindTransport, msg, err) }

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsDecode(err error) bool       { return KindOf(err) == KindDecode }
func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsConnectivity(err error) bool { return KindOf(err) == KindConnectivity }
func IsComputation(err error) bool  { return KindOf(err) == KindComputation }
func IsTransport(err error) bool    { return KindOf(err) == KindTransport }
