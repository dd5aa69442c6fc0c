package registry

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure identifiers exposed by the
// registry. The string values are stable and appear verbatim in HTTP
// error responses and CLI diagnostics.
type ErrorKind string

const (
	// Contract parsing and validation.
	KindMalformedJSON ErrorKind = "MalformedJson"
	KindUnknownField  ErrorKind = "UnknownField"
	KindMissingField  ErrorKind = "MissingField"
	KindBadVersion    ErrorKind = "BadVersion"
	KindBadPubkey     ErrorKind = "BadPubkey"
	KindBadName       ErrorKind = "BadName"
	KindBadTicker     ErrorKind = "BadTicker"
	KindBadDomain     ErrorKind = "BadDomain"
	KindBadPrecision  ErrorKind = "BadPrecision"
	KindHashMismatch  ErrorKind = "HashMismatch"

	// Database state.
	KindAlreadyExists ErrorKind = "AlreadyExists"
	KindTickerTaken   ErrorKind = "TickerTaken"
	KindNotFound      ErrorKind = "NotFound"

	// Chain verification.
	KindChainUnavailable     ErrorKind = "ChainUnavailable"
	KindAssetNotFound        ErrorKind = "AssetNotFound"
	KindUnconfirmed          ErrorKind = "Unconfirmed"
	KindContractHashMismatch ErrorKind = "ContractHashMismatch"

	// Domain ownership proof.
	KindProofUnavailable ErrorKind = "ProofUnavailable"
	KindProofMismatch    ErrorKind = "ProofMismatch"

	// Deletion signatures.
	KindMalformedSignature     ErrorKind = "MalformedSignature"
	KindSignatureDoesNotVerify ErrorKind = "SignatureDoesNotVerify"

	// Internal.
	KindHookFailed ErrorKind = "HookFailed"
	KindIoError    ErrorKind = "IoError"
)

// Error is a classified registry failure. Verifiers surface their kind
// unchanged; nothing in the pipeline catches and rewrites it.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a free-form detail message.
func New(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf returns a classified error with a formatted detail message.
func Newf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, preserving it for the cause chain.
func Wrap(kind ErrorKind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the error kind, or KindIoError for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIoError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
