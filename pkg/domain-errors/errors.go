// Package pkgerrors defines the typed error taxonomy shared by the ledger,
// withdrawal and registry services. Codes classify failures so callers can
// branch on the condition instead of matching message strings.
package pkgerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeBadRequest marks input that fails validation before any state is touched.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound marks a lookup of an entity that does not exist.
	CodeNotFound Code = "not_found"
	// CodeAlreadyDistributed marks an attempt to distribute, attach to, or
	// otherwise mutate a donation that has already left the Pending state.
	CodeAlreadyDistributed Code = "already_distributed"
	// CodeNoEligibleBeneficiaries marks a distribution whose resolved
	// beneficiary set came back empty. The donation stays Pending.
	CodeNoEligibleBeneficiaries Code = "no_eligible_beneficiaries"
	// CodeNotOwned marks a withdrawal attempt against someone else's allocation.
	CodeNotOwned Code = "not_owned"
	// CodeNotYetDistributed marks a withdrawal against an allocation whose
	// parent donation is not Distributed.
	CodeNotYetDistributed Code = "not_yet_distributed"
	// CodeConflict is the optimistic-concurrency retry signal surfaced by the
	// storage layer. The ledger retries these transparently.
	CodeConflict Code = "conflict"
	// CodeTimeout marks a transaction aborted by context cancellation or deadline.
	CodeTimeout Code = "timeout"
	// CodeInternal marks unexpected failures that are defects, not conditions.
	CodeInternal Code = "internal"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
