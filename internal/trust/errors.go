package trust

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors. Codes are stable strings so callers
// (and the transaction log) can match on them without string-parsing messages.
type ErrorCode string

const (
	// ErrCodeInvalidAttribute indicates a score outside [0,1] or a
	// propagated status with an empty inheritance chain.
	ErrCodeInvalidAttribute ErrorCode = "INVALID_ATTRIBUTE"

	// ErrCodeEntityNotFound indicates the referenced entity is not registered.
	ErrCodeEntityNotFound ErrorCode = "ENTITY_NOT_FOUND"

	// ErrCodeEntityExists indicates a registration collided with an existing id.
	ErrCodeEntityExists ErrorCode = "ENTITY_EXISTS"

	// ErrCodeCycleDetected indicates the edge would create a cycle,
	// including the self-inheritance case.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// ErrCodeLockTimeout indicates a bounded lock acquisition expired.
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	// ErrCodeTransactionNotFound indicates an unknown transaction id.
	ErrCodeTransactionNotFound ErrorCode = "TRANSACTION_NOT_FOUND"

	// ErrCodeInvalidTransactionState indicates a transition the transaction
	// state machine does not permit (e.g. executing a completed transaction).
	ErrCodeInvalidTransactionState ErrorCode = "INVALID_TRANSACTION_STATE"

	// ErrCodeBoundaryNotFound indicates an unknown boundary id.
	ErrCodeBoundaryNotFound ErrorCode = "BOUNDARY_NOT_FOUND"

	// ErrCodeSyncFailure indicates one store rejected a write the other
	// accepted during a synchronization pass.
	ErrCodeSyncFailure ErrorCode = "SYNC_FAILURE"
)

// TrustError is the structured error type for all expected failure modes.
// Unexpected internal failures are wrapped stdlib errors; every failure mode
// a caller is expected to handle surfaces as a TrustError with a code.
type TrustError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity, when one applies.
	EntityID string

	// TransactionID identifies the affected transaction, when one applies.
	TransactionID string

	// Details carries additional context for diagnostics.
	Details map[string]string
}

// Error implements the error interface.
func (e *TrustError) Error() string {
	switch {
	case e.EntityID != "" && e.TransactionID != "":
		return fmt.Sprintf("%s: %s (entity=%s, tx=%s)", e.Code, e.Message, e.EntityID, e.TransactionID)
	case e.EntityID != "":
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	case e.TransactionID != "":
		return fmt.Sprintf("%s: %s (tx=%s)", e.Code, e.Message, e.TransactionID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Returns "" if err is not a TrustError.
func CodeOf(err error) ErrorCode {
	var te *TrustError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsNotFound reports whether err is an entity, transaction, or boundary
// not-found error.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case ErrCodeEntityNotFound, ErrCodeTransactionNotFound, ErrCodeBoundaryNotFound:
		return true
	}
	return false
}

// IsCycleError reports whether err is a cycle detection error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	return CodeOf(err) == ErrCodeCycleDetected
}

// IsLockTimeout reports whether err is a lock acquisition timeout.
func IsLockTimeout(err error) bool {
	return CodeOf(err) == ErrCodeLockTimeout
}

// NewInvalidAttributeError creates a TrustError for attribute validation failures.
func NewInvalidAttributeError(entityID, message string) *TrustError {
	return &TrustError{Code: ErrCodeInvalidAttribute, Message: message, EntityID: entityID}
}

// NewEntityNotFoundError creates a TrustError for a missing entity.
func NewEntityNotFoundError(entityID string) *TrustError {
	return &TrustError{Code: ErrCodeEntityNotFound, Message: "entity not registered", EntityID: entityID}
}

// NewEntityExistsError creates a TrustError for a duplicate registration.
func NewEntityExistsError(entityID string) *TrustError {
	return &TrustError{Code: ErrCodeEntityExists, Message: "entity already registered", EntityID: entityID}
}

// NewCycleError creates a TrustError for a rejected edge. parent and child
// name the edge that would have closed the cycle.
func NewCycleError(parent, child string) *TrustError {
	return &TrustError{
		Code:    ErrCodeCycleDetected,
		Message: "relationship would create an inheritance cycle",
		Details: map[string]string{"parent": parent, "child": child},
	}
}

// NewLockTimeoutError creates a TrustError for a bounded acquisition that expired.
func NewLockTimeoutError(entityID string) *TrustError {
	return &TrustError{Code: ErrCodeLockTimeout, Message: "lock acquisition timed out", EntityID: entityID}
}

// NewTransactionNotFoundError creates a TrustError for an unknown transaction id.
func NewTransactionNotFoundError(txID string) *TrustError {
	return &TrustError{Code: ErrCodeTransactionNotFound, Message: "transaction not found", TransactionID: txID}
}

// NewInvalidTransactionStateError creates a TrustError for a forbidden
// state-machine transition.
func NewInvalidTransactionStateError(txID, from, attempted string) *TrustError {
	return &TrustError{
		Code:          ErrCodeInvalidTransactionState,
		Message:       fmt.Sprintf("cannot %s a %s transaction", attempted, from),
		TransactionID: txID,
		Details:       map[string]string{"status": from, "attempted": attempted},
	}
}

// NewBoundaryNotFoundError creates a TrustError for an unknown boundary id.
func NewBoundaryNotFoundError(boundaryID string) *TrustError {
	return &TrustError{
		Code:    ErrCodeBoundaryNotFound,
		Message: "boundary not registered",
		Details: map[string]string{"boundary_id": boundaryID},
	}
}

// NewSyncFailureError creates a TrustError for a cross-store reconciliation failure.
func NewSyncFailureError(entityID, message string) *TrustError {
	return &TrustError{Code: ErrCodeSyncFailure, Message: message, EntityID: entityID}
}
