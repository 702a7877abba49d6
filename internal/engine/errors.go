package engine

import (
	"errors"
	"fmt"

	"gapforets/internal/domain"
	"gapforets/internal/repo"
)

var (
	ErrMissingReason  = errors.New("reason is required")
	ErrMissingComment = errors.New("comment is required to reject an unlock request")
)

// StoreUnavailableError wraps a persistence failure. Nothing was applied and
// the caller may retry.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable (%s): %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Retryable() bool { return true }

// storeErr leaves nil and ErrNotFound alone and wraps everything else.
func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type DuplicatePendingRequestError struct {
	ProgramID string
	PendingID string
}

func (e DuplicatePendingRequestError) Error() string {
	if e.PendingID == "" {
		return fmt.Sprintf("program %s already has a pending unlock request", e.ProgramID)
	}
	return fmt.Sprintf("program %s already has a pending unlock request (%s)", e.ProgramID, e.PendingID)
}

type AlreadyResolvedError struct {
	RequestID string
	Status    domain.RequestStatus
}

func (e AlreadyResolvedError) Error() string {
	return fmt.Sprintf("unlock request %s already resolved (%s)", e.RequestID, e.Status)
}

type DuplicateCodeError struct {
	Code string
}

func (e DuplicateCodeError) Error() string {
	return fmt.Sprintf("program code %s already exists", e.Code)
}
