package dayclose

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Operations named in lifecycle errors and metrics.
const (
	OpOpen           = "open"
	OpClose          = "close"
	OpReopen         = "reopen"
	OpRecordCount    = "record_count"
	OpRecordMovement = "record_movement"
	OpVoidMovement   = "void_movement"
	OpRecordSale     = "record_sale"
	OpVoidSale       = "void_sale"
	OpPreview        = "preview"
)

var (
	// ErrLifecycleViolation indicates an operation the day's state forbids.
	ErrLifecycleViolation = errors.New("dayclose: lifecycle violation")
	// ErrConcurrentTransition indicates the record moved under the caller.
	ErrConcurrentTransition = errors.New("dayclose: concurrent transition")
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("dayclose: invalid input")
	// ErrDayNotFound indicates no daily record exists for the date.
	ErrDayNotFound = errors.New("dayclose: day not found")
	// ErrMovementNotFound indicates the movement does not exist on the day.
	ErrMovementNotFound = errors.New("dayclose: movement not found")
	// ErrSaleNotFound indicates the sale does not exist on the day.
	ErrSaleNotFound = errors.New("dayclose: sale not found")
	// ErrUnknownIngredient indicates a count or movement for an untracked ingredient.
	ErrUnknownIngredient = errors.New("dayclose: ingredient not tracked")
	// ErrUnknownVariant indicates a sale for an unknown or inactive variant.
	ErrUnknownVariant = errors.New("dayclose: variant not sellable")
	// ErrDuplicateRequest indicates a client ref that was already processed.
	ErrDuplicateRequest = errors.New("dayclose: request already processed")
)

// LifecycleViolationError reports an operation rejected by the day's state or
// by an unmet transition precondition. Err carries the precondition failure
// when there is one.
type LifecycleViolationError struct {
	Date      time.Time
	State     DayState
	Operation string
	Reason    string
	Err       error
}

func (e *LifecycleViolationError) Error() string {
	msg := fmt.Sprintf("%s: %s on %s (%s): %s", ErrLifecycleViolation.Error(), e.Operation, e.Date.Format(shared.DateLayout), e.State, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is match ErrLifecycleViolation.
func (e *LifecycleViolationError) Is(target error) bool {
	return target == ErrLifecycleViolation
}

// Unwrap exposes the precondition failure.
func (e *LifecycleViolationError) Unwrap() error {
	return e.Err
}

// ConcurrentTransitionError reports a lost race on a day's transition. State
// and Version describe the record as the loser last saw it, when known.
type ConcurrentTransitionError struct {
	Date      time.Time
	Operation string
	State     DayState
	Version   int64
	Reason    string
}

func (e *ConcurrentTransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s on %s", ErrConcurrentTransition.Error(), e.Operation, e.Date.Format(shared.DateLayout))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is match ErrConcurrentTransition.
func (e *ConcurrentTransitionError) Is(target error) bool {
	return target == ErrConcurrentTransition
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func violation(date time.Time, state DayState, op, reason string) error {
	return &LifecycleViolationError{Date: date, State: state, Operation: op, Reason: reason}
}
