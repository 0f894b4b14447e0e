package engine

import (
	"errors"
	"fmt"
	"strings"
)

// RuntimeError represents an engine-level failure outside the consistency
// family.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeKilled indicates the universe stopped after a fatal error.
	ErrCodeKilled RuntimeErrorCode = "UNIVERSE_KILLED"

	// ErrCodeQueueFull indicates the input queue reached maxInInQueue.
	ErrCodeQueueFull RuntimeErrorCode = "QUEUE_FULL"

	// ErrCodeReadOnly indicates a write inside a read-only transaction.
	ErrCodeReadOnly RuntimeErrorCode = "READ_ONLY"

	// ErrCodeNotStarted indicates an operation that needs a running universe.
	ErrCodeNotStarted RuntimeErrorCode = "NOT_STARTED"

	// ErrCodeStopped indicates the universe no longer accepts actions.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newRuntimeError(code RuntimeErrorCode, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// hasCode searches the whole error tree, so a MultiError answers for every
// error it holds.
func hasCode(err error, code RuntimeErrorCode) bool {
	if re, ok := err.(*RuntimeError); ok && re.Code == code {
		return true
	}
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if hasCode(inner, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return hasCode(e.Unwrap(), code)
	}
	return false
}

// IsKilledError reports whether err says the universe was killed.
func IsKilledError(err error) bool { return hasCode(err, ErrCodeKilled) }

// IsQueueFullError reports whether err says the input queue is full.
func IsQueueFullError(err error) bool { return hasCode(err, ErrCodeQueueFull) }

// IsReadOnlyError reports whether err is a write in a read-only transaction.
func IsReadOnlyError(err error) bool { return hasCode(err, ErrCodeReadOnly) }

// consistencyError is implemented by the fatal commit-time error family.
type consistencyError interface {
	error
	consistency()
}

// IsConsistencyError reports whether err belongs to the consistency family.
// Uses errors.As to handle wrapped errors.
func IsConsistencyError(err error) bool {
	var ce consistencyError
	return errors.As(err, &ce)
}

// EmptyMandatoryError is raised when a mandatory property is empty at commit.
type EmptyMandatoryError struct {
	Object   Object
	Property *Property
}

func (e *EmptyMandatoryError) Error() string {
	return fmt.Sprintf("mandatory property %s of %s is empty", e.Property, objectName(e.Object))
}

func (*EmptyMandatoryError) consistency() {}

// OutOfScopeError is raised when a value is not an element of its scope.
type OutOfScopeError struct {
	Object   Object
	Property *Property
	Value    any
	Scope    any
}

func (e *OutOfScopeError) Error() string {
	return fmt.Sprintf("value %v of %s on %s is out of scope %v", e.Value, e.Property, objectName(e.Object), e.Scope)
}

func (*OutOfScopeError) consistency() {}

// ReferencedOrphanError is raised when a committed value references a
// mutable that is not in the tree.
type ReferencedOrphanError struct {
	Object   Object
	Property *Property
	Orphan   Mutable
}

func (e *ReferencedOrphanError) Error() string {
	return fmt.Sprintf("%s of %s references orphan %s", e.Property, objectName(e.Object), objectName(e.Orphan))
}

func (*ReferencedOrphanError) consistency() {}

// OrphanStateError is raised when an orphan still holds values at commit and
// orphan checking is enabled.
type OrphanStateError struct {
	Mutable Mutable
}

func (e *OrphanStateError) Error() string {
	return fmt.Sprintf("orphan %s still has state", objectName(e.Mutable))
}

func (*OrphanStateError) consistency() {}

// TooManyObserversError guards fan-out on one observed slot.
type TooManyObserversError struct {
	Object   Object
	Property *Property
	Count    int
	Limit    int
}

func (e *TooManyObserversError) Error() string {
	return fmt.Sprintf("too many observers on %s of %s: %d > %d", e.Property, objectName(e.Object), e.Count, e.Limit)
}

func (*TooManyObserversError) consistency() {}

// TooManyObservedError guards the read set of one observer instance.
type TooManyObservedError struct {
	Mutable  Mutable
	Observer string
	Count    int
	Limit    int
}

func (e *TooManyObservedError) Error() string {
	return fmt.Sprintf("observer %s on %s read too many properties: %d > %d", e.Observer, objectName(e.Mutable), e.Count, e.Limit)
}

func (*TooManyObservedError) consistency() {}

// TooManyChangesError is the fixpoint non-termination detector. Trace is the
// last recorded observer run, linked to its causes.
type TooManyChangesError struct {
	Trace   *ObserverTrace
	Changes int
	Limit   int
}

func (e *TooManyChangesError) Error() string {
	name := "<unknown>"
	if e.Trace != nil {
		name = e.Trace.Observer + " on " + e.Trace.Mutable
	}
	return fmt.Sprintf("too many changes: %s changed %d times (limit %d)", name, e.Changes, e.Limit)
}

func (*TooManyChangesError) consistency() {}

// NonDeterministicError is raised when a constant derives different values
// for the same object, or is set twice to different values.
type NonDeterministicError struct {
	Object   Object
	Property *Property
	First    any
	Second   any
}

func (e *NonDeterministicError) Error() string {
	return fmt.Sprintf("non-deterministic constant %s of %s: %v != %v", e.Property, objectName(e.Object), e.First, e.Second)
}

func (*NonDeterministicError) consistency() {}

// CircularConstantError is raised when constants derive from each other.
type CircularConstantError struct {
	Cycle []string
}

func (e *CircularConstantError) Error() string {
	return "circular constant definition: " + strings.Join(e.Cycle, " -> ")
}

func (*CircularConstantError) consistency() {}

// ConflictError reports concurrent, different writes to one slot.
type ConflictError struct {
	Object   Object
	Property *Property
	Base     any
	Values   []any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict on %s of %s: base %v, branches %v", e.Property, objectName(e.Object), e.Base, e.Values)
}

// IsConflictError reports whether err is a merge conflict.
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// TransactionError attributes a failure to the action and mutable it
// happened in.
type TransactionError struct {
	Mutable Mutable
	Action  string
	Err     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s on %s: %v", e.Action, objectName(e.Mutable), e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// MultiError aggregates independent failures.
type MultiError struct {
	Errs []error
}

func (e *MultiError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *MultiError) Unwrap() []error { return e.Errs }

// joinErrors returns nil, the single error, or a MultiError.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &MultiError{Errs: append([]error(nil), errs...)}
	}
}

// recovered converts a recovered panic value into an error.
func recovered(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
