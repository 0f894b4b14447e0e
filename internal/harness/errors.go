package harness

import (
	"errors"

	"github.com/ModelingValueGroup/dclare-sub000/internal/engine"
)

// Error kinds a step can expect.
const (
	ErrorEmptyMandatory   = "empty_mandatory"
	ErrorOutOfScope       = "out_of_scope"
	ErrorReferencedOrphan = "referenced_orphan"
	ErrorTooManyChanges   = "too_many_changes"
	ErrorTooManyObservers = "too_many_observers"
	ErrorTooManyObserved  = "too_many_observed"
	ErrorNonDeterministic = "non_deterministic"
	ErrorCircularConstant = "circular_constant"
	ErrorOrphanState      = "orphan_state"
	ErrorKilled           = "killed"
	ErrorOther            = "error"
)

var errorKinds = map[string]bool{
	ErrorEmptyMandatory: true, ErrorOutOfScope: true, ErrorReferencedOrphan: true,
	ErrorTooManyChanges: true, ErrorTooManyObservers: true, ErrorTooManyObserved: true,
	ErrorNonDeterministic: true, ErrorCircularConstant: true, ErrorOrphanState: true,
	ErrorKilled: true, ErrorOther: true,
}

func knownErrorKind(kind string) bool {
	return errorKinds[kind]
}

// ErrorKind classifies an engine error. Nil yields "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		emptyMandatory   *engine.EmptyMandatoryError
		outOfScope       *engine.OutOfScopeError
		referencedOrphan *engine.ReferencedOrphanError
		tooManyChanges   *engine.TooManyChangesError
		tooManyObservers *engine.TooManyObserversError
		tooManyObserved  *engine.TooManyObservedError
		nonDeterministic *engine.NonDeterministicError
		circular         *engine.CircularConstantError
		orphanState      *engine.OrphanStateError
	)
	switch {
	case errors.As(err, &emptyMandatory):
		return ErrorEmptyMandatory
	case errors.As(err, &outOfScope):
		return ErrorOutOfScope
	case errors.As(err, &referencedOrphan):
		return ErrorReferencedOrphan
	case errors.As(err, &tooManyChanges):
		return ErrorTooManyChanges
	case errors.As(err, &tooManyObservers):
		return ErrorTooManyObservers
	case errors.As(err, &tooManyObserved):
		return ErrorTooManyObserved
	case errors.As(err, &nonDeterministic):
		return ErrorNonDeterministic
	case errors.As(err, &circular):
		return ErrorCircularConstant
	case errors.As(err, &orphanState):
		return ErrorOrphanState
	case engine.IsKilledError(err):
		return ErrorKilled
	default:
		return ErrorOther
	}
}
