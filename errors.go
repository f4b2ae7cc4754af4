package loom

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is matched by errors caused by bad arguments.
	ErrInvalidParameter = errors.New("loom: invalid parameter")
	// ErrInvalidOperation is matched by calls made in a state that forbids them.
	ErrInvalidOperation = errors.New("loom: invalid operation")
	// ErrArgumentMismatch is returned when a permutation does not match the
	// current set it reorders.
	ErrArgumentMismatch = errors.New("loom: argument mismatch")
	// ErrDuplicateName is returned when a name is taken in its scope.
	ErrDuplicateName = errors.New("loom: duplicate name")
	// ErrTypeInfoFinalized is returned when type info is changed after it was set.
	ErrTypeInfoFinalized = errors.New("loom: type info already set")
	// ErrNotAlive is returned for operations on deleted entities.
	ErrNotAlive = errors.New("loom: entity is not alive")
)

type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

func (e InvalidParameterError) Unwrap() error {
	return ErrInvalidParameter
}

type InvalidOperationError struct {
	Op     string
	Reason string
}

func (e InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %s: %s", e.Op, e.Reason)
}

func (e InvalidOperationError) Unwrap() error {
	return ErrInvalidOperation
}

// LockedStorageError is raised when an archetype is structurally modified
// while a query is iterating it.
type LockedStorageError struct {
	Archetype uint32
}

func (e LockedStorageError) Error() string {
	return fmt.Sprintf("archetype %d is locked by an active iterator", e.Archetype)
}

type EntityNotAliveError struct {
	Entity ID
}

func (e EntityNotAliveError) Error() string {
	return fmt.Sprintf("entity %s is not alive", e.Entity)
}

func (e EntityNotAliveError) Unwrap() error {
	return ErrNotAlive
}

type ComponentExistsError struct {
	Entity    ID
	Component ID
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity %s: %s", e.Entity, e.Component)
}

func (e ComponentExistsError) Unwrap() error {
	return ErrInvalidOperation
}

type ComponentNotFoundError struct {
	Entity    ID
	Component ID
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity %s: %s", e.Entity, e.Component)
}

func (e ComponentNotFoundError) Unwrap() error {
	return ErrInvalidOperation
}

type DuplicateNameError struct {
	Name     string
	Owner    ID
	Conflict ID
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("name %q of %s is already used by %s", e.Name, e.Conflict, e.Owner)
}

func (e DuplicateNameError) Unwrap() error {
	return ErrDuplicateName
}

type ArgumentMismatchError struct {
	Expected int
	Got      int
	Culprit  ID
}

func (e ArgumentMismatchError) Error() string {
	if e.Culprit != 0 {
		return fmt.Sprintf("argument mismatch: %s is not in the current set", e.Culprit)
	}
	return fmt.Sprintf("argument mismatch: expected %d elements, got %d", e.Expected, e.Got)
}

func (e ArgumentMismatchError) Unwrap() error {
	return ErrArgumentMismatch
}

type TypeInfoFinalizedError struct {
	Component ID
}

func (e TypeInfoFinalizedError) Error() string {
	return fmt.Sprintf("type info of %s is already set", e.Component)
}

func (e TypeInfoFinalizedError) Unwrap() []error {
	return []error{ErrTypeInfoFinalized, ErrInvalidOperation}
}

// invariantError is the panic value for corrupted internal state.
type invariantError struct {
	msg string
}

func (e invariantError) Error() string {
	return "loom: invariant violated: " + e.msg
}

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(invariantError{fmt.Sprintf(format, args...)})
	}
}

func invalidParam(param, format string, args ...any) error {
	return InvalidParameterError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

func invalidOp(op, format string, args ...any) error {
	return InvalidOperationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
