package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInitialized             = errors.New("registry not initialized")
	ErrAlreadyInitialized         = errors.New("registry already initialized")
	ErrUnknownResource            = errors.New("unknown resource")
	ErrTypeMismatch               = errors.New("resource type mismatch")
	ErrBindingPointConflict       = errors.New("binding point conflict")
	ErrReflectionFailed           = errors.New("shader reflection failed")
	ErrCycleDetected              = errors.New("dependency cycle detected")
	ErrBackendFailure             = errors.New("backend failure")
	ErrCapacityExceeded           = errors.New("capacity exceeded")
	ErrInvalidLifecycleTransition = errors.New("invalid lifecycle transition")
	ErrValidationFailed           = errors.New("validation failed")
	ErrFeatureDisabled            = errors.New("feature disabled by configuration")
	ErrUnsupported                = errors.New("operation not supported by backend")
	ErrNullHandle                 = errors.New("resource handle references no GPU object")
	ErrUnknown                    = errors.New("unknown")
)

type UnknownResourceError struct {
	Name string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("unknown resource '%s'", e.Name)
}

func (e *UnknownResourceError) Unwrap() error { return ErrUnknownResource }

type TypeMismatchError struct {
	Name     string
	Expected fmt.Stringer
	Got      fmt.Stringer
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("resource '%s' expects %s, got %s", e.Name, e.Expected, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

type BindingPointConflictError struct {
	Set   uint32
	Point uint32
	Owner string
	Other string
}

func (e *BindingPointConflictError) Error() string {
	return fmt.Sprintf("binding (set=%d, point=%d) owned by '%s' is also claimed by '%s'", e.Set, e.Point, e.Owner, e.Other)
}

func (e *BindingPointConflictError) Unwrap() error { return ErrBindingPointConflict }

type ReflectionError struct {
	Stage  fmt.Stringer
	Reason string
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("reflection of %s stage failed: %s", e.Stage, e.Reason)
}

func (e *ReflectionError) Unwrap() error { return ErrReflectionFailed }

// CycleError reports the refused edge: Dependent would depend on Dependency.
type CycleError struct {
	Dependent  string
	Dependency string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("edge '%s' -> '%s' would create a dependency cycle", e.Dependent, e.Dependency)
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

type BackendError struct {
	Op    string
	Point uint32
	Err   error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s at point %d failed: %s", e.Op, e.Point, e.Err)
	}
	return fmt.Sprintf("backend %s at point %d failed", e.Op, e.Point)
}

func (e *BackendError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBackendFailure, e.Err}
	}
	return []error{ErrBackendFailure}
}

type CapacityError struct {
	What  string
	Limit uint64
	Got   uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d exceeds limit of %d", e.What, e.Got, e.Limit)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

type LifecycleTransitionError struct {
	Name string
	From fmt.Stringer
	To   fmt.Stringer
}

func (e *LifecycleTransitionError) Error() string {
	return fmt.Sprintf("resource '%s' cannot move from %s to %s", e.Name, e.From, e.To)
}

func (e *LifecycleTransitionError) Unwrap() error { return ErrInvalidLifecycleTransition }

// ValidationError is only produced by explicit validation requests.
type ValidationError struct {
	Issues []fmt.Stringer
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, i.String())
	}
	return fmt.Sprintf("validation failed with %d issue(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }
