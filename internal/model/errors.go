package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownSwitch      = errors.New("unknown switch")
	ErrAmbiguousPolicy    = errors.New("ambiguous policy")
	ErrMalformedPredicate = errors.New("malformed predicate")
	ErrInstallationFailed = errors.New("installation failed")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// UnknownSwitchError is returned when a switch identity has no role binding.
type UnknownSwitchError struct {
	Switch SwitchID
}

func (e *UnknownSwitchError) Error() string {
	return fmt.Sprintf("unknown switch %q: no role binding", e.Switch)
}

func (e *UnknownSwitchError) Unwrap() error {
	return ErrUnknownSwitch
}

// AmbiguousPolicyError names two rules with identical specificity whose predicates
// overlap.
type AmbiguousPolicyError struct {
	Role  Role
	RuleA string
	RuleB string
}

func (e *AmbiguousPolicyError) Error() string {
	return fmt.Sprintf("ambiguous policy for role %s: rules %q and %q overlap with equal specificity", e.Role, e.RuleA, e.RuleB)
}

func (e *AmbiguousPolicyError) Unwrap() error {
	return ErrAmbiguousPolicy
}

type MalformedPredicateError struct {
	Rule   string
	Reason string
}

func (e *MalformedPredicateError) Error() string {
	if e.Rule == "" {
		return "malformed predicate: " + e.Reason
	}
	return fmt.Sprintf("malformed predicate in rule %q: %s", e.Rule, e.Reason)
}

func (e *MalformedPredicateError) Unwrap() error {
	return ErrMalformedPredicate
}

// InstallationFailedError reports the first entry index that could not be pushed.
// Entries before FailedIndex are installed; nothing is rolled back.
type InstallationFailedError struct {
	Role        Role
	Switch      SwitchID
	FailedIndex int
	Err         error
}

func (e *InstallationFailedError) Error() string {
	return fmt.Sprintf("installation failed on switch %q (role %s) at entry %d: %v", e.Switch, e.Role, e.FailedIndex, e.Err)
}

func (e *InstallationFailedError) Unwrap() []error {
	return []error{ErrInstallationFailed, e.Err}
}

// ValidationError collects configuration problems so they are reported together.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid configuration: " + e.Errors[0]
	}
	return fmt.Sprintf("invalid configuration:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// ValidationBuilder accumulates validation errors.
type ValidationBuilder struct {
	errors []string
}

func (v *ValidationBuilder) AddErrorf(format string, args ...any) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns nil when nothing was recorded.
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
