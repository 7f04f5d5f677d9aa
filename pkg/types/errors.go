package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is matched by every AlreadyExistsError.
	ErrAlreadyExists = errors.New("already exists")
	// ErrCapabilityUnavailable is matched by every CapabilityError.
	ErrCapabilityUnavailable = errors.New("capability not available")
)

// NotFoundError reports an unknown identifier.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound returns a NotFoundError for an agent id.
func NewNotFound(id string) error {
	return &NotFoundError{Kind: "agent", ID: id}
}

// AlreadyExistsError reports a duplicate identifier.
type AlreadyExistsError struct {
	Kind string
	ID   string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Kind, e.ID)
}

func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// PermissionDeniedError is the structured form of an enforcer denial.
// Check names the pipeline stage that failed: enabled, action, target or path.
type PermissionDeniedError struct {
	Tool   string
	Check  string
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied (%s check) for %s: %s", e.Check, e.Tool, e.Reason)
}

// ValidationError reports malformed input: tool arguments, preset names, snapshots.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConfigError reports a malformed configuration, policy or instruction file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CapabilityError reports a service registry lookup for a capability that was never wired.
type CapabilityError struct {
	Name string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability not available: %s", e.Name)
}

func (e *CapabilityError) Unwrap() error { return ErrCapabilityUnavailable }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is an AlreadyExists error.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
