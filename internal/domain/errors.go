package domain

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a notification or override is absent, or that a
// notification is no longer pending. Callers treat it as a no-op failure and
// do not retry.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// NewNotFoundError creates a NotFoundError for the given resource and key.
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// UnsupportedEntityTypeError reports caller misuse with an entity type that is
// not registered. It is fatal and must not be retried.
type UnsupportedEntityTypeError struct {
	EntityType string
}

func (e *UnsupportedEntityTypeError) Error() string {
	return fmt.Sprintf("unsupported entity type %q", e.EntityType)
}

// IsUnsupportedEntityType reports whether err is an UnsupportedEntityTypeError.
func IsUnsupportedEntityType(err error) bool {
	var target *UnsupportedEntityTypeError
	return errors.As(err, &target)
}

// ConcurrentModificationError reports lock contention on a single override.
// Callers may retry with backoff.
type ConcurrentModificationError struct {
	Ref OverrideRef
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification on override %s", e.Ref)
}

// IsConcurrentModification reports whether err is a ConcurrentModificationError.
func IsConcurrentModification(err error) bool {
	var target *ConcurrentModificationError
	return errors.As(err, &target)
}

// StorageError wraps a collaborator failure. The engine stays stateless and
// side-effect free when one occurs, so callers retry per their own policy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err with the failed operation name.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is a StorageError.
func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}
