// Package services defines the business logic for doctor profiles and the
// recommendation gate. This file centralizes service-level error values so
// that they can be returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Recommendation errors.
var (
	// ErrInvalidProfileID is returned when a profile ID is missing or is not
	// a well-formed UUID.
	ErrInvalidProfileID = errors.New("invalid profile id")

	// ErrProfileNotFound indicates that the profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInternal marks persistence failures that must surface as a server
	// error. The underlying cause is wrapped alongside it.
	ErrInternal = errors.New("internal error")
)

// Profile administration errors.
var (
	// ErrInvalidSlug is returned when a requested handle cannot be normalized
	// into a valid slug.
	ErrInvalidSlug = errors.New("slug must be 3-64 characters of a-z, 0-9 and dashes")

	// ErrSlugTaken is returned when the slug is already claimed.
	ErrSlugTaken = errors.New("slug already taken")

	// ErrInvalidDisplayName is returned when the display name is blank or too long.
	ErrInvalidDisplayName = errors.New("display name is required")

	// ErrInvalidStatus is returned for an unknown verification status.
	ErrInvalidStatus = errors.New("status must be pending, approved or rejected")
)

// internalErr wraps cause so that errors.Is matches both ErrInternal and the
// original error.
func internalErr(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, cause)
}
