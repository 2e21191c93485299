// Package handlers defines the machine-readable error codes carried in the
// "code" field of every error response. Clients branch on these; the
// accompanying "error" text is for humans.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidProfileID = "invalid_profile_id"
	ErrCodeProfileNotFound  = "profile_not_found"
	ErrCodeSlugTaken        = "slug_taken"
	ErrCodeRecommendFailed  = "recommend_failed"
	ErrCodeListFailed       = "list_failed"
)
