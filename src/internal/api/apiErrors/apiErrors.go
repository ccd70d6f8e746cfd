package apiErrors

import "fmt"

type ErrorCode string

const (
	BadRequest       ErrorCode = "BAD_REQUEST"
	InvalidReference ErrorCode = "INVALID_REFERENCE"
	InvalidUsername  ErrorCode = "INVALID_USERNAME"
	Forbidden        ErrorCode = "FORBIDDEN"
	AlreadyRerolled  ErrorCode = "ALREADY_REROLLED"
	PersonHasReviews ErrorCode = "PERSON_HAS_REVIEWS"
	Unauthorized     ErrorCode = "UNAUTHORIZED"
	NotFound         ErrorCode = "NOT_FOUND"
	InternalError    ErrorCode = "INTERNAL_ERROR"
)

type APIError struct {
	Code    ErrorCode
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}
