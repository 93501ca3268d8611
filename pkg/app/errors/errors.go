// Package errors contains helper functions and types to work with errors
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

const (
	// CategoryNoError indicates a successful operation.
	CategoryNoError Category = iota
	// CategoryInvalidInput The client sent malformed data, for example a
	// transaction hash that is not hex or an unsupported network id.
	// Rejected before any I/O is performed.
	CategoryInvalidInput
	// CategoryTrustViolation The submitted transaction carries no event from
	// a trusted contract, or its sender does not match the authenticated
	// caller. Security relevant; never retried automatically.
	CategoryTrustViolation
	// CategoryResourceNotFound The client is attempting to access a record
	// that does not exist.
	CategoryResourceNotFound
	// CategoryUpstreamUnavailable An RPC endpoint, subgraph or metadata
	// lookup is failing; the operation may be retried later.
	CategoryUpstreamUnavailable
	// CategoryConfiguration The service is misconfigured, for example an
	// empty trust allowlist or a malformed override address. Fatal at
	// startup.
	CategoryConfiguration
	// CategoryGeneralError The service failed in an unexpected way.
	CategoryGeneralError
)

func (c Category) String() string {
	switch c {
	case CategoryInvalidInput:
		return "CategoryInvalidInput"
	case CategoryTrustViolation:
		return "CategoryTrustViolation"
	case CategoryResourceNotFound:
		return "CategoryResourceNotFound"
	case CategoryUpstreamUnavailable:
		return "CategoryUpstreamUnavailable"
	case CategoryConfiguration:
		return "CategoryConfiguration"
	default:
		return "CategoryGeneralError"
	}
}

// ServiceError represents service specific type that
// is used all over the services.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

// Error method to comply with error interface
func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is implements the custom condition to check an error is equal to a service error
func (err ServiceError) Is(target error) bool {
	return err.Message == target.Error()
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category == cat {
		return true
	}
	return false
}

// InvalidInputError returns an error with category InvalidInput
// the error message provided is returned to the user
func InvalidInputError(err error, message string) error {
	if err == nil {
		err = errors.New("invalid input: " + message)
	}
	return &ServiceError{
		Category: CategoryInvalidInput,
		Message:  message,
		Err:      err,
	}
}

// TrustViolationError returns an error with category TrustViolation.
// Callers must never retry these automatically.
func TrustViolationError(err error, message string) error {
	if err == nil {
		err = errors.New("trust violation: " + message)
	}
	return &ServiceError{
		Category: CategoryTrustViolation,
		Message:  message,
		Err:      err,
	}
}

// ResourceNotFoundError returns an error with category ResourceNotFound
func ResourceNotFoundError(err error, message string) error {
	if err == nil {
		err = errors.New("resource not found: " + message)
	}
	return &ServiceError{
		Category: CategoryResourceNotFound,
		Message:  message,
		Err:      err,
	}
}

// UpstreamError returns an error with category UpstreamUnavailable
// the error passed is logged, the message is surfaced as "try again later"
func UpstreamError(err error, message string) error {
	if err == nil {
		err = errors.New("upstream unavailable: " + message)
	}
	return &ServiceError{
		Category: CategoryUpstreamUnavailable,
		Message:  message,
		Err:      err,
	}
}

// ConfigurationError returns an error with category Configuration
func ConfigurationError(err error, message string) error {
	if err == nil {
		err = errors.New("configuration error: " + message)
	}
	return &ServiceError{
		Category: CategoryConfiguration,
		Message:  message,
		Err:      err,
	}
}

// GeneralError returns a general service error
// this error message sent to the user is "Internal Server Error"
func GeneralError(err error) error {
	if err == nil {
		err = errors.New("internal server error")
	}
	return &ServiceError{
		Category: CategoryGeneralError,
		Message:  "Internal Server Error",
		Err:      err,
	}
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryInvalidInput:
		return http.StatusBadRequest
	case CategoryTrustViolation:
		return http.StatusForbidden
	case CategoryResourceNotFound:
		return http.StatusNotFound
	case CategoryUpstreamUnavailable:
		return http.StatusBadGateway
	case CategoryConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
