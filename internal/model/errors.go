package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrorCategory classifies a file-level failure. Retryability is a property
// of the category, not of the individual failure.
type ErrorCategory string

const (
	CategoryRateLimit       ErrorCategory = "RATE_LIMIT"
	CategoryPaymentRequired ErrorCategory = "PAYMENT_REQUIRED"
	CategoryFileError       ErrorCategory = "FILE_ERROR"
	CategoryAIError         ErrorCategory = "AI_ERROR"
	CategoryParseError      ErrorCategory = "PARSE_ERROR"
	CategoryDBError         ErrorCategory = "DB_ERROR"
	CategoryTimeout         ErrorCategory = "TIMEOUT"
	CategoryNetworkError    ErrorCategory = "NETWORK_ERROR"
	CategoryUnknown         ErrorCategory = "UNKNOWN"
)

var retryableCategories = map[ErrorCategory]bool{
	CategoryRateLimit:       true,
	CategoryPaymentRequired: false,
	CategoryFileError:       false,
	CategoryAIError:         true,
	CategoryParseError:      false,
	CategoryDBError:         true,
	CategoryTimeout:         true,
	CategoryNetworkError:    true,
	CategoryUnknown:         true,
}

// Retryable reports whether failures in this category are expected to succeed
// on resubmission without manual intervention
func (c ErrorCategory) Retryable() bool {
	return retryableCategories[c]
}

// Categories returns every known error category
func Categories() []ErrorCategory {
	return []ErrorCategory{
		CategoryRateLimit,
		CategoryPaymentRequired,
		CategoryFileError,
		CategoryAIError,
		CategoryParseError,
		CategoryDBError,
		CategoryTimeout,
		CategoryNetworkError,
		CategoryUnknown,
	}
}

// CategoryError carries an error category alongside the underlying failure
type CategoryError interface {
	error
	Category() ErrorCategory
	Message() string
}

type categoryError struct {
	category ErrorCategory
	message  string
}

func (e *categoryError) Error() string {
	return fmt.Sprintf("%s: %s", e.category, e.message)
}

func (e *categoryError) Category() ErrorCategory {
	return e.category
}

func (e *categoryError) Message() string {
	return e.message
}

// NewCategoryError wraps a failure with an explicit category
func NewCategoryError(category ErrorCategory, err error) CategoryError {
	return &categoryError{category: category, message: err.Error()}
}

// NewCategoryErrorf builds a categorized error from a format string
func NewCategoryErrorf(category ErrorCategory, format string, args ...interface{}) CategoryError {
	return &categoryError{category: category, message: fmt.Sprintf(format, args...)}
}

// statusCoder is satisfied by API errors that expose their HTTP status
type statusCoder interface {
	StatusCode() int
}

// CategorizeError maps an arbitrary failure to an error category, UNKNOWN by
// default. Explicit CategoryError values keep their category.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var ce CategoryError
	if errors.As(err, &ce) {
		return ce.Category()
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code == http.StatusTooManyRequests:
			return CategoryRateLimit
		case code == http.StatusPaymentRequired:
			return CategoryPaymentRequired
		case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
			return CategoryTimeout
		case code == http.StatusUnprocessableEntity:
			return CategoryParseError
		case code >= 500:
			return CategoryAIError
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return CategoryFileError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetworkError
	}

	if mongo.IsTimeout(err) {
		return CategoryTimeout
	}
	if mongo.IsNetworkError(err) || mongo.IsDuplicateKeyError(err) {
		return CategoryDBError
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		return CategoryDBError
	}

	return CategoryUnknown
}
