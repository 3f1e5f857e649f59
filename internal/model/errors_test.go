package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"talent/pkg/cvparse"
)

func TestRetryableCategories(t *testing.T) {
	retryable := []ErrorCategory{
		CategoryRateLimit,
		CategoryAIError,
		CategoryDBError,
		CategoryTimeout,
		CategoryNetworkError,
		CategoryUnknown,
	}
	permanent := []ErrorCategory{
		CategoryPaymentRequired,
		CategoryFileError,
		CategoryParseError,
	}

	for _, c := range retryable {
		assert.True(t, c.Retryable(), "%s should be retryable", c)
	}
	for _, c := range permanent {
		assert.False(t, c.Retryable(), "%s should not be retryable", c)
	}

	assert.Len(t, Categories(), len(retryable)+len(permanent))
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{
			name: "explicit category passes through",
			err:  NewCategoryErrorf(CategoryFileError, "document missing"),
			want: CategoryFileError,
		},
		{
			name: "wrapped explicit category passes through",
			err:  fmt.Errorf("extract: %w", NewCategoryErrorf(CategoryParseError, "bad layout")),
			want: CategoryParseError,
		},
		{
			name: "http 429",
			err:  &cvparse.APIError{Code: 429, Title: "Too Many Requests"},
			want: CategoryRateLimit,
		},
		{
			name: "http 402",
			err:  &cvparse.APIError{Code: 402, Title: "Payment Required"},
			want: CategoryPaymentRequired,
		},
		{
			name: "http 504",
			err:  &cvparse.APIError{Code: 504, Title: "Gateway Timeout"},
			want: CategoryTimeout,
		},
		{
			name: "http 422",
			err:  &cvparse.APIError{Code: 422, Title: "Unprocessable Entity"},
			want: CategoryParseError,
		},
		{
			name: "http 500",
			err:  &cvparse.APIError{Code: 500, Title: "Internal Server Error"},
			want: CategoryAIError,
		},
		{
			name: "context deadline",
			err:  fmt.Errorf("extract: %w", context.DeadlineExceeded),
			want: CategoryTimeout,
		},
		{
			name: "path error",
			err:  &fs.PathError{Op: "open", Path: "cv.pdf", Err: errors.New("no such file")},
			want: CategoryFileError,
		},
		{
			name: "anything else",
			err:  errors.New("something odd"),
			want: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeError(tt.err))
		})
	}
}
