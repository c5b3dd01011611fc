package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeEncoding, "unknown record tag 7"),
			expected: "[ENCODING_ERROR] unknown record tag 7",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeIO, "flush failed", errors.New("disk full")),
			expected: "[IO_ERROR] flush failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeAggregation, "aggregation failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeSamplingConfig, "error 1")
	err2 := New(CodeSamplingConfig, "error 2")
	err3 := New(CodeIO, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestNewf(t *testing.T) {
	err := Newf(CodeEncoding, "unknown record tag %d at offset %d", 9, 128)
	assert.Equal(t, "[ENCODING_ERROR] unknown record tag 9 at offset 128", err.Error())
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		pred     func(error) bool
		expected bool
	}{
		{"initialization error", ErrInitialization, IsInitializationError, true},
		{"wrapped io error", Wrap(CodeIO, "write failed", errors.New("eio")), IsIOError, true},
		{"encoding error", ErrEncoding, IsEncodingError, true},
		{"sampling config error", ErrSamplingConfig, IsSamplingConfigError, true},
		{"aggregation error", ErrAggregation, IsAggregationError, true},
		{"mismatched code", ErrIO, IsEncodingError, false},
		{"nil error", nil, IsIOError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.pred(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeEncoding, GetErrorCode(New(CodeEncoding, "bad tag")))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain error")))
	assert.Equal(t, CodeUnknown, GetErrorCode(nil))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "bad tag", GetErrorMessage(New(CodeEncoding, "bad tag")))
	assert.Equal(t, "plain error", GetErrorMessage(errors.New("plain error")))
	assert.Equal(t, "", GetErrorMessage(nil))
}
