package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidInput, "test message: %s", "value")

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidInput)
	}

	if err.Message != "test message: value" {
		t.Errorf("Message = %v, want %v", err.Message, "test message: value")
	}

	expected := "INVALID_INPUT: test message: value"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := Wrap(ErrCodeNetwork, cause, "GET %s", "https://example.test/x")

	if err.Code != ErrCodeNetwork {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNetwork)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeInvalidInput, "test"),
			code:     ErrCodeInvalidInput,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeInvalidInput, "test"),
			code:     ErrCodeNetwork,
			expected: false,
		},
		{
			name:     "wrapped error",
			err:      Wrap(ErrCodeNetwork, New(ErrCodeInvalidInput, "inner"), "outer"),
			code:     ErrCodeNetwork,
			expected: true,
		},
		{
			name:     "rate limited",
			err:      fmt.Errorf("fetch: %w", &RateLimitedError{}),
			code:     ErrCodeRateLimited,
			expected: true,
		},
		{
			name:     "api error 404",
			err:      NewAPIError(404, "GET", "/x", nil),
			code:     ErrCodeNotFound,
			expected: true,
		},
		{
			name:     "api error 500",
			err:      NewAPIError(500, "GET", "/x", nil),
			code:     ErrCodeUpstream,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeInvalidInput,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeInvalidInput,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{"Error type", New(ErrCodeTimeout, "test"), ErrCodeTimeout},
		{"closed", ErrClosed, ErrCodeClosed},
		{"plain error", errors.New("plain"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Error type", New(ErrCodeInvalidInput, "friendly message"), "friendly message"},
		{"plain error", errors.New("plain error"), "plain error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.expected {
				t.Errorf("UserMessage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	type transient interface{ Transient() bool }

	tests := []struct {
		name string
		err  transient
		want bool
	}{
		{"network", New(ErrCodeNetwork, "reset"), true},
		{"timeout", New(ErrCodeTimeout, "deadline"), true},
		{"invalid input", New(ErrCodeInvalidInput, "bad"), false},
		{"rate limited", &RateLimitedError{RetryAfter: time.Second}, true},
		{"server error", NewAPIError(503, "GET", "/x", nil), true},
		{"client error", NewAPIError(400, "GET", "/x", nil), false},
		{"not found", NewAPIError(404, "GET", "/x", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Transient(); got != tt.want {
				t.Errorf("Transient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimitedError(t *testing.T) {
	t.Run("with retry after", func(t *testing.T) {
		err := &RateLimitedError{RetryAfter: 60 * time.Second}
		expected := "rate limited: retry after 1m0s"
		if err.Error() != expected {
			t.Errorf("Error() = %v, want %v", err.Error(), expected)
		}
		if got := err.RetryAfterDelay(); got != 60*time.Second {
			t.Errorf("RetryAfterDelay() = %v, want %v", got, 60*time.Second)
		}
	})

	t.Run("without retry after", func(t *testing.T) {
		err := &RateLimitedError{}
		if err.Error() != "rate limited" {
			t.Errorf("Error() = %v, want %v", err.Error(), "rate limited")
		}
		if got := err.RetryAfterDelay(); got != DefaultRetryAfter {
			t.Errorf("RetryAfterDelay() = %v, want %v", got, DefaultRetryAfter)
		}
	})

	t.Run("code method", func(t *testing.T) {
		err := &RateLimitedError{}
		if err.Code() != ErrCodeRateLimited {
			t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeRateLimited)
		}
	})
}

func TestAPIError(t *testing.T) {
	t.Run("truncates body", func(t *testing.T) {
		body := []byte(strings.Repeat("x", MaxBodySnippet*2))
		err := NewAPIError(500, "GET", "https://example.test/a", body)
		if len(err.Body) != MaxBodySnippet {
			t.Errorf("len(Body) = %d, want %d", len(err.Body), MaxBodySnippet)
		}
	})

	t.Run("matches ErrNotFound", func(t *testing.T) {
		err := fmt.Errorf("lookup: %w", NewAPIError(404, "GET", "/a", nil))
		if !errors.Is(err, ErrNotFound) {
			t.Error("errors.Is(404, ErrNotFound) = false, want true")
		}
		if errors.Is(NewAPIError(500, "GET", "/a", nil), ErrNotFound) {
			t.Error("errors.Is(500, ErrNotFound) = true, want false")
		}
	})

	t.Run("message", func(t *testing.T) {
		err := NewAPIError(502, "POST", "https://example.test/a", []byte("bad gateway"))
		want := "upstream error: POST https://example.test/a: 502 Bad Gateway: bad gateway"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})
}
