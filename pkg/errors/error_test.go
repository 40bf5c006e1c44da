package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "judgebox/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{TestCaseNotFound, "Test case not found"},
		{InvalidParams, "Invalid parameters"},
		{IsolationSetupFailed, "Isolation setup failed"},
		{ErrorCode(1), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{Unauthorized, 401},
		{TokenInvalid, 401},
		{Forbidden, 403},
		{NotFound, 404},
		{ServiceUnavailable, 503},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := New(TestCaseNotFound)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Code != TestCaseNotFound {
		t.Errorf("Code = %v, want %v", err.Code, TestCaseNotFound)
	}
	if err.Error() != TestCaseNotFound.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), TestCaseNotFound.Message())
	}
}

func TestNewf(t *testing.T) {
	err := Newf(TestCaseNotFound, "test_%d.ans not found", 3)

	want := "test_3.ans not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("mkdir: permission denied")
	wrappedErr := Wrap(originalErr, IsolationUnavailable)

	if wrappedErr.Code != IsolationUnavailable {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, IsolationUnavailable)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
}

func TestWrapf(t *testing.T) {
	originalErr := errors.New("no such file")
	err := Wrapf(originalErr, MissingCounters, "read %s", "cpu.stat")

	if err.Error() != "read cpu.stat: no such file" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(ValidationFailed).
		WithDetail("field", "timeout").
		WithDetail("reason", "must be positive")

	if err.Details["field"] != "timeout" {
		t.Error("Field detail not set correctly")
	}
	if err.Details["reason"] != "must be positive" {
		t.Error("Reason detail not set correctly")
	}
}

func TestError_WithMessage(t *testing.T) {
	customMsg := "custom error message"
	err := New(InternalServerError).WithMessage(customMsg)

	if err.Error() != customMsg {
		t.Errorf("Error() = %v, want %v", err.Error(), customMsg)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(LaunchFailed),
			want: LaunchFailed,
		},
		{
			name: "custom error wrapped by fmt",
			err:  fmt.Errorf("build: %w", New(IsolationSetupFailed)),
			want: IsolationSetupFailed,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(TemplateMismatch)

	if !Is(err, TemplateMismatch) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, CompilationError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, TemplateMismatch) {
		t.Error("Is() should return false for nil error")
	}
}

func TestIsConfigurationError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "weights", err: ConfigError("weights sum to %d", 90), want: true},
		{name: "missing answer", err: New(TestCaseNotFound), want: true},
		{name: "validation", err: ValidationError("timeout", "must be positive"), want: true},
		{name: "isolation", err: New(IsolationSetupFailed), want: false},
		{name: "plain", err: errors.New("disk full"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsConfigurationError(tc.err); got != tc.want {
				t.Fatalf("IsConfigurationError() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestErrorCode_IsIsolation(t *testing.T) {
	for _, code := range []ErrorCode{IsolationUnavailable, IsolationSetupFailed, LaunchFailed, ResolutionError, MissingCounters} {
		if !code.IsIsolation() {
			t.Fatalf("code %d should be an isolation code", code)
		}
	}
	if CompilationError.IsIsolation() {
		t.Fatal("compilation error is not an isolation code")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("NotFoundError", func(t *testing.T) {
		err := NotFoundError("template")
		if err.Code != NotFound {
			t.Error("NotFoundError should use NotFound code")
		}
		if err.Error() != "template not found" {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("timeout", "must be positive")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "timeout" {
			t.Error("Field detail not set")
		}
	})
}
