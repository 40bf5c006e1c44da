package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem data errors
// 13000-13999: Judge & sandbox errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Token errors (11000-11099)
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Problem Data Errors (12000-12999) ==========

	// Test cases (12100-12199)
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102

	// ========== Judge & Sandbox Errors (13000-13999) ==========

	// Judge (13100-13199)
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	TemplateMismatch    ErrorCode = 13107
	JudgeConfigInvalid  ErrorCode = 13108
	ReportInvalid       ErrorCode = 13109
	StatusPersistFailed ErrorCode = 13110

	// Isolation (13200-13299)
	IsolationUnavailable ErrorCode = 13200
	IsolationSetupFailed ErrorCode = 13201
	LaunchFailed         ErrorCode = 13202
	ResolutionError      ErrorCode = 13203
	MissingCounters      ErrorCode = 13204
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Test cases
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",

	// Judge
	JudgeSystemError:    "Judge system error",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	TemplateMismatch:    "Source does not match template",
	JudgeConfigInvalid:  "Invalid judge configuration",
	ReportInvalid:       "Invalid report node",
	StatusPersistFailed: "Failed to persist judge status",

	// Isolation
	IsolationUnavailable: "Isolation backend unavailable",
	IsolationSetupFailed: "Isolation setup failed",
	LaunchFailed:         "Sandbox process launch failed",
	ResolutionError:      "Resource group no longer exists",
	MissingCounters:      "Resource group counters missing",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == TestCaseNotFound:
		return 404
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}

// IsConfiguration reports whether the code belongs to the configuration class:
// errors that prevent any report from being produced.
func (c ErrorCode) IsConfiguration() bool {
	switch c {
	case InvalidParams, ValidationFailed, InvalidFormat, InvalidValue, RequiredFieldEmpty,
		TestCaseNotFound, TestCaseInvalid, JudgeConfigInvalid:
		return true
	default:
		return false
	}
}

// IsIsolation reports whether the code was raised by the isolation backend.
func (c ErrorCode) IsIsolation() bool {
	return c >= 13200 && c < 13300
}
