package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Sandbox supervision errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Timeout             ErrorCode = 10008

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Configuration errors (10400-10499)
	ConfigLoadFailed ErrorCode = 10400

	// ========== Sandbox Supervision Errors (13000-13999) ==========

	// Spawn (13000-13099)
	SandboxSpawnFailed      ErrorCode = 13000
	SandboxChildStartFailed ErrorCode = 13001
	SandboxAlreadyResolved  ErrorCode = 13002

	// Run (13100-13199)
	SandboxWaitFailed       ErrorCode = 13100
	SandboxStatsUnavailable ErrorCode = 13101
	SandboxSignalFailed     ErrorCode = 13102

	// Cleanup (13200-13299)
	SandboxCleanupFailed ErrorCode = 13200

	// Host environment (13300-13399)
	SandboxEnvironmentUnsupported ErrorCode = 13300
	SandboxIdentityNotFound       ErrorCode = 13301
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Timeout:             "Request timeout",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	ConfigLoadFailed: "Failed to load configuration",

	SandboxSpawnFailed:      "Failed to start sandboxed process",
	SandboxChildStartFailed: "The child process has exited unexpectedly",
	SandboxAlreadyResolved:  "Run result has already been resolved",

	SandboxWaitFailed:       "Lost track of the sandboxed process",
	SandboxStatsUnavailable: "Failed to read accounting statistics",
	SandboxSignalFailed:     "Failed to signal the sandboxed process",

	SandboxCleanupFailed: "Failed to release accounting groups",

	SandboxEnvironmentUnsupported: "Host lacks a required accounting controller",
	SandboxIdentityNotFound:       "User not found in sandbox root",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Transient reports whether an operation failing with this code may succeed on retry.
func (c ErrorCode) Transient() bool {
	return c == SandboxChildStartFailed
}
