package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for exit-code mapping and user messages.
// Kinds are stable across releases.
type ErrorKind string

const (
	// Input errors
	KindBadArgs      ErrorKind = "BadArgs"
	KindUnknownAgent ErrorKind = "UnknownAgent"
	KindUnknownVerb  ErrorKind = "UnknownVerb"

	// Config errors
	KindLoadConfigFailed ErrorKind = "LoadConfigFailed"
	KindMissingConfig    ErrorKind = "MissingConfig"
	KindMissingPrompt    ErrorKind = "MissingPrompt"

	// Environment errors
	KindWorkspaceMissing    ErrorKind = "WorkspaceMissing"
	KindPromptMissing       ErrorKind = "PromptMissing"
	KindMemoryDirUnwritable ErrorKind = "MemoryDirUnwritable"
	KindHostUnavailable     ErrorKind = "HostUnavailable"
	KindEnvPrepFailed       ErrorKind = "EnvPrepFailed"

	// Conflict errors
	KindSessionExists       ErrorKind = "SessionExists"
	KindTaskAlreadyAssigned ErrorKind = "TaskAlreadyAssigned"
	KindConflict            ErrorKind = "Conflict"

	// IO errors
	KindLockTimeout       ErrorKind = "LockTimeout"
	KindNotOwner          ErrorKind = "NotOwner"
	KindIOError           ErrorKind = "IOError"
	KindTransactionFailed ErrorKind = "TransactionFailed"
	KindBackupFailed      ErrorKind = "BackupFailed"
	KindQueueFull         ErrorKind = "QueueFull"
	KindQueueEmpty        ErrorKind = "QueueEmpty"
	KindRecordFailed      ErrorKind = "RecordFailed"

	// Session errors
	KindSessionCreateFailed ErrorKind = "SessionCreateFailed"
	KindSessionMissing      ErrorKind = "SessionMissing"
	KindAgentMissing        ErrorKind = "AgentMissing"
	KindUnsafeCommand       ErrorKind = "UnsafeCommand"

	// Protocol errors
	KindPostVerifyFailed ErrorKind = "PostVerifyFailed"

	// Operator cancellation
	KindInterrupted ErrorKind = "Interrupted"
)

// exitCodes maps error kinds to stable process exit codes. 0 success,
// 1 generic, 2 unknown verb, 10+ reserved per kind.
var exitCodes = map[ErrorKind]int{
	KindUnknownVerb:         2,
	KindBadArgs:             10,
	KindUnknownAgent:        11,
	KindLoadConfigFailed:    12,
	KindMissingConfig:       12,
	KindMissingPrompt:       13,
	KindPromptMissing:       13,
	KindWorkspaceMissing:    14,
	KindMemoryDirUnwritable: 15,
	KindHostUnavailable:     16,
	KindEnvPrepFailed:       17,
	KindSessionExists:       20,
	KindTaskAlreadyAssigned: 21,
	KindConflict:            22,
	KindLockTimeout:         30,
	KindNotOwner:            31,
	KindIOError:             32,
	KindTransactionFailed:   33,
	KindBackupFailed:        34,
	KindQueueFull:           35,
	KindRecordFailed:        36,
	KindSessionCreateFailed: 40,
	KindSessionMissing:      41,
	KindAgentMissing:        42,
	KindUnsafeCommand:       43,
	KindPostVerifyFailed:    50,
	KindInterrupted:         51,
}

// ExitCode returns the stable exit code for an error. Nil maps to 0 and
// untyped errors map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		if code, ok := exitCodes[e.Kind]; ok {
			return code
		}
	}
	return 1
}

// Error is a typed orchestrator error carrying a kind, a human message
// and an optional next-step hint
type Error struct {
	Kind ErrorKind
	Msg  string
	Hint string
	Err  error // Wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed error
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// NewErrorf creates a typed error with a formatted message
func NewErrorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause with a typed kind and message
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithHint attaches a next-step hint shown to the operator
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf extracts the kind from an error chain. Untyped errors report an
// empty kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// HintOf extracts the hint from an error chain, if any
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}
