package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid  = fmt.Errorf("authentication failed")
	ErrUnavailable  = fmt.Errorf("service unavailable")
)

// Sentinel errors for the session layer.
var (
	ErrEmptyMessage         = fmt.Errorf("message text is empty")
	ErrReadOnlyConversation = fmt.Errorf("chat is read-only")
	ErrBotNotReady          = fmt.Errorf("bot not ready")
	ErrSendInProgress       = fmt.Errorf("a message is already being sent")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrDecryption           = fmt.Errorf("decryption failed")
	ErrPreferences          = fmt.Errorf("preferences store failed")
)

// TransportError is a streaming or directory request that failed before any
// payload was decoded: a non-success status or a response without a body.
type TransportError struct {
	Status  int    // HTTP status, 0 when no response was received
	Message string // response text, or a status-derived default
	Err     error  // category sentinel, may be nil
}

func (e *TransportError) Error() string { return e.Message }

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a StreamError event surfaced as the failure of a send.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Session.SendMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Reason returns the human-readable cause of err for display to the user.
// Protocol and transport errors render their message verbatim, without any
// operation prefixes added while the error travelled up the stack.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Message
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

// IsPrecondition reports whether err rejected a send before any network activity.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrReadOnlyConversation) ||
		errors.Is(err, ErrBotNotReady) ||
		errors.Is(err, ErrSendInProgress)
}

// ErrorCode is a machine-parseable error category for logs and exit codes.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeUnavailable    ErrorCode = "UNAVAILABLE"
	CodeEmptyMessage   ErrorCode = "EMPTY_MESSAGE"
	CodeReadOnly       ErrorCode = "READ_ONLY"
	CodeBotNotReady    ErrorCode = "BOT_NOT_READY"
	CodeSendInProgress ErrorCode = "SEND_IN_PROGRESS"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	CodeDecryption     ErrorCode = "DECRYPTION"
	CodePreferences    ErrorCode = "PREFERENCES"
	CodeProtocol       ErrorCode = "PROTOCOL"
	CodeTransport      ErrorCode = "TRANSPORT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:             CodeNotFound,
	ErrInvalidInput:         CodeInvalidInput,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrUnavailable:          CodeUnavailable,
	ErrEmptyMessage:         CodeEmptyMessage,
	ErrReadOnlyConversation: CodeReadOnly,
	ErrBotNotReady:          CodeBotNotReady,
	ErrSendInProgress:       CodeSendInProgress,
	ErrConfigLoad:           CodeConfigLoad,
	ErrDecryption:           CodeDecryption,
	ErrPreferences:          CodePreferences,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Sentinels win over the error's structural type, so a 429 TransportError
// reports RATE_LIMIT rather than TRANSPORT.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return CodeProtocol
	}
	var te *TransportError
	if errors.As(err, &te) {
		return CodeTransport
	}
	return CodeUnknown
}
