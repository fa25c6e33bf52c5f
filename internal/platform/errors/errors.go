package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is the classified error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context (service, method, key)
	Reason   any               // Backend failure payload, verbatim, for CodeRemote
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return string(CodeUnknown)
	}
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok && e != nil {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithMetadata creates an error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Remote creates a CodeRemote error carrying the backend reason verbatim.
func Remote(message string, reason any) *Error {
	return &Error{
		Code:    CodeRemote,
		Message: message,
		Reason:  reason,
	}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// HasCode reports whether err's chain contains an *Error with code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// FromStatus classifies a transport error. Errors that already carry a
// code are returned unchanged; context errors become CodeNetwork.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return Wrap(CodeNetwork, "remote call interrupted", err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return Wrap(CodeNetwork, "transport failure", err)
	}
	code := CodeFromGRPC(st.Code())
	if code == CodeRemote {
		appErr := Remote(st.Message(), st.Message())
		appErr.Cause = err
		return appErr
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("remote call failed with %s", st.Code()),
		Cause:   err,
	}
}

// ToGRPCStatus converts the error to a gRPC status error.
func (e *Error) ToGRPCStatus() error {
	if e == nil {
		return status.New(codes.Internal, string(CodeUnknown)).Err()
	}
	return status.New(e.Code.GRPCCode(), e.Error()).Err()
}
