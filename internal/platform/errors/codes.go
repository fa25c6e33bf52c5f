// Package errors provides the classified error values returned by every
// layer of the client: marshalling, session, registry, cache and mutations.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// CodeValidation marks malformed input that was never sent over the wire.
	CodeValidation Code = "VALIDATION"
	// CodeRemote marks an explicit failure reported by a backend.
	CodeRemote Code = "REMOTE"
	// CodeMalformedResponse marks a backend reply that violates the wire contract.
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"
	// CodeNetwork marks a transport failure or timeout.
	CodeNetwork Code = "NETWORK"
	// CodeAuthRequired marks an operation that needs an identity while anonymous.
	CodeAuthRequired Code = "AUTH_REQUIRED"
	// CodeStaleSession marks a call made through a superseded connection context.
	CodeStaleSession Code = "STALE_SESSION"

	// CodeLoginInProgress rejects a login while another attempt is pending.
	CodeLoginInProgress Code = "LOGIN_IN_PROGRESS"
	// CodePartialFailure reports a chained write whose later step failed
	// after earlier steps were committed remotely.
	CodePartialFailure Code = "PARTIAL_FAILURE"
)

// Retryable reports whether an operation failing with this code may be
// re-issued transparently. Only transport failures qualify.
func (c Code) Retryable() bool {
	return c == CodeNetwork
}

// GRPCCode maps error codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeValidation:
		return codes.InvalidArgument
	case CodeRemote:
		return codes.FailedPrecondition
	case CodeNetwork:
		return codes.Unavailable
	case CodeAuthRequired:
		return codes.Unauthenticated
	case CodeStaleSession, CodeLoginInProgress, CodePartialFailure:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// CodeFromGRPC classifies a gRPC status code received from a backend.
func CodeFromGRPC(code codes.Code) Code {
	switch code {
	// Transport-level trouble, including calls the caller gave up on.
	case codes.Unavailable,
		codes.DeadlineExceeded,
		codes.Canceled,
		codes.ResourceExhausted,
		codes.Aborted:
		return CodeNetwork

	case codes.Unauthenticated:
		return CodeAuthRequired

	// The backend understood the call and refused it.
	case codes.PermissionDenied,
		codes.FailedPrecondition,
		codes.NotFound,
		codes.AlreadyExists:
		return CodeRemote

	default:
		return CodeMalformedResponse
	}
}
