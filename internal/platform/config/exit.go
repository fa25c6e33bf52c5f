package config

import (
	"fmt"
	"os"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
)

// Exit codes reported by command entrypoints.
const (
	ExitFailure      = 1
	ExitUsage        = 2
	ExitAuthRequired = 3
	ExitUnavailable  = 4
)

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(ExitFailure)
}

// Exit writes err to stderr and exits with ExitCode(err).
func Exit(prefix string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
	os.Exit(ExitCode(err))
}

// ExitCode maps err's application code to a process exit code.
func ExitCode(err error) int {
	switch apperrors.CodeOf(err) {
	case "":
		return 0
	case apperrors.CodeValidation:
		return ExitUsage
	case apperrors.CodeAuthRequired, apperrors.CodeStaleSession:
		return ExitAuthRequired
	case apperrors.CodeNetwork:
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
