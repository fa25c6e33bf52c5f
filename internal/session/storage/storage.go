// Package storage defines persistence contracts for session continuation.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no continuation is stored.
var ErrNotFound = errors.New("record not found")

// Continuation lets a later process resume a signed-in session without the
// interactive flow. The identity seed is only ever stored sealed.
type Continuation struct {
	Principal  string
	SealedSeed []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the continuation can no longer be resumed at now.
func (c Continuation) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ContinuationStore persists at most one continuation.
type ContinuationStore interface {
	PutContinuation(ctx context.Context, c Continuation) error
	GetContinuation(ctx context.Context) (Continuation, error)
	DeleteContinuation(ctx context.Context) error
}
