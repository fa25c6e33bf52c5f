package mutation

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
)

// Committed records a chain step whose remote effect took place.
type Committed struct {
	Name   string
	Result any
}

// ChainError reports a chain that failed after earlier steps committed.
// Committed steps are not undone; the caller decides on compensation.
type ChainError struct {
	Failed    string
	Committed []Committed
	Err       error
}

func (e *ChainError) Error() string {
	names := make([]string, 0, len(e.Committed))
	for _, c := range e.Committed {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("step %s failed after %s committed: %v", e.Failed, strings.Join(names, ", "), e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// Result returns the result of the committed step called name.
func (e *ChainError) Result(name string) (any, bool) {
	for _, c := range e.Committed {
		if c.Name == name {
			return c.Result, true
		}
	}
	return nil, false
}

// Chain runs dependent mutations in order. Each step is an independent
// Mutate; a failure after the first step is reported as a partial failure.
type Chain struct {
	co        *Coordinator
	committed []Committed
}

// NewChain starts an empty chain.
func NewChain(co *Coordinator) *Chain {
	return &Chain{co: co}
}

// Committed returns the steps that succeeded so far.
func (c *Chain) Committed() []Committed {
	return append([]Committed(nil), c.committed...)
}

// Step runs m as the chain's next step. When an earlier step has committed,
// a failure is returned as a PARTIAL_FAILURE wrapping a *ChainError.
func Step[T any](ctx context.Context, c *Chain, m Mutation[T]) (T, error) {
	v, err := Mutate(ctx, c.co, m)
	if err != nil {
		if len(c.committed) == 0 {
			return v, err
		}
		return v, apperrors.Wrap(apperrors.CodePartialFailure, "chained write partially applied", &ChainError{
			Failed:    m.Name,
			Committed: c.Committed(),
			Err:       err,
		})
	}
	c.committed = append(c.committed, Committed{Name: m.Name, Result: v})
	return v, nil
}
