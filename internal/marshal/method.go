package marshal

import (
	"fmt"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Method describes the wire contract of one remote method: how domain
// arguments become positional wire arguments and how the reply becomes a
// domain result.
type Method[A, R any] struct {
	// Name is the remote method name within its service.
	Name string
	// RequiresIdentity rejects the call before dispatch when anonymous.
	RequiresIdentity bool
	// ToWire validates and encodes the arguments.
	ToWire func(A) ([]*structpb.Value, error)
	// FromWire decodes the reply.
	FromWire Decoder[R]
}

// Encode runs ToWire, treating a nil ToWire as a method without arguments.
func (m Method[A, R]) Encode(args A) (*structpb.ListValue, error) {
	if m.ToWire == nil {
		return &structpb.ListValue{}, nil
	}
	values, err := m.ToWire(args)
	if err != nil {
		return nil, fmt.Errorf("%s arguments: %w", m.Name, err)
	}
	return &structpb.ListValue{Values: values}, nil
}

// Decode runs FromWire.
func (m Method[A, R]) Decode(reply *structpb.Value) (R, error) {
	var zero R
	if m.FromWire == nil {
		return zero, malformed("%s has no reply decoder", m.Name)
	}
	out, err := m.FromWire(reply)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeRemote) {
			return zero, err
		}
		return zero, fmt.Errorf("%s reply: %w", m.Name, err)
	}
	return out, nil
}

// NoArgs is the argument type of methods without arguments.
type NoArgs struct{}
