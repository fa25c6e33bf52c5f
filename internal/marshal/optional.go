package marshal

import "google.golang.org/protobuf/types/known/structpb"

// Optional holds a value that may be absent. It replaces the wire's
// zero-or-one element list encoding inside the domain model.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// FromPtr converts a nil-able pointer.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSome reports whether a value is present.
func (o Optional[T]) IsSome() bool {
	return o.ok
}

// OrElse returns the value or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if !o.ok {
		return fallback
	}
	return o.value
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
func (o Optional[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.value
	return &v
}

// DecodeOptional maps an empty list to None and a one-element list to Some.
// Longer lists violate the wire contract.
func DecodeOptional[T any](v *structpb.Value, decode Decoder[T]) (Optional[T], error) {
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return None[T](), malformed("expected optional, got %s", kindName(v))
	}
	values := list.ListValue.GetValues()
	switch len(values) {
	case 0:
		return None[T](), nil
	case 1:
		inner, err := decode(values[0])
		if err != nil {
			return None[T](), err
		}
		return Some(inner), nil
	default:
		return None[T](), malformed("optional holds %d elements", len(values))
	}
}

// EncodeOptional maps None to an empty list and Some to a one-element list.
func EncodeOptional[T any](o Optional[T], encode Encoder[T]) (*structpb.Value, error) {
	v, ok := o.Get()
	if !ok {
		return List(), nil
	}
	inner, err := encode(v)
	if err != nil {
		return nil, err
	}
	return List(inner), nil
}
