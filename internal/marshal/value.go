package marshal

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxExactFloat is the largest integer a float64 holds without loss.
const maxExactFloat = 1 << 53

// Decoder converts one wire value into a domain value.
type Decoder[T any] func(*structpb.Value) (T, error)

// Encoder converts one domain value into a wire value.
type Encoder[T any] func(T) (*structpb.Value, error)

func malformed(format string, args ...any) error {
	return apperrors.Newf(apperrors.CodeMalformedResponse, format, args...)
}

func invalid(format string, args ...any) error {
	return apperrors.Newf(apperrors.CodeValidation, format, args...)
}

// Text encodes a string.
func Text(s string) *structpb.Value {
	return structpb.NewStringValue(s)
}

// Bool encodes a boolean.
func Bool(b bool) *structpb.Value {
	return structpb.NewBoolValue(b)
}

// Null encodes the unit value.
func Null() *structpb.Value {
	return structpb.NewNullValue()
}

// List encodes values as a sequence.
func List(values ...*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// Struct encodes named fields as a record.
func Struct(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

// EncodeList encodes every item with encode.
func EncodeList[T any](items []T, encode Encoder[T]) (*structpb.Value, error) {
	values := make([]*structpb.Value, 0, len(items))
	for i, item := range items {
		v, err := encode(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		values = append(values, v)
	}
	return List(values...), nil
}

// DecodeText decodes a string.
func DecodeText(v *structpb.Value) (string, error) {
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", malformed("expected text, got %s", kindName(v))
	}
	return s.StringValue, nil
}

// DecodeBool decodes a boolean.
func DecodeBool(v *structpb.Value) (bool, error) {
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, malformed("expected bool, got %s", kindName(v))
	}
	return b.BoolValue, nil
}

// DecodeNull accepts the unit value.
func DecodeNull(v *structpb.Value) (struct{}, error) {
	if _, ok := v.GetKind().(*structpb.Value_NullValue); !ok {
		return struct{}{}, malformed("expected null, got %s", kindName(v))
	}
	return struct{}{}, nil
}

// DecodeList decodes a sequence, decoding each element with decode.
func DecodeList[T any](v *structpb.Value, decode Decoder[T]) ([]T, error) {
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, malformed("expected list, got %s", kindName(v))
	}
	values := list.ListValue.GetValues()
	out := make([]T, 0, len(values))
	for i, item := range values {
		decoded, err := decode(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

// EncodeNat encodes a non-negative big integer as a decimal string.
func EncodeNat(n *big.Int) (*structpb.Value, error) {
	if n == nil {
		return nil, invalid("nat is required")
	}
	if n.Sign() < 0 {
		return nil, invalid("nat must not be negative: %s", n.String())
	}
	return Text(n.String()), nil
}

// EncodeNat64 encodes a uint64 as a nat.
func EncodeNat64(n uint64) *structpb.Value {
	return Text(new(big.Int).SetUint64(n).String())
}

// DecodeNat decodes a nat. Decimal strings of any size are accepted, as are
// integral numbers small enough to be exact in a float64.
func DecodeNat(v *structpb.Value) (*big.Int, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		s := kind.StringValue
		if s == "" || strings.TrimLeft(s, "0123456789") != "" {
			return nil, malformed("invalid nat %q", s)
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, malformed("invalid nat %q", s)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f < 0 || f > maxExactFloat || f != float64(int64(f)) {
			return nil, malformed("nat number %v is not an exact non-negative integer", f)
		}
		return big.NewInt(int64(f)), nil
	default:
		return nil, malformed("expected nat, got %s", kindName(v))
	}
}

// DecodeNat64 decodes a nat that must fit in a uint64.
func DecodeNat64(v *structpb.Value) (uint64, error) {
	n, err := DecodeNat(v)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, malformed("nat %s overflows uint64", n.String())
	}
	return n.Uint64(), nil
}

// Record gives checked access to the fields of a wire struct.
type Record struct {
	fields map[string]*structpb.Value
}

// DecodeRecord decodes a struct.
func DecodeRecord(v *structpb.Value) (Record, error) {
	s, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return Record{}, malformed("expected record, got %s", kindName(v))
	}
	return Record{fields: s.StructValue.GetFields()}, nil
}

// Field returns a required field.
func (r Record) Field(name string) (*structpb.Value, error) {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return nil, malformed("record field %q is missing", name)
	}
	return v, nil
}

// Keys returns the field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Text decodes a required text field.
func (r Record) Text(name string) (string, error) {
	return field(r, name, DecodeText)
}

// Bool decodes a required bool field.
func (r Record) Bool(name string) (bool, error) {
	return field(r, name, DecodeBool)
}

// Nat decodes a required nat field.
func (r Record) Nat(name string) (*big.Int, error) {
	return field(r, name, DecodeNat)
}

// Nat64 decodes a required nat field that fits in a uint64.
func (r Record) Nat64(name string) (uint64, error) {
	return field(r, name, DecodeNat64)
}

// Amount decodes a required amount field.
func (r Record) Amount(name string) (Amount, error) {
	return field(r, name, DecodeAmount)
}

// Principal decodes a required principal field.
func (r Record) Principal(name string) (Principal, error) {
	return field(r, name, DecodePrincipal)
}

// Field decodes a required field of r with decode.
func Field[T any](r Record, name string, decode Decoder[T]) (T, error) {
	return field(r, name, decode)
}

// OptionalField decodes a required optional-encoded field of r.
func OptionalField[T any](r Record, name string, decode Decoder[T]) (Optional[T], error) {
	return field(r, name, func(v *structpb.Value) (Optional[T], error) {
		return DecodeOptional(v, decode)
	})
}

func field[T any](r Record, name string, decode Decoder[T]) (T, error) {
	var zero T
	v, err := r.Field(name)
	if err != nil {
		return zero, err
	}
	out, err := decode(v)
	if err != nil {
		return zero, fmt.Errorf("field %q: %w", name, err)
	}
	return out, nil
}

func kindName(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case nil:
		return "nothing"
	case *structpb.Value_NullValue:
		return "null"
	case *structpb.Value_NumberValue:
		return "number"
	case *structpb.Value_StringValue:
		return "text"
	case *structpb.Value_BoolValue:
		return "bool"
	case *structpb.Value_StructValue:
		return "record"
	case *structpb.Value_ListValue:
		return "list"
	default:
		return "unknown"
	}
}

// EncodeText is the Encoder form of Text.
func EncodeText(s string) (*structpb.Value, error) {
	return Text(s), nil
}

// EncodeBool is the Encoder form of Bool.
func EncodeBool(b bool) (*structpb.Value, error) {
	return Bool(b), nil
}

// EncodeNat64Value is the Encoder form of EncodeNat64.
func EncodeNat64Value(n uint64) (*structpb.Value, error) {
	return EncodeNat64(n), nil
}

// EncodeTimestamp encodes t as nanoseconds since the Unix epoch.
func EncodeTimestamp(t time.Time) (*structpb.Value, error) {
	ns := t.UnixNano()
	if ns < 0 {
		return nil, invalid("timestamp %s precedes the epoch", t)
	}
	return EncodeNat64(uint64(ns)), nil
}

// DecodeTimestamp decodes nanoseconds since the Unix epoch.
func DecodeTimestamp(v *structpb.Value) (time.Time, error) {
	ns, err := DecodeNat64(v)
	if err != nil {
		return time.Time{}, err
	}
	if ns > math.MaxInt64 {
		return time.Time{}, malformed("timestamp %d overflows", ns)
	}
	return time.Unix(0, int64(ns)).UTC(), nil
}

// EncodePage encodes the cursor and limit fields shared by list methods.
// The returned map can be extended with method-specific fields.
func EncodePage(p pagination.Page) map[string]*structpb.Value {
	cursor := List()
	if p.Cursor != nil {
		cursor = List(EncodeNat64(*p.Cursor))
	}
	limit := List()
	if p.Limit > 0 {
		limit = List(EncodeNat64(uint64(p.Limit)))
	}
	return map[string]*structpb.Value{"cursor": cursor, "limit": limit}
}
