package marshal

import (
	"fmt"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	resultOkField  = "ok"
	resultErrField = "err"
)

// ResultKind discriminates a tagged result.
type ResultKind int

const (
	// ResultOk carries a success payload.
	ResultOk ResultKind = iota + 1
	// ResultErr carries a backend failure reason.
	ResultErr
)

// Result is a decoded tagged result. Only DecodeResult constructs it, so a
// Result always holds exactly one kind.
type Result struct {
	kind    ResultKind
	payload *structpb.Value
}

// Kind returns which side of the result is present.
func (r Result) Kind() ResultKind {
	return r.kind
}

// Payload returns the raw payload of either side.
func (r Result) Payload() *structpb.Value {
	return r.payload
}

// DecodeResult validates the tagged-result shape: a record holding exactly
// one field, named "ok" or "err". Anything else is malformed.
func DecodeResult(v *structpb.Value) (Result, error) {
	rec, err := DecodeRecord(v)
	if err != nil {
		return Result{}, fmt.Errorf("tagged result: %w", err)
	}
	okVal, hasOk := rec.fields[resultOkField]
	errVal, hasErr := rec.fields[resultErrField]
	switch {
	case hasOk && hasErr:
		return Result{}, malformed("tagged result holds both ok and err")
	case !hasOk && !hasErr:
		return Result{}, malformed("tagged result holds neither ok nor err (fields %v)", rec.Keys())
	case len(rec.fields) != 1:
		return Result{}, malformed("tagged result holds unexpected fields %v", rec.Keys())
	case hasOk:
		return Result{kind: ResultOk, payload: nullIfMissing(okVal)}, nil
	default:
		return Result{kind: ResultErr, payload: nullIfMissing(errVal)}, nil
	}
}

// Match calls exactly one of onOk or onErr.
func (r Result) Match(onOk, onErr func(*structpb.Value) error) error {
	switch r.kind {
	case ResultOk:
		return onOk(r.payload)
	case ResultErr:
		return onErr(r.payload)
	default:
		return malformed("tagged result is empty")
	}
}

// UnwrapResult decodes a tagged result, returning the decoded ok payload or
// a REMOTE error carrying the err payload verbatim.
func UnwrapResult[T any](v *structpb.Value, decode Decoder[T]) (T, error) {
	var out T
	result, err := DecodeResult(v)
	if err != nil {
		return out, err
	}
	err = result.Match(
		func(payload *structpb.Value) error {
			decoded, err := decode(payload)
			if err != nil {
				return fmt.Errorf("ok payload: %w", err)
			}
			out = decoded
			return nil
		},
		func(payload *structpb.Value) error {
			return RemoteError(payload)
		},
	)
	return out, err
}

// RemoteError builds the REMOTE error for a backend failure payload. The
// reason is kept verbatim; the message names the failure for logs.
func RemoteError(payload *structpb.Value) *apperrors.Error {
	reason := payload.AsInterface()
	return apperrors.Remote("remote failure: "+ReasonLabel(payload), reason)
}

// ReasonLabel summarizes a failure payload: text is returned as-is and a
// single-variant record returns its variant name.
func ReasonLabel(payload *structpb.Value) string {
	switch kind := payload.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_StructValue:
		fields := kind.StructValue.GetFields()
		if len(fields) == 1 {
			for name := range fields {
				return name
			}
		}
		return "structured reason"
	default:
		return kindName(payload)
	}
}

func nullIfMissing(v *structpb.Value) *structpb.Value {
	if v == nil {
		return Null()
	}
	return v
}
