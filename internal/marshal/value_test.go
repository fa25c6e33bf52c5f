package marshal

import (
	"testing"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDecodeNat(t *testing.T) {
	tests := []struct {
		name    string
		wire    *structpb.Value
		want    string
		wantErr bool
	}{
		{name: "string", wire: Text("18446744073709551616"), want: "18446744073709551616"},
		{name: "small number", wire: structpb.NewNumberValue(42), want: "42"},
		{name: "fraction", wire: structpb.NewNumberValue(1.5), wantErr: true},
		{name: "negative", wire: structpb.NewNumberValue(-1), wantErr: true},
		{name: "signed text", wire: Text("-5"), wantErr: true},
		{name: "empty text", wire: Text(""), wantErr: true},
		{name: "bool", wire: Bool(true), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeNat(tc.wire)
			if tc.wantErr {
				if !apperrors.HasCode(err, apperrors.CodeMalformedResponse) {
					t.Fatalf("error = %v, want malformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("DecodeNat() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRecordMissingFieldIsMalformed(t *testing.T) {
	rec, err := DecodeRecord(Struct(map[string]*structpb.Value{"name": Text("x")}))
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if _, err := rec.Text("title"); !apperrors.HasCode(err, apperrors.CodeMalformedResponse) {
		t.Fatalf("error = %v, want malformed", err)
	}
	if _, err := rec.Nat("name"); !apperrors.HasCode(err, apperrors.CodeMalformedResponse) {
		t.Fatalf("error = %v, want malformed", err)
	}
}

func TestMethodEncodeDecode(t *testing.T) {
	m := Method[uint64, string]{
		Name: "echo",
		ToWire: func(n uint64) ([]*structpb.Value, error) {
			return []*structpb.Value{EncodeNat64(n)}, nil
		},
		FromWire: DecodeText,
	}
	args, err := m.Encode(7)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := args.GetValues()[0].GetStringValue(); got != "7" {
		t.Fatalf("encoded arg = %q, want 7", got)
	}
	if _, err := m.Decode(Bool(true)); !apperrors.HasCode(err, apperrors.CodeMalformedResponse) {
		t.Fatalf("decode error = %v, want malformed", err)
	}
}
