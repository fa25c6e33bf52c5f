package marshal

import (
	"crypto/ed25519"
	"crypto/x509"
	"testing"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
)

func TestParsePrincipalKnownValues(t *testing.T) {
	anon, err := ParsePrincipal("2vxsx-fae")
	if err != nil {
		t.Fatalf("parse anonymous: %v", err)
	}
	if !anon.IsAnonymous() {
		t.Fatal("expected anonymous principal")
	}
	if anon != AnonymousPrincipal() {
		t.Fatal("anonymous principal mismatch")
	}

	mgmt, err := ParsePrincipal("aaaaa-aa")
	if err != nil {
		t.Fatalf("parse management principal: %v", err)
	}
	if len(mgmt.Bytes()) != 0 {
		t.Fatalf("management principal bytes = %x, want empty", mgmt.Bytes())
	}
}

func TestSelfAuthenticatingPrincipalRoundTrip(t *testing.T) {
	pub := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)).Public()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	p := SelfAuthenticatingPrincipal(der)
	if got := len(p.Bytes()); got != 29 {
		t.Fatalf("len(bytes) = %d, want 29", got)
	}
	parsed, err := ParsePrincipal(p.String())
	if err != nil {
		t.Fatalf("parse %q: %v", p.String(), err)
	}
	if parsed != p {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, p)
	}
}

func TestParsePrincipalRejectsMalformed(t *testing.T) {
	for _, text := range []string{"", "2VXSX-FAE", "2vxsx-fab", "2vxsxfae", "2vxsx-fae-", "not a principal", "aaaaa-ab", "2vxsx_fae"} {
		t.Run(text, func(t *testing.T) {
			_, err := ParsePrincipal(text)
			if !apperrors.HasCode(err, apperrors.CodeValidation) {
				t.Fatalf("ParsePrincipal(%q) error = %v, want validation", text, err)
			}
		})
	}
}

func TestPrincipalFromBytesLimit(t *testing.T) {
	if _, err := PrincipalFromBytes(make([]byte, 30)); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestDecodePrincipalReportsMalformed(t *testing.T) {
	_, err := DecodePrincipal(Text("2vxsx-fab"))
	if !apperrors.HasCode(err, apperrors.CodeMalformedResponse) {
		t.Fatalf("error = %v, want malformed", err)
	}
}
