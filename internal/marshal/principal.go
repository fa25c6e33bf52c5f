package marshal

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"hash/crc32"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	maxPrincipalBytes  = 29
	principalGroupSize = 5
	selfAuthenticating = 0x02
	anonymousPrincipal = 0x04
	principalCRCLength = 4
	principalSeparator = "-"
)

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is an identity as understood by the remote services. Its
// textual form is the lowercase base32 encoding of a CRC-32 checksum
// followed by the raw bytes, split into dash-separated groups of five.
type Principal struct {
	raw string
}

// AnonymousPrincipal returns the identity used by unauthenticated callers.
func AnonymousPrincipal() Principal {
	return Principal{raw: string([]byte{anonymousPrincipal})}
}

// PrincipalFromBytes validates raw principal bytes.
func PrincipalFromBytes(b []byte) (Principal, error) {
	if len(b) > maxPrincipalBytes {
		return Principal{}, invalid("principal is %d bytes, max %d", len(b), maxPrincipalBytes)
	}
	return Principal{raw: string(b)}, nil
}

// SelfAuthenticatingPrincipal derives the principal of a DER-encoded public key.
func SelfAuthenticatingPrincipal(derPublicKey []byte) Principal {
	sum := sha256.Sum224(derPublicKey)
	raw := make([]byte, 0, len(sum)+1)
	raw = append(raw, sum[:]...)
	raw = append(raw, selfAuthenticating)
	return Principal{raw: string(raw)}
}

// ParsePrincipal accepts only canonical principal text. Validation happens
// before any network call so malformed identities never cost a round trip.
func ParsePrincipal(text string) (Principal, error) {
	if text == "" {
		return Principal{}, invalid("principal is empty")
	}
	if text != strings.ToLower(text) {
		return Principal{}, invalid("principal %q is not lowercase", text)
	}
	compact := strings.ReplaceAll(text, principalSeparator, "")
	decoded, err := principalEncoding.DecodeString(strings.ToUpper(compact))
	if err != nil {
		return Principal{}, invalid("principal %q is not base32", text)
	}
	if len(decoded) < principalCRCLength {
		return Principal{}, invalid("principal %q is too short", text)
	}
	raw := decoded[principalCRCLength:]
	if len(raw) > maxPrincipalBytes {
		return Principal{}, invalid("principal %q is too long", text)
	}
	if !bytes.Equal(decoded[:principalCRCLength], principalChecksum(raw)) {
		return Principal{}, invalid("principal %q has a bad checksum", text)
	}
	p := Principal{raw: string(raw)}
	if p.String() != text {
		return Principal{}, invalid("principal %q is not in canonical form", text)
	}
	return p, nil
}

// Bytes returns a copy of the raw principal bytes.
func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return p.raw == string([]byte{anonymousPrincipal})
}

// String returns the canonical text form.
func (p Principal) String() string {
	raw := []byte(p.raw)
	payload := append(principalChecksum(raw), raw...)
	encoded := strings.ToLower(principalEncoding.EncodeToString(payload))
	groups := make([]string, 0, len(encoded)/principalGroupSize+1)
	for len(encoded) > principalGroupSize {
		groups = append(groups, encoded[:principalGroupSize])
		encoded = encoded[principalGroupSize:]
	}
	groups = append(groups, encoded)
	return strings.Join(groups, principalSeparator)
}

// EncodePrincipal encodes a principal as text.
func EncodePrincipal(p Principal) (*structpb.Value, error) {
	return Text(p.String()), nil
}

// DecodePrincipal decodes principal text. A bad principal from a backend is
// a contract violation rather than a validation failure.
func DecodePrincipal(v *structpb.Value) (Principal, error) {
	text, err := DecodeText(v)
	if err != nil {
		return Principal{}, err
	}
	p, err := ParsePrincipal(text)
	if err != nil {
		return Principal{}, malformed("invalid principal %q", text)
	}
	return p, nil
}

func principalChecksum(raw []byte) []byte {
	sum := make([]byte, principalCRCLength)
	binary.BigEndian.PutUint32(sum, crc32.ChecksumIEEE(raw))
	return sum
}
