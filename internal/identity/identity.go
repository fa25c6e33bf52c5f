// Package identity holds the operator's credential: an ed25519 key pair
// whose self-authenticating principal identifies the caller to every
// backend, plus the authenticators that produce it.
package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
)

// SeedSize is the length of the private seed an Identity is built from.
const SeedSize = ed25519.SeedSize

// Identity is an authenticated credential. It is immutable once created.
type Identity struct {
	key       ed25519.PrivateKey
	der       []byte
	principal marshal.Principal
}

// FromSeed builds the identity for a 32-byte ed25519 seed.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != SeedSize {
		return nil, apperrors.Newf(apperrors.CodeValidation, "identity seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	der, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &Identity{
		key:       key,
		der:       der,
		principal: marshal.SelfAuthenticatingPrincipal(der),
	}, nil
}

// Generate creates a random identity. A nil reader uses crypto/rand.
func Generate(r io.Reader) (*Identity, error) {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("read identity seed: %w", err)
	}
	return FromSeed(seed)
}

// Principal returns the textual account identifier of the identity.
func (id *Identity) Principal() marshal.Principal {
	if id == nil {
		return marshal.AnonymousPrincipal()
	}
	return id.principal
}

// PublicKeyDER returns the DER-encoded public key.
func (id *Identity) PublicKeyDER() []byte {
	return bytes.Clone(id.der)
}

// Seed returns a copy of the private seed, used only to seal continuations.
func (id *Identity) Seed() []byte {
	return bytes.Clone(id.key.Seed())
}

// Sign signs the request payload for method with the given nonce.
func (id *Identity) Sign(method string, nonce, body []byte) []byte {
	return ed25519.Sign(id.key, SigningPayload(method, nonce, body))
}

// SigningPayload is the byte string covered by a request signature:
// length-prefixed method, nonce and body.
func SigningPayload(method string, nonce, body []byte) []byte {
	var buf bytes.Buffer
	for _, part := range [][]byte{[]byte(method), nonce, body} {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(part)))
		buf.Write(part)
	}
	return buf.Bytes()
}

// Verify checks sig against the DER public key and returns the caller's
// principal. Backends use it to authenticate a request.
func Verify(der []byte, method string, nonce, body, sig []byte) (marshal.Principal, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return marshal.Principal{}, apperrors.Wrap(apperrors.CodeAuthRequired, "parse public key", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return marshal.Principal{}, apperrors.New(apperrors.CodeAuthRequired, "public key is not ed25519")
	}
	if !ed25519.Verify(edPub, SigningPayload(method, nonce, body), sig) {
		return marshal.Principal{}, apperrors.New(apperrors.CodeAuthRequired, "signature mismatch")
	}
	return marshal.SelfAuthenticatingPrincipal(der), nil
}

// Authenticator runs the external authentication flow. It blocks until the
// flow resolves or ctx ends.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (*Identity, error)

// Authenticate implements Authenticator.
func (fn AuthenticatorFunc) Authenticate(ctx context.Context) (*Identity, error) {
	return fn(ctx)
}

// Static returns an authenticator that always yields id.
func Static(id *Identity) Authenticator {
	return AuthenticatorFunc(func(ctx context.Context) (*Identity, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return id, nil
	})
}
