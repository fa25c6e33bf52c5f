package transport

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/louisbranch/ledgerlink/internal/identity"
	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"google.golang.org/grpc/metadata"
)

// Metadata headers carrying the caller identity.
const (
	PrincipalHeader = "x-ledgerlink-principal"
	PublicKeyHeader = "x-ledgerlink-pubkey"
	NonceHeader     = "x-ledgerlink-nonce"
	SignatureHeader = "x-ledgerlink-signature"
)

// WithIdentity returns ctx with signed identity metadata for one call to
// fullMethod with the marshalled request body. A nil id leaves ctx anonymous.
func WithIdentity(ctx context.Context, id *identity.Identity, fullMethod string, body []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == nil {
		return ctx
	}
	nonce := uuid.New()
	sig := id.Sign(fullMethod, nonce[:], body)
	return metadata.AppendToOutgoingContext(ctx,
		PrincipalHeader, id.Principal().String(),
		PublicKeyHeader, base64.StdEncoding.EncodeToString(id.PublicKeyDER()),
		NonceHeader, base64.StdEncoding.EncodeToString(nonce[:]),
		SignatureHeader, base64.StdEncoding.EncodeToString(sig),
	)
}

// CallerFromIncoming authenticates the caller of fullMethod from incoming
// metadata. Calls without identity headers are anonymous. Headers that are
// present but do not verify are rejected with CodeAuthRequired.
func CallerFromIncoming(ctx context.Context, fullMethod string, body []byte) (marshal.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	claimed := first(md, PrincipalHeader)
	if claimed == "" {
		return marshal.AnonymousPrincipal(), nil
	}
	der, err1 := base64.StdEncoding.DecodeString(first(md, PublicKeyHeader))
	nonce, err2 := base64.StdEncoding.DecodeString(first(md, NonceHeader))
	sig, err3 := base64.StdEncoding.DecodeString(first(md, SignatureHeader))
	if err1 != nil || err2 != nil || err3 != nil {
		return marshal.Principal{}, apperrors.New(apperrors.CodeAuthRequired, "malformed identity metadata")
	}
	p, err := identity.Verify(der, fullMethod, nonce, body, sig)
	if err != nil {
		return marshal.Principal{}, err
	}
	if p.String() != claimed {
		return marshal.Principal{}, apperrors.New(apperrors.CodeAuthRequired, "principal does not match public key")
	}
	return p, nil
}

func first(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
