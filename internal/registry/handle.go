package registry

import (
	"context"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/transport"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handle binds one service to one generation. It is never mutated; a
// context change replaces it.
type Handle struct {
	name      Service
	gen       uint64
	genCtx    context.Context
	principal marshal.Principal
	caller    transport.Caller
	reg       *Registry
}

// Name returns the service name.
func (h *Handle) Name() Service {
	return h.name
}

// Generation returns the generation the handle was built for.
func (h *Handle) Generation() uint64 {
	return h.gen
}

// Principal returns the identity calls are issued under.
func (h *Handle) Principal() marshal.Principal {
	return h.principal
}

// Anonymous reports whether calls are issued without identity.
func (h *Handle) Anonymous() bool {
	return h.principal.IsAnonymous()
}

// Call issues method. Calls on a superseded handle fail with
// CodeStaleSession, and so do calls whose generation ends while they are
// in flight; their replies are discarded.
func (h *Handle) Call(ctx context.Context, method string, args *structpb.ListValue) (*structpb.Value, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.genCtx, cancel)
	defer stop()
	// Checked after registering: a generation that ends from here on
	// cancels callCtx.
	if h.genCtx.Err() != nil || !h.reg.Current(h.gen) {
		return nil, h.stale(method)
	}

	reply, err := h.caller.Call(callCtx, method, args)
	if !h.reg.Current(h.gen) {
		return nil, h.stale(method)
	}
	return reply, err
}

func (h *Handle) stale(method string) error {
	return apperrors.WithMetadata(apperrors.CodeStaleSession,
		"service handle belongs to a superseded session",
		map[string]string{"service": string(h.name), "method": method},
	)
}

// Invoke runs one marshalled method on h: arguments are validated before
// any dispatch, identity-only methods are refused while anonymous, and the
// reply is decoded with the method's rules.
func Invoke[A, R any](ctx context.Context, h *Handle, m marshal.Method[A, R], args A) (R, error) {
	var zero R
	if h == nil {
		return zero, apperrors.New(apperrors.CodeStaleSession, "no service handle")
	}
	if m.RequiresIdentity && h.Anonymous() {
		return zero, apperrors.Newf(apperrors.CodeAuthRequired, "%s.%s requires a signed-in identity", h.name, m.Name)
	}
	wire, err := m.Encode(args)
	if err != nil {
		return zero, err
	}
	reply, err := h.Call(ctx, m.Name, wire)
	if err != nil {
		return zero, err
	}
	return m.Decode(reply)
}
