package registry

import (
	"strings"

	"github.com/louisbranch/ledgerlink/internal/identity"
	"github.com/louisbranch/ledgerlink/internal/marshal"
	platformgrpc "github.com/louisbranch/ledgerlink/internal/platform/grpc"
)

// ConnectionContext pairs the active identity, or none, with the transport
// configuration needed to reach every backend.
type ConnectionContext struct {
	// Identity is nil for an anonymous context.
	Identity *identity.Identity
	// Endpoint is the default backend address.
	Endpoint string
	// Endpoints overrides Endpoint per service.
	Endpoints map[Service]string
	Trust     platformgrpc.TrustConfig
}

// Anonymous reports whether no identity is active.
func (c ConnectionContext) Anonymous() bool {
	return c.Identity == nil
}

// Principal returns the identity's principal, or the anonymous principal.
func (c ConnectionContext) Principal() marshal.Principal {
	return c.Identity.Principal()
}

// WithIdentity returns a copy of c bound to id. A nil id yields an
// anonymous context with the same transport configuration.
func (c ConnectionContext) WithIdentity(id *identity.Identity) ConnectionContext {
	c.Identity = id
	return c
}

// Address returns the backend address for service.
func (c ConnectionContext) Address(service Service) string {
	if addr := strings.TrimSpace(c.Endpoints[service]); addr != "" {
		return addr
	}
	return strings.TrimSpace(c.Endpoint)
}
