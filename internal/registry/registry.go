// Package registry hands out per-service handles bound to the current
// connection context. Every context change starts a new generation: handles
// from an earlier generation refuse to call and report a stale session.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	platformgrpc "github.com/louisbranch/ledgerlink/internal/platform/grpc"
	"github.com/louisbranch/ledgerlink/internal/platform/timeouts"
	"github.com/louisbranch/ledgerlink/internal/transport"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
)

// Service names a remote domain service.
type Service string

// Known services.
const (
	Ledger      Service = "ledger"
	NFT         Service = "nft"
	Forums      Service = "forums"
	Preferences Service = "preferences"
)

// Services lists every known service.
var Services = []Service{Ledger, NFT, Forums, Preferences}

// RequiresIdentity reports whether the service refuses anonymous lookups.
func (s Service) RequiresIdentity() bool {
	return s == Preferences
}

func (s Service) valid() bool {
	for _, known := range Services {
		if s == known {
			return true
		}
	}
	return false
}

// Options configures how handles reach their backends.
type Options struct {
	// Dialer overrides the gRPC dialer; nil uses grpc.NewClient.
	Dialer      platformgrpc.Dialer
	DialTimeout time.Duration
	// CheckHealth waits for each backend's health service before use.
	CheckHealth bool
	// CallsPerSecond throttles each handle when positive.
	CallsPerSecond float64
	CallBurst      int
	Transport      transport.Options
	// Interceptors run on every outbound call, after tracing.
	Interceptors []grpc.UnaryClientInterceptor
	Logger       *slog.Logger
}

// Registry owns the handles of the current generation.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	gen     uint64
	cctx    ConnectionContext
	genCtx  context.Context
	cancel  context.CancelFunc
	handles map[Service]*Handle
	conns   map[string]*grpc.ClientConn
}

// New creates a registry at generation 1 bound to cctx.
func New(cctx ConnectionContext, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = timeouts.GRPCDial
	}
	r := &Registry{opts: opts}
	r.reset(cctx)
	return r
}

// Generation returns the current generation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Context returns the current connection context.
func (r *Registry) Context() ConnectionContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cctx
}

// GetService returns the handle for name in the current generation,
// constructing it on first use.
func (r *Registry) GetService(ctx context.Context, name Service) (*Handle, error) {
	if !name.valid() {
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown service %q", name)
	}
	r.mu.RLock()
	h, ok := r.handles[name]
	anonymous := r.cctx.Anonymous()
	r.mu.RUnlock()
	if name.RequiresIdentity() && anonymous {
		return nil, apperrors.Newf(apperrors.CodeAuthRequired, "%s requires a signed-in identity", name)
	}
	if ok {
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[name]; ok {
		return h, nil
	}
	if name.RequiresIdentity() && r.cctx.Anonymous() {
		return nil, apperrors.Newf(apperrors.CodeAuthRequired, "%s requires a signed-in identity", name)
	}
	conn, err := r.connLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	topts := r.opts.Transport
	if r.opts.Logger != nil && topts.Logger == nil {
		topts.Logger = r.opts.Logger
	}
	if r.opts.CallsPerSecond > 0 {
		burst := max(r.opts.CallBurst, 1)
		topts.Limiter = rate.NewLimiter(rate.Limit(r.opts.CallsPerSecond), burst)
	}
	h = &Handle{
		name:      name,
		gen:       r.gen,
		genCtx:    r.genCtx,
		principal: r.cctx.Principal(),
		caller:    transport.NewClient(conn, string(name), r.cctx.Identity, topts),
		reg:       r,
	}
	r.handles[name] = h
	return h, nil
}

// ServiceAt is GetService pinned to gen. Once gen is superseded it fails
// with CodeStaleSession rather than resolving a handle of a newer
// generation, so work started under one identity never continues under
// another.
func (r *Registry) ServiceAt(ctx context.Context, name Service, gen uint64) (*Handle, error) {
	h, err := r.GetService(ctx, name)
	if err != nil {
		if !r.Current(gen) {
			return nil, staleLookup(name, gen)
		}
		return nil, err
	}
	if h.gen != gen {
		return nil, staleLookup(name, gen)
	}
	return h, nil
}

func staleLookup(name Service, gen uint64) error {
	return apperrors.WithMetadata(apperrors.CodeStaleSession,
		"generation superseded before the service was resolved",
		map[string]string{"service": string(name), "generation": fmt.Sprint(gen)},
	)
}

func (r *Registry) connLocked(ctx context.Context, name Service) (*grpc.ClientConn, error) {
	addr := r.cctx.Address(name)
	if addr == "" {
		return nil, apperrors.Newf(apperrors.CodeValidation, "no endpoint configured for %s", name)
	}
	if conn, ok := r.conns[addr]; ok {
		return conn, nil
	}
	dialOpts, err := platformgrpc.ClientDialOptions(r.cctx.Trust, r.opts.Interceptors...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "load trust configuration", err)
	}
	logf := func(format string, args ...any) {
		r.opts.Logger.Debug(fmt.Sprintf(format, args...), "service", name, "addr", addr)
	}
	conn, err := platformgrpc.Dial(ctx, r.opts.Dialer, platformgrpc.Target{
		Addr:        addr,
		Timeout:     r.opts.DialTimeout,
		CheckHealth: r.opts.CheckHealth,
		Logf:        logf,
	}, dialOpts...)
	if err != nil {
		code := apperrors.CodeNetwork
		var dialErr *platformgrpc.DialError
		if errors.As(err, &dialErr) {
			code = dialErr.Code()
		}
		return nil, apperrors.Wrap(code, "dial "+string(name), err)
	}
	r.conns[addr] = conn
	return conn, nil
}

// Rebuild switches to cctx and starts a new generation. Handles of the
// previous generation become stale, their outstanding calls are canceled
// and their connections closed. It returns the new generation.
func (r *Registry) Rebuild(cctx ConnectionContext) uint64 {
	r.mu.Lock()
	old := r.conns
	gen := r.reset(cctx)
	r.mu.Unlock()

	closeConns(old, r.opts.Logger)
	r.opts.Logger.Info("service registry rebuilt",
		"generation", gen,
		"principal", cctx.Principal().String(),
		"anonymous", cctx.Anonymous(),
	)
	return gen
}

// reset must run with mu held, or before r is shared.
func (r *Registry) reset(cctx ConnectionContext) uint64 {
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	r.cctx = cctx
	r.genCtx, r.cancel = context.WithCancel(context.Background())
	r.handles = map[Service]*Handle{}
	r.conns = map[string]*grpc.ClientConn{}
	return r.gen
}

// Current reports whether gen is the current generation.
func (r *Registry) Current(gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen == gen
}

// Close cancels the current generation and closes its connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	conns := r.conns
	r.conns = map[string]*grpc.ClientConn{}
	r.handles = map[Service]*Handle{}
	r.mu.Unlock()
	return closeConns(conns, r.opts.Logger)
}

func closeConns(conns map[string]*grpc.ClientConn, logger *slog.Logger) error {
	var errs []error
	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			logger.Warn("close backend connection", "addr", addr, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
