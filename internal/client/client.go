// Package client is the surface consumed by user interfaces: service
// lookup, cached reads, coordinated writes and the session lifecycle.
package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/louisbranch/ledgerlink/internal/identity"
	"github.com/louisbranch/ledgerlink/internal/mutation"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/retry"
	"github.com/louisbranch/ledgerlink/internal/platform/telemetry/metrics"
	"github.com/louisbranch/ledgerlink/internal/querycache"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"github.com/louisbranch/ledgerlink/internal/services/forums"
	"github.com/louisbranch/ledgerlink/internal/services/ledger"
	"github.com/louisbranch/ledgerlink/internal/services/nft"
	"github.com/louisbranch/ledgerlink/internal/services/preferences"
	"github.com/louisbranch/ledgerlink/internal/session"
)

// Options wires the client's components. Metrics and Logger are shared by
// every component that leaves its own unset.
type Options struct {
	Connection registry.ConnectionContext
	Registry   registry.Options
	Cache      querycache.Options
	Mutation   mutation.Options
	Session    session.Options
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Client owns one registry, cache, coordinator and session manager.
type Client struct {
	reg     *registry.Registry
	cache   *querycache.Cache
	co      *mutation.Coordinator
	session *session.Manager
	logger  *slog.Logger
}

// New builds a client starting in opts.Connection.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Registry.Logger == nil {
		opts.Registry.Logger = logger
	}
	if opts.Metrics != nil {
		opts.Registry.Interceptors = append(opts.Registry.Interceptors, opts.Metrics.UnaryClientInterceptor())
	}
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = logger
	}
	if opts.Cache.Metrics == nil {
		opts.Cache.Metrics = opts.Metrics
	}
	if opts.Mutation.Logger == nil {
		opts.Mutation.Logger = logger
	}
	if opts.Mutation.Metrics == nil {
		opts.Mutation.Metrics = opts.Metrics
	}
	if opts.Mutation.Retry == (retry.Policy{}) {
		opts.Mutation.Retry = opts.Cache.Retry
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = logger
	}
	if opts.Session.Metrics == nil {
		opts.Session.Metrics = opts.Metrics
	}

	reg := registry.New(opts.Connection, opts.Registry)
	cache := querycache.New(opts.Cache)
	return &Client{
		reg:     reg,
		cache:   cache,
		co:      mutation.New(cache, opts.Mutation),
		session: session.NewManager(reg, cache, opts.Session),
		logger:  logger,
	}
}

// Close releases backend connections.
func (c *Client) Close() error {
	return c.reg.Close()
}

// Login runs auth and switches to its identity.
func (c *Client) Login(ctx context.Context, auth identity.Authenticator) (*identity.Identity, error) {
	return c.session.Login(ctx, auth)
}

// Logout returns to an anonymous session.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// Resume restores a persisted session, if one is available.
func (c *Client) Resume(ctx context.Context) (bool, error) {
	return c.session.Resume(ctx)
}

// CurrentIdentity returns the active identity, or nil when anonymous.
func (c *Client) CurrentIdentity() *identity.Identity {
	return c.session.CurrentIdentity()
}

// State returns the session state.
func (c *Client) State() session.State {
	return c.session.State()
}

// Subscribe registers fn for session changes.
func (c *Client) Subscribe(fn session.Observer) func() {
	return c.session.Subscribe(fn)
}

// Generation returns the current connection generation.
func (c *Client) Generation() uint64 {
	return c.reg.Generation()
}

// GetService returns the handle for name in the current generation.
func (c *Client) GetService(ctx context.Context, name registry.Service) (*registry.Handle, error) {
	return c.reg.GetService(ctx, name)
}

// Ledger returns the ledger adapter for the current generation.
func (c *Client) Ledger(ctx context.Context) (*ledger.Service, error) {
	return c.pin().ledger(ctx)
}

// NFT returns the nft adapter for the current generation.
func (c *Client) NFT(ctx context.Context) (*nft.Service, error) {
	return c.pin().nft(ctx)
}

// Forums returns the forums adapter for the current generation.
func (c *Client) Forums(ctx context.Context) (*forums.Service, error) {
	return c.pin().forums(ctx)
}

// Preferences returns the preferences adapter. It fails with AUTH_REQUIRED
// while anonymous.
func (c *Client) Preferences(ctx context.Context) (*preferences.Service, error) {
	return c.pin().preferences(ctx)
}

// pinned resolves adapters of one generation. Reads and writes pin the
// generation they start in: a retry or a later chain step that runs after
// the identity changed fails with CodeStaleSession.
type pinned struct {
	reg *registry.Registry
	gen uint64
}

func (c *Client) pin() pinned {
	return pinned{reg: c.reg, gen: c.reg.Generation()}
}

func (p pinned) ledger(ctx context.Context) (*ledger.Service, error) {
	h, err := p.reg.ServiceAt(ctx, registry.Ledger, p.gen)
	if err != nil {
		return nil, err
	}
	return ledger.New(h), nil
}

func (p pinned) nft(ctx context.Context) (*nft.Service, error) {
	h, err := p.reg.ServiceAt(ctx, registry.NFT, p.gen)
	if err != nil {
		return nil, err
	}
	return nft.New(h), nil
}

func (p pinned) forums(ctx context.Context) (*forums.Service, error) {
	h, err := p.reg.ServiceAt(ctx, registry.Forums, p.gen)
	if err != nil {
		return nil, err
	}
	return forums.New(h), nil
}

func (p pinned) preferences(ctx context.Context) (*preferences.Service, error) {
	h, err := p.reg.ServiceAt(ctx, registry.Preferences, p.gen)
	if err != nil {
		return nil, err
	}
	return preferences.New(h), nil
}

// read is Read with the fetch pinned to the caller's generation. A value
// that arrives after the generation ended is not returned.
func read[T any](ctx context.Context, c *Client, key querycache.Key, ttl time.Duration, fetch func(context.Context, pinned) (T, error)) (T, error) {
	p := c.pin()
	v, err := querycache.Read(ctx, c.cache, key, ttl, func(ctx context.Context) (T, error) {
		return fetch(ctx, p)
	})
	if err != nil {
		return v, err
	}
	if !c.reg.Current(p.gen) {
		var zero T
		return zero, apperrors.Newf(apperrors.CodeStaleSession, "read of %s outlived its session", key)
	}
	return v, nil
}

// Read returns the cached value of key or fetches it.
func (c *Client) Read(ctx context.Context, key querycache.Key, ttl time.Duration, fetch querycache.Fetcher) (any, error) {
	return c.cache.Read(ctx, key, ttl, fetch)
}

// Invalidate drops every cached entry under prefix.
func (c *Client) Invalidate(prefix querycache.Key) int {
	return c.cache.Invalidate(prefix)
}

// Cache exposes the query cache.
func (c *Client) Cache() *querycache.Cache {
	return c.cache
}

// Coordinator exposes the mutation coordinator.
func (c *Client) Coordinator() *mutation.Coordinator {
	return c.co
}

// Read is the typed form of Client.Read.
func Read[T any](ctx context.Context, c *Client, key querycache.Key, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	return querycache.Read(ctx, c.cache, key, ttl, fetch)
}

// Mutate runs m through the client's coordinator.
func Mutate[T any](ctx context.Context, c *Client, m mutation.Mutation[T]) (T, error) {
	return mutation.Mutate(ctx, c.co, m)
}
