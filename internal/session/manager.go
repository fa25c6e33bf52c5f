// Package session owns the active identity. Every identity change rebuilds
// the service registry and resets the query cache before observers hear of
// it, so no lookup can see a half-updated context.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/ledgerlink/internal/identity"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/telemetry/metrics"
	"github.com/louisbranch/ledgerlink/internal/platform/timeouts"
	"github.com/louisbranch/ledgerlink/internal/querycache"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"github.com/louisbranch/ledgerlink/internal/session/storage"
)

// DefaultContinuationTTL bounds how long a persisted session can be resumed.
const DefaultContinuationTTL = 24 * time.Hour

// State is the session lifecycle state.
type State int

const (
	// Anonymous has no identity; public reads only.
	Anonymous State = iota
	// Authenticating waits on the external authentication flow.
	Authenticating
	// Authenticated has an active identity.
	Authenticated
	// Deauthenticating is tearing down the active identity.
	Deauthenticating
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Deauthenticating:
		return "deauthenticating"
	default:
		return "unknown"
	}
}

// Observer is told about every state change. It runs synchronously and
// must not call Login or Logout.
type Observer func(State, registry.ConnectionContext)

// Options configures a Manager.
type Options struct {
	// Continuations persists signed-in sessions when set together with
	// Passphrase.
	Continuations   storage.ContinuationStore
	Passphrase      string
	ContinuationTTL time.Duration
	AuthTimeout     time.Duration
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

type attempt struct {
	id     string
	cancel context.CancelFunc
	// prior is the state to return to if the attempt fails.
	prior State
}

// Manager drives the session state machine.
type Manager struct {
	reg   *registry.Registry
	cache *querycache.Cache
	opts  Options

	mu        sync.Mutex
	state     State
	attempt   *attempt
	observers map[int]Observer
	nextObs   int

	// notifyMu keeps observer notifications in transition order.
	notifyMu sync.Mutex
}

// NewManager binds a manager to reg and cache and aligns the cache with the
// registry's current generation.
func NewManager(reg *registry.Registry, cache *querycache.Cache, opts Options) *Manager {
	if opts.ContinuationTTL <= 0 {
		opts.ContinuationTTL = DefaultContinuationTTL
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = timeouts.Authentication
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		reg:       reg,
		cache:     cache,
		opts:      opts,
		state:     Anonymous,
		observers: map[int]Observer{},
	}
	if !reg.Context().Anonymous() {
		m.state = Authenticated
	}
	cache.Reset(reg.Generation())
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentIdentity returns the active identity, or nil when anonymous.
func (m *Manager) CurrentIdentity() *identity.Identity {
	return m.reg.Context().Identity
}

// Subscribe registers fn for state changes and returns its cancel func.
func (m *Manager) Subscribe(fn Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// Login runs auth and, on success, switches every component to the new
// identity. Only one attempt may be pending; a second one fails with
// LOGIN_IN_PROGRESS. ctx cancels the attempt, as does Logout.
func (m *Manager) Login(ctx context.Context, auth identity.Authenticator) (*identity.Identity, error) {
	if auth == nil {
		return nil, apperrors.New(apperrors.CodeValidation, "authenticator is required")
	}
	return m.login(ctx, auth, true)
}

func (m *Manager) login(ctx context.Context, auth identity.Authenticator, persist bool) (*identity.Identity, error) {
	m.mu.Lock()
	if m.state == Authenticating || m.state == Deauthenticating {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeLoginInProgress, "another login attempt is pending")
	}
	attemptCtx, cancel := context.WithTimeout(ctx, m.opts.AuthTimeout)
	defer cancel()
	att := &attempt{id: uuid.NewString(), cancel: cancel, prior: m.state}
	m.attempt = att
	log := m.opts.Logger.With("login_attempt", att.id)
	m.transitionLocked(Authenticating)

	id, err := auth.Authenticate(attemptCtx)

	m.mu.Lock()
	if m.attempt != att {
		m.mu.Unlock()
		log.Info("discarding superseded login attempt")
		return nil, apperrors.Wrap(apperrors.CodeAuthRequired, "login attempt was canceled", context.Canceled)
	}
	m.attempt = nil
	if err == nil && id == nil {
		err = errors.New("authenticator returned no identity")
	}
	if err != nil {
		log.Warn("login failed", "error", err)
		m.transitionLocked(att.prior)
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			return nil, apperrors.Wrap(apperrors.CodeAuthRequired, "authentication failed", err)
		}
		return nil, err
	}

	gen := m.reg.Rebuild(m.reg.Context().WithIdentity(id))
	m.cache.Reset(gen)
	if persist {
		m.persistLocked(ctx, id)
	}
	log.Info("signed in", "principal", id.Principal().String(), "generation", gen)
	m.transitionLocked(Authenticated)
	return id, nil
}

// Logout returns to an anonymous context. A pending login attempt is
// canceled and its late result discarded.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if att := m.attempt; att != nil {
		m.attempt = nil
		att.cancel()
		if att.prior == Anonymous {
			m.transitionLocked(Anonymous)
			return nil
		}
		m.state = att.prior
	}
	if m.state == Anonymous {
		m.mu.Unlock()
		return nil
	}
	m.transitionLocked(Deauthenticating)

	m.mu.Lock()
	gen := m.reg.Rebuild(m.reg.Context().WithIdentity(nil))
	m.cache.Reset(gen)
	var storeErr error
	if m.opts.Continuations != nil {
		storeErr = m.opts.Continuations.DeleteContinuation(ctx)
	}
	m.opts.Logger.Info("signed out", "generation", gen)
	m.transitionLocked(Anonymous)
	if storeErr != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "forget session continuation", storeErr)
	}
	return nil
}

// Resume restores a persisted, unexpired session without the interactive
// flow. It reports whether a session was restored.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	store := m.opts.Continuations
	if store == nil || m.opts.Passphrase == "" {
		return false, nil
	}
	c, err := store.GetContinuation(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeUnknown, "load session continuation", err)
	}
	if c.Expired(m.opts.Now()) {
		m.opts.Logger.Info("session continuation expired", "principal", c.Principal)
		if err := store.DeleteContinuation(ctx); err != nil {
			return false, apperrors.Wrap(apperrors.CodeUnknown, "forget session continuation", err)
		}
		return false, nil
	}
	seed, err := identity.Open(c.SealedSeed, m.opts.Passphrase)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeAuthRequired, "unseal session continuation", err)
	}
	id, err := identity.FromSeed(seed)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeAuthRequired, "restore identity", err)
	}
	if id.Principal().String() != c.Principal {
		return false, apperrors.New(apperrors.CodeAuthRequired, "session continuation does not match its principal")
	}
	if _, err := m.login(ctx, identity.Static(id), false); err != nil {
		return false, err
	}
	return true, nil
}

// persistLocked stores a continuation for id. Failures are logged; the
// login itself already succeeded.
func (m *Manager) persistLocked(ctx context.Context, id *identity.Identity) {
	store := m.opts.Continuations
	if store == nil || m.opts.Passphrase == "" {
		return
	}
	sealed, err := identity.Seal(id.Seed(), m.opts.Passphrase)
	if err != nil {
		m.opts.Logger.Warn("seal session continuation", "error", err)
		return
	}
	now := m.opts.Now()
	if err := store.PutContinuation(ctx, storage.Continuation{
		Principal:  id.Principal().String(),
		SealedSeed: sealed,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.opts.ContinuationTTL),
	}); err != nil {
		m.opts.Logger.Warn("persist session continuation", "error", err)
	}
}

// transitionLocked moves to state, releases mu and notifies observers.
func (m *Manager) transitionLocked(state State) {
	m.state = state
	m.opts.Metrics.SessionTransition(state.String())
	m.notifyUnlocked(state)
}

// notifyUnlocked must be entered with mu held; it releases mu before
// running observers, after taking notifyMu so notifications stay ordered.
func (m *Manager) notifyUnlocked(state State) {
	observers := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	cctx := m.reg.Context()
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()
	for _, fn := range observers {
		fn(state, cctx)
	}
}
