package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/ledgerlink/internal/identity"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/querycache"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"github.com/louisbranch/ledgerlink/internal/services/ledger"
	"github.com/louisbranch/ledgerlink/internal/session"
	"github.com/louisbranch/ledgerlink/internal/session/storage"
	"github.com/louisbranch/ledgerlink/internal/session/storage/sqlite"
	"github.com/louisbranch/ledgerlink/internal/testutil/fakebackend"
)

type fixture struct {
	reg     *registry.Registry
	cache   *querycache.Cache
	manager *session.Manager
}

func newFixture(t *testing.T, opts session.Options) fixture {
	t.Helper()
	backend := fakebackend.New(t)
	fakebackend.NewWorld().Install(backend)
	reg := registry.New(registry.ConnectionContext{Endpoint: "bufnet"}, registry.Options{Dialer: backend})
	t.Cleanup(func() { _ = reg.Close() })
	cache := querycache.New(querycache.Options{})
	return fixture{reg: reg, cache: cache, manager: session.NewManager(reg, cache, opts)}
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate(nil)
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

// blockingAuth signals started and then waits for release or cancellation.
func blockingAuth(id *identity.Identity, started chan<- struct{}, release <-chan struct{}) identity.Authenticator {
	return identity.AuthenticatorFunc(func(ctx context.Context) (*identity.Identity, error) {
		close(started)
		select {
		case <-release:
			return id, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

type recorder struct {
	mu     sync.Mutex
	states []session.State
	last   registry.ConnectionContext
}

func (r *recorder) observe(s session.State, cctx registry.ConnectionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	r.last = cctx
}

func (r *recorder) snapshot() ([]session.State, registry.ConnectionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.State(nil), r.states...), r.last
}

func TestLoginSwitchesEveryComponent(t *testing.T) {
	f := newFixture(t, session.Options{})
	ctx := context.Background()

	h, err := f.reg.GetService(ctx, registry.Ledger)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	f.cache.Write(querycache.NewKey("ledger", "fee"), "cached")
	before := f.reg.Generation()

	id := newIdentity(t)
	got, err := f.manager.Login(ctx, identity.Static(id))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got != id || f.manager.CurrentIdentity() != id {
		t.Fatal("login did not activate the identity")
	}
	if f.manager.State() != session.Authenticated {
		t.Fatalf("state = %s, want authenticated", f.manager.State())
	}
	if f.reg.Generation() == before {
		t.Fatal("registry generation did not change")
	}
	if f.cache.Len() != 0 || f.cache.Generation() != f.reg.Generation() {
		t.Fatalf("cache len = %d gen = %d, want empty at %d", f.cache.Len(), f.cache.Generation(), f.reg.Generation())
	}
	if _, err := ledger.New(h).Fee(ctx); !apperrors.HasCode(err, apperrors.CodeStaleSession) {
		t.Fatalf("old handle error = %v, want stale session", err)
	}
}

func TestSecondLoginWhilePendingIsRejected(t *testing.T) {
	f := newFixture(t, session.Options{})
	id := newIdentity(t)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Login(context.Background(), blockingAuth(id, started, release))
		done <- err
	}()
	<-started

	if f.manager.State() != session.Authenticating {
		t.Fatalf("state = %s, want authenticating", f.manager.State())
	}
	if _, err := f.manager.Login(context.Background(), identity.Static(newIdentity(t))); !apperrors.HasCode(err, apperrors.CodeLoginInProgress) {
		t.Fatalf("second login error = %v, want login in progress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first login: %v", err)
	}
	if f.manager.CurrentIdentity() != id {
		t.Fatal("first login's identity is not active")
	}
}

func TestLogoutCancelsPendingLogin(t *testing.T) {
	f := newFixture(t, session.Options{})
	started := make(chan struct{})
	before := f.reg.Generation()

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Login(context.Background(), blockingAuth(newIdentity(t), started, nil))
		done <- err
	}()
	<-started

	if err := f.manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := <-done; !apperrors.HasCode(err, apperrors.CodeAuthRequired) {
		t.Fatalf("canceled login error = %v, want auth required", err)
	}
	if f.manager.State() != session.Anonymous || f.manager.CurrentIdentity() != nil {
		t.Fatalf("state = %s, want anonymous", f.manager.State())
	}
	if f.reg.Generation() != before {
		t.Fatalf("generation = %d, want %d", f.reg.Generation(), before)
	}
}

func TestFailedLoginStaysAnonymous(t *testing.T) {
	f := newFixture(t, session.Options{})
	denied := errors.New("user closed the window")
	_, err := f.manager.Login(context.Background(), identity.AuthenticatorFunc(func(context.Context) (*identity.Identity, error) {
		return nil, denied
	}))
	if !apperrors.HasCode(err, apperrors.CodeAuthRequired) || !errors.Is(err, denied) {
		t.Fatalf("error = %v, want auth required wrapping the cause", err)
	}
	if f.manager.State() != session.Anonymous || f.reg.Generation() != 1 {
		t.Fatalf("state = %s gen = %d, want anonymous at 1", f.manager.State(), f.reg.Generation())
	}
}

func TestLogoutReturnsToAnonymous(t *testing.T) {
	f := newFixture(t, session.Options{})
	rec := &recorder{}
	unsubscribe := f.manager.Subscribe(rec.observe)
	defer unsubscribe()
	ctx := context.Background()

	if _, err := f.manager.Login(ctx, identity.Static(newIdentity(t))); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.reg.GetService(ctx, registry.Preferences); err != nil {
		t.Fatalf("preferences while signed in: %v", err)
	}
	if err := f.manager.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.reg.GetService(ctx, registry.Preferences); !apperrors.HasCode(err, apperrors.CodeAuthRequired) {
		t.Fatalf("preferences after logout = %v, want auth required", err)
	}

	states, last := rec.snapshot()
	want := []session.State{session.Authenticating, session.Authenticated, session.Deauthenticating, session.Anonymous}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
	if !last.Anonymous() {
		t.Fatal("last observed context is not anonymous")
	}
}

func TestLogoutWhenAnonymousIsNoop(t *testing.T) {
	f := newFixture(t, session.Options{})
	if err := f.manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if f.reg.Generation() != 1 {
		t.Fatalf("generation = %d, want 1", f.reg.Generation())
	}
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestResumeRestoresPersistedSession(t *testing.T) {
	store := openStore(t)
	opts := session.Options{Continuations: store, Passphrase: "correct horse"}
	first := newFixture(t, opts)
	id := newIdentity(t)
	if _, err := first.manager.Login(context.Background(), identity.Static(id)); err != nil {
		t.Fatalf("login: %v", err)
	}

	second := newFixture(t, opts)
	resumed, err := second.manager.Resume(context.Background())
	if err != nil || !resumed {
		t.Fatalf("resume = %t, %v; want true", resumed, err)
	}
	if got := second.manager.CurrentIdentity().Principal(); got != id.Principal() {
		t.Fatalf("principal = %s, want %s", got, id.Principal())
	}

	if err := second.manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := store.GetContinuation(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("continuation after logout = %v, want not found", err)
	}
}

func TestResumeIgnoresExpiredContinuation(t *testing.T) {
	store := openStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	opts := session.Options{Continuations: store, Passphrase: "pw", ContinuationTTL: time.Hour, Now: clock}
	if _, err := newFixture(t, opts).manager.Login(context.Background(), identity.Static(newIdentity(t))); err != nil {
		t.Fatalf("login: %v", err)
	}

	opts.Now = func() time.Time { return now.Add(2 * time.Hour) }
	later := newFixture(t, opts)
	resumed, err := later.manager.Resume(context.Background())
	if err != nil || resumed {
		t.Fatalf("resume = %t, %v; want false", resumed, err)
	}
	if later.manager.State() != session.Anonymous {
		t.Fatalf("state = %s, want anonymous", later.manager.State())
	}
	if _, err := store.GetContinuation(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired continuation = %v, want removed", err)
	}
}

func TestResumeWithWrongPassphraseFails(t *testing.T) {
	store := openStore(t)
	if _, err := newFixture(t, session.Options{Continuations: store, Passphrase: "right"}).manager.Login(
		context.Background(), identity.Static(newIdentity(t))); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err := newFixture(t, session.Options{Continuations: store, Passphrase: "wrong"}).manager.Resume(context.Background())
	if !apperrors.HasCode(err, apperrors.CodeAuthRequired) {
		t.Fatalf("error = %v, want auth required", err)
	}
}
