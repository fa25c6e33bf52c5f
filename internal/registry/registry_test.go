package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/ledgerlink/internal/identity"
	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"github.com/louisbranch/ledgerlink/internal/testutil/fakebackend"
	"google.golang.org/protobuf/types/known/structpb"
)

var feeMethod = marshal.Method[marshal.NoArgs, uint64]{
	Name:     "icrc1_fee",
	FromWire: marshal.DecodeNat64,
}

func newRegistry(t *testing.T, backend *fakebackend.Backend, id *identity.Identity) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.ConnectionContext{Identity: id, Endpoint: "bufnet"}, registry.Options{Dialer: backend})
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestGetServiceCachesHandlePerGeneration(t *testing.T) {
	backend := fakebackend.New(t)
	reg := newRegistry(t, backend, nil)

	a, err := reg.GetService(context.Background(), registry.Ledger)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	b, err := reg.GetService(context.Background(), registry.Ledger)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if a != b {
		t.Fatal("expected the same handle within one generation")
	}
	if a.Generation() != reg.Generation() {
		t.Fatalf("handle generation = %d, want %d", a.Generation(), reg.Generation())
	}
}

func TestGetServiceRejectsUnknownAndAnonymousPreferences(t *testing.T) {
	backend := fakebackend.New(t)
	reg := newRegistry(t, backend, nil)

	if _, err := reg.GetService(context.Background(), "token"); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("unknown service error = %v, want validation", err)
	}
	if _, err := reg.GetService(context.Background(), registry.Preferences); !apperrors.HasCode(err, apperrors.CodeAuthRequired) {
		t.Fatalf("anonymous preferences error = %v, want auth required", err)
	}
}

func TestGetServiceRequiresEndpoint(t *testing.T) {
	reg := registry.New(registry.ConnectionContext{}, registry.Options{})
	defer reg.Close()
	if _, err := reg.GetService(context.Background(), registry.Ledger); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestRebuildMakesOldHandlesStale(t *testing.T) {
	backend := fakebackend.New(t)
	backend.Handle("ledger", "icrc1_fee", fakebackend.Reply(marshal.Text("10000")))
	reg := newRegistry(t, backend, nil)

	old, err := reg.GetService(context.Background(), registry.Ledger)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if fee, err := registry.Invoke(context.Background(), old, feeMethod, marshal.NoArgs{}); err != nil || fee != 10000 {
		t.Fatalf("fee = %d, %v; want 10000, nil", fee, err)
	}

	id, _ := identity.Generate(nil)
	gen := reg.Rebuild(reg.Context().WithIdentity(id))

	fresh, err := reg.GetService(context.Background(), registry.Ledger)
	if err != nil {
		t.Fatalf("get service after rebuild: %v", err)
	}
	if fresh.Generation() == old.Generation() || fresh.Generation() != gen {
		t.Fatalf("generations old=%d fresh=%d rebuild=%d", old.Generation(), fresh.Generation(), gen)
	}
	if fresh.Principal() != id.Principal() {
		t.Fatalf("fresh principal = %s, want %s", fresh.Principal(), id.Principal())
	}

	_, err = registry.Invoke(context.Background(), old, feeMethod, marshal.NoArgs{})
	if !apperrors.HasCode(err, apperrors.CodeStaleSession) {
		t.Fatalf("stale call error = %v, want stale session", err)
	}
	if got := backend.Calls("ledger", "icrc1_fee"); got != 1 {
		t.Fatalf("backend calls = %d, want 1 (stale call must not dispatch)", got)
	}
}

func TestRebuildCancelsInFlightCalls(t *testing.T) {
	backend := fakebackend.New(t)
	started := make(chan struct{})
	var once sync.Once
	backend.Handle("ledger", "icrc1_fee", func(ctx context.Context, _ fakebackend.Call) (*structpb.Value, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return marshal.Text("1"), nil
		}
	})
	reg := newRegistry(t, backend, nil)
	h, err := reg.GetService(context.Background(), registry.Ledger)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := registry.Invoke(context.Background(), h, feeMethod, marshal.NoArgs{})
		done <- err
	}()
	<-started
	reg.Rebuild(reg.Context())

	select {
	case err := <-done:
		if !apperrors.HasCode(err, apperrors.CodeStaleSession) {
			t.Fatalf("in-flight error = %v, want stale session", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("in-flight call was not canceled by rebuild")
	}
}

func TestInvokeRequiresIdentityBeforeDispatch(t *testing.T) {
	backend := fakebackend.New(t)
	reg := newRegistry(t, backend, nil)
	h, err := reg.GetService(context.Background(), registry.NFT)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	mint := marshal.Method[marshal.NoArgs, struct{}]{Name: "mint", RequiresIdentity: true, FromWire: marshal.DecodeNull}
	if _, err := registry.Invoke(context.Background(), h, mint, marshal.NoArgs{}); !apperrors.HasCode(err, apperrors.CodeAuthRequired) {
		t.Fatalf("error = %v, want auth required", err)
	}
	if got := backend.Calls("nft", "mint"); got != 0 {
		t.Fatalf("backend calls = %d, want 0", got)
	}
}

func TestInvokeValidationFailsBeforeDispatch(t *testing.T) {
	backend := fakebackend.New(t)
	reg := newRegistry(t, backend, nil)
	h, _ := reg.GetService(context.Background(), registry.Ledger)
	balance := marshal.Method[string, uint64]{
		Name: "icrc1_balance_of",
		ToWire: func(text string) ([]*structpb.Value, error) {
			account, err := marshal.ParseAccount(text)
			if err != nil {
				return nil, err
			}
			v, err := marshal.EncodeAccount(account)
			return []*structpb.Value{v}, err
		},
		FromWire: marshal.DecodeNat64,
	}
	if _, err := registry.Invoke(context.Background(), h, balance, "not-a-principal"); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if got := backend.Calls("ledger", "icrc1_balance_of"); got != 0 {
		t.Fatalf("backend calls = %d, want 0", got)
	}
}

func TestConnectionContextAddress(t *testing.T) {
	cctx := registry.ConnectionContext{
		Endpoint:  "default:443",
		Endpoints: map[registry.Service]string{registry.NFT: "nft:443"},
	}
	if got := cctx.Address(registry.NFT); got != "nft:443" {
		t.Fatalf("Address(nft) = %q, want nft:443", got)
	}
	if got := cctx.Address(registry.Ledger); got != "default:443" {
		t.Fatalf("Address(ledger) = %q, want default:443", got)
	}
	if !cctx.Principal().IsAnonymous() {
		t.Fatal("expected anonymous principal for context without identity")
	}
}

func TestServiceAtRefusesSupersededGeneration(t *testing.T) {
	backend := fakebackend.New(t)
	reg := newRegistry(t, backend, nil)
	gen := reg.Generation()

	h, err := reg.ServiceAt(context.Background(), registry.Ledger, gen)
	if err != nil {
		t.Fatalf("service at current generation: %v", err)
	}
	if h.Generation() != gen {
		t.Fatalf("handle generation = %d, want %d", h.Generation(), gen)
	}

	id, _ := identity.Generate(nil)
	reg.Rebuild(reg.Context().WithIdentity(id))

	tests := []struct {
		name    string
		service registry.Service
	}{
		{name: "public service", service: registry.Ledger},
		{name: "identity service", service: registry.Preferences},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.ServiceAt(context.Background(), tt.service, gen)
			if !apperrors.HasCode(err, apperrors.CodeStaleSession) {
				t.Fatalf("error = %v, want stale session", err)
			}
		})
	}
}

func TestServiceAtReportsAuthForCurrentAnonymousGeneration(t *testing.T) {
	backend := fakebackend.New(t)
	reg := newRegistry(t, backend, nil)

	_, err := reg.ServiceAt(context.Background(), registry.Preferences, reg.Generation())
	if !apperrors.HasCode(err, apperrors.CodeAuthRequired) {
		t.Fatalf("error = %v, want auth required", err)
	}
}

func TestCallAfterGenerationEndsIsNotDispatched(t *testing.T) {
	backend := fakebackend.New(t)
	backend.Handle("ledger", "icrc1_fee", fakebackend.Reply(marshal.Text("1")))
	reg := newRegistry(t, backend, nil)
	h, err := reg.GetService(context.Background(), registry.Ledger)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}

	// Close ends the generation's context without advancing the counter.
	if err := reg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = registry.Invoke(context.Background(), h, feeMethod, marshal.NoArgs{})
	if !apperrors.HasCode(err, apperrors.CodeStaleSession) {
		t.Fatalf("error = %v, want stale session", err)
	}
	if got := backend.Calls("ledger", "icrc1_fee"); got != 0 {
		t.Fatalf("backend calls = %d, want 0", got)
	}
}
