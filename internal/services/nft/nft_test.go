package nft_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/louisbranch/ledgerlink/internal/identity"
	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"github.com/louisbranch/ledgerlink/internal/services/nft"
	"github.com/louisbranch/ledgerlink/internal/testutil/fakebackend"
	"google.golang.org/protobuf/types/known/structpb"
)

func newService(t *testing.T, backend *fakebackend.Backend, id *identity.Identity) *nft.Service {
	t.Helper()
	reg := registry.New(registry.ConnectionContext{Identity: id, Endpoint: "bufnet"}, registry.Options{Dialer: backend})
	t.Cleanup(func() { _ = reg.Close() })
	h, err := reg.GetService(context.Background(), registry.NFT)
	if err != nil {
		t.Fatalf("get nft: %v", err)
	}
	return nft.New(h)
}

func newWorld(t *testing.T) *fakebackend.Backend {
	t.Helper()
	backend := fakebackend.New(t)
	fakebackend.NewWorld().Install(backend)
	return backend
}

func TestMintListAndGet(t *testing.T) {
	backend := newWorld(t)
	owner, _ := identity.Generate(nil)
	svc := newService(t, backend, owner)

	id, err := svc.Mint(context.Background(), nft.MintRequest{
		Name:        "Lantern",
		Description: "A lamp",
		Image:       marshal.Some("ipfs://lantern"),
		Traits:      []nft.Trait{{Name: "color", Value: "amber"}},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	got, err := svc.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	item, ok := got.Get()
	if !ok {
		t.Fatal("expected minted item")
	}
	if item.Owner != owner.Principal() || item.Name != "Lantern" || item.Image.OrElse("") != "ipfs://lantern" {
		t.Fatalf("item = %+v", item)
	}
	if item.Price.IsSome() {
		t.Fatal("new item must not be listed")
	}

	missing, err := svc.GetItem(context.Background(), 999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing.IsSome() {
		t.Fatal("expected None for missing item")
	}

	items, err := svc.ListItems(context.Background(), pagination.Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("items = %+v, want one item %d", items, id)
	}
}

func TestMintDuplicateNameIsRemoteError(t *testing.T) {
	backend := newWorld(t)
	owner, _ := identity.Generate(nil)
	svc := newService(t, backend, owner)
	if _, err := svc.Mint(context.Background(), nft.MintRequest{Name: "Twin"}); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	_, err := svc.Mint(context.Background(), nft.MintRequest{Name: "Twin"})
	if !apperrors.HasCode(err, apperrors.CodeRemote) {
		t.Fatalf("error = %v, want remote", err)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Reason != `item name "Twin" is taken` {
		t.Fatalf("reason = %#v, want verbatim backend text", appErr.Reason)
	}
}

func TestMintValidation(t *testing.T) {
	backend := newWorld(t)
	owner, _ := identity.Generate(nil)
	svc := newService(t, backend, owner)
	for _, req := range []nft.MintRequest{
		{Name: " "},
		{Name: "ok", Traits: []nft.Trait{{Name: "", Value: "x"}}},
	} {
		if _, err := svc.Mint(context.Background(), req); !apperrors.HasCode(err, apperrors.CodeValidation) {
			t.Fatalf("Mint(%+v) error = %v, want validation", req, err)
		}
	}
	if got := backend.Calls("nft", "mint"); got != 0 {
		t.Fatalf("backend calls = %d, want 0", got)
	}
}

func TestPriceTransferAndStats(t *testing.T) {
	backend := newWorld(t)
	seller, _ := identity.Generate(nil)
	buyer, _ := identity.Generate(nil)
	svc := newService(t, backend, seller)

	var ids []uint64
	for _, name := range []string{"a", "b"} {
		id, err := svc.Mint(context.Background(), nft.MintRequest{Name: name, Traits: []nft.Trait{{Name: "shape", Value: name}}})
		if err != nil {
			t.Fatalf("mint %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	price, _ := marshal.ParseAmount("1.5")
	if err := svc.SetPrice(context.Background(), nft.PriceRequest{ID: ids[0], Price: marshal.Some(price)}); err != nil {
		t.Fatalf("set price: %v", err)
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSupply != 2 || stats.Owners != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if floor, ok := stats.FloorPrice.Get(); !ok || !floor.Equal(price) {
		t.Fatalf("floor = %v, want %v", floor, price)
	}

	if err := svc.Transfer(context.Background(), nft.TransferRequest{ID: ids[0], To: buyer.Principal()}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := svc.Transfer(context.Background(), nft.TransferRequest{ID: ids[0], To: buyer.Principal()}); !apperrors.HasCode(err, apperrors.CodeRemote) {
		t.Fatalf("second transfer error = %v, want remote", err)
	}

	owned, err := svc.TokensOf(context.Background(), buyer.Principal())
	if err != nil {
		t.Fatalf("tokens of: %v", err)
	}
	if len(owned) != 1 || owned[0] != ids[0] {
		t.Fatalf("owned = %v, want [%d]", owned, ids[0])
	}
	stats, _ = svc.Stats(context.Background())
	if !stats.Volume.Equal(price) || stats.Owners != 2 {
		t.Fatalf("stats after sale = %+v", stats)
	}

	index, err := svc.TraitIndex(context.Background())
	if err != nil {
		t.Fatalf("trait index: %v", err)
	}
	if len(index) != 1 || index[0].Name != "shape" || len(index[0].Values) != 2 {
		t.Fatalf("index = %+v", index)
	}
}

func TestTransferToAnonymousRejected(t *testing.T) {
	backend := newWorld(t)
	owner, _ := identity.Generate(nil)
	svc := newService(t, backend, owner)
	err := svc.Transfer(context.Background(), nft.TransferRequest{ID: 0, To: marshal.AnonymousPrincipal()})
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestDecodeRejectsMalformedItem(t *testing.T) {
	backend := fakebackend.New(t)
	backend.Handle("nft", "get_item", fakebackend.Reply(marshal.List(
		marshal.Struct(map[string]*structpb.Value{"id": marshal.Text("1")}),
	)))
	svc := newService(t, backend, nil)
	if _, err := svc.GetItem(context.Background(), 1); !apperrors.HasCode(err, apperrors.CodeMalformedResponse) {
		t.Fatalf("error = %v, want malformed", err)
	}
}

func TestListedValue(t *testing.T) {
	huge, _ := new(big.Int).SetString("18446744073709551615", 10)
	big1, _ := marshal.NewAmount(huge)
	items := []nft.Item{
		{Price: marshal.Some(big1)},
		{Price: marshal.Some(marshal.AmountFromUint64(1))},
		{},
	}
	if got := nft.ListedValue(items).String(); got != "18446744073709551616" {
		t.Fatalf("ListedValue = %s, want 18446744073709551616", got)
	}
}
