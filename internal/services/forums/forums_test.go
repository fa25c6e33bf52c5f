package forums_test

import (
	"context"
	"testing"

	"github.com/louisbranch/ledgerlink/internal/identity"
	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"github.com/louisbranch/ledgerlink/internal/services/forums"
	"github.com/louisbranch/ledgerlink/internal/services/nft"
	"github.com/louisbranch/ledgerlink/internal/testutil/fakebackend"
)

func setup(t *testing.T) (*forums.Service, *nft.Service, *identity.Identity) {
	t.Helper()
	backend := fakebackend.New(t)
	fakebackend.NewWorld().Install(backend)
	id, _ := identity.Generate(nil)
	reg := registry.New(registry.ConnectionContext{Identity: id, Endpoint: "bufnet"}, registry.Options{Dialer: backend})
	t.Cleanup(func() { _ = reg.Close() })
	fh, err := reg.GetService(context.Background(), registry.Forums)
	if err != nil {
		t.Fatalf("get forums: %v", err)
	}
	nh, err := reg.GetService(context.Background(), registry.NFT)
	if err != nil {
		t.Fatalf("get nft: %v", err)
	}
	return forums.New(fh), nft.New(nh), id
}

func TestThreadLifecycle(t *testing.T) {
	svc, items, id := setup(t)
	ctx := context.Background()

	itemID, err := items.Mint(ctx, nft.MintRequest{Name: "Relic"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	threadID, err := svc.CreateThread(ctx, forums.NewThread{Title: "About the relic", Body: "first", ItemID: marshal.Some(itemID)})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := svc.CreateThread(ctx, forums.NewThread{Title: "General", Body: "hello"}); err != nil {
		t.Fatalf("create general thread: %v", err)
	}
	if _, err := svc.CreatePost(ctx, forums.NewPost{ThreadID: threadID, Body: "reply"}); err != nil {
		t.Fatalf("create post: %v", err)
	}

	forItem, err := svc.ListThreads(ctx, forums.ThreadQuery{ItemID: marshal.Some(itemID)})
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(forItem) != 1 || forItem[0].ID != threadID {
		t.Fatalf("item threads = %+v, want [%d]", forItem, threadID)
	}
	if forItem[0].Author != id.Principal() || forItem[0].ReplyCount != 1 {
		t.Fatalf("thread = %+v", forItem[0])
	}

	posts, err := svc.ListPosts(ctx, forums.PostQuery{ThreadID: threadID})
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 2 || posts[0].Body != "first" || posts[1].Body != "reply" {
		t.Fatalf("posts = %+v", posts)
	}

	got, err := svc.GetThread(ctx, threadID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if th, ok := got.Get(); !ok || th.Title != "About the relic" {
		t.Fatalf("thread = %+v, %t", th, ok)
	}
}

func TestCreateThreadForMissingItemIsRemote(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.CreateThread(context.Background(), forums.NewThread{Title: "t", Body: "b", ItemID: marshal.Some(uint64(77))})
	if !apperrors.HasCode(err, apperrors.CodeRemote) {
		t.Fatalf("error = %v, want remote", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := setup(t)
	if _, err := svc.CreateThread(context.Background(), forums.NewThread{Title: "", Body: "b"}); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("thread error = %v, want validation", err)
	}
	if _, err := svc.CreatePost(context.Background(), forums.NewPost{ThreadID: 0, Body: "  "}); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("post error = %v, want validation", err)
	}
}
