// Package forums adapts the discussion forums service.
package forums

import (
	"context"
	"strings"
	"time"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"google.golang.org/protobuf/types/known/structpb"
)

// Thread is a discussion, optionally about one item.
type Thread struct {
	ID         uint64
	Title      string
	Author     marshal.Principal
	CreatedAt  time.Time
	ItemID     marshal.Optional[uint64]
	ReplyCount uint64
}

// Post is one message in a thread.
type Post struct {
	ID        uint64
	ThreadID  uint64
	Author    marshal.Principal
	Body      string
	CreatedAt time.Time
}

// ThreadQuery selects a page of threads, optionally for one item.
type ThreadQuery struct {
	Page   pagination.Page
	ItemID marshal.Optional[uint64]
}

// PostQuery selects a page of a thread's posts.
type PostQuery struct {
	ThreadID uint64
	Page     pagination.Page
}

// NewThread opens a thread with its first post.
type NewThread struct {
	Title  string
	Body   string
	ItemID marshal.Optional[uint64]
}

// NewPost replies to a thread.
type NewPost struct {
	ThreadID uint64
	Body     string
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.Newf(apperrors.CodeValidation, "%s is required", field)
	}
	return nil
}

var (
	listThreadsMethod = marshal.Method[ThreadQuery, []Thread]{
		Name: "list_threads",
		ToWire: func(q ThreadQuery) ([]*structpb.Value, error) {
			item, err := marshal.EncodeOptional(q.ItemID, marshal.EncodeNat64Value)
			if err != nil {
				return nil, err
			}
			fields := marshal.EncodePage(q.Page)
			fields["item_id"] = item
			return []*structpb.Value{marshal.Struct(fields)}, nil
		},
		FromWire: func(v *structpb.Value) ([]Thread, error) { return marshal.DecodeList(v, decodeThread) },
	}
	getThreadMethod = marshal.Method[uint64, marshal.Optional[Thread]]{
		Name: "get_thread",
		ToWire: func(id uint64) ([]*structpb.Value, error) {
			return []*structpb.Value{marshal.EncodeNat64(id)}, nil
		},
		FromWire: func(v *structpb.Value) (marshal.Optional[Thread], error) {
			return marshal.DecodeOptional(v, decodeThread)
		},
	}
	listPostsMethod = marshal.Method[PostQuery, []Post]{
		Name: "list_posts",
		ToWire: func(q PostQuery) ([]*structpb.Value, error) {
			fields := marshal.EncodePage(q.Page)
			fields["thread_id"] = marshal.EncodeNat64(q.ThreadID)
			return []*structpb.Value{marshal.Struct(fields)}, nil
		},
		FromWire: func(v *structpb.Value) ([]Post, error) { return marshal.DecodeList(v, decodePost) },
	}
	createThreadMethod = marshal.Method[NewThread, uint64]{
		Name:             "create_thread",
		RequiresIdentity: true,
		ToWire: func(n NewThread) ([]*structpb.Value, error) {
			if err := requireText("thread title", n.Title); err != nil {
				return nil, err
			}
			if err := requireText("thread body", n.Body); err != nil {
				return nil, err
			}
			item, err := marshal.EncodeOptional(n.ItemID, marshal.EncodeNat64Value)
			if err != nil {
				return nil, err
			}
			return []*structpb.Value{marshal.Struct(map[string]*structpb.Value{
				"title":   marshal.Text(n.Title),
				"body":    marshal.Text(n.Body),
				"item_id": item,
			})}, nil
		},
		FromWire: func(v *structpb.Value) (uint64, error) { return marshal.UnwrapResult(v, marshal.DecodeNat64) },
	}
	createPostMethod = marshal.Method[NewPost, uint64]{
		Name:             "create_post",
		RequiresIdentity: true,
		ToWire: func(n NewPost) ([]*structpb.Value, error) {
			if err := requireText("post body", n.Body); err != nil {
				return nil, err
			}
			return []*structpb.Value{marshal.Struct(map[string]*structpb.Value{
				"thread_id": marshal.EncodeNat64(n.ThreadID),
				"body":      marshal.Text(n.Body),
			})}, nil
		},
		FromWire: func(v *structpb.Value) (uint64, error) { return marshal.UnwrapResult(v, marshal.DecodeNat64) },
	}
)

func decodeThread(v *structpb.Value) (Thread, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return Thread{}, err
	}
	var th Thread
	if th.ID, err = rec.Nat64("id"); err != nil {
		return Thread{}, err
	}
	if th.Title, err = rec.Text("title"); err != nil {
		return Thread{}, err
	}
	if th.Author, err = rec.Principal("author"); err != nil {
		return Thread{}, err
	}
	if th.CreatedAt, err = marshal.Field(rec, "created_at", marshal.DecodeTimestamp); err != nil {
		return Thread{}, err
	}
	if th.ItemID, err = marshal.OptionalField(rec, "item_id", marshal.DecodeNat64); err != nil {
		return Thread{}, err
	}
	if th.ReplyCount, err = rec.Nat64("reply_count"); err != nil {
		return Thread{}, err
	}
	return th, nil
}

func decodePost(v *structpb.Value) (Post, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return Post{}, err
	}
	var p Post
	if p.ID, err = rec.Nat64("id"); err != nil {
		return Post{}, err
	}
	if p.ThreadID, err = rec.Nat64("thread_id"); err != nil {
		return Post{}, err
	}
	if p.Author, err = rec.Principal("author"); err != nil {
		return Post{}, err
	}
	if p.Body, err = rec.Text("body"); err != nil {
		return Post{}, err
	}
	if p.CreatedAt, err = marshal.Field(rec, "created_at", marshal.DecodeTimestamp); err != nil {
		return Post{}, err
	}
	return p, nil
}

// Service is the typed surface of the forums.
type Service struct {
	h *registry.Handle
}

// New binds the adapter to a handle.
func New(h *registry.Handle) *Service {
	return &Service{h: h}
}

// Handle returns the bound handle.
func (s *Service) Handle() *registry.Handle {
	return s.h
}

// ListThreads returns one page of threads.
func (s *Service) ListThreads(ctx context.Context, q ThreadQuery) ([]Thread, error) {
	q.Page = q.Page.Normalize(pagination.DefaultPageSize)
	return registry.Invoke(ctx, s.h, listThreadsMethod, q)
}

// GetThread returns a thread, or None when it does not exist.
func (s *Service) GetThread(ctx context.Context, id uint64) (marshal.Optional[Thread], error) {
	return registry.Invoke(ctx, s.h, getThreadMethod, id)
}

// ListPosts returns one page of a thread's posts.
func (s *Service) ListPosts(ctx context.Context, q PostQuery) ([]Post, error) {
	q.Page = q.Page.Normalize(pagination.DefaultPageSize)
	return registry.Invoke(ctx, s.h, listPostsMethod, q)
}

// CreateThread opens a thread and returns its id.
func (s *Service) CreateThread(ctx context.Context, n NewThread) (uint64, error) {
	return registry.Invoke(ctx, s.h, createThreadMethod, n)
}

// CreatePost replies to a thread and returns the post id.
func (s *Service) CreatePost(ctx context.Context, n NewPost) (uint64, error) {
	return registry.Invoke(ctx, s.h, createPostMethod, n)
}
