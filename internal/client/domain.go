package client

import (
	"context"
	"time"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	"github.com/louisbranch/ledgerlink/internal/mutation"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"github.com/louisbranch/ledgerlink/internal/querycache"
	"github.com/louisbranch/ledgerlink/internal/services/forums"
	"github.com/louisbranch/ledgerlink/internal/services/ledger"
	"github.com/louisbranch/ledgerlink/internal/services/nft"
	"github.com/louisbranch/ledgerlink/internal/services/preferences"
)

// The fee changes rarely; everything else uses the cache default.
const feeTTL = 5 * time.Minute

// Balance returns the cached balance of account.
func (c *Client) Balance(ctx context.Context, account marshal.Account) (marshal.Amount, error) {
	return read(ctx, c, BalanceKey(account), 0, func(ctx context.Context, p pinned) (marshal.Amount, error) {
		svc, err := p.ledger(ctx)
		if err != nil {
			return marshal.Amount{}, err
		}
		return svc.BalanceOf(ctx, account)
	})
}

// Fee returns the cached ledger fee.
func (c *Client) Fee(ctx context.Context) (marshal.Amount, error) {
	return read(ctx, c, FeeKey, feeTTL, func(ctx context.Context, p pinned) (marshal.Amount, error) {
		svc, err := p.ledger(ctx)
		if err != nil {
			return marshal.Amount{}, err
		}
		return svc.Fee(ctx)
	})
}

// Transactions returns one cached page of an account's history.
func (c *Client) Transactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error) {
	q.Page = q.Page.Normalize(pagination.DefaultPageSize)
	return read(ctx, c, TransactionsKey(q.Account, q.Page), 0, func(ctx context.Context, p pinned) ([]ledger.Transaction, error) {
		svc, err := p.ledger(ctx)
		if err != nil {
			return nil, err
		}
		return svc.Transactions(ctx, q)
	})
}

// Items returns one cached page of the collection.
func (c *Client) Items(ctx context.Context, page pagination.Page) ([]nft.Item, error) {
	page = page.Normalize(pagination.DefaultPageSize)
	return read(ctx, c, ItemsKey(page), 0, func(ctx context.Context, p pinned) ([]nft.Item, error) {
		svc, err := p.nft(ctx)
		if err != nil {
			return nil, err
		}
		return svc.ListItems(ctx, page)
	})
}

// Item returns one cached item, or None when it does not exist.
func (c *Client) Item(ctx context.Context, id uint64) (marshal.Optional[nft.Item], error) {
	return read(ctx, c, ItemKey(id), 0, func(ctx context.Context, p pinned) (marshal.Optional[nft.Item], error) {
		svc, err := p.nft(ctx)
		if err != nil {
			return marshal.None[nft.Item](), err
		}
		return svc.GetItem(ctx, id)
	})
}

// Stats returns the cached collection summary.
func (c *Client) Stats(ctx context.Context) (nft.Stats, error) {
	return read(ctx, c, StatsKey, 0, func(ctx context.Context, p pinned) (nft.Stats, error) {
		svc, err := p.nft(ctx)
		if err != nil {
			return nft.Stats{}, err
		}
		return svc.Stats(ctx)
	})
}

// Traits returns the cached trait index.
func (c *Client) Traits(ctx context.Context) ([]nft.TraitIndex, error) {
	return read(ctx, c, TraitsKey, 0, func(ctx context.Context, p pinned) ([]nft.TraitIndex, error) {
		svc, err := p.nft(ctx)
		if err != nil {
			return nil, err
		}
		return svc.TraitIndex(ctx)
	})
}

// TokensOf returns the cached ids owned by owner.
func (c *Client) TokensOf(ctx context.Context, owner marshal.Principal) ([]uint64, error) {
	return read(ctx, c, OwnerKey(owner), 0, func(ctx context.Context, p pinned) ([]uint64, error) {
		svc, err := p.nft(ctx)
		if err != nil {
			return nil, err
		}
		return svc.TokensOf(ctx, owner)
	})
}

// Threads returns one cached page of threads.
func (c *Client) Threads(ctx context.Context, q forums.ThreadQuery) ([]forums.Thread, error) {
	q.Page = q.Page.Normalize(pagination.DefaultPageSize)
	return read(ctx, c, ThreadsKey(q.ItemID, q.Page), 0, func(ctx context.Context, p pinned) ([]forums.Thread, error) {
		svc, err := p.forums(ctx)
		if err != nil {
			return nil, err
		}
		return svc.ListThreads(ctx, q)
	})
}

// Thread returns one cached thread, or None.
func (c *Client) Thread(ctx context.Context, id uint64) (marshal.Optional[forums.Thread], error) {
	return read(ctx, c, ThreadKey(id), 0, func(ctx context.Context, p pinned) (marshal.Optional[forums.Thread], error) {
		svc, err := p.forums(ctx)
		if err != nil {
			return marshal.None[forums.Thread](), err
		}
		return svc.GetThread(ctx, id)
	})
}

// Posts returns one cached page of a thread's posts.
func (c *Client) Posts(ctx context.Context, q forums.PostQuery) ([]forums.Post, error) {
	q.Page = q.Page.Normalize(pagination.DefaultPageSize)
	return read(ctx, c, PostsKey(q.ThreadID, q.Page), 0, func(ctx context.Context, p pinned) ([]forums.Post, error) {
		svc, err := p.forums(ctx)
		if err != nil {
			return nil, err
		}
		return svc.ListPosts(ctx, q)
	})
}

// StoredPreferences returns the signed-in identity's cached preferences.
func (c *Client) StoredPreferences(ctx context.Context) (marshal.Optional[preferences.Preferences], error) {
	return read(ctx, c, PreferencesKey, 0, func(ctx context.Context, p pinned) (marshal.Optional[preferences.Preferences], error) {
		svc, err := p.preferences(ctx)
		if err != nil {
			return marshal.None[preferences.Preferences](), err
		}
		return svc.Get(ctx)
	})
}

func (c *Client) cachedAmount(key querycache.Key) (marshal.Amount, bool) {
	v, ok := c.cache.Peek(key)
	if !ok {
		return marshal.Amount{}, false
	}
	amount, ok := v.(marshal.Amount)
	return amount, ok
}

// Transfer sends tokens from the caller's default account. When the
// caller's balance and the fee are cached, the balance is debited
// optimistically.
func (c *Client) Transfer(ctx context.Context, t ledger.Transfer) (uint64, error) {
	p := c.pin()
	var optimistic []mutation.Update
	if id := c.CurrentIdentity(); id != nil {
		from := BalanceKey(marshal.NewAccount(id.Principal()))
		fee, feeKnown := t.Fee.Get()
		if !feeKnown {
			fee, feeKnown = c.cachedAmount(FeeKey)
		}
		if balance, ok := c.cachedAmount(from); ok && feeKnown {
			if after, err := balance.Sub(t.Amount.Add(fee)); err == nil {
				optimistic = append(optimistic, mutation.Update{Key: from, Value: after})
			}
		}
	}
	return Mutate(ctx, c, mutation.Mutation[uint64]{
		Name: "transfer",
		Call: func(ctx context.Context) (uint64, error) {
			svc, err := p.ledger(ctx)
			if err != nil {
				return 0, err
			}
			return svc.Transfer(ctx, t)
		},
		Optimistic: optimistic,
		Invalidate: []querycache.Key{BalancePrefix, TransactionsPrefix},
	})
}

func mintMutation(p pinned, r nft.MintRequest) mutation.Mutation[uint64] {
	invalidate := []querycache.Key{ItemsPrefix, StatsKey, TraitsKey, OwnerPrefix}
	return mutation.Mutation[uint64]{
		Name: "mint",
		Call: func(ctx context.Context) (uint64, error) {
			svc, err := p.nft(ctx)
			if err != nil {
				return 0, err
			}
			return svc.Mint(ctx, r)
		},
		Invalidate:       invalidate,
		InvalidateResult: func(id uint64) []querycache.Key { return []querycache.Key{ItemKey(id)} },
	}
}

// Mint creates an item and returns its id.
func (c *Client) Mint(ctx context.Context, r nft.MintRequest) (uint64, error) {
	return Mutate(ctx, c, mintMutation(c.pin(), r))
}

// TransferItem hands an item owned by the caller to another principal.
func (c *Client) TransferItem(ctx context.Context, r nft.TransferRequest) error {
	p := c.pin()
	_, err := Mutate(ctx, c, mutation.Mutation[struct{}]{
		Name: "transfer_item",
		Call: func(ctx context.Context) (struct{}, error) {
			svc, err := p.nft(ctx)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, svc.Transfer(ctx, r)
		},
		Invalidate: []querycache.Key{ItemKey(r.ID), ItemsPrefix, OwnerPrefix, StatsKey},
	})
	return err
}

// SetPrice lists or unlists an item. A cached copy of the item shows the
// new price until the call settles.
func (c *Client) SetPrice(ctx context.Context, r nft.PriceRequest) error {
	p := c.pin()
	key := ItemKey(r.ID)
	var optimistic []mutation.Update
	if v, ok := c.cache.Peek(key); ok {
		if cached, ok := v.(marshal.Optional[nft.Item]); ok {
			if item, ok := cached.Get(); ok {
				item.Price = r.Price
				optimistic = append(optimistic, mutation.Update{Key: key, Value: marshal.Some(item)})
			}
		}
	}
	_, err := Mutate(ctx, c, mutation.Mutation[struct{}]{
		Name: "set_price",
		Call: func(ctx context.Context) (struct{}, error) {
			svc, err := p.nft(ctx)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, svc.SetPrice(ctx, r)
		},
		Optimistic: optimistic,
		Invalidate: []querycache.Key{key, ItemsPrefix, StatsKey},
	})
	return err
}

func createThreadMutation(p pinned, n forums.NewThread) mutation.Mutation[uint64] {
	return mutation.Mutation[uint64]{
		Name: "create_thread",
		Call: func(ctx context.Context) (uint64, error) {
			svc, err := p.forums(ctx)
			if err != nil {
				return 0, err
			}
			return svc.CreateThread(ctx, n)
		},
		Invalidate: []querycache.Key{ThreadsPrefix},
	}
}

// CreateThread opens a thread and returns its id.
func (c *Client) CreateThread(ctx context.Context, n forums.NewThread) (uint64, error) {
	return Mutate(ctx, c, createThreadMutation(c.pin(), n))
}

// CreatePost replies to a thread and returns the post id.
func (c *Client) CreatePost(ctx context.Context, n forums.NewPost) (uint64, error) {
	p := c.pin()
	return Mutate(ctx, c, mutation.Mutation[uint64]{
		Name: "create_post",
		Call: func(ctx context.Context) (uint64, error) {
			svc, err := p.forums(ctx)
			if err != nil {
				return 0, err
			}
			return svc.CreatePost(ctx, n)
		},
		Invalidate: []querycache.Key{PostsPrefix.Append(n.ThreadID), ThreadKey(n.ThreadID), ThreadsPrefix},
	})
}

// SetPreferences stores p, showing it optimistically.
func (c *Client) SetPreferences(ctx context.Context, p preferences.Preferences) error {
	if _, err := preferences.EncodePreferences(p); err != nil {
		return err
	}
	pn := c.pin()
	_, err := Mutate(ctx, c, mutation.Mutation[struct{}]{
		Name: "set_preferences",
		Call: func(ctx context.Context) (struct{}, error) {
			svc, err := pn.preferences(ctx)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, svc.Set(ctx, p)
		},
		Optimistic: []mutation.Update{{Key: PreferencesKey, Value: marshal.Some(p)}},
		Invalidate: []querycache.Key{PreferencesKey},
	})
	return err
}

// MintedThread is the outcome of MintWithThread.
type MintedThread struct {
	ItemID   uint64
	ThreadID uint64
}

// MintWithThread mints an item and opens a discussion thread about it.
// Both steps run under the identity current when it was called. The mint
// is not undone when the thread fails; the error is then a
// PARTIAL_FAILURE whose *mutation.ChainError carries the minted id.
func (c *Client) MintWithThread(ctx context.Context, r nft.MintRequest, title, body string) (MintedThread, error) {
	p := c.pin()
	chain := mutation.NewChain(c.co)
	itemID, err := mutation.Step(ctx, chain, mintMutation(p, r))
	if err != nil {
		return MintedThread{}, err
	}
	threadID, err := mutation.Step(ctx, chain, createThreadMutation(p, forums.NewThread{
		Title:  title,
		Body:   body,
		ItemID: marshal.Some(itemID),
	}))
	if err != nil {
		c.logger.Warn("item minted without its thread", "item_id", itemID, "error", err)
		return MintedThread{ItemID: itemID}, err
	}
	return MintedThread{ItemID: itemID, ThreadID: threadID}, nil
}

// Portfolio is what one principal holds.
type Portfolio struct {
	Owner   marshal.Principal
	Balance marshal.Amount
	Items   []nft.Item
	// ListedValue sums the prices of listed items.
	ListedValue marshal.Amount
}

// Total is the balance plus the listed value, at full precision.
func (p Portfolio) Total() marshal.Amount {
	return p.Balance.Add(p.ListedValue)
}

// Portfolio gathers owner's default-account balance and items.
func (c *Client) Portfolio(ctx context.Context, owner marshal.Principal) (Portfolio, error) {
	balance, err := c.Balance(ctx, marshal.NewAccount(owner))
	if err != nil {
		return Portfolio{}, err
	}
	ids, err := c.TokensOf(ctx, owner)
	if err != nil {
		return Portfolio{}, err
	}
	items := make([]nft.Item, 0, len(ids))
	for _, id := range ids {
		item, err := c.Item(ctx, id)
		if err != nil {
			return Portfolio{}, err
		}
		v, ok := item.Get()
		if !ok {
			return Portfolio{}, apperrors.Newf(apperrors.CodeMalformedResponse, "owned item %d does not exist", id)
		}
		items = append(items, v)
	}
	return Portfolio{
		Owner:       owner,
		Balance:     balance,
		Items:       items,
		ListedValue: nft.ListedValue(items),
	}, nil
}
