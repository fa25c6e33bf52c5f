package client

import (
	"github.com/louisbranch/ledgerlink/internal/marshal"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"github.com/louisbranch/ledgerlink/internal/querycache"
)

// Key prefixes, one per cached domain.
var (
	LedgerPrefix       = querycache.NewKey("ledger")
	BalancePrefix      = querycache.NewKey("ledger", "balance")
	TransactionsPrefix = querycache.NewKey("ledger", "transactions")
	FeeKey             = querycache.NewKey("ledger", "fee")

	NFTPrefix     = querycache.NewKey("nfts")
	ItemsPrefix   = querycache.NewKey("nfts", "list")
	DetailPrefix  = querycache.NewKey("nfts", "detail")
	StatsKey      = querycache.NewKey("nfts", "stats")
	TraitsKey     = querycache.NewKey("nfts", "traits")
	OwnerPrefix   = querycache.NewKey("nfts", "owner")
	ForumsPrefix  = querycache.NewKey("forums")
	ThreadsPrefix = querycache.NewKey("forums", "threads")
	ThreadPrefix  = querycache.NewKey("forums", "thread")
	PostsPrefix   = querycache.NewKey("forums", "posts")

	PreferencesKey = querycache.NewKey("preferences")
)

func pageSegments(p pagination.Page) []any {
	if p.Cursor == nil {
		return []any{"start", p.Limit}
	}
	return []any{*p.Cursor, p.Limit}
}

// BalanceKey caches an account balance.
func BalanceKey(account marshal.Account) querycache.Key {
	return BalancePrefix.Append(account.String())
}

// TransactionsKey caches one page of an account's history.
func TransactionsKey(account marshal.Account, page pagination.Page) querycache.Key {
	return TransactionsPrefix.Append(account.String()).Append(pageSegments(page)...)
}

// ItemsKey caches one page of the item list.
func ItemsKey(page pagination.Page) querycache.Key {
	return ItemsPrefix.Append(pageSegments(page)...)
}

// ItemKey caches one item.
func ItemKey(id uint64) querycache.Key {
	return DetailPrefix.Append(id)
}

// OwnerKey caches the ids owned by a principal.
func OwnerKey(owner marshal.Principal) querycache.Key {
	return OwnerPrefix.Append(owner.String())
}

// ThreadsKey caches one page of threads, optionally for one item.
func ThreadsKey(itemID marshal.Optional[uint64], page pagination.Page) querycache.Key {
	scope := ThreadsPrefix.Append("all")
	if id, ok := itemID.Get(); ok {
		scope = ThreadsPrefix.Append("item", id)
	}
	return scope.Append(pageSegments(page)...)
}

// ThreadKey caches one thread.
func ThreadKey(id uint64) querycache.Key {
	return ThreadPrefix.Append(id)
}

// PostsKey caches one page of a thread's posts.
func PostsKey(threadID uint64, page pagination.Page) querycache.Key {
	return PostsPrefix.Append(threadID).Append(pageSegments(page)...)
}
