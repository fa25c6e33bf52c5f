package fakebackend

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultFee is the ledger fee of a new World, in minor units.
const DefaultFee = 10_000

// World is an in-memory rendition of the ledger, nft, forums and
// preferences services, coherent across services so client flows can be
// exercised end to end.
type World struct {
	mu sync.Mutex

	fee      *big.Int
	balances map[string]*big.Int
	txs      []worldTx

	items  []*worldItem
	volume *big.Int

	threads []*worldThread
	posts   []*worldPost

	prefs map[string]*structpb.Value

	failures map[string][]error
	now      func() time.Time
}

type worldTx struct {
	id        uint64
	kind      string
	from, to  *marshal.Account
	amount    *big.Int
	fee       *big.Int
	timestamp time.Time
}

type worldItem struct {
	id          uint64
	owner       marshal.Principal
	name        string
	description string
	image       *string
	traits      []*structpb.Value
	price       *big.Int
}

type worldThread struct {
	id        uint64
	title     string
	author    marshal.Principal
	createdAt time.Time
	itemID    *uint64
	replies   uint64
}

type worldPost struct {
	id        uint64
	threadID  uint64
	author    marshal.Principal
	body      string
	createdAt time.Time
}

// NewWorld returns an empty world.
func NewWorld() *World {
	return &World{
		fee:      big.NewInt(DefaultFee),
		balances: map[string]*big.Int{},
		volume:   new(big.Int),
		prefs:    map[string]*structpb.Value{},
		failures: map[string][]error{},
		now:      func() time.Time { return time.Unix(1_700_000_000, 0).UTC() },
	}
}

// SetBalance credits account with minor units.
func (w *World) SetBalance(account marshal.Account, minor *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[account.String()] = new(big.Int).Set(minor)
}

// FailNext makes the next call to service/method fail with err. Failures
// queue in order.
func (w *World) FailNext(service, method string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := service + "/" + method
	w.failures[key] = append(w.failures[key], err)
}

// Install registers every world method on b.
func (w *World) Install(b *Backend) {
	routes := map[string]map[string]func(Call) (*structpb.Value, error){
		"ledger": {
			"icrc1_balance_of": w.balanceOf,
			"icrc1_fee":        func(Call) (*structpb.Value, error) { return marshal.Text(w.fee.String()), nil },
			"icrc1_transfer":   w.transfer,
			"get_transactions": w.transactions,
		},
		"nft": {
			"list_items":       w.listItems,
			"get_item":         w.getItem,
			"collection_stats": w.stats,
			"trait_index":      w.traitIndex,
			"tokens_of":        w.tokensOf,
			"mint":             w.mint,
			"transfer_item":    w.transferItem,
			"set_price":        w.setPrice,
		},
		"forums": {
			"list_threads":  w.listThreads,
			"get_thread":    w.getThread,
			"list_posts":    w.listPosts,
			"create_thread": w.createThread,
			"create_post":   w.createPost,
		},
		"preferences": {
			"get_preferences": w.getPreferences,
			"set_preferences": w.setPreferences,
		},
	}
	for service, methods := range routes {
		for method, fn := range methods {
			key := service + "/" + method
			b.Handle(service, method, func(_ context.Context, call Call) (*structpb.Value, error) {
				w.mu.Lock()
				defer w.mu.Unlock()
				if queued := w.failures[key]; len(queued) > 0 {
					w.failures[key] = queued[1:]
					return nil, queued[0]
				}
				return fn(call)
			})
		}
	}
}

func requireCaller(call Call) error {
	if call.Caller.IsAnonymous() {
		return apperrors.Newf(apperrors.CodeAuthRequired, "%s.%s requires a caller", call.Service, call.Method)
	}
	return nil
}

func arg(call Call, i int) (*structpb.Value, error) {
	if i >= len(call.Args) {
		return nil, apperrors.Newf(apperrors.CodeValidation, "%s expects argument %d", call.Method, i)
	}
	return call.Args[i], nil
}

func recordArg(call Call) (marshal.Record, error) {
	v, err := arg(call, 0)
	if err != nil {
		return marshal.Record{}, err
	}
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return marshal.Record{}, apperrors.Wrap(apperrors.CodeValidation, "argument", err)
	}
	return rec, nil
}

func pageArgs(rec marshal.Record) (cursor *uint64, limit int, err error) {
	c, err := marshal.OptionalField(rec, "cursor", marshal.DecodeNat64)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeValidation, "cursor", err)
	}
	l, err := marshal.OptionalField(rec, "limit", marshal.DecodeNat64)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeValidation, "limit", err)
	}
	return c.Ptr(), int(l.OrElse(100)), nil
}

func after(id uint64, cursor *uint64) bool {
	return cursor == nil || id > *cursor
}

func reason(variant string, fields map[string]*structpb.Value) *structpb.Value {
	if fields == nil {
		return marshal.Struct(map[string]*structpb.Value{variant: marshal.Null()})
	}
	return marshal.Struct(map[string]*structpb.Value{variant: marshal.Struct(fields)})
}

func optionalNat(n *big.Int) *structpb.Value {
	if n == nil {
		return marshal.List()
	}
	return marshal.List(marshal.Text(n.String()))
}

func optionalAccount(a *marshal.Account) *structpb.Value {
	if a == nil {
		return marshal.List()
	}
	v, _ := marshal.EncodeAccount(*a)
	return marshal.List(v)
}

func timestamp(t time.Time) *structpb.Value {
	v, _ := marshal.EncodeTimestamp(t)
	return v
}

// ledger

func (w *World) balance(account marshal.Account) *big.Int {
	if b, ok := w.balances[account.String()]; ok {
		return b
	}
	return new(big.Int)
}

func (w *World) balanceOf(call Call) (*structpb.Value, error) {
	v, err := arg(call, 0)
	if err != nil {
		return nil, err
	}
	account, err := marshal.DecodeAccount(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "account", err)
	}
	return marshal.Text(w.balance(account).String()), nil
}

func (w *World) transfer(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	to, err := marshal.Field(rec, "to", marshal.DecodeAccount)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "to", err)
	}
	amount, err := rec.Nat("amount")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "amount", err)
	}
	fee, err := marshal.OptionalField(rec, "fee", marshal.DecodeNat)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "fee", err)
	}
	if f, ok := fee.Get(); ok && f.Cmp(w.fee) != 0 {
		return Err(reason("BadFee", map[string]*structpb.Value{"expected_fee": marshal.Text(w.fee.String())})), nil
	}
	from := marshal.NewAccount(call.Caller)
	debit := new(big.Int).Add(amount, w.fee)
	balance := w.balance(from)
	if balance.Cmp(debit) < 0 {
		return Err(reason("InsufficientFunds", map[string]*structpb.Value{"balance": marshal.Text(balance.String())})), nil
	}
	w.balances[from.String()] = new(big.Int).Sub(balance, debit)
	w.balances[to.String()] = new(big.Int).Add(w.balance(to), amount)
	id := uint64(len(w.txs))
	w.txs = append(w.txs, worldTx{
		id: id, kind: "transfer", from: &from, to: &to,
		amount: amount, fee: new(big.Int).Set(w.fee), timestamp: w.now(),
	})
	return Ok(marshal.EncodeNat64(id)), nil
}

func (w *World) transactions(call Call) (*structpb.Value, error) {
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	account, err := marshal.Field(rec, "account", marshal.DecodeAccount)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "account", err)
	}
	cursor, limit, err := pageArgs(rec)
	if err != nil {
		return nil, err
	}
	var out []*structpb.Value
	for _, tx := range w.txs {
		if len(out) >= limit {
			break
		}
		touches := (tx.from != nil && tx.from.Equal(account)) || (tx.to != nil && tx.to.Equal(account))
		if !touches || !after(tx.id, cursor) {
			continue
		}
		out = append(out, marshal.Struct(map[string]*structpb.Value{
			"id":        marshal.EncodeNat64(tx.id),
			"kind":      marshal.Text(tx.kind),
			"from":      optionalAccount(tx.from),
			"to":        optionalAccount(tx.to),
			"amount":    marshal.Text(tx.amount.String()),
			"fee":       optionalNat(tx.fee),
			"timestamp": timestamp(tx.timestamp),
		}))
	}
	return marshal.List(out...), nil
}

// nft

func (w *World) item(id uint64) *worldItem {
	if id < uint64(len(w.items)) {
		return w.items[id]
	}
	return nil
}

func (it *worldItem) wire() *structpb.Value {
	image := marshal.List()
	if it.image != nil {
		image = marshal.List(marshal.Text(*it.image))
	}
	return marshal.Struct(map[string]*structpb.Value{
		"id":          marshal.EncodeNat64(it.id),
		"owner":       marshal.Text(it.owner.String()),
		"name":        marshal.Text(it.name),
		"description": marshal.Text(it.description),
		"image":       image,
		"traits":      marshal.List(it.traits...),
		"price":       optionalNat(it.price),
	})
}

func (w *World) listItems(call Call) (*structpb.Value, error) {
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	cursor, limit, err := pageArgs(rec)
	if err != nil {
		return nil, err
	}
	var out []*structpb.Value
	for _, it := range w.items {
		if len(out) >= limit {
			break
		}
		if after(it.id, cursor) {
			out = append(out, it.wire())
		}
	}
	return marshal.List(out...), nil
}

func (w *World) getItem(call Call) (*structpb.Value, error) {
	v, err := arg(call, 0)
	if err != nil {
		return nil, err
	}
	id, err := marshal.DecodeNat64(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "id", err)
	}
	if it := w.item(id); it != nil {
		return marshal.List(it.wire()), nil
	}
	return marshal.List(), nil
}

func (w *World) stats(Call) (*structpb.Value, error) {
	owners := map[string]bool{}
	var floor *big.Int
	for _, it := range w.items {
		owners[it.owner.String()] = true
		if it.price != nil && (floor == nil || it.price.Cmp(floor) < 0) {
			floor = it.price
		}
	}
	return marshal.Struct(map[string]*structpb.Value{
		"total_supply": marshal.EncodeNat64(uint64(len(w.items))),
		"owners":       marshal.EncodeNat64(uint64(len(owners))),
		"floor_price":  optionalNat(floor),
		"volume":       marshal.Text(w.volume.String()),
	}), nil
}

func (w *World) traitIndex(Call) (*structpb.Value, error) {
	counts := map[string]map[string]uint64{}
	for _, it := range w.items {
		for _, t := range it.traits {
			fields := t.GetStructValue().GetFields()
			name, value := fields["name"].GetStringValue(), fields["value"].GetStringValue()
			if counts[name] == nil {
				counts[name] = map[string]uint64{}
			}
			counts[name][value]++
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]*structpb.Value, 0, len(names))
	for _, name := range names {
		values := make([]string, 0, len(counts[name]))
		for v := range counts[name] {
			values = append(values, v)
		}
		slices.Sort(values)
		wireValues := make([]*structpb.Value, 0, len(values))
		for _, v := range values {
			wireValues = append(wireValues, marshal.Struct(map[string]*structpb.Value{
				"value": marshal.Text(v),
				"count": marshal.EncodeNat64(counts[name][v]),
			}))
		}
		out = append(out, marshal.Struct(map[string]*structpb.Value{
			"name":   marshal.Text(name),
			"values": marshal.List(wireValues...),
		}))
	}
	return marshal.List(out...), nil
}

func (w *World) tokensOf(call Call) (*structpb.Value, error) {
	v, err := arg(call, 0)
	if err != nil {
		return nil, err
	}
	owner, err := marshal.DecodePrincipal(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "owner", err)
	}
	var out []*structpb.Value
	for _, it := range w.items {
		if it.owner == owner {
			out = append(out, marshal.EncodeNat64(it.id))
		}
	}
	return marshal.List(out...), nil
}

func (w *World) mint(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	name, err := rec.Text("name")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "name", err)
	}
	description, err := rec.Text("description")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "description", err)
	}
	image, err := marshal.OptionalField(rec, "image", marshal.DecodeText)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "image", err)
	}
	traits, err := marshal.Field(rec, "traits", func(v *structpb.Value) ([]*structpb.Value, error) {
		return marshal.DecodeList(v, func(v *structpb.Value) (*structpb.Value, error) { return v, nil })
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "traits", err)
	}
	for _, it := range w.items {
		if it.name == name {
			return Err(marshal.Text(fmt.Sprintf("item name %q is taken", name))), nil
		}
	}
	id := uint64(len(w.items))
	w.items = append(w.items, &worldItem{
		id: id, owner: call.Caller, name: name, description: description,
		image: image.Ptr(), traits: traits,
	})
	return Ok(marshal.EncodeNat64(id)), nil
}

func (w *World) ownedItem(call Call, rec marshal.Record) (*worldItem, *structpb.Value, error) {
	id, err := rec.Nat64("id")
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeValidation, "id", err)
	}
	it := w.item(id)
	if it == nil {
		return nil, Err(reason("NotFound", nil)), nil
	}
	if it.owner != call.Caller {
		return nil, Err(reason("NotOwner", nil)), nil
	}
	return it, nil, nil
}

func (w *World) transferItem(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	it, refusal, err := w.ownedItem(call, rec)
	if it == nil {
		return refusal, err
	}
	to, err := rec.Principal("to")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "to", err)
	}
	if it.price != nil {
		w.volume.Add(w.volume, it.price)
	}
	it.owner = to
	it.price = nil
	return Ok(nil), nil
}

func (w *World) setPrice(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	it, refusal, err := w.ownedItem(call, rec)
	if it == nil {
		return refusal, err
	}
	price, err := marshal.OptionalField(rec, "price", marshal.DecodeNat)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "price", err)
	}
	it.price = price.OrElse(nil)
	return Ok(nil), nil
}

// forums

func (th *worldThread) wire() *structpb.Value {
	item := marshal.List()
	if th.itemID != nil {
		item = marshal.List(marshal.EncodeNat64(*th.itemID))
	}
	return marshal.Struct(map[string]*structpb.Value{
		"id":          marshal.EncodeNat64(th.id),
		"title":       marshal.Text(th.title),
		"author":      marshal.Text(th.author.String()),
		"created_at":  timestamp(th.createdAt),
		"item_id":     item,
		"reply_count": marshal.EncodeNat64(th.replies),
	})
}

func (p *worldPost) wire() *structpb.Value {
	return marshal.Struct(map[string]*structpb.Value{
		"id":         marshal.EncodeNat64(p.id),
		"thread_id":  marshal.EncodeNat64(p.threadID),
		"author":     marshal.Text(p.author.String()),
		"body":       marshal.Text(p.body),
		"created_at": timestamp(p.createdAt),
	})
}

func (w *World) listThreads(call Call) (*structpb.Value, error) {
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	cursor, limit, err := pageArgs(rec)
	if err != nil {
		return nil, err
	}
	itemID, err := marshal.OptionalField(rec, "item_id", marshal.DecodeNat64)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "item_id", err)
	}
	var out []*structpb.Value
	for _, th := range w.threads {
		if len(out) >= limit {
			break
		}
		if want, ok := itemID.Get(); ok && (th.itemID == nil || *th.itemID != want) {
			continue
		}
		if after(th.id, cursor) {
			out = append(out, th.wire())
		}
	}
	return marshal.List(out...), nil
}

func (w *World) getThread(call Call) (*structpb.Value, error) {
	v, err := arg(call, 0)
	if err != nil {
		return nil, err
	}
	id, err := marshal.DecodeNat64(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "id", err)
	}
	if id < uint64(len(w.threads)) {
		return marshal.List(w.threads[id].wire()), nil
	}
	return marshal.List(), nil
}

func (w *World) listPosts(call Call) (*structpb.Value, error) {
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	threadID, err := rec.Nat64("thread_id")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "thread_id", err)
	}
	cursor, limit, err := pageArgs(rec)
	if err != nil {
		return nil, err
	}
	var out []*structpb.Value
	for _, p := range w.posts {
		if len(out) >= limit {
			break
		}
		if p.threadID == threadID && after(p.id, cursor) {
			out = append(out, p.wire())
		}
	}
	return marshal.List(out...), nil
}

func (w *World) addPost(threadID uint64, author marshal.Principal, body string) uint64 {
	id := uint64(len(w.posts))
	w.posts = append(w.posts, &worldPost{id: id, threadID: threadID, author: author, body: body, createdAt: w.now()})
	return id
}

func (w *World) createThread(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	title, err := rec.Text("title")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "title", err)
	}
	body, err := rec.Text("body")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "body", err)
	}
	itemID, err := marshal.OptionalField(rec, "item_id", marshal.DecodeNat64)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "item_id", err)
	}
	if id, ok := itemID.Get(); ok && w.item(id) == nil {
		return Err(marshal.Text(fmt.Sprintf("item %d does not exist", id))), nil
	}
	id := uint64(len(w.threads))
	w.threads = append(w.threads, &worldThread{
		id: id, title: title, author: call.Caller, createdAt: w.now(), itemID: itemID.Ptr(),
	})
	w.addPost(id, call.Caller, body)
	return Ok(marshal.EncodeNat64(id)), nil
}

func (w *World) createPost(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	rec, err := recordArg(call)
	if err != nil {
		return nil, err
	}
	threadID, err := rec.Nat64("thread_id")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "thread_id", err)
	}
	body, err := rec.Text("body")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "body", err)
	}
	if threadID >= uint64(len(w.threads)) {
		return Err(reason("ThreadNotFound", nil)), nil
	}
	w.threads[threadID].replies++
	return Ok(marshal.EncodeNat64(w.addPost(threadID, call.Caller, body))), nil
}

// preferences

func (w *World) getPreferences(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	if p, ok := w.prefs[call.Caller.String()]; ok {
		return marshal.List(p), nil
	}
	return marshal.List(), nil
}

func (w *World) setPreferences(call Call) (*structpb.Value, error) {
	if err := requireCaller(call); err != nil {
		return nil, err
	}
	v, err := arg(call, 0)
	if err != nil {
		return nil, err
	}
	if _, err := marshal.DecodeRecord(v); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "preferences", err)
	}
	w.prefs[call.Caller.String()] = v
	return Ok(nil), nil
}
