// Package nft adapts the NFT registry service.
package nft

import (
	"context"
	"strings"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"google.golang.org/protobuf/types/known/structpb"
)

// Trait is one name/value attribute of an item.
type Trait struct {
	Name  string
	Value string
}

// Item is one registered token.
type Item struct {
	ID          uint64
	Owner       marshal.Principal
	Name        string
	Description string
	Image       marshal.Optional[string]
	Traits      []Trait
	// Price is the listing price; None when the item is not for sale.
	Price marshal.Optional[marshal.Amount]
}

// Stats summarizes the collection.
type Stats struct {
	TotalSupply uint64
	Owners      uint64
	FloorPrice  marshal.Optional[marshal.Amount]
	Volume      marshal.Amount
}

// TraitValue counts items carrying one value of a trait.
type TraitValue struct {
	Value string
	Count uint64
}

// TraitIndex lists the values seen for one trait name.
type TraitIndex struct {
	Name   string
	Values []TraitValue
}

// MintRequest describes a new item.
type MintRequest struct {
	Name        string
	Description string
	Image       marshal.Optional[string]
	Traits      []Trait
}

// TransferRequest moves an item to a new owner.
type TransferRequest struct {
	ID uint64
	To marshal.Principal
}

// PriceRequest lists an item at Price, or unlists it when Price is None.
type PriceRequest struct {
	ID    uint64
	Price marshal.Optional[marshal.Amount]
}

func idArg(id uint64) ([]*structpb.Value, error) {
	return []*structpb.Value{marshal.EncodeNat64(id)}, nil
}

func unitResult(v *structpb.Value) (struct{}, error) {
	return marshal.UnwrapResult(v, func(*structpb.Value) (struct{}, error) { return struct{}{}, nil })
}

var (
	listItemsMethod = marshal.Method[pagination.Page, []Item]{
		Name: "list_items",
		ToWire: func(p pagination.Page) ([]*structpb.Value, error) {
			return []*structpb.Value{marshal.Struct(marshal.EncodePage(p))}, nil
		},
		FromWire: func(v *structpb.Value) ([]Item, error) { return marshal.DecodeList(v, decodeItem) },
	}
	getItemMethod = marshal.Method[uint64, marshal.Optional[Item]]{
		Name:   "get_item",
		ToWire: idArg,
		FromWire: func(v *structpb.Value) (marshal.Optional[Item], error) {
			return marshal.DecodeOptional(v, decodeItem)
		},
	}
	statsMethod = marshal.Method[marshal.NoArgs, Stats]{
		Name:     "collection_stats",
		FromWire: decodeStats,
	}
	traitIndexMethod = marshal.Method[marshal.NoArgs, []TraitIndex]{
		Name:     "trait_index",
		FromWire: func(v *structpb.Value) ([]TraitIndex, error) { return marshal.DecodeList(v, decodeTraitIndex) },
	}
	tokensOfMethod = marshal.Method[marshal.Principal, []uint64]{
		Name: "tokens_of",
		ToWire: func(p marshal.Principal) ([]*structpb.Value, error) {
			v, err := marshal.EncodePrincipal(p)
			return []*structpb.Value{v}, err
		},
		FromWire: func(v *structpb.Value) ([]uint64, error) { return marshal.DecodeList(v, marshal.DecodeNat64) },
	}
	mintMethod = marshal.Method[MintRequest, uint64]{
		Name:             "mint",
		RequiresIdentity: true,
		ToWire:           encodeMint,
		FromWire: func(v *structpb.Value) (uint64, error) {
			return marshal.UnwrapResult(v, marshal.DecodeNat64)
		},
	}
	transferMethod = marshal.Method[TransferRequest, struct{}]{
		Name:             "transfer_item",
		RequiresIdentity: true,
		ToWire: func(r TransferRequest) ([]*structpb.Value, error) {
			to, err := marshal.EncodePrincipal(r.To)
			if err != nil {
				return nil, err
			}
			if r.To.IsAnonymous() {
				return nil, apperrors.New(apperrors.CodeValidation, "cannot transfer to the anonymous principal")
			}
			return []*structpb.Value{marshal.Struct(map[string]*structpb.Value{
				"id": marshal.EncodeNat64(r.ID),
				"to": to,
			})}, nil
		},
		FromWire: unitResult,
	}
	setPriceMethod = marshal.Method[PriceRequest, struct{}]{
		Name:             "set_price",
		RequiresIdentity: true,
		ToWire: func(r PriceRequest) ([]*structpb.Value, error) {
			if p, ok := r.Price.Get(); ok && p.IsZero() {
				return nil, apperrors.New(apperrors.CodeValidation, "listing price must be positive")
			}
			price, err := marshal.EncodeOptional(r.Price, marshal.EncodeAmount)
			if err != nil {
				return nil, err
			}
			return []*structpb.Value{marshal.Struct(map[string]*structpb.Value{
				"id":    marshal.EncodeNat64(r.ID),
				"price": price,
			})}, nil
		},
		FromWire: unitResult,
	}
)

func encodeMint(r MintRequest) ([]*structpb.Value, error) {
	if strings.TrimSpace(r.Name) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "item name is required")
	}
	image, err := marshal.EncodeOptional(r.Image, marshal.EncodeText)
	if err != nil {
		return nil, err
	}
	traits, err := marshal.EncodeList(r.Traits, encodeTrait)
	if err != nil {
		return nil, err
	}
	return []*structpb.Value{marshal.Struct(map[string]*structpb.Value{
		"name":        marshal.Text(r.Name),
		"description": marshal.Text(r.Description),
		"image":       image,
		"traits":      traits,
	})}, nil
}

func encodeTrait(t Trait) (*structpb.Value, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "trait name is required")
	}
	return marshal.Struct(map[string]*structpb.Value{
		"name":  marshal.Text(t.Name),
		"value": marshal.Text(t.Value),
	}), nil
}

func decodeTrait(v *structpb.Value) (Trait, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return Trait{}, err
	}
	name, err := rec.Text("name")
	if err != nil {
		return Trait{}, err
	}
	value, err := rec.Text("value")
	if err != nil {
		return Trait{}, err
	}
	return Trait{Name: name, Value: value}, nil
}

func decodeItem(v *structpb.Value) (Item, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return Item{}, err
	}
	var item Item
	if item.ID, err = rec.Nat64("id"); err != nil {
		return Item{}, err
	}
	if item.Owner, err = rec.Principal("owner"); err != nil {
		return Item{}, err
	}
	if item.Name, err = rec.Text("name"); err != nil {
		return Item{}, err
	}
	if item.Description, err = rec.Text("description"); err != nil {
		return Item{}, err
	}
	if item.Image, err = marshal.OptionalField(rec, "image", marshal.DecodeText); err != nil {
		return Item{}, err
	}
	if item.Traits, err = marshal.Field(rec, "traits", func(v *structpb.Value) ([]Trait, error) {
		return marshal.DecodeList(v, decodeTrait)
	}); err != nil {
		return Item{}, err
	}
	if item.Price, err = marshal.OptionalField(rec, "price", marshal.DecodeAmount); err != nil {
		return Item{}, err
	}
	return item, nil
}

func decodeStats(v *structpb.Value) (Stats, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	if s.TotalSupply, err = rec.Nat64("total_supply"); err != nil {
		return Stats{}, err
	}
	if s.Owners, err = rec.Nat64("owners"); err != nil {
		return Stats{}, err
	}
	if s.FloorPrice, err = marshal.OptionalField(rec, "floor_price", marshal.DecodeAmount); err != nil {
		return Stats{}, err
	}
	if s.Volume, err = rec.Amount("volume"); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func decodeTraitIndex(v *structpb.Value) (TraitIndex, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return TraitIndex{}, err
	}
	name, err := rec.Text("name")
	if err != nil {
		return TraitIndex{}, err
	}
	values, err := marshal.Field(rec, "values", func(v *structpb.Value) ([]TraitValue, error) {
		return marshal.DecodeList(v, func(v *structpb.Value) (TraitValue, error) {
			rec, err := marshal.DecodeRecord(v)
			if err != nil {
				return TraitValue{}, err
			}
			value, err := rec.Text("value")
			if err != nil {
				return TraitValue{}, err
			}
			count, err := rec.Nat64("count")
			if err != nil {
				return TraitValue{}, err
			}
			return TraitValue{Value: value, Count: count}, nil
		})
	})
	if err != nil {
		return TraitIndex{}, err
	}
	return TraitIndex{Name: name, Values: values}, nil
}

// Service is the typed surface of the NFT registry.
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

// ListItems returns one page of items ordered by id.
func (s *Service) ListItems(ctx context.Context, page pagination.Page) ([]Item, error) {
	return registry.Invoke(ctx, s.h, listItemsMethod, page.Normalize(pagination.DefaultPageSize))
}

// AllItems walks every item. maxPages bounds the walk; zero means unbounded.
func (s *Service) AllItems(ctx context.Context, maxPages int) ([]Item, error) {
	first := pagination.Page{}.Normalize(pagination.DefaultPageSize)
	return pagination.Collect(ctx, first, maxPages, s.ListItems, func(item Item) uint64 { return item.ID })
}

// GetItem returns the item with id, or None when it does not exist.
func (s *Service) GetItem(ctx context.Context, id uint64) (marshal.Optional[Item], error) {
	return registry.Invoke(ctx, s.h, getItemMethod, id)
}

// Stats returns collection statistics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return registry.Invoke(ctx, s.h, statsMethod, marshal.NoArgs{})
}

// TraitIndex returns the trait index.
func (s *Service) TraitIndex(ctx context.Context) ([]TraitIndex, error) {
	return registry.Invoke(ctx, s.h, traitIndexMethod, marshal.NoArgs{})
}

// TokensOf returns the ids owned by owner.
func (s *Service) TokensOf(ctx context.Context, owner marshal.Principal) ([]uint64, error) {
	return registry.Invoke(ctx, s.h, tokensOfMethod, owner)
}

// Mint creates an item owned by the caller and returns its id.
func (s *Service) Mint(ctx context.Context, r MintRequest) (uint64, error) {
	return registry.Invoke(ctx, s.h, mintMethod, r)
}

// Transfer moves an item owned by the caller.
func (s *Service) Transfer(ctx context.Context, r TransferRequest) error {
	_, err := registry.Invoke(ctx, s.h, transferMethod, r)
	return err
}

// SetPrice lists or unlists an item owned by the caller.
func (s *Service) SetPrice(ctx context.Context, r PriceRequest) error {
	_, err := registry.Invoke(ctx, s.h, setPriceMethod, r)
	return err
}

// ListedValue sums the listing prices of items at full precision.
func ListedValue(items []Item) marshal.Amount {
	prices := make([]marshal.Amount, 0, len(items))
	for _, item := range items {
		if p, ok := item.Price.Get(); ok {
			prices = append(prices, p)
		}
	}
	return marshal.Sum(prices...)
}
