// Package preferences adapts the per-identity preferences store. Every
// method needs a signed-in identity.
package preferences

import (
	"context"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxFavorites bounds the favorites list.
const MaxFavorites = 500

// Preferences are the operator's stored settings.
type Preferences struct {
	Theme         marshal.Optional[string]
	Language      marshal.Optional[string]
	Notifications bool
	// Favorites are item ids.
	Favorites []uint64
}

var (
	getMethod = marshal.Method[marshal.NoArgs, marshal.Optional[Preferences]]{
		Name:             "get_preferences",
		RequiresIdentity: true,
		FromWire: func(v *structpb.Value) (marshal.Optional[Preferences], error) {
			return marshal.DecodeOptional(v, decodePreferences)
		},
	}
	setMethod = marshal.Method[Preferences, struct{}]{
		Name:             "set_preferences",
		RequiresIdentity: true,
		ToWire: func(p Preferences) ([]*structpb.Value, error) {
			v, err := EncodePreferences(p)
			if err != nil {
				return nil, err
			}
			return []*structpb.Value{v}, nil
		},
		FromWire: func(v *structpb.Value) (struct{}, error) {
			return marshal.UnwrapResult(v, func(*structpb.Value) (struct{}, error) { return struct{}{}, nil })
		},
	}
)

// EncodePreferences converts p to its wire record.
func EncodePreferences(p Preferences) (*structpb.Value, error) {
	if len(p.Favorites) > MaxFavorites {
		return nil, apperrors.Newf(apperrors.CodeValidation, "at most %d favorites", MaxFavorites)
	}
	theme, err := marshal.EncodeOptional(p.Theme, marshal.EncodeText)
	if err != nil {
		return nil, err
	}
	language, err := marshal.EncodeOptional(p.Language, marshal.EncodeText)
	if err != nil {
		return nil, err
	}
	favorites, err := marshal.EncodeList(p.Favorites, marshal.EncodeNat64Value)
	if err != nil {
		return nil, err
	}
	return marshal.Struct(map[string]*structpb.Value{
		"theme":         theme,
		"language":      language,
		"notifications": marshal.Bool(p.Notifications),
		"favorites":     favorites,
	}), nil
}

func decodePreferences(v *structpb.Value) (Preferences, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return Preferences{}, err
	}
	var p Preferences
	if p.Theme, err = marshal.OptionalField(rec, "theme", marshal.DecodeText); err != nil {
		return Preferences{}, err
	}
	if p.Language, err = marshal.OptionalField(rec, "language", marshal.DecodeText); err != nil {
		return Preferences{}, err
	}
	if p.Notifications, err = rec.Bool("notifications"); err != nil {
		return Preferences{}, err
	}
	if p.Favorites, err = marshal.Field(rec, "favorites", func(v *structpb.Value) ([]uint64, error) {
		return marshal.DecodeList(v, marshal.DecodeNat64)
	}); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// Service is the typed surface of the preferences store.
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

// Get returns the stored preferences, or None when nothing was saved.
func (s *Service) Get(ctx context.Context) (marshal.Optional[Preferences], error) {
	return registry.Invoke(ctx, s.h, getMethod, marshal.NoArgs{})
}

// Set replaces the stored preferences.
func (s *Service) Set(ctx context.Context, p Preferences) error {
	_, err := registry.Invoke(ctx, s.h, setMethod, p)
	return err
}
