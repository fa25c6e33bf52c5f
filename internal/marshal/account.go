package marshal

import (
	"encoding/hex"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// SubaccountLength is the fixed size of a subaccount selector.
const SubaccountLength = 32

// Subaccount selects one partition of an owner's holdings.
type Subaccount [SubaccountLength]byte

// ParseSubaccount parses a 64-character hex subaccount.
func ParseSubaccount(text string) (Subaccount, error) {
	var sub Subaccount
	if len(text) != hex.EncodedLen(SubaccountLength) {
		return sub, invalid("subaccount %q must be %d hex characters", text, hex.EncodedLen(SubaccountLength))
	}
	if _, err := hex.Decode(sub[:], []byte(text)); err != nil {
		return sub, invalid("subaccount %q is not hex", text)
	}
	return sub, nil
}

// String returns the hex form.
func (s Subaccount) String() string {
	return hex.EncodeToString(s[:])
}

// Account is an owner plus an optional subaccount. Two accounts are equal
// only when both fields match exactly.
type Account struct {
	Owner      Principal
	Subaccount Optional[Subaccount]
}

// NewAccount returns the default account of owner.
func NewAccount(owner Principal) Account {
	return Account{Owner: owner}
}

// ParseAccount parses "principal" or "principal.subaccounthex".
func ParseAccount(text string) (Account, error) {
	ownerText, subText, hasSub := strings.Cut(text, ".")
	owner, err := ParsePrincipal(ownerText)
	if err != nil {
		return Account{}, err
	}
	account := Account{Owner: owner}
	if hasSub {
		sub, err := ParseSubaccount(subText)
		if err != nil {
			return Account{}, err
		}
		account.Subaccount = Some(sub)
	}
	return account, nil
}

// Equal reports whether a and b name the same account.
func (a Account) Equal(b Account) bool {
	if a.Owner != b.Owner {
		return false
	}
	as, aok := a.Subaccount.Get()
	bs, bok := b.Subaccount.Get()
	return aok == bok && as == bs
}

// String returns the textual account form accepted by ParseAccount.
func (a Account) String() string {
	if sub, ok := a.Subaccount.Get(); ok {
		return a.Owner.String() + "." + sub.String()
	}
	return a.Owner.String()
}

// EncodeAccount encodes {owner, subaccount: opt text}.
func EncodeAccount(a Account) (*structpb.Value, error) {
	sub, err := EncodeOptional(a.Subaccount, func(s Subaccount) (*structpb.Value, error) {
		return Text(s.String()), nil
	})
	if err != nil {
		return nil, err
	}
	return Struct(map[string]*structpb.Value{
		"owner":      Text(a.Owner.String()),
		"subaccount": sub,
	}), nil
}

// DecodeAccount decodes {owner, subaccount: opt text}.
func DecodeAccount(v *structpb.Value) (Account, error) {
	rec, err := DecodeRecord(v)
	if err != nil {
		return Account{}, err
	}
	owner, err := rec.Principal("owner")
	if err != nil {
		return Account{}, err
	}
	sub, err := OptionalField(rec, "subaccount", func(v *structpb.Value) (Subaccount, error) {
		text, err := DecodeText(v)
		if err != nil {
			return Subaccount{}, err
		}
		s, err := ParseSubaccount(text)
		if err != nil {
			return Subaccount{}, malformed("invalid subaccount %q", text)
		}
		return s, nil
	})
	if err != nil {
		return Account{}, err
	}
	return Account{Owner: owner, Subaccount: sub}, nil
}
