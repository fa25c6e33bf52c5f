// Package ledger adapts the fungible-token ledger service.
package ledger

import (
	"context"
	"time"

	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxMemoLength bounds a transfer memo in bytes.
const MaxMemoLength = 32

// Transfer moves Amount from the caller's default account to To.
type Transfer struct {
	To     marshal.Account
	Amount marshal.Amount
	// Fee, when set, must match the ledger fee.
	Fee       marshal.Optional[marshal.Amount]
	Memo      marshal.Optional[string]
	CreatedAt marshal.Optional[time.Time]
}

// Transaction is one ledger entry touching an account.
type Transaction struct {
	ID        uint64
	Kind      string
	From      marshal.Optional[marshal.Account]
	To        marshal.Optional[marshal.Account]
	Amount    marshal.Amount
	Fee       marshal.Optional[marshal.Amount]
	Timestamp time.Time
}

// TransactionQuery selects a page of an account's history.
type TransactionQuery struct {
	Account marshal.Account
	Page    pagination.Page
}

var (
	balanceOfMethod = marshal.Method[marshal.Account, marshal.Amount]{
		Name: "icrc1_balance_of",
		ToWire: func(account marshal.Account) ([]*structpb.Value, error) {
			v, err := marshal.EncodeAccount(account)
			return []*structpb.Value{v}, err
		},
		FromWire: marshal.DecodeAmount,
	}
	feeMethod = marshal.Method[marshal.NoArgs, marshal.Amount]{
		Name:     "icrc1_fee",
		FromWire: marshal.DecodeAmount,
	}
	transferMethod = marshal.Method[Transfer, uint64]{
		Name:             "icrc1_transfer",
		RequiresIdentity: true,
		ToWire:           encodeTransfer,
		FromWire: func(v *structpb.Value) (uint64, error) {
			return marshal.UnwrapResult(v, marshal.DecodeNat64)
		},
	}
	transactionsMethod = marshal.Method[TransactionQuery, []Transaction]{
		Name:   "get_transactions",
		ToWire: encodeTransactionQuery,
		FromWire: func(v *structpb.Value) ([]Transaction, error) {
			return marshal.DecodeList(v, decodeTransaction)
		},
	}
)

func encodeTransfer(t Transfer) ([]*structpb.Value, error) {
	if t.Amount.IsZero() {
		return nil, apperrors.New(apperrors.CodeValidation, "transfer amount must be positive")
	}
	if memo, ok := t.Memo.Get(); ok && len(memo) > MaxMemoLength {
		return nil, apperrors.Newf(apperrors.CodeValidation, "memo exceeds %d bytes", MaxMemoLength)
	}
	to, err := marshal.EncodeAccount(t.To)
	if err != nil {
		return nil, err
	}
	amount, err := marshal.EncodeAmount(t.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := marshal.EncodeOptional(t.Fee, marshal.EncodeAmount)
	if err != nil {
		return nil, err
	}
	memo, err := marshal.EncodeOptional(t.Memo, marshal.EncodeText)
	if err != nil {
		return nil, err
	}
	createdAt, err := marshal.EncodeOptional(t.CreatedAt, marshal.EncodeTimestamp)
	if err != nil {
		return nil, err
	}
	return []*structpb.Value{marshal.Struct(map[string]*structpb.Value{
		"to":              to,
		"amount":          amount,
		"fee":             fee,
		"memo":            memo,
		"created_at_time": createdAt,
	})}, nil
}

func encodeTransactionQuery(q TransactionQuery) ([]*structpb.Value, error) {
	account, err := marshal.EncodeAccount(q.Account)
	if err != nil {
		return nil, err
	}
	fields := marshal.EncodePage(q.Page)
	fields["account"] = account
	return []*structpb.Value{marshal.Struct(fields)}, nil
}

func decodeTransaction(v *structpb.Value) (Transaction, error) {
	rec, err := marshal.DecodeRecord(v)
	if err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	if tx.ID, err = rec.Nat64("id"); err != nil {
		return Transaction{}, err
	}
	if tx.Kind, err = rec.Text("kind"); err != nil {
		return Transaction{}, err
	}
	if tx.From, err = marshal.OptionalField(rec, "from", marshal.DecodeAccount); err != nil {
		return Transaction{}, err
	}
	if tx.To, err = marshal.OptionalField(rec, "to", marshal.DecodeAccount); err != nil {
		return Transaction{}, err
	}
	if tx.Amount, err = rec.Amount("amount"); err != nil {
		return Transaction{}, err
	}
	if tx.Fee, err = marshal.OptionalField(rec, "fee", marshal.DecodeAmount); err != nil {
		return Transaction{}, err
	}
	if tx.Timestamp, err = marshal.Field(rec, "timestamp", marshal.DecodeTimestamp); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Service is the typed surface of the ledger.
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

// BalanceOf returns the balance of account in minor units.
func (s *Service) BalanceOf(ctx context.Context, account marshal.Account) (marshal.Amount, error) {
	return registry.Invoke(ctx, s.h, balanceOfMethod, account)
}

// Fee returns the flat transfer fee.
func (s *Service) Fee(ctx context.Context) (marshal.Amount, error) {
	return registry.Invoke(ctx, s.h, feeMethod, marshal.NoArgs{})
}

// Transfer submits t and returns the block index.
func (s *Service) Transfer(ctx context.Context, t Transfer) (uint64, error) {
	return registry.Invoke(ctx, s.h, transferMethod, t)
}

// Transactions returns one page of an account's history.
func (s *Service) Transactions(ctx context.Context, q TransactionQuery) ([]Transaction, error) {
	q.Page = q.Page.Normalize(pagination.DefaultPageSize)
	return registry.Invoke(ctx, s.h, transactionsMethod, q)
}

// AllTransactions walks the full history of account. maxPages bounds the
// walk; zero means unbounded.
func (s *Service) AllTransactions(ctx context.Context, account marshal.Account, maxPages int) ([]Transaction, error) {
	first := pagination.Page{}.Normalize(pagination.DefaultPageSize)
	return pagination.Collect(ctx, first, maxPages,
		func(ctx context.Context, p pagination.Page) ([]Transaction, error) {
			return s.Transactions(ctx, TransactionQuery{Account: account, Page: p})
		},
		func(tx Transaction) uint64 { return tx.ID },
	)
}
