// Package payments tracks peer-to-peer payment accounts, transactions,
// payment requests and contacts on top of the payments domain store.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

// Domain is the registry name of the payments domain
const Domain = "payments"

// Collections of the payments domain
const (
	Accounts     = "accounts"
	Transactions = "transactions"
	Requests     = "requests"
	Contacts     = "contacts"
)

// TimeLayout formats every stored timestamp. Fixed-width UTC strings sort
// chronologically, which the createdAt index relies on.
const TimeLayout = "2006-01-02T15:04:05Z"

// Platform is a payment provider
type Platform string

const (
	CashApp Platform = "cashapp"
	Venmo   Platform = "venmo"
	PayPal  Platform = "paypal"
)

// Transaction types
const (
	TypeSend    = "send"
	TypeReceive = "receive"
	TypeRequest = "request"
)

// Transaction statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// DefaultRequestExpiry applies to requests created without an expiry
const DefaultRequestExpiry = 7 * 24 * time.Hour

// Account is a user's account on one platform
type Account struct {
	ID          string   `json:"id,omitempty"`
	Type        Platform `json:"type"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	IsDefault   bool     `json:"isDefault"`
	IsVerified  bool     `json:"isVerified"`
	CreatedAt   string   `json:"createdAt,omitempty"`
}

// Transaction is one payment sent, received or requested
type Transaction struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type"`
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Status      string         `json:"status"`
	Platform    Platform       `json:"platform"`
	FromAccount string         `json:"fromAccount,omitempty"`
	ToAccount   string         `json:"toAccount,omitempty"`
	Note        string         `json:"note,omitempty"`
	Category    string         `json:"category,omitempty"`
	CreatedAt   string         `json:"createdAt,omitempty"`
	CompletedAt string         `json:"completedAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Request asks someone for a payment
type Request struct {
	ID        string   `json:"id,omitempty"`
	Platform  Platform `json:"platform"`
	Amount    float64  `json:"amount"`
	Currency  string   `json:"currency,omitempty"`
	Recipient string   `json:"recipient"`
	Note      string   `json:"note,omitempty"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"createdAt,omitempty"`
	ExpiresAt string   `json:"expiresAt,omitempty"`
}

// Contact is someone the user pays, with their handle per platform
type Contact struct {
	ID              string              `json:"id,omitempty"`
	Name            string              `json:"name"`
	Platforms       map[Platform]string `json:"platforms,omitempty"`
	IsFavorite      bool                `json:"isFavorite"`
	LastTransaction string              `json:"lastTransaction,omitempty"`
}

// Service implements the payments operations over an open domain handle
type Service struct {
	h   *store.Handle
	now func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a service. h must be a handle of the payments domain.
func New(h *store.Handle, opts ...Option) (*Service, error) {
	if h.Domain() != Domain {
		return nil, fmt.Errorf("%w: payments service needs the %s domain, got %s", types.ErrUnknownDomain, Domain, h.Domain())
	}
	s := &Service{h: h, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(TimeLayout)
}

// AddAccount stores a new account
func (s *Service) AddAccount(ctx context.Context, a Account) (Account, error) {
	if a.Type == "" || a.Username == "" {
		return Account{}, fmt.Errorf("%w: account needs a type and a username", types.ErrInvalidRecord)
	}
	a.CreatedAt = s.timestamp()
	return insert(ctx, s.h, Accounts, a)
}

// Accounts returns every account
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	return list[Account](ctx, s.h, Accounts, types.Query{})
}

// AccountsByPlatform returns the accounts on one platform
func (s *Service) AccountsByPlatform(ctx context.Context, p Platform) ([]Account, error) {
	return list[Account](ctx, s.h, Accounts, types.Query{
		Predicates: []types.Predicate{{Field: "type", Op: types.OpEq, Value: string(p)}},
	})
}

// SetDefaultAccount makes id the only default account of its platform
func (s *Service) SetDefaultAccount(ctx context.Context, id string) error {
	return s.h.WithTransaction(ctx, []string{Accounts}, types.ReadWrite, func(txn *store.Txn) error {
		rec, found, err := txn.Get(Accounts, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: account %s", types.ErrNotFound, id)
		}
		same, err := txn.Query(Accounts, types.Query{
			Predicates: []types.Predicate{{Field: "type", Op: types.OpEq, Value: rec["type"]}},
		})
		if err != nil {
			return err
		}
		for _, acc := range same {
			isDefault := acc["id"] == id
			if acc["isDefault"] == isDefault {
				continue
			}
			acc["isDefault"] = isDefault
			if _, err := txn.Update(Accounts, acc["id"], acc); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateTransaction stores a new transaction with a generated id. Status
// defaults to pending and currency to USD.
func (s *Service) CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.Amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: amount must be positive, got %v", types.ErrInvalidRecord, tx.Amount)
	}
	if tx.Platform == "" {
		return Transaction{}, fmt.Errorf("%w: transaction needs a platform", types.ErrInvalidRecord)
	}
	tx.ID = ""
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.Currency == "" {
		tx.Currency = "USD"
	}
	tx.CreatedAt = s.timestamp()
	return insert(ctx, s.h, Transactions, tx)
}

// Filter narrows Transactions. Zero fields do not filter. The date range
// is inclusive and compares creation times.
type Filter struct {
	Platform Platform
	Status   string
	Type     string
	Start    time.Time
	End      time.Time
	Limit    int
}

func (f Filter) predicates() []types.Predicate {
	var preds []types.Predicate
	if f.Platform != "" {
		preds = append(preds, types.Predicate{Field: "platform", Op: types.OpEq, Value: string(f.Platform)})
	}
	if f.Status != "" {
		preds = append(preds, types.Predicate{Field: "status", Op: types.OpEq, Value: f.Status})
	}
	if f.Type != "" {
		preds = append(preds, types.Predicate{Field: "type", Op: types.OpEq, Value: f.Type})
	}
	return append(preds, createdBetween(f.Start, f.End)...)
}

func createdBetween(start, end time.Time) []types.Predicate {
	switch {
	case !start.IsZero() && !end.IsZero():
		return []types.Predicate{{Field: "createdAt", Op: types.OpBetween,
			Value: start.UTC().Format(TimeLayout), Upper: end.UTC().Format(TimeLayout)}}
	case !start.IsZero():
		return []types.Predicate{{Field: "createdAt", Op: types.OpGte, Value: start.UTC().Format(TimeLayout)}}
	case !end.IsZero():
		return []types.Predicate{{Field: "createdAt", Op: types.OpLte, Value: end.UTC().Format(TimeLayout)}}
	default:
		return nil
	}
}

var newestFirst = []types.SortClause{{Field: "createdAt", Descending: true}}

// Transactions returns the transactions matching f, newest first
func (s *Service) Transactions(ctx context.Context, f Filter) ([]Transaction, error) {
	return list[Transaction](ctx, s.h, Transactions, types.Query{
		Predicates: f.predicates(),
		Sort:       newestFirst,
		Limit:      f.Limit,
	})
}

// UpdateTransactionStatus sets the status of a transaction and merges
// metadata into it. Completing a transaction stamps completedAt.
func (s *Service) UpdateTransactionStatus(ctx context.Context, id, status string, metadata map[string]any) error {
	if status == "" {
		return fmt.Errorf("%w: status cannot be empty", types.ErrInvalidRecord)
	}
	return s.h.WithTransaction(ctx, []string{Transactions}, types.ReadWrite, func(txn *store.Txn) error {
		rec, found, err := txn.Get(Transactions, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: transaction %s", types.ErrNotFound, id)
		}
		rec["status"] = status
		if status == StatusCompleted {
			rec["completedAt"] = s.timestamp()
		}
		if len(metadata) > 0 {
			merged, _ := rec["metadata"].(map[string]any)
			if merged == nil {
				merged = make(map[string]any, len(metadata))
			}
			for k, v := range metadata {
				merged[k] = v
			}
			rec["metadata"] = merged
		}
		_, err = txn.Update(Transactions, id, rec)
		return err
	})
}

// CreateRequest stores a payment request. Requests expire after
// DefaultRequestExpiry unless ExpiresAt is set.
func (s *Service) CreateRequest(ctx context.Context, r Request) (Request, error) {
	if r.Amount <= 0 || r.Recipient == "" {
		return Request{}, fmt.Errorf("%w: request needs a positive amount and a recipient", types.ErrInvalidRecord)
	}
	now := s.now().UTC()
	r.ID = ""
	r.CreatedAt = now.Format(TimeLayout)
	if r.ExpiresAt == "" {
		r.ExpiresAt = now.Add(DefaultRequestExpiry).Format(TimeLayout)
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}
	return insert(ctx, s.h, Requests, r)
}

// PaymentRequests returns the requests with the given status, or all of
// them when status is empty, newest first
func (s *Service) PaymentRequests(ctx context.Context, status string) ([]Request, error) {
	q := types.Query{Sort: newestFirst}
	if status != "" {
		q.Predicates = []types.Predicate{{Field: "status", Op: types.OpEq, Value: status}}
	}
	return list[Request](ctx, s.h, Requests, q)
}

// AddContact stores a new contact
func (s *Service) AddContact(ctx context.Context, c Contact) (Contact, error) {
	if c.Name == "" {
		return Contact{}, fmt.Errorf("%w: contact needs a name", types.ErrInvalidRecord)
	}
	c.ID = ""
	return insert(ctx, s.h, Contacts, c)
}

// Contacts returns favorites first, then everyone else, each by name
func (s *Service) Contacts(ctx context.Context) ([]Contact, error) {
	return list[Contact](ctx, s.h, Contacts, types.Query{
		Sort: []types.SortClause{{Field: "isFavorite", Descending: true}, {Field: "name"}},
	})
}

func insert[T any](ctx context.Context, h *store.Handle, collection string, v T) (T, error) {
	var out T
	rec, err := types.FromStruct(v)
	if err != nil {
		return out, err
	}
	err = h.WithTransaction(ctx, []string{collection}, types.ReadWrite, func(txn *store.Txn) error {
		stored, err := txn.Insert(collection, rec)
		if err != nil {
			return err
		}
		out, err = types.Decode[T](stored)
		return err
	})
	return out, err
}

func list[T any](ctx context.Context, h *store.Handle, collection string, q types.Query) ([]T, error) {
	var out []T
	err := h.WithTransaction(ctx, []string{collection}, types.ReadOnly, func(txn *store.Txn) error {
		recs, err := txn.Query(collection, q)
		if err != nil {
			return err
		}
		out, err = types.DecodeAll[T](recs)
		return err
	})
	return out, err
}
