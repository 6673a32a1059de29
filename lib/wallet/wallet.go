// Package wallet defines the adapter contract between the fund-movement workers and the custody backends. An
// adapter knows how to talk to one kind of backend (a direct node, a vault gateway) and exposes the minimal
// operations the workers need: create addresses, read balances and broadcast transactions. Adapters never touch the
// database and never decide state transitions; they fill in transaction hashes and report errors, the workers do
// the rest.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tarancss/custody/lib/store"
)

// WalletSettings are the connection settings of one custody endpoint, taken from the wallet record.
type WalletSettings struct {
	URI         string
	GatewayURL  string
	Address     string
	Secret      string
	Seed        string
	WalletIndex uint32
}

// CurrencySettings are the per-currency settings an adapter needs to build transactions.
type CurrencySettings struct {
	ID            string
	BaseFactor    int64
	GasLimit      uint64
	GasPrice      string
	Contract      string
	MinCollection decimal.Decimal
}

// Settings carries everything Configure needs. Both parts must be present.
type Settings struct {
	Wallet   *WalletSettings
	Currency *CurrencySettings
}

// AddressOpts selects which address to derive or create.
type AddressOpts struct {
	Index uint32
}

// Address is a backend-created receiving address. Details carries backend-specific extras such as a derivation
// path or a memo.
type Address struct {
	Address string
	Secret  string
	Details map[string]string
}

// Transaction is the adapter-level view of one blockchain operation. CreateTransaction fills Hash and only Hash:
// an adapter must never mutate Amount or ToAddress of a transaction it is given.
type Transaction struct {
	Currency    string
	Hash        string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	Status      string
	Options     map[string]interface{}
}

// Adapter is implemented by every custody backend.
type Adapter interface {
	// Configure validates the settings and prepares the adapter client. It must fail with a MissingSettingError
	// for each required setting that is absent before any network use.
	Configure(s Settings) error

	// CreateAddress creates or derives a receiving address on the backend.
	CreateAddress(ctx context.Context, opts AddressOpts) (Address, error)

	// CreateTransaction broadcasts tx and returns it with Hash filled in.
	CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// LoadBalance reads the current confirmed balance of the configured wallet from the backend. Balances are
	// never cached.
	LoadBalance(ctx context.Context) (decimal.Decimal, error)

	// CollectDeposit broadcasts one transaction per unhashed spread leg, returning the transactions in leg
	// order. A failed leg ends the batch; legs already broadcast stay broadcast.
	CollectDeposit(ctx context.Context, dep store.Deposit, spread []store.SpreadLeg) ([]Transaction, error)

	// BuildWithdrawal broadcasts the withdrawal and returns the transaction with Hash filled in.
	BuildWithdrawal(ctx context.Context, wd store.Withdraw) (Transaction, error)
}

// MissingSettingError reports a required setting absent at Configure time.
type MissingSettingError struct {
	Key string
}

func (e MissingSettingError) Error() string {
	return fmt.Sprintf("missing required setting %s", e.Key)
}

// ClientError wraps a transport or backend failure so callers can tell it apart from local validation errors.
type ClientError struct {
	Err error
}

func (e ClientError) Error() string {
	return fmt.Sprintf("wallet client: %v", e.Err)
}

func (e ClientError) Unwrap() error {
	return e.Err
}

// ErrNotRegisteredAdapter is returned when a wallet record names an adapter the registry does not know.
var ErrNotRegisteredAdapter = errors.New("wallet adapter is not registered")

// Factory builds a fresh, unconfigured adapter instance.
type Factory func() Adapter

// Registry maps adapter names to factories. It is populated once at startup; resolution of an unknown name fails
// fast instead of degrading to a null adapter.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a named adapter factory, replacing any previous registration under the same name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Resolve returns a fresh adapter instance for the named backend or ErrNotRegisteredAdapter.
func (r *Registry) Resolve(name string) (Adapter, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotRegisteredAdapter)
	}

	return f(), nil
}
