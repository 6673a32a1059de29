// Package custody binds one wallet record to its currency settings and adapter backend, giving the workers a ready
// client for the operations on that wallet. A Service is built per job and never cached: wallet and currency
// settings may change between jobs and balances must always be read fresh.
package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tarancss/custody/lib/config"
	"github.com/tarancss/custody/lib/store"
	"github.com/tarancss/custody/lib/wallet"
)

// ErrBelowMinCollection is returned when a deposit is not worth sweeping into custody.
var ErrBelowMinCollection = errors.New("deposit amount is below the minimum collection amount")

// Service is the operational view of one wallet: the record, the per-currency settings and a configured adapter.
type Service struct {
	w             store.Wallet
	cur           config.CurrencyConfig
	ad            wallet.Adapter
	minCollection decimal.Decimal
}

// New resolves the wallet's adapter from the registry and configures it. The seed is only used by adapters that
// derive keys locally.
func New(w store.Wallet, cur config.CurrencyConfig, seed string, reg *wallet.Registry) (*Service, error) {
	ad, err := reg.Resolve(w.Adapter)
	if err != nil {
		return nil, err
	}

	minCollection := decimal.Zero
	if cur.MinCollection != "" {
		if minCollection, err = decimal.NewFromString(cur.MinCollection); err != nil {
			return nil, fmt.Errorf("bad minCollection for currency %s: %w", cur.ID, err)
		}
	}

	err = ad.Configure(wallet.Settings{
		Wallet: &wallet.WalletSettings{
			URI:         w.URI,
			GatewayURL:  w.GatewayURL,
			Address:     w.Address,
			Secret:      w.Secret,
			Seed:        seed,
			WalletIndex: w.WalletIndex,
		},
		Currency: &wallet.CurrencySettings{
			ID:            cur.ID,
			BaseFactor:    cur.BaseFactor,
			GasLimit:      cur.GasLimit,
			GasPrice:      cur.GasPrice,
			Contract:      cur.Contract,
			MinCollection: minCollection,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Service{w: w, cur: cur, ad: ad, minCollection: minCollection}, nil
}

// Wallet returns the bound wallet record.
func (s *Service) Wallet() store.Wallet {
	return s.w
}

// LoadBalance reads the wallet's current balance from the backend.
func (s *Service) LoadBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.ad.LoadBalance(ctx)
}

// CreateAddress creates a new receiving address on the wallet's backend.
func (s *Service) CreateAddress(ctx context.Context, opts wallet.AddressOpts) (wallet.Address, error) {
	return s.ad.CreateAddress(ctx, opts)
}

// SpreadDeposit decomposes a deposit into sweep legs towards this wallet. The collectible amount is the deposit
// amount minus its fee; a deposit below the minimum collection amount is not worth the sweep cost.
func (s *Service) SpreadDeposit(dep store.Deposit) ([]store.SpreadLeg, error) {
	collectible := dep.Amount.Sub(dep.Fee)
	if collectible.LessThan(s.minCollection) || collectible.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("deposit %s: %s %s: %w", dep.ID, collectible, dep.Currency, ErrBelowMinCollection)
	}

	return []store.SpreadLeg{{ToAddress: s.w.Address, Amount: collectible, Status: "pending"}}, nil
}

// CollectDeposit broadcasts the sweep transactions for the deposit's unhashed spread legs.
func (s *Service) CollectDeposit(ctx context.Context, dep store.Deposit,
	spread []store.SpreadLeg) ([]wallet.Transaction, error) {
	return s.ad.CollectDeposit(ctx, dep, spread)
}

// BuildWithdrawal broadcasts the withdrawal through the wallet's backend. The service persists nothing: recording
// the dispatch is the caller's job.
func (s *Service) BuildWithdrawal(ctx context.Context, wd store.Withdraw) (wallet.Transaction, error) {
	return s.ad.BuildWithdrawal(ctx, wd)
}

// Refund sends the deposited amount back to the given address through this wallet.
func (s *Service) Refund(ctx context.Context, rf store.Refund, dep store.Deposit) (wallet.Transaction, error) {
	return s.ad.CreateTransaction(ctx, wallet.Transaction{
		Currency:  dep.Currency,
		ToAddress: rf.Address,
		Amount:    dep.Amount,
	})
}
