// Package ethereum implements the wallet adapter for a direct ethereum node connection. Keys are derived locally
// from an HD wallet seed, amounts are converted to wei and transactions are signed and broadcast through the node's
// JSON-RPC endpoint.
package ethereum

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tarancss/ethcli"
	"github.com/tarancss/hd"

	"github.com/tarancss/custody/lib/store"
	"github.com/tarancss/custody/lib/util"
	"github.com/tarancss/custody/lib/wallet"
)

// Ethereum is the direct-node adapter. Configure must run before any other method.
type Ethereum struct {
	c        *ethcli.EthCli
	hd       *hd.HdWallet
	settings wallet.WalletSettings
	currency wallet.CurrencySettings

	mu      sync.Mutex
	nextIdx uint32
}

// New returns an unconfigured adapter instance.
func New() wallet.Adapter {
	return &Ethereum{}
}

// Configure validates the settings, connects to the node and loads the HD wallet from the seed.
func (e *Ethereum) Configure(s wallet.Settings) error {
	e.c, e.hd = nil, nil

	if s.Wallet == nil {
		return wallet.MissingSettingError{Key: "wallet"}
	}

	if s.Currency == nil {
		return wallet.MissingSettingError{Key: "currency"}
	}

	if s.Wallet.URI == "" {
		return wallet.MissingSettingError{Key: "wallet.uri"}
	}

	if s.Wallet.Seed == "" {
		return wallet.MissingSettingError{Key: "wallet.seed"}
	}

	seed, err := hex.DecodeString(s.Wallet.Seed)
	if err != nil {
		return fmt.Errorf("cannot decode HD wallet seed: %w", err)
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		return fmt.Errorf("cannot load HD wallet: %w", err)
	}

	c := ethcli.Init(s.Wallet.URI, s.Wallet.Secret)
	if c == nil {
		return wallet.ClientError{Err: fmt.Errorf("cannot connect to ethereum node in %s", s.Wallet.URI)}
	}

	e.c, e.hd = c, hdw
	e.settings, e.currency = *s.Wallet, *s.Currency
	e.nextIdx = s.Wallet.WalletIndex

	return nil
}

// address derives the address and private key at the given index of the wallet's external chain.
func (e *Ethereum) address(id uint32) (string, string, error) {
	addr, key, _, err := e.hd.Address(e.settings.WalletIndex, hd.External, id)
	if err != nil {
		return "", "", fmt.Errorf("cannot derive address %d: %w", id, err)
	}

	return "0x" + hex.EncodeToString(addr), hex.EncodeToString(key), nil
}

// CreateAddress derives the next receiving address of the wallet's chain. Derivation is deterministic: a restarted
// worker re-derives the same addresses from the same seed.
func (e *Ethereum) CreateAddress(ctx context.Context, opts wallet.AddressOpts) (wallet.Address, error) {
	e.mu.Lock()
	id := opts.Index
	if id == 0 {
		id = e.nextIdx
		e.nextIdx++
	}
	e.mu.Unlock()

	addr, _, err := e.address(id)
	if err != nil {
		return wallet.Address{}, err
	}

	return wallet.Address{
		Address: addr,
		Details: map[string]string{"index": fmt.Sprintf("%d", id)},
	}, nil
}

// CreateTransaction signs and broadcasts tx from the wallet's base address and returns it with Hash filled in.
func (e *Ethereum) CreateTransaction(ctx context.Context, tx wallet.Transaction) (wallet.Transaction, error) {
	from, key, err := e.address(0)
	if err != nil {
		return tx, err
	}

	wei := util.ToBaseUnit(tx.Amount, e.currency.BaseFactor)
	amount := "0x" + hex.EncodeToString(wei.Bytes())

	_, _, hash, err := e.c.SendTrx(from, tx.ToAddress, e.currency.Contract, amount, nil, key, 0, false)
	if err != nil {
		return tx, wallet.ClientError{Err: err}
	}

	tx.FromAddress = from
	tx.Hash = "0x" + hex.EncodeToString(hash)

	return tx, nil
}

// LoadBalance reads the node balance of the wallet's base address. For ERC20 currencies the token balance is
// returned instead of the ether balance.
func (e *Ethereum) LoadBalance(ctx context.Context) (decimal.Decimal, error) {
	addr := e.settings.Address
	if addr == "" {
		var err error
		if addr, _, err = e.address(0); err != nil {
			return decimal.Zero, err
		}
	}

	ethBal, tokBal := new(big.Int), new(big.Int)
	if err := e.c.GetBalance(addr, e.currency.Contract, ethBal, tokBal); err != nil {
		return decimal.Zero, wallet.ClientError{Err: err}
	}

	if e.currency.Contract != "" {
		return util.FromBaseUnit(tokBal, e.currency.BaseFactor), nil
	}

	return util.FromBaseUnit(ethBal, e.currency.BaseFactor), nil
}

// CollectDeposit broadcasts one transaction per unhashed spread leg, in order. A failed leg ends the batch.
func (e *Ethereum) CollectDeposit(ctx context.Context, dep store.Deposit,
	spread []store.SpreadLeg) ([]wallet.Transaction, error) {
	txs := make([]wallet.Transaction, 0, len(spread))

	for _, leg := range spread {
		if leg.Hash != "" {
			continue
		}

		tx, err := e.CreateTransaction(ctx, wallet.Transaction{
			Currency:  dep.Currency,
			ToAddress: leg.ToAddress,
			Amount:    leg.Amount,
		})
		if err != nil {
			return txs, err
		}

		txs = append(txs, tx)
	}

	return txs, nil
}

// BuildWithdrawal signs and broadcasts the withdrawal to its destination address.
func (e *Ethereum) BuildWithdrawal(ctx context.Context, wd store.Withdraw) (wallet.Transaction, error) {
	return e.CreateTransaction(ctx, wallet.Transaction{
		Currency:  wd.Currency,
		ToAddress: wd.RID,
		Amount:    wd.Amount,
	})
}
