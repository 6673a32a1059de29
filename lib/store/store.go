// Package store defines the interface for database implementations to the fund-movement workers and the management
// API. Every method that combines a ledger mutation with a record state change executes both inside one database
// transaction: if the transaction aborts, neither the balance change nor the state change is observed, so a
// redelivered queue message safely reprocesses from the prior state.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// DB defines the persistence operations required by the deposit-collection, withdraw-dispatch and
// beneficiary-enable workers, the AML cron sweep and the management API.
type DB interface {
	// ledger accounts
	GetAccount(ctx context.Context, memberUID, currency string) (Account, error)
	PlusFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error
	LockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error
	UnlockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error

	// deposits
	AddDeposit(ctx context.Context, d Deposit) error
	GetDeposit(ctx context.Context, id string) (Deposit, error)
	DepositsByState(ctx context.Context, state DepositState) ([]Deposit, error)
	// SetDepositState performs a compare-and-set transition from 'from' to 'to'.
	SetDepositState(ctx context.Context, id string, from, to DepositState) error
	// UpdateDepositSpread replaces the spread and transitions from 'from' to 'to' in one write. from == to is
	// allowed so a partially collected deposit can record progress while staying in collecting.
	UpdateDepositSpread(ctx context.Context, id string, spread []SpreadLeg, from, to DepositState) error
	// ConfirmDepositCollected persists the fully hashed spread, moves the deposit to collected and credits the
	// member's ledger account with amount minus fee, all in one transaction.
	ConfirmDepositCollected(ctx context.Context, d Deposit, spread []SpreadLeg) error

	// withdrawals
	AddWithdraw(ctx context.Context, w Withdraw) error
	GetWithdraw(ctx context.Context, id string) (Withdraw, error)
	SetWithdrawState(ctx context.Context, id string, from, to WithdrawState) error
	// ConfirmWithdrawDispatch records the broadcast hash and moves processing -> confirming in one write.
	ConfirmWithdrawDispatch(ctx context.Context, id, txid string) error
	// SucceedWithdraw moves confirming -> succeed and debits the locked funds in one transaction.
	SucceedWithdraw(ctx context.Context, id string) error
	// FailWithdraw moves the withdrawal to failed and releases the locked funds in one transaction.
	FailWithdraw(ctx context.Context, id string) error

	// wallets
	AddWallet(ctx context.Context, w Wallet) error
	// ActiveWallet returns the single active wallet for the currency and kind, or ErrNotFound.
	ActiveWallet(ctx context.Context, currency string, kind WalletKind) (Wallet, error)

	// transactions, append-only
	AddTransaction(ctx context.Context, t Transaction) error

	// beneficiaries
	AddBeneficiary(ctx context.Context, b Beneficiary) error
	GetBeneficiary(ctx context.Context, id string) (Beneficiary, error)
	BeneficiariesByState(ctx context.Context, state BeneficiaryState) ([]Beneficiary, error)
	SetBeneficiaryState(ctx context.Context, id string, from, to BeneficiaryState) error

	// refunds
	AddRefund(ctx context.Context, r Refund) error
	GetRefund(ctx context.Context, id string) (Refund, error)
	SetRefundState(ctx context.Context, id string, from, to RefundState) error
}

// Errors returned
var (
	ErrNotFound          = errors.New("record was not found in store")
	ErrStateConflict     = errors.New("record is no longer in the expected state")
	ErrInvalidTransition = errors.New("state transition is not allowed")
	ErrInsufficientFunds = errors.New("account has insufficient funds")
)
