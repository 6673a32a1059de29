// Package postgres implements the store interface for PostgreSQL. Combined ledger and state mutations run in one
// sql.Tx; state transitions are compare-and-set updates guarded by the current state so duplicate queue deliveries
// resolve to ErrStateConflict instead of double-applying.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // load the postgres driver that is used by the system
	"github.com/shopspring/decimal"

	"github.com/tarancss/custody/lib/store"
)

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// EnsureSchema creates the tables if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)

	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	member_uid TEXT NOT NULL,
	currency   TEXT NOT NULL,
	balance    NUMERIC(32,16) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	locked     NUMERIC(32,16) NOT NULL DEFAULT 0 CHECK (locked >= 0),
	PRIMARY KEY (member_uid, currency)
);
CREATE TABLE IF NOT EXISTS deposits (
	id         TEXT PRIMARY KEY,
	member_uid TEXT NOT NULL,
	currency   TEXT NOT NULL,
	amount     NUMERIC(32,16) NOT NULL,
	fee        NUMERIC(32,16) NOT NULL DEFAULT 0,
	addresses  JSONB NOT NULL DEFAULT '[]',
	txid       TEXT NOT NULL DEFAULT '',
	spread     JSONB NOT NULL DEFAULT '[]',
	state      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS withdraws (
	id         TEXT PRIMARY KEY,
	member_uid TEXT NOT NULL,
	currency   TEXT NOT NULL,
	amount     NUMERIC(32,16) NOT NULL,
	fee        NUMERIC(32,16) NOT NULL DEFAULT 0,
	rid        TEXT NOT NULL,
	txid       TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS wallets (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	currency     TEXT NOT NULL,
	kind         TEXT NOT NULL,
	adapter      TEXT NOT NULL,
	address      TEXT NOT NULL DEFAULT '',
	uri          TEXT NOT NULL DEFAULT '',
	gateway_url  TEXT NOT NULL DEFAULT '',
	secret       TEXT NOT NULL DEFAULT '',
	wallet_index BIGINT NOT NULL DEFAULT 0,
	max_balance  NUMERIC(32,16) NOT NULL DEFAULT 0,
	active       BOOLEAN NOT NULL DEFAULT false
);
CREATE UNIQUE INDEX IF NOT EXISTS wallets_active_role ON wallets (currency, kind) WHERE active;
CREATE TABLE IF NOT EXISTS transactions (
	id           BIGSERIAL PRIMARY KEY,
	currency     TEXT NOT NULL,
	ref_kind     TEXT NOT NULL,
	ref_id       TEXT NOT NULL,
	hash         TEXT NOT NULL,
	from_address TEXT NOT NULL DEFAULT '',
	to_address   TEXT NOT NULL DEFAULT '',
	amount       NUMERIC(32,16) NOT NULL,
	status       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS beneficiaries (
	id         TEXT PRIMARY KEY,
	member_uid TEXT NOT NULL,
	currency   TEXT NOT NULL,
	address    TEXT NOT NULL,
	state      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS refunds (
	id         TEXT PRIMARY KEY,
	deposit_id TEXT NOT NULL,
	address    TEXT NOT NULL,
	state      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

func scanDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}

	return d
}

// GetAccount returns the ledger account or ErrNotFound when the member holds nothing in the currency yet.
func (p *Postgres) GetAccount(ctx context.Context, memberUID, currency string) (store.Account, error) {
	a := store.Account{MemberUID: memberUID, Currency: currency}

	var bal, locked string

	err := p.db.QueryRowContext(ctx,
		`SELECT balance::text, locked::text FROM accounts WHERE member_uid=$1 AND currency=$2`,
		memberUID, currency).Scan(&bal, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return a, store.ErrNotFound
	}

	if err != nil {
		return a, fmt.Errorf("could not read account: %w", err)
	}

	a.Balance, a.Locked = scanDec(bal), scanDec(locked)

	return a, nil
}

// PlusFunds credits the available balance, creating the account row on first use.
func (p *Postgres) PlusFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO accounts (member_uid, currency, balance, locked) VALUES ($1,$2,$3,0)
		 ON CONFLICT (member_uid, currency) DO UPDATE SET balance = accounts.balance + $3`,
		memberUID, currency, amount.String())
	if err != nil {
		return fmt.Errorf("could not credit account: %w", err)
	}

	return nil
}

// LockFunds moves amount from balance to locked; fails with ErrInsufficientFunds when balance is too low.
func (p *Postgres) LockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - $3, locked = locked + $3
		 WHERE member_uid=$1 AND currency=$2 AND balance >= $3`,
		memberUID, currency, amount.String())
	if err != nil {
		return fmt.Errorf("could not lock funds: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInsufficientFunds
	}

	return nil
}

// UnlockFunds moves amount from locked back to balance.
func (p *Postgres) UnlockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $3, locked = locked - $3
		 WHERE member_uid=$1 AND currency=$2 AND locked >= $3`,
		memberUID, currency, amount.String())
	if err != nil {
		return fmt.Errorf("could not unlock funds: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInsufficientFunds
	}

	return nil
}

// AddDeposit inserts a new deposit row.
func (p *Postgres) AddDeposit(ctx context.Context, d store.Deposit) error {
	addrs, err := json.Marshal(d.Addresses)
	if err != nil {
		return err
	}

	spread, err := json.Marshal(d.Spread)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO deposits (id, member_uid, currency, amount, fee, addresses, txid, spread, state)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.MemberUID, d.Currency, d.Amount.String(), d.Fee.String(), addrs, d.TxID, spread, d.State)
	if err != nil {
		return fmt.Errorf("could not insert deposit: %w", err)
	}

	return nil
}

func scanDeposit(row interface{ Scan(...interface{}) error }) (store.Deposit, error) {
	var (
		d             store.Deposit
		amount, fee   string
		addrs, spread []byte
	)

	err := row.Scan(&d.ID, &d.MemberUID, &d.Currency, &amount, &fee, &addrs, &d.TxID, &spread, &d.State,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, store.ErrNotFound
	}

	if err != nil {
		return d, fmt.Errorf("could not read deposit: %w", err)
	}

	d.Amount, d.Fee = scanDec(amount), scanDec(fee)

	if err = json.Unmarshal(addrs, &d.Addresses); err != nil {
		return d, err
	}

	if err = json.Unmarshal(spread, &d.Spread); err != nil {
		return d, err
	}

	return d, nil
}

const depositCols = `id, member_uid, currency, amount::text, fee::text, addresses, txid, spread, state,
	created_at, updated_at`

// GetDeposit returns the deposit or ErrNotFound.
func (p *Postgres) GetDeposit(ctx context.Context, id string) (store.Deposit, error) {
	return scanDeposit(p.db.QueryRowContext(ctx, `SELECT `+depositCols+` FROM deposits WHERE id=$1`, id))
}

// DepositsByState returns the deposits currently in the given state, oldest first.
func (p *Postgres) DepositsByState(ctx context.Context, state store.DepositState) ([]store.Deposit, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+depositCols+` FROM deposits WHERE state=$1 ORDER BY created_at`, state)
	if err != nil {
		return nil, fmt.Errorf("could not list deposits: %w", err)
	}
	defer rows.Close()

	var ds []store.Deposit

	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}

		ds = append(ds, d)
	}

	return ds, rows.Err()
}

// SetDepositState performs a compare-and-set state transition.
func (p *Postgres) SetDepositState(ctx context.Context, id string, from, to store.DepositState) error {
	if !from.Can(to) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE deposits SET state=$3, updated_at=now() WHERE id=$1 AND state=$2`, id, from, to)
	if err != nil {
		return fmt.Errorf("could not update deposit state: %w", err)
	}

	return p.casResult(ctx, res, `SELECT 1 FROM deposits WHERE id=$1`, id)
}

// UpdateDepositSpread replaces the spread and transitions the state in one write.
func (p *Postgres) UpdateDepositSpread(ctx context.Context, id string, spread []store.SpreadLeg,
	from, to store.DepositState) error {
	if from != to && !from.Can(to) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	doc, err := json.Marshal(spread)
	if err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE deposits SET spread=$3, state=$4, updated_at=now() WHERE id=$1 AND state=$2`, id, from, doc, to)
	if err != nil {
		return fmt.Errorf("could not update deposit spread: %w", err)
	}

	return p.casResult(ctx, res, `SELECT 1 FROM deposits WHERE id=$1`, id)
}

// ConfirmDepositCollected persists the fully hashed spread, moves the deposit to collected and credits the ledger
// account with amount minus fee in one transaction.
func (p *Postgres) ConfirmDepositCollected(ctx context.Context, d store.Deposit, spread []store.SpreadLeg) error {
	doc, err := json.Marshal(spread)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE deposits SET spread=$2, state=$3, updated_at=now()
		 WHERE id=$1 AND state IN ($4, $5)`,
		d.ID, doc, store.DepositCollected, store.DepositProcessing, store.DepositCollecting)
	if err != nil {
		return fmt.Errorf("could not collect deposit: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrStateConflict
	}

	credit := d.Amount.Sub(d.Fee)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (member_uid, currency, balance, locked) VALUES ($1,$2,$3,0)
		 ON CONFLICT (member_uid, currency) DO UPDATE SET balance = accounts.balance + $3`,
		d.MemberUID, d.Currency, credit.String()); err != nil {
		return fmt.Errorf("could not credit account: %w", err)
	}

	return tx.Commit()
}

// AddWithdraw inserts a new withdrawal row.
func (p *Postgres) AddWithdraw(ctx context.Context, w store.Withdraw) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO withdraws (id, member_uid, currency, amount, fee, rid, txid, state)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.MemberUID, w.Currency, w.Amount.String(), w.Fee.String(), w.RID, w.TxID, w.State)
	if err != nil {
		return fmt.Errorf("could not insert withdraw: %w", err)
	}

	return nil
}

// GetWithdraw returns the withdrawal or ErrNotFound.
func (p *Postgres) GetWithdraw(ctx context.Context, id string) (store.Withdraw, error) {
	var (
		w           store.Withdraw
		amount, fee string
	)

	err := p.db.QueryRowContext(ctx,
		`SELECT id, member_uid, currency, amount::text, fee::text, rid, txid, state, created_at, updated_at
		 FROM withdraws WHERE id=$1`, id).
		Scan(&w.ID, &w.MemberUID, &w.Currency, &amount, &fee, &w.RID, &w.TxID, &w.State, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, store.ErrNotFound
	}

	if err != nil {
		return w, fmt.Errorf("could not read withdraw: %w", err)
	}

	w.Amount, w.Fee = scanDec(amount), scanDec(fee)

	return w, nil
}

// SetWithdrawState performs a compare-and-set state transition.
func (p *Postgres) SetWithdrawState(ctx context.Context, id string, from, to store.WithdrawState) error {
	if !from.Can(to) {
		return fmt.Errorf("withdraw %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE withdraws SET state=$3, updated_at=now() WHERE id=$1 AND state=$2`, id, from, to)
	if err != nil {
		return fmt.Errorf("could not update withdraw state: %w", err)
	}

	return p.casResult(ctx, res, `SELECT 1 FROM withdraws WHERE id=$1`, id)
}

// ConfirmWithdrawDispatch records the broadcast hash and moves processing -> confirming in one write.
func (p *Postgres) ConfirmWithdrawDispatch(ctx context.Context, id, txid string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE withdraws SET state=$3, txid=$2, updated_at=now() WHERE id=$1 AND state=$4`,
		id, txid, store.WithdrawConfirming, store.WithdrawProcessing)
	if err != nil {
		return fmt.Errorf("could not confirm withdraw dispatch: %w", err)
	}

	return p.casResult(ctx, res, `SELECT 1 FROM withdraws WHERE id=$1`, id)
}

// SucceedWithdraw moves confirming -> succeed and debits the locked funds in one transaction.
func (p *Postgres) SucceedWithdraw(ctx context.Context, id string) error {
	return p.settleWithdraw(ctx, id, store.WithdrawSucceed)
}

// FailWithdraw moves the withdrawal to failed and releases the locked funds in one transaction.
func (p *Postgres) FailWithdraw(ctx context.Context, id string) error {
	return p.settleWithdraw(ctx, id, store.WithdrawFailed)
}

func (p *Postgres) settleWithdraw(ctx context.Context, id string, to store.WithdrawState) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		memberUID, currency, amount, fee string
		state                            store.WithdrawState
	)

	err = tx.QueryRowContext(ctx,
		`SELECT member_uid, currency, amount::text, fee::text, state FROM withdraws WHERE id=$1 FOR UPDATE`, id).
		Scan(&memberUID, &currency, &amount, &fee, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	if err != nil {
		return fmt.Errorf("could not read withdraw: %w", err)
	}

	if !state.Can(to) {
		return fmt.Errorf("withdraw %s: %s -> %s: %w", id, state, to, store.ErrInvalidTransition)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE withdraws SET state=$2, updated_at=now() WHERE id=$1`, id, to); err != nil {
		return fmt.Errorf("could not update withdraw state: %w", err)
	}

	sum := scanDec(amount).Add(scanDec(fee))

	var res sql.Result

	if to == store.WithdrawSucceed {
		// funds leave the exchange: burn the locked reservation
		res, err = tx.ExecContext(ctx,
			`UPDATE accounts SET locked = locked - $3 WHERE member_uid=$1 AND currency=$2 AND locked >= $3`,
			memberUID, currency, sum.String())
	} else {
		// broadcast never happened or failed on chain: give the reservation back
		res, err = tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + $3, locked = locked - $3
			 WHERE member_uid=$1 AND currency=$2 AND locked >= $3`,
			memberUID, currency, sum.String())
	}

	if err != nil {
		return fmt.Errorf("could not settle account: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInsufficientFunds
	}

	return tx.Commit()
}

// AddWallet inserts a custody wallet row.
func (p *Postgres) AddWallet(ctx context.Context, w store.Wallet) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO wallets (id, name, currency, kind, adapter, address, uri, gateway_url, secret, wallet_index,
		 max_balance, active) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		w.ID, w.Name, w.Currency, w.Kind, w.Adapter, w.Address, w.URI, w.GatewayURL, w.Secret, w.WalletIndex,
		w.MaxBalance.String(), w.Active)
	if err != nil {
		return fmt.Errorf("could not insert wallet: %w", err)
	}

	return nil
}

// ActiveWallet returns the single active wallet for the currency and kind, or ErrNotFound.
func (p *Postgres) ActiveWallet(ctx context.Context, currency string, kind store.WalletKind) (store.Wallet, error) {
	var (
		w          store.Wallet
		maxBalance string
	)

	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, currency, kind, adapter, address, uri, gateway_url, secret, wallet_index,
		 max_balance::text, active FROM wallets WHERE currency=$1 AND kind=$2 AND active`, currency, kind).
		Scan(&w.ID, &w.Name, &w.Currency, &w.Kind, &w.Adapter, &w.Address, &w.URI, &w.GatewayURL, &w.Secret,
			&w.WalletIndex, &maxBalance, &w.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return w, store.ErrNotFound
	}

	if err != nil {
		return w, fmt.Errorf("could not read wallet: %w", err)
	}

	w.MaxBalance = scanDec(maxBalance)

	return w, nil
}

// AddTransaction appends a broadcast/observation record. Rows are never updated.
func (p *Postgres) AddTransaction(ctx context.Context, t store.Transaction) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transactions (currency, ref_kind, ref_id, hash, from_address, to_address, amount, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.Currency, t.RefKind, t.RefID, t.Hash, t.FromAddress, t.ToAddress, t.Amount.String(), t.Status)
	if err != nil {
		return fmt.Errorf("could not insert transaction: %w", err)
	}

	return nil
}

// AddBeneficiary inserts a beneficiary row.
func (p *Postgres) AddBeneficiary(ctx context.Context, b store.Beneficiary) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO beneficiaries (id, member_uid, currency, address, state) VALUES ($1,$2,$3,$4,$5)`,
		b.ID, b.MemberUID, b.Currency, b.Address, b.State)
	if err != nil {
		return fmt.Errorf("could not insert beneficiary: %w", err)
	}

	return nil
}

// GetBeneficiary returns the beneficiary or ErrNotFound.
func (p *Postgres) GetBeneficiary(ctx context.Context, id string) (store.Beneficiary, error) {
	var b store.Beneficiary

	err := p.db.QueryRowContext(ctx,
		`SELECT id, member_uid, currency, address, state FROM beneficiaries WHERE id=$1`, id).
		Scan(&b.ID, &b.MemberUID, &b.Currency, &b.Address, &b.State)
	if errors.Is(err, sql.ErrNoRows) {
		return b, store.ErrNotFound
	}

	if err != nil {
		return b, fmt.Errorf("could not read beneficiary: %w", err)
	}

	return b, nil
}

// BeneficiariesByState returns the beneficiaries currently in the given state.
func (p *Postgres) BeneficiariesByState(ctx context.Context,
	state store.BeneficiaryState) ([]store.Beneficiary, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, member_uid, currency, address, state FROM beneficiaries WHERE state=$1`, state)
	if err != nil {
		return nil, fmt.Errorf("could not list beneficiaries: %w", err)
	}
	defer rows.Close()

	var bs []store.Beneficiary

	for rows.Next() {
		var b store.Beneficiary
		if err = rows.Scan(&b.ID, &b.MemberUID, &b.Currency, &b.Address, &b.State); err != nil {
			return nil, err
		}

		bs = append(bs, b)
	}

	return bs, rows.Err()
}

// SetBeneficiaryState performs a compare-and-set state transition.
func (p *Postgres) SetBeneficiaryState(ctx context.Context, id string, from, to store.BeneficiaryState) error {
	if !from.Can(to) {
		return fmt.Errorf("beneficiary %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE beneficiaries SET state=$3 WHERE id=$1 AND state=$2`, id, from, to)
	if err != nil {
		return fmt.Errorf("could not update beneficiary state: %w", err)
	}

	return p.casResult(ctx, res, `SELECT 1 FROM beneficiaries WHERE id=$1`, id)
}

// AddRefund inserts a refund row.
func (p *Postgres) AddRefund(ctx context.Context, r store.Refund) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO refunds (id, deposit_id, address, state) VALUES ($1,$2,$3,$4)`,
		r.ID, r.DepositID, r.Address, r.State)
	if err != nil {
		return fmt.Errorf("could not insert refund: %w", err)
	}

	return nil
}

// GetRefund returns the refund or ErrNotFound.
func (p *Postgres) GetRefund(ctx context.Context, id string) (store.Refund, error) {
	var r store.Refund

	err := p.db.QueryRowContext(ctx,
		`SELECT id, deposit_id, address, state, created_at FROM refunds WHERE id=$1`, id).
		Scan(&r.ID, &r.DepositID, &r.Address, &r.State, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrNotFound
	}

	if err != nil {
		return r, fmt.Errorf("could not read refund: %w", err)
	}

	return r, nil
}

// SetRefundState performs a compare-and-set state transition.
func (p *Postgres) SetRefundState(ctx context.Context, id string, from, to store.RefundState) error {
	if !from.Can(to) {
		return fmt.Errorf("refund %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE refunds SET state=$3 WHERE id=$1 AND state=$2`, id, from, to)
	if err != nil {
		return fmt.Errorf("could not update refund state: %w", err)
	}

	return p.casResult(ctx, res, `SELECT 1 FROM refunds WHERE id=$1`, id)
}

// casResult distinguishes a missing row from a row no longer in the expected state after a guarded UPDATE matched
// nothing.
func (p *Postgres) casResult(ctx context.Context, res sql.Result, existsQuery string, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n > 0 {
		return nil
	}

	var one int
	if err = p.db.QueryRowContext(ctx, existsQuery, id).Scan(&one); errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	return store.ErrStateConflict
}
