package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tarancss/custody/lib/aml"
	"github.com/tarancss/custody/lib/config"
	"github.com/tarancss/custody/lib/msg"
	"github.com/tarancss/custody/lib/store"
	"github.com/tarancss/custody/lib/wallet"
)

// fakeDB is an in-memory store.DB with the same compare-and-set semantics as the real backends.
type fakeDB struct {
	mu            sync.Mutex
	accounts      map[string]*store.Account
	deposits      map[string]*store.Deposit
	withdraws     map[string]*store.Withdraw
	wallets       []store.Wallet
	transactions  []store.Transaction
	beneficiaries map[string]*store.Beneficiary
	refunds       map[string]*store.Refund
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		accounts:      map[string]*store.Account{},
		deposits:      map[string]*store.Deposit{},
		withdraws:     map[string]*store.Withdraw{},
		beneficiaries: map[string]*store.Beneficiary{},
		refunds:       map[string]*store.Refund{},
	}
}

func acctKey(memberUID, currency string) string { return memberUID + "/" + currency }

func (f *fakeDB) GetAccount(ctx context.Context, memberUID, currency string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[acctKey(memberUID, currency)]
	if !ok {
		return store.Account{MemberUID: memberUID, Currency: currency}, store.ErrNotFound
	}

	return *a, nil
}

func (f *fakeDB) plusFunds(memberUID, currency string, amount decimal.Decimal) {
	k := acctKey(memberUID, currency)
	a, ok := f.accounts[k]
	if !ok {
		a = &store.Account{MemberUID: memberUID, Currency: currency}
		f.accounts[k] = a
	}
	a.Balance = a.Balance.Add(amount)
}

func (f *fakeDB) PlusFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plusFunds(memberUID, currency, amount)

	return nil
}

func (f *fakeDB) LockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[acctKey(memberUID, currency)]
	if !ok || a.Balance.LessThan(amount) {
		return store.ErrInsufficientFunds
	}
	a.Balance, a.Locked = a.Balance.Sub(amount), a.Locked.Add(amount)

	return nil
}

func (f *fakeDB) UnlockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[acctKey(memberUID, currency)]
	if !ok || a.Locked.LessThan(amount) {
		return store.ErrInsufficientFunds
	}
	a.Balance, a.Locked = a.Balance.Add(amount), a.Locked.Sub(amount)

	return nil
}

func (f *fakeDB) AddDeposit(ctx context.Context, d store.Deposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := d
	f.deposits[d.ID] = &cp

	return nil
}

func (f *fakeDB) GetDeposit(ctx context.Context, id string) (store.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.deposits[id]
	if !ok {
		return store.Deposit{}, store.ErrNotFound
	}

	return *d, nil
}

func (f *fakeDB) DepositsByState(ctx context.Context, state store.DepositState) ([]store.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ds []store.Deposit
	for _, d := range f.deposits {
		if d.State == state {
			ds = append(ds, *d)
		}
	}

	return ds, nil
}

func (f *fakeDB) SetDepositState(ctx context.Context, id string, from, to store.DepositState) error {
	if !from.Can(to) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.deposits[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.State != from {
		return store.ErrStateConflict
	}
	d.State = to

	return nil
}

func (f *fakeDB) UpdateDepositSpread(ctx context.Context, id string, spread []store.SpreadLeg,
	from, to store.DepositState) error {
	if from != to && !from.Can(to) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.deposits[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.State != from {
		return store.ErrStateConflict
	}
	d.Spread = append([]store.SpreadLeg(nil), spread...)
	d.State = to

	return nil
}

func (f *fakeDB) ConfirmDepositCollected(ctx context.Context, d store.Deposit,
	spread []store.SpreadLeg) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.deposits[d.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.State != store.DepositProcessing && cur.State != store.DepositCollecting {
		return store.ErrStateConflict
	}
	cur.Spread = append([]store.SpreadLeg(nil), spread...)
	cur.State = store.DepositCollected
	f.plusFunds(d.MemberUID, d.Currency, d.Amount.Sub(d.Fee))

	return nil
}

func (f *fakeDB) AddWithdraw(ctx context.Context, w store.Withdraw) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := w
	f.withdraws[w.ID] = &cp

	return nil
}

func (f *fakeDB) GetWithdraw(ctx context.Context, id string) (store.Withdraw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdraws[id]
	if !ok {
		return store.Withdraw{}, store.ErrNotFound
	}

	return *w, nil
}

func (f *fakeDB) SetWithdrawState(ctx context.Context, id string, from, to store.WithdrawState) error {
	if !from.Can(to) {
		return fmt.Errorf("withdraw %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdraws[id]
	if !ok {
		return store.ErrNotFound
	}
	if w.State != from {
		return store.ErrStateConflict
	}
	w.State = to

	return nil
}

func (f *fakeDB) ConfirmWithdrawDispatch(ctx context.Context, id, txid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdraws[id]
	if !ok {
		return store.ErrNotFound
	}
	if w.State != store.WithdrawProcessing {
		return store.ErrStateConflict
	}
	w.State, w.TxID = store.WithdrawConfirming, txid

	return nil
}

func (f *fakeDB) SucceedWithdraw(ctx context.Context, id string) error {
	return f.settleWithdraw(id, store.WithdrawSucceed)
}

func (f *fakeDB) FailWithdraw(ctx context.Context, id string) error {
	return f.settleWithdraw(id, store.WithdrawFailed)
}

func (f *fakeDB) settleWithdraw(id string, to store.WithdrawState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdraws[id]
	if !ok {
		return store.ErrNotFound
	}
	if !w.State.Can(to) {
		return fmt.Errorf("withdraw %s: %s -> %s: %w", id, w.State, to, store.ErrInvalidTransition)
	}

	a, ok := f.accounts[acctKey(w.MemberUID, w.Currency)]
	if !ok || a.Locked.LessThan(w.Sum()) {
		return store.ErrInsufficientFunds
	}

	a.Locked = a.Locked.Sub(w.Sum())
	if to == store.WithdrawFailed {
		a.Balance = a.Balance.Add(w.Sum())
	}
	w.State = to

	return nil
}

func (f *fakeDB) AddWallet(ctx context.Context, w store.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets = append(f.wallets, w)

	return nil
}

func (f *fakeDB) ActiveWallet(ctx context.Context, currency string, kind store.WalletKind) (store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range f.wallets {
		if w.Currency == currency && w.Kind == kind && w.Active {
			return w, nil
		}
	}

	return store.Wallet{}, store.ErrNotFound
}

func (f *fakeDB) AddTransaction(ctx context.Context, t store.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions = append(f.transactions, t)

	return nil
}

func (f *fakeDB) AddBeneficiary(ctx context.Context, b store.Beneficiary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := b
	f.beneficiaries[b.ID] = &cp

	return nil
}

func (f *fakeDB) GetBeneficiary(ctx context.Context, id string) (store.Beneficiary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.beneficiaries[id]
	if !ok {
		return store.Beneficiary{}, store.ErrNotFound
	}

	return *b, nil
}

func (f *fakeDB) BeneficiariesByState(ctx context.Context,
	state store.BeneficiaryState) ([]store.Beneficiary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var bs []store.Beneficiary
	for _, b := range f.beneficiaries {
		if b.State == state {
			bs = append(bs, *b)
		}
	}

	return bs, nil
}

func (f *fakeDB) SetBeneficiaryState(ctx context.Context, id string, from, to store.BeneficiaryState) error {
	if !from.Can(to) {
		return fmt.Errorf("beneficiary %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.beneficiaries[id]
	if !ok {
		return store.ErrNotFound
	}
	if b.State != from {
		return store.ErrStateConflict
	}
	b.State = to

	return nil
}

func (f *fakeDB) AddRefund(ctx context.Context, r store.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := r
	f.refunds[r.ID] = &cp

	return nil
}

func (f *fakeDB) GetRefund(ctx context.Context, id string) (store.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.refunds[id]
	if !ok {
		return store.Refund{}, store.ErrNotFound
	}

	return *r, nil
}

func (f *fakeDB) SetRefundState(ctx context.Context, id string, from, to store.RefundState) error {
	if !from.Can(to) {
		return fmt.Errorf("refund %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.refunds[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.State != from {
		return store.ErrStateConflict
	}
	r.State = to

	return nil
}

// fakeBroker records published jobs.
type fakeBroker struct {
	mu        sync.Mutex
	published map[string][]msg.Job
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: map[string][]msg.Job{}}
}

func (f *fakeBroker) Setup(interface{}) error { return nil }
func (f *fakeBroker) Close() error            { return nil }

func (f *fakeBroker) Publish(queue string, j msg.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[queue] = append(f.published[queue], j)

	return nil
}

func (f *fakeBroker) GetJobs(queue string, mut *sync.Mutex) (<-chan msg.Job, <-chan error, error) {
	return make(chan msg.Job), make(chan error), nil
}

// fakeWalletAdapter is a scriptable backend for the dispatch paths.
type fakeWalletAdapter struct {
	balance    decimal.Decimal
	balanceErr error
	txErr      error
	failAfter  int // broadcast this many legs before txErr applies; -1 disables
	hashes     []string
	broadcasts int
}

func (f *fakeWalletAdapter) Configure(s wallet.Settings) error { return nil }

func (f *fakeWalletAdapter) CreateAddress(ctx context.Context,
	opts wallet.AddressOpts) (wallet.Address, error) {
	return wallet.Address{Address: "0xnew"}, nil
}

func (f *fakeWalletAdapter) CreateTransaction(ctx context.Context,
	tx wallet.Transaction) (wallet.Transaction, error) {
	if f.txErr != nil && (f.failAfter < 0 || f.broadcasts >= f.failAfter) {
		return tx, f.txErr
	}

	hash := fmt.Sprintf("hash-%d", f.broadcasts+1)
	if f.broadcasts < len(f.hashes) {
		hash = f.hashes[f.broadcasts]
	}
	f.broadcasts++
	tx.Hash = hash

	return tx, nil
}

func (f *fakeWalletAdapter) LoadBalance(ctx context.Context) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}

	return f.balance, nil
}

func (f *fakeWalletAdapter) CollectDeposit(ctx context.Context, dep store.Deposit,
	spread []store.SpreadLeg) ([]wallet.Transaction, error) {
	txs := make([]wallet.Transaction, 0, len(spread))
	for _, leg := range spread {
		if leg.Hash != "" {
			continue
		}

		tx, err := f.CreateTransaction(ctx, wallet.Transaction{
			Currency: dep.Currency, ToAddress: leg.ToAddress, Amount: leg.Amount,
		})
		if err != nil {
			return txs, err
		}

		txs = append(txs, tx)
	}

	return txs, nil
}

func (f *fakeWalletAdapter) BuildWithdrawal(ctx context.Context,
	wd store.Withdraw) (wallet.Transaction, error) {
	return f.CreateTransaction(ctx, wallet.Transaction{
		Currency: wd.Currency, ToAddress: wd.RID, Amount: wd.Amount,
	})
}

// fakeScreener answers per address.
type fakeScreener struct {
	results map[string]aml.Result
	err     error
	checked []string
}

func (f *fakeScreener) Check(ctx context.Context, address, currencyID, memberUID string) (aml.Result, error) {
	f.checked = append(f.checked, address)
	if f.err != nil {
		return aml.Result{}, f.err
	}

	return f.results[address], nil
}

// newTestWorker wires a worker over the fakes with one configured currency.
func newTestWorker(db *fakeDB, mb msg.MsgBroker, scr aml.Screener, ad wallet.Adapter) *Worker {
	reg := wallet.NewRegistry()
	reg.Register("fake", func() wallet.Adapter { return ad })

	conf := config.ServiceConfig{
		DBType: "mongodb",
		Currencies: []config.CurrencyConfig{
			{ID: "eth", BaseFactor: 1000000000000000000, MinCollection: "0.01"},
		},
		Seed: "cafe",
	}

	return New(conf, db, mb, scr, reg)
}
