package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/custody/lib/aml"
	"github.com/tarancss/custody/lib/store"
)

func seedDeposit(db *fakeDB, state store.DepositState) store.Deposit {
	dep := store.Deposit{
		ID:        "d1",
		MemberUID: "U1",
		Currency:  "eth",
		Amount:    decimal.RequireFromString("1.0"),
		Fee:       decimal.RequireFromString("0.1"),
		Addresses: []string{"0xsrc1", "0xsrc2"},
		TxID:      "0xfunding",
		State:     state,
	}
	_ = db.AddDeposit(context.Background(), dep)

	return dep
}

func seedCustodyWallets(db *fakeDB) {
	_ = db.AddWallet(context.Background(), store.Wallet{
		ID: "hot1", Currency: "eth", Kind: store.WalletHot, Adapter: "fake", Address: "0xhot", Active: true,
	})
	_ = db.AddWallet(context.Background(), store.Wallet{
		ID: "dep1", Currency: "eth", Kind: store.WalletDeposit, Adapter: "fake", Address: "0xdep", Active: true,
	})
}

func TestProcessDepositUnknownID(t *testing.T) {
	db := newFakeDB()
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, &fakeWalletAdapter{})

	require.NoError(t, w.processDeposit(context.Background(), "nope"))
}

func TestProcessDepositWrongState(t *testing.T) {
	for _, state := range []store.DepositState{
		store.DepositPendingAML, store.DepositSkipAML, store.DepositSuspicious,
		store.DepositCollected, store.DepositFailed,
	} {
		db := newFakeDB()
		seedDeposit(db, state)
		seedCustodyWallets(db)
		ad := &fakeWalletAdapter{}
		w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, ad)

		require.NoError(t, w.processDeposit(context.Background(), "d1"))

		dep, _ := db.GetDeposit(context.Background(), "d1")
		assert.Equal(t, state, dep.State, "a redelivered message must not move state %s", state)
		assert.Zero(t, ad.broadcasts)
	}
}

func TestProcessDepositFullCollection(t *testing.T) {
	db := newFakeDB()
	seedDeposit(db, store.DepositProcessing)
	seedCustodyWallets(db)
	ad := &fakeWalletAdapter{}
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, ad)

	require.NoError(t, w.processDeposit(context.Background(), "d1"))

	dep, _ := db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositCollected, dep.State)
	require.Len(t, dep.Spread, 1)
	assert.Equal(t, "0xhot", dep.Spread[0].ToAddress)
	assert.Equal(t, "hash-1", dep.Spread[0].Hash)

	// the member is credited amount minus fee, atomically with the state change
	acct, err := db.GetAccount(context.Background(), "U1", "eth")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("0.9")), "got %s", acct.Balance)

	require.Len(t, db.transactions, 1)
	assert.Equal(t, store.RefDeposit, db.transactions[0].RefKind)

	// a redelivery after collection is a no-op
	require.NoError(t, w.processDeposit(context.Background(), "d1"))
	acct, _ = db.GetAccount(context.Background(), "U1", "eth")
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("0.9")), "credit must not double-apply")
}

func TestProcessDepositBelowMinCollection(t *testing.T) {
	db := newFakeDB()
	dep := seedDeposit(db, store.DepositProcessing)
	dep.Amount = decimal.RequireFromString("0.005")
	dep.Fee = decimal.Zero
	db.deposits["d1"].Amount = dep.Amount
	db.deposits["d1"].Fee = dep.Fee
	seedCustodyWallets(db)
	ad := &fakeWalletAdapter{}
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, ad)

	require.NoError(t, w.processDeposit(context.Background(), "d1"))

	got, _ := db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositProcessing, got.State)
	assert.Empty(t, got.Spread)
	assert.Zero(t, ad.broadcasts)
}

func TestProcessDepositNoHotWallet(t *testing.T) {
	db := newFakeDB()
	seedDeposit(db, store.DepositProcessing)
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, &fakeWalletAdapter{})

	require.NoError(t, w.processDeposit(context.Background(), "d1"))

	dep, _ := db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositProcessing, dep.State, "no wallet leaves the deposit for a later pass")
}

func TestProcessDepositPartialCollection(t *testing.T) {
	db := newFakeDB()
	seedDeposit(db, store.DepositCollecting)
	seedCustodyWallets(db)
	db.deposits["d1"].Spread = []store.SpreadLeg{
		{ToAddress: "0xhot", Amount: decimal.RequireFromString("0.5"), Status: "pending"},
		{ToAddress: "0xwarm", Amount: decimal.RequireFromString("0.4"), Status: "pending"},
	}

	// first pass broadcasts one leg then the backend dies
	ad := &fakeWalletAdapter{txErr: errors.New("backend down"), failAfter: 1}
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, ad)

	require.NoError(t, w.processDeposit(context.Background(), "d1"))

	dep, _ := db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositCollecting, dep.State, "partly collected stays collecting")
	require.Len(t, dep.Spread, 2)
	assert.Equal(t, "hash-1", dep.Spread[0].Hash)
	assert.Empty(t, dep.Spread[1].Hash)
	_, err := db.GetAccount(context.Background(), "U1", "eth")
	assert.True(t, errors.Is(err, store.ErrNotFound), "no credit until fully collected")

	// second pass with a healthy backend finishes only the missing leg
	ad.txErr = nil
	require.NoError(t, w.processDeposit(context.Background(), "d1"))

	dep, _ = db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositCollected, dep.State)
	assert.Equal(t, "hash-1", dep.Spread[0].Hash, "already hashed leg is untouched")
	assert.Equal(t, "hash-2", dep.Spread[1].Hash)
	assert.Equal(t, 2, ad.broadcasts)

	acct, _ := db.GetAccount(context.Background(), "U1", "eth")
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("0.9")))
}

func TestProcessDepositAllLegsAlreadyHashed(t *testing.T) {
	db := newFakeDB()
	seedDeposit(db, store.DepositCollecting)
	seedCustodyWallets(db)
	db.deposits["d1"].Spread = []store.SpreadLeg{
		{ToAddress: "0xhot", Amount: decimal.RequireFromString("0.9"), Status: "succeed", Hash: "0xdone"},
	}
	ad := &fakeWalletAdapter{}
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, ad)

	require.NoError(t, w.processDeposit(context.Background(), "d1"))

	dep, _ := db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositCollected, dep.State, "nothing left to broadcast still finishes the deposit")
	assert.Zero(t, ad.broadcasts)

	acct, _ := db.GetAccount(context.Background(), "U1", "eth")
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("0.9")))
}

func TestAMLCheckDepositRiskHaltsImmediately(t *testing.T) {
	db := newFakeDB()
	dep := seedDeposit(db, store.DepositPendingAML)
	scr := &fakeScreener{results: map[string]aml.Result{
		"0xsrc1": {RiskDetected: true},
		"0xsrc2": {},
	}}
	w := newTestWorker(db, newFakeBroker(), scr, &fakeWalletAdapter{})

	clear, err := w.amlCheckDeposit(context.Background(), dep)
	require.NoError(t, err)
	assert.False(t, clear)
	assert.Equal(t, []string{"0xsrc1"}, scr.checked, "screening stops at the first dirty address")

	got, _ := db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositSuspicious, got.State)
}

func TestAMLCheckDepositPendingLeavesState(t *testing.T) {
	db := newFakeDB()
	dep := seedDeposit(db, store.DepositPendingAML)
	scr := &fakeScreener{results: map[string]aml.Result{
		"0xsrc1": {Pending: true},
	}}
	w := newTestWorker(db, newFakeBroker(), scr, &fakeWalletAdapter{})

	clear, err := w.amlCheckDeposit(context.Background(), dep)
	require.NoError(t, err)
	assert.False(t, clear)

	got, _ := db.GetDeposit(context.Background(), "d1")
	assert.Equal(t, store.DepositPendingAML, got.State, "pending answers never move state")
}

func TestAMLCheckDepositAllClear(t *testing.T) {
	db := newFakeDB()
	dep := seedDeposit(db, store.DepositPendingAML)
	scr := &fakeScreener{}
	w := newTestWorker(db, newFakeBroker(), scr, &fakeWalletAdapter{})

	clear, err := w.amlCheckDeposit(context.Background(), dep)
	require.NoError(t, err)
	assert.True(t, clear)
	assert.Equal(t, []string{"0xsrc1", "0xsrc2"}, scr.checked, "every source address is screened")
}
