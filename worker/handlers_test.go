package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/custody/lib/msg"
	"github.com/tarancss/custody/lib/store"
)

// newTestRouter wires the management API routes without starting the blocking server loop.
func newTestRouter(w *Worker) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", w.homeHandler)
	r.HandleFunc("/health", w.healthHandler).Methods("GET")
	r.HandleFunc("/deposits/{id}", w.depositHandler).Methods("GET")
	r.HandleFunc("/withdraws/{id}", w.withdrawHandler).Methods("GET")
	r.HandleFunc("/withdraws/{id}/retry", w.retryWithdrawHandler).Methods("POST")
	r.HandleFunc("/refunds", w.refundHandler).Methods("POST")

	return r
}

func doReq(t *testing.T, r *mux.Router, method, uri string, body interface{}) (int, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, uri, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var res Response
	_ = json.NewDecoder(rec.Body).Decode(&res)

	return rec.Code, res
}

func TestDepositAndWithdrawLookup(t *testing.T) {
	db := newFakeDB()
	seedDeposit(db, store.DepositProcessing)
	seedWithdraw(db, store.WithdrawConfirming)
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, &fakeWalletAdapter{})
	r := newTestRouter(w)

	code, res := doReq(t, r, http.MethodGet, "/deposits/d1", nil)
	require.Equal(t, http.StatusOK, code)

	var dep store.Deposit
	require.NoError(t, json.Unmarshal([]byte(res.Body), &dep))
	assert.Equal(t, "d1", dep.ID)
	assert.Equal(t, store.DepositProcessing, dep.State)

	code, res = doReq(t, r, http.MethodGet, "/withdraws/wd1", nil)
	require.Equal(t, http.StatusOK, code)

	var wd store.Withdraw
	require.NoError(t, json.Unmarshal([]byte(res.Body), &wd))
	assert.Equal(t, store.WithdrawConfirming, wd.State)

	code, res = doReq(t, r, http.MethodGet, "/deposits/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, res.Error)
}

func TestRetryWithdraw(t *testing.T) {
	db := newFakeDB()
	seedWithdraw(db, store.WithdrawSkipped)
	mb := newFakeBroker()
	w := newTestWorker(db, mb, &fakeScreener{}, &fakeWalletAdapter{})
	r := newTestRouter(w)

	code, _ := doReq(t, r, http.MethodPost, "/withdraws/wd1/retry", nil)
	require.Equal(t, http.StatusOK, code)

	wd, _ := db.GetWithdraw(context.Background(), "wd1")
	assert.Equal(t, store.WithdrawProcessing, wd.State)
	require.Len(t, mb.published[msg.WithdrawCoin], 1)
	assert.Equal(t, "wd1", mb.published[msg.WithdrawCoin][0].ID)
}

func TestRetryWithdrawNotRetryable(t *testing.T) {
	for _, state := range []store.WithdrawState{
		store.WithdrawProcessing, store.WithdrawConfirming, store.WithdrawSucceed, store.WithdrawCanceled,
	} {
		db := newFakeDB()
		seedWithdraw(db, state)
		mb := newFakeBroker()
		w := newTestWorker(db, mb, &fakeScreener{}, &fakeWalletAdapter{})
		r := newTestRouter(w)

		code, res := doReq(t, r, http.MethodPost, "/withdraws/wd1/retry", nil)
		assert.Equal(t, http.StatusBadRequest, code, "state %s must not be retryable", state)
		assert.NotEmpty(t, res.Error)
		assert.Empty(t, mb.published[msg.WithdrawCoin])
	}
}

func TestRefund(t *testing.T) {
	db := newFakeDB()
	seedDeposit(db, store.DepositSuspicious)
	seedCustodyWallets(db)
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, &fakeWalletAdapter{})
	r := newTestRouter(w)

	code, res := doReq(t, r, http.MethodPost, "/refunds", refundReq{DepositID: "d1", Address: "0xsender"})
	require.Equal(t, http.StatusOK, code, "error: %s", res.Error)

	var rf store.Refund
	require.NoError(t, json.Unmarshal([]byte(res.Body), &rf))
	assert.Equal(t, store.RefundProcessed, rf.State)
	assert.Equal(t, "d1", rf.DepositID)

	got, err := db.GetRefund(context.Background(), "rf-d1")
	require.NoError(t, err)
	assert.Equal(t, store.RefundProcessed, got.State)

	require.Len(t, db.transactions, 1)
	assert.Equal(t, store.RefRefund, db.transactions[0].RefKind)
	assert.Equal(t, "0xsender", db.transactions[0].ToAddress)
	assert.True(t, db.transactions[0].Amount.Equal(decimal.RequireFromString("1.0")),
		"the full deposited amount goes back")
}

func TestRefundBadRequest(t *testing.T) {
	db := newFakeDB()
	w := newTestWorker(db, newFakeBroker(), &fakeScreener{}, &fakeWalletAdapter{})
	r := newTestRouter(w)

	code, _ := doReq(t, r, http.MethodPost, "/refunds", refundReq{DepositID: "", Address: "0xsender"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doReq(t, r, http.MethodPost, "/refunds", refundReq{DepositID: "nope", Address: "0xsender"})
	assert.Equal(t, http.StatusNotFound, code)
}
