package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/lib/msg"
	"github.com/tarancss/custody/lib/store"
)

// Errors returned to client requests.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNoID         = errors.New("undefined record id - missing in uri")
	ErrNotRetryable = errors.New("withdrawal is not in a retryable state")
	ErrNotRefunded  = errors.New("refund could not be dispatched")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// homeHandler just replies a welcome message to the client.
func (w *Worker) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	res.Body = "Hello, this is your fund-movement worker!"
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// healthHandler replies a liveness confirmation.
func (w *Worker) healthHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	res.Body = "ok"
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// depositHandler replies the requested deposit record.
func (w *Worker) depositHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var dep store.Deposit

	defer func() {
		// reply to requester accordingly
		if errors.Is(err, store.ErrNotFound) {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusNotFound)
		} else if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(dep)
			res.Body = string(tmp)
		}
		// log request and deposit
		log.Printf("httpreq from %v %s deposit:%+v err:%e\n", r.RemoteAddr, r.RequestURI, dep, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)
	id, ok := v["id"]
	if !ok {
		err = ErrNoID

		return
	}

	dep, err = w.db.GetDeposit(r.Context(), id)
}

// withdrawHandler replies the requested withdrawal record.
func (w *Worker) withdrawHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var wd store.Withdraw

	defer func() {
		// reply to requester accordingly
		if errors.Is(err, store.ErrNotFound) {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusNotFound)
		} else if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(wd)
			res.Body = string(tmp)
		}
		// log request and withdrawal
		log.Printf("httpreq from %v %s withdraw:%+v err:%e\n", r.RemoteAddr, r.RequestURI, wd, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)
	id, ok := v["id"]
	if !ok {
		err = ErrNoID

		return
	}

	wd, err = w.db.GetWithdraw(r.Context(), id)
}

// retryWithdrawHandler re-enqueues a withdrawal parked in skipped or errored. This is the only way back to
// processing: the dispatch worker itself never retries.
func (w *Worker) retryWithdrawHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var wd store.Withdraw

	defer func() {
		// reply to requester accordingly
		if errors.Is(err, store.ErrNotFound) {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusNotFound)
		} else if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			res.Body = string(store.WithdrawProcessing)
		}
		// log request and withdrawal
		log.Printf("httpreq from %v %s withdraw:%+v err:%e\n", r.RemoteAddr, r.RequestURI, wd, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)
	id, ok := v["id"]
	if !ok {
		err = ErrNoID

		return
	}

	if wd, err = w.db.GetWithdraw(r.Context(), id); err != nil {
		return
	}

	if wd.State != store.WithdrawSkipped && wd.State != store.WithdrawErrored {
		err = fmt.Errorf("%s: %w", wd.State, ErrNotRetryable)

		return
	}

	if err = w.db.SetWithdrawState(r.Context(), id, wd.State, store.WithdrawProcessing); err != nil {
		return
	}

	err = w.mb.Publish(msg.WithdrawCoin, msg.Job{ID: id})
}

// refundReq is the payload accepted by the refund endpoint.
type refundReq struct {
	DepositID string `json:"deposit_id"`
	Address   string `json:"address"`
}

// refundHandler returns a deposit to the given address through the deposit wallet. Refunds are an operator action,
// never automatic.
func (w *Worker) refundHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var rf store.Refund

	defer func() {
		// reply to requester accordingly
		if errors.Is(err, store.ErrNotFound) {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusNotFound)
		} else if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(rf)
			res.Body = string(tmp)
		}
		// log request and refund
		log.Printf("httpreq from %v %s refund:%+v err:%e\n", r.RemoteAddr, r.RequestURI, rf, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var req refundReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = ErrBadRequest

		return
	}

	if req.DepositID == "" || req.Address == "" {
		err = ErrBadRequest

		return
	}

	var dep store.Deposit
	if dep, err = w.db.GetDeposit(r.Context(), req.DepositID); err != nil {
		return
	}

	rf = store.Refund{
		ID:        "rf-" + dep.ID, // one refund per deposit
		DepositID: dep.ID,
		Address:   req.Address,
		State:     store.RefundPending,
	}
	if err = w.db.AddRefund(r.Context(), rf); err != nil {
		return
	}

	var depWal store.Wallet
	if depWal, err = w.db.ActiveWallet(r.Context(), dep.Currency, store.WalletDeposit); err != nil {
		return
	}

	cs, errCS := w.custodyFor(depWal)
	if errCS != nil {
		err = errCS

		return
	}

	tx, errTx := cs.Refund(r.Context(), rf, dep)
	if errTx != nil {
		if errState := w.db.SetRefundState(r.Context(), rf.ID, store.RefundPending,
			store.RefundFailed); errState != nil {
			log.Printf("cannot mark refund %s failed: %v", rf.ID, errState)
		}

		rf.State = store.RefundFailed
		err = fmt.Errorf("%v: %w", errTx, ErrNotRefunded)

		return
	}

	if err = w.db.SetRefundState(r.Context(), rf.ID, store.RefundPending, store.RefundProcessed); err != nil {
		return
	}

	rf.State = store.RefundProcessed

	if err = w.db.AddTransaction(r.Context(), store.Transaction{
		Currency:    dep.Currency,
		RefKind:     store.RefRefund,
		RefID:       rf.ID,
		Hash:        tx.Hash,
		FromAddress: tx.FromAddress,
		ToAddress:   rf.Address,
		Amount:      dep.Amount,
		Status:      "pending",
	}); err != nil {
		log.Printf("cannot record refund transaction %s: %v", tx.Hash, err)
		err = nil
	}
}
