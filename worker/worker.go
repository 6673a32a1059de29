// Package worker implements the fund-movement microservice.
//
// The service consumes three broker queues, one per pipeline: deposit_collection sweeps confirmed deposits into
// custody, withdraw_coin dispatches signed withdrawals, beneficiary_enable screens withdrawal destinations. A cron
// loop drives the AML gate for records waiting on a screening decision, and a RESTful management API exposes record
// lookups and the operator actions (withdrawal retry, deposit refund).
package worker

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/custody"
	"github.com/tarancss/custody/lib/aml"
	"github.com/tarancss/custody/lib/config"
	"github.com/tarancss/custody/lib/msg"
	"github.com/tarancss/custody/lib/store"
	"github.com/tarancss/custody/lib/store/db"
	"github.com/tarancss/custody/lib/wallet"
)

// jobTimeout bounds the processing of one queue message.
const jobTimeout = 60 * time.Second

// Worker contains the data necessary to deliver the service
type Worker struct {
	dbtype string
	db     store.DB      // db connection
	mb     msg.MsgBroker // message broker connection
	scr    aml.Screener  // AML screening backend
	reg    *wallet.Registry
	conf   config.ServiceConfig
	s      *http.Server  // http server
	ss     *http.Server  // https server
	sc     chan struct{} // http server channel used for graceful shutdowns
	cron   chan struct{} // cron loop channel used for graceful shutdowns
}

// New returns a pointer to a new Worker service
func New(conf config.ServiceConfig, dbConn store.DB, mb msg.MsgBroker, scr aml.Screener,
	reg *wallet.Registry) *Worker {
	return &Worker{
		dbtype: conf.DBType,
		db:     dbConn,
		mb:     mb,
		scr:    scr,
		reg:    reg,
		conf:   conf,
		cron:   make(chan struct{}),
	}
}

// custodyFor binds the wallet to its currency settings and a configured adapter.
func (w *Worker) custodyFor(wal store.Wallet) (*custody.Service, error) {
	cur, ok := w.conf.Currency(wal.Currency)
	if !ok {
		return nil, config.ErrCurrencyNotConfigured
	}

	return custody.New(wal, cur, w.conf.Seed, w.reg)
}

// Stop shuts down the http servers implementing the management API, stops the cron loop and closes gracefully the
// connections to message broker and database.
func (w *Worker) Stop() {
	var err error
	// shutdown http server
	if w.s != nil {
		if err = w.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if w.ss != nil {
		if err = w.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	if w.sc != nil {
		close(w.sc) // close server channels to indicate shutdowns have finished
	}
	// stop cron loop
	close(w.cron)
	// close message broker
	if err = w.mb.Close(); err != nil {
		log.Printf("Error closing message broker:%e", err)
	}
	// close database
	if w.db != nil {
		err = db.Close(w.dbtype, w.db)
		log.Printf("Disconnecting %v database, err:%e\n", w.dbtype, err)
	}
}

// Run starts go routines to consume the worker queues and the cron loop driving the AML gate. For each queue, two
// channels are opened, one for jobs and one for errors.
func (w *Worker) Run() error {
	handlers := map[string]func(context.Context, string) error{
		msg.DepositCollection: w.processDeposit,
		msg.WithdrawCoin:      w.processWithdraw,
		msg.BeneficiaryEnable: w.processBeneficiary,
	}

	// for each queue establish a process to read jobs from the broker
	for queue, handler := range handlers {
		var mut *sync.Mutex = new(sync.Mutex)
		mut.Lock()
		jobCh, errCh, err := w.mb.GetJobs(queue, mut)
		if err != nil {
			return err
		}

		// launch job channel reader
		go func(queue string, handler func(context.Context, string) error) {
			log.Printf("[%s] Start listening to job channel", queue)
			for j := range jobCh {
				ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
				if err := handler(ctx, j.ID); err != nil {
					log.Printf("[%s] Error processing job %s: %v", queue, j.ID, err)
				}
				cancel()
				mut.Unlock() // let the broker acknowledge the message
			}
			log.Printf("[%s] Stop listening to job channel", queue)
		}(queue, handler)

		// launch error channel reader
		go func(queue string) {
			log.Printf("[%s] Start listening to err channel", queue)
			for e := range errCh {
				log.Printf("[%s] Received error %+v", queue, e)
			}
			log.Printf("[%s] Stop listening to err channel", queue)
		}(queue)
	}

	// launch the AML cron loop
	go w.runCron()

	return nil
}
