package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/lib/msg"
	"github.com/tarancss/custody/lib/store"
)

// cronInterval is how often the AML gate re-examines records waiting on a screening decision.
const cronInterval = 60 * time.Second

// runCron periodically drives the AML gate: deposits held in pending_aml are re-screened and released to
// collection once clear, deposits marked skip_aml go straight to collection, and beneficiaries stuck in
// aml_processing are re-enqueued for screening. A pending screening answer never expires, the record just comes
// around again on the next tick.
func (w *Worker) runCron() {
	log.Printf("[cron] Start AML sweep every %s", cronInterval)

	ticker := time.NewTicker(cronInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.cron:
			log.Printf("[cron] Stop AML sweep")

			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			w.sweepAML(ctx)
			cancel()
		}
	}
}

// sweepAML runs one pass of the AML gate.
func (w *Worker) sweepAML(ctx context.Context) {
	deposits, err := w.db.DepositsByState(ctx, store.DepositPendingAML)
	if err != nil {
		log.Printf("[cron] cannot list pending_aml deposits: %v", err)
	}

	for _, dep := range deposits {
		clear, err := w.amlCheckDeposit(ctx, dep)
		if err != nil {
			log.Printf("[cron] screening deposit %s failed: %v", dep.ID, err)

			continue
		}

		if !clear {
			continue
		}

		if err = w.releaseDeposit(ctx, dep.ID, store.DepositPendingAML); err != nil {
			log.Printf("[cron] cannot release deposit %s: %v", dep.ID, err)
		}
	}

	deposits, err = w.db.DepositsByState(ctx, store.DepositSkipAML)
	if err != nil {
		log.Printf("[cron] cannot list skip_aml deposits: %v", err)
	}

	for _, dep := range deposits {
		if err = w.releaseDeposit(ctx, dep.ID, store.DepositSkipAML); err != nil {
			log.Printf("[cron] cannot release deposit %s: %v", dep.ID, err)
		}
	}

	beneficiaries, err := w.db.BeneficiariesByState(ctx, store.BeneficiaryAMLProcessing)
	if err != nil {
		log.Printf("[cron] cannot list aml_processing beneficiaries: %v", err)
	}

	for _, b := range beneficiaries {
		if err = w.mb.Publish(msg.BeneficiaryEnable, msg.Job{ID: b.ID}); err != nil {
			log.Printf("[cron] cannot enqueue beneficiary %s: %v", b.ID, err)
		}
	}
}

// releaseDeposit moves a cleared deposit to processing and enqueues it for collection.
func (w *Worker) releaseDeposit(ctx context.Context, id string, from store.DepositState) error {
	if err := w.db.SetDepositState(ctx, id, from, store.DepositProcessing); err != nil {
		return err
	}

	return w.mb.Publish(msg.DepositCollection, msg.Job{ID: id})
}
