package worker

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/custody"
	"github.com/tarancss/custody/lib/store"
)

// processDeposit sweeps one deposit into custody. A deposit enters in processing, gets its spread computed against
// the hot wallet, moves to collecting, and reaches collected once every spread leg carries a broadcast hash. Legs
// are independent: a failed broadcast leaves the already hashed legs in place and the deposit in collecting, so a
// later pass only retries what is missing.
func (w *Worker) processDeposit(ctx context.Context, id string) error {
	dep, err := w.db.GetDeposit(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[deposit %s] no such deposit, dropping job", id)

		return nil
	}

	if err != nil {
		return err
	}

	if dep.State != store.DepositProcessing && dep.State != store.DepositCollecting {
		log.Printf("[deposit %s] state %s, nothing to do", id, dep.State)

		return nil
	}

	if len(dep.Spread) == 0 {
		if dep.State != store.DepositProcessing {
			log.Printf("[deposit %s] collecting with no spread, dropping job", id)

			return nil
		}

		spread, err := w.spreadDeposit(ctx, dep)
		if errors.Is(err, custody.ErrBelowMinCollection) {
			log.Printf("[deposit %s] %v", id, err)
			depositCollections.WithLabelValues("below_min").Inc()

			return nil
		}

		if err != nil || spread == nil {
			return err
		}

		if err = w.db.UpdateDepositSpread(ctx, id, spread, store.DepositProcessing,
			store.DepositCollecting); err != nil {
			return err
		}

		dep.Spread, dep.State = spread, store.DepositCollecting
	} else if dep.State == store.DepositProcessing {
		// spread already computed on an earlier pass that never reached collecting
		if err = w.db.UpdateDepositSpread(ctx, id, dep.Spread, store.DepositProcessing,
			store.DepositCollecting); err != nil {
			return err
		}

		dep.State = store.DepositCollecting
	}

	return w.collectDeposit(ctx, dep)
}

// spreadDeposit computes the sweep legs towards the active hot wallet. No active hot wallet leaves the deposit
// untouched for a later pass.
func (w *Worker) spreadDeposit(ctx context.Context, dep store.Deposit) ([]store.SpreadLeg, error) {
	hot, err := w.db.ActiveWallet(ctx, dep.Currency, store.WalletHot)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[deposit %s] no active hot wallet for %s, leaving for a later pass", dep.ID, dep.Currency)

		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	cs, err := w.custodyFor(hot)
	if err != nil {
		return nil, err
	}

	return cs.SpreadDeposit(dep)
}

// collectDeposit broadcasts the pending spread legs through the deposit wallet and persists the progress.
func (w *Worker) collectDeposit(ctx context.Context, dep store.Deposit) error {
	depWal, err := w.db.ActiveWallet(ctx, dep.Currency, store.WalletDeposit)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[deposit %s] no active deposit wallet for %s, leaving for a later pass", dep.ID, dep.Currency)

		return nil
	}

	if err != nil {
		return err
	}

	cs, err := w.custodyFor(depWal)
	if err != nil {
		return err
	}

	txs, txErr := cs.CollectDeposit(ctx, dep, dep.Spread)

	// merge whatever did broadcast into the legs, even when the batch ended early
	for _, tx := range txs {
		for i := range dep.Spread {
			if dep.Spread[i].Hash != "" || dep.Spread[i].ToAddress != tx.ToAddress {
				continue
			}

			status := tx.Status
			if status == "" {
				status = "succeed"
			}

			dep.Spread[i].Hash, dep.Spread[i].Status = tx.Hash, status

			if err = w.db.AddTransaction(ctx, store.Transaction{
				Currency:    dep.Currency,
				RefKind:     store.RefDeposit,
				RefID:       dep.ID,
				Hash:        tx.Hash,
				FromAddress: tx.FromAddress,
				ToAddress:   tx.ToAddress,
				Amount:      dep.Spread[i].Amount,
				Status:      status,
			}); err != nil {
				log.Printf("[deposit %s] could not record transaction %s: %v", dep.ID, tx.Hash, err)
			}

			break
		}
	}

	if dep.Collected() {
		if err = w.db.ConfirmDepositCollected(ctx, dep, dep.Spread); err != nil {
			return err
		}

		depositCollections.WithLabelValues("collected").Inc()
		log.Printf("[deposit %s] collected %s %s for %s", dep.ID, dep.Amount.Sub(dep.Fee), dep.Currency,
			dep.MemberUID)
	} else {
		if err = w.db.UpdateDepositSpread(ctx, dep.ID, dep.Spread, store.DepositCollecting,
			store.DepositCollecting); err != nil {
			return err
		}

		depositCollections.WithLabelValues("partial").Inc()
	}

	if txErr != nil {
		log.Printf("[deposit %s] collection batch ended early: %v", dep.ID, txErr)
		depositCollections.WithLabelValues("errored").Inc()
	}

	return nil
}

// amlCheckDeposit screens every source address of the deposit. A detected risk moves the deposit to suspicious and
// stops immediately; a pending answer stops without a state change so the cron loop asks again later. Only a clear
// answer for every address reports true.
func (w *Worker) amlCheckDeposit(ctx context.Context, dep store.Deposit) (bool, error) {
	for _, addr := range dep.Addresses {
		res, err := w.scr.Check(ctx, addr, dep.Currency, dep.MemberUID)
		if err != nil {
			return false, err
		}

		if res.RiskDetected {
			amlChecks.WithLabelValues("risk").Inc()
			log.Printf("[deposit %s] address %s flagged, marking suspicious", dep.ID, addr)

			return false, w.db.SetDepositState(ctx, dep.ID, store.DepositPendingAML, store.DepositSuspicious)
		}

		if res.Pending {
			amlChecks.WithLabelValues("pending").Inc()

			return false, nil
		}
	}

	amlChecks.WithLabelValues("clear").Inc()

	return true, nil
}
