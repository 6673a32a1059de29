package worker

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/lib/store"
)

// processWithdraw dispatches one withdrawal. The job is a hint, not a command: the withdrawal must exist and be in
// processing or the message is dropped, which makes redeliveries harmless. Operational outcomes are states, not
// errors: no active hot wallet or not enough balance parks the withdrawal in skipped, a backend failure parks it in
// errored. Neither is retried until an operator re-enqueues it through the management API.
func (w *Worker) processWithdraw(ctx context.Context, id string) error {
	wd, err := w.db.GetWithdraw(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[withdraw %s] no such withdrawal, dropping job", id)

		return nil
	}

	if err != nil {
		return err
	}

	if wd.State != store.WithdrawProcessing {
		log.Printf("[withdraw %s] state %s, nothing to do", id, wd.State)

		return nil
	}

	hot, err := w.db.ActiveWallet(ctx, wd.Currency, store.WalletHot)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[withdraw %s] no active hot wallet for %s, skipping", id, wd.Currency)
		withdrawDispatches.WithLabelValues("skipped").Inc()

		return w.db.SetWithdrawState(ctx, id, store.WithdrawProcessing, store.WithdrawSkipped)
	}

	if err != nil {
		return err
	}

	cs, err := w.custodyFor(hot)
	if err != nil {
		log.Printf("[withdraw %s] cannot build custody service: %v", id, err)
		withdrawDispatches.WithLabelValues("errored").Inc()

		return w.db.SetWithdrawState(ctx, id, store.WithdrawProcessing, store.WithdrawErrored)
	}

	balance, err := cs.LoadBalance(ctx)
	if err != nil {
		log.Printf("[withdraw %s] cannot load hot wallet balance: %v", id, err)
		withdrawDispatches.WithLabelValues("errored").Inc()

		return w.db.SetWithdrawState(ctx, id, store.WithdrawProcessing, store.WithdrawErrored)
	}

	if balance.LessThan(wd.Amount) {
		log.Printf("[withdraw %s] hot wallet balance %s below %s, skipping", id, balance, wd.Amount)
		withdrawDispatches.WithLabelValues("skipped").Inc()

		return w.db.SetWithdrawState(ctx, id, store.WithdrawProcessing, store.WithdrawSkipped)
	}

	tx, err := cs.BuildWithdrawal(ctx, wd)
	if err != nil {
		log.Printf("[withdraw %s] broadcast failed: %v", id, err)
		withdrawDispatches.WithLabelValues("errored").Inc()

		return w.db.SetWithdrawState(ctx, id, store.WithdrawProcessing, store.WithdrawErrored)
	}

	if err = w.db.ConfirmWithdrawDispatch(ctx, id, tx.Hash); err != nil {
		// the broadcast happened; a conflicting state here means a concurrent worker won the race
		return err
	}

	if err = w.db.AddTransaction(ctx, store.Transaction{
		Currency:    wd.Currency,
		RefKind:     store.RefWithdraw,
		RefID:       wd.ID,
		Hash:        tx.Hash,
		FromAddress: tx.FromAddress,
		ToAddress:   wd.RID,
		Amount:      wd.Amount,
		Status:      "pending",
	}); err != nil {
		log.Printf("[withdraw %s] could not record transaction %s: %v", id, tx.Hash, err)
	}

	withdrawDispatches.WithLabelValues("dispatched").Inc()
	log.Printf("[withdraw %s] dispatched %s %s to %s tx %s", id, wd.Amount, wd.Currency, wd.RID, tx.Hash)

	return nil
}
