package worker

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/lib/store"
)

// processBeneficiary screens one withdrawal destination. Only beneficiaries in aml_processing are considered; a
// detected risk rejects the beneficiary, a pending answer leaves it for the cron loop to re-enqueue, a clear answer
// activates it.
func (w *Worker) processBeneficiary(ctx context.Context, id string) error {
	b, err := w.db.GetBeneficiary(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[beneficiary %s] no such beneficiary, dropping job", id)

		return nil
	}

	if err != nil {
		return err
	}

	if b.State != store.BeneficiaryAMLProcessing {
		log.Printf("[beneficiary %s] state %s, nothing to do", id, b.State)

		return nil
	}

	res, err := w.scr.Check(ctx, b.Address, b.Currency, b.MemberUID)
	if err != nil {
		return err
	}

	if res.RiskDetected {
		amlChecks.WithLabelValues("risk").Inc()
		log.Printf("[beneficiary %s] address %s flagged, rejecting", id, b.Address)

		return w.db.SetBeneficiaryState(ctx, id, store.BeneficiaryAMLProcessing, store.BeneficiaryRejected)
	}

	if res.Pending {
		amlChecks.WithLabelValues("pending").Inc()

		return nil
	}

	amlChecks.WithLabelValues("clear").Inc()

	return w.db.SetBeneficiaryState(ctx, id, store.BeneficiaryAMLProcessing, store.BeneficiaryActive)
}
