package orchestrator

import (
	"context"

	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/provider"
)

// authorizedCard is the outcome of one card's authorize phase.
type authorizedCard struct {
	payment *domain.Payment
}

// authorizePhase confirms every session payment's authorization in
// parallel and waits for all to settle (§4.6 step 2, §5). It returns the
// payments that authorized successfully and, if any card failed, that
// card's FailedCardError — authorized still holds every card that
// succeeded so the caller can compensate them.
func (o *Orchestrator) authorizePhase(ctx context.Context, sess *domain.Session, confirmations []CardConfirmation) ([]*domain.Payment, *FailedCardError) {
	byIntent := make(map[string]CardConfirmation, len(confirmations))
	for _, c := range confirmations {
		byIntent[c.ProviderIntentID] = c
	}

	tasks := make([]cardTask[*authorizeOutcome], len(sess.Payments))
	for i, pp := range sess.Payments {
		pp := pp
		conf := byIntent[pp.ProviderIntentID]
		tasks[i] = cardTask[*authorizeOutcome]{index: i, run: func(ctx context.Context) (*authorizeOutcome, error) {
			return o.authorizeOne(ctx, pp, conf)
		}}
	}

	results := fanOut(ctx, o.pool, tasks)

	var authorized []*domain.Payment
	var failure *FailedCardError
	for _, r := range results {
		if r.err != nil {
			if failure == nil {
				failure = r.value.failure
			}
			continue
		}
		authorized = append(authorized, r.value.payment)
	}
	return authorized, failure
}

type authorizeOutcome struct {
	payment *domain.Payment
	failure *FailedCardError
}

func (o *Orchestrator) authorizeOne(ctx context.Context, pp domain.PendingPayment, conf CardConfirmation) (*authorizeOutcome, error) {
	payment, err := o.db.Payments().GetByID(ctx, pp.PaymentID)
	if err != nil {
		return &authorizeOutcome{failure: &FailedCardError{ProviderIntentID: pp.ProviderIntentID, Message: err.Error()}}, err
	}

	confirmed, confirmErr := provider.WithRetry(ctx, o.retry, func(ctx context.Context) (*provider.ConfirmedAuthorization, error) {
		return o.provider.ConfirmAuthorization(ctx, pp.ProviderIntentID)
	})

	if confirmErr != nil {
		message := confirmErr.Error()
		code := "provider_error"
		o.db.Payments().SetFailure(ctx, payment.ID, code, message)
		payment.MarkFailed(code, message)
		return &authorizeOutcome{failure: &FailedCardError{
			ProviderIntentID: pp.ProviderIntentID,
			CardBrand:        payment.CardBrand,
			CardLastFour:     payment.CardLastFour,
			Message:          message,
		}}, confirmErr
	}

	if confirmed.CardBrand != "" {
		o.db.Payments().SetCardDetails(ctx, payment.ID, confirmed.MethodID, confirmed.CardBrand, confirmed.CardLastFour, confirmed.CardExpMonth, confirmed.CardExpYear)
		payment.SetCardDetails(confirmed.CardBrand, confirmed.CardLastFour, confirmed.CardExpMonth, confirmed.CardExpYear)
	}
	if err := payment.MarkAuthorized(conf.ProviderMethodID); err != nil {
		return &authorizeOutcome{failure: &FailedCardError{ProviderIntentID: pp.ProviderIntentID, Message: err.Error()}}, err
	}
	if err := o.db.Payments().UpdateStatus(ctx, payment.ID, domain.PaymentAuthorized); err != nil {
		return &authorizeOutcome{failure: &FailedCardError{ProviderIntentID: pp.ProviderIntentID, Message: err.Error()}}, err
	}

	return &authorizeOutcome{payment: payment}, nil
}

// compensate voids every authorized card in parallel (§4.6 step 3).
func (o *Orchestrator) compensate(ctx context.Context, authorized []*domain.Payment) {
	tasks := make([]cardTask[struct{}], len(authorized))
	for i, p := range authorized {
		p := p
		tasks[i] = cardTask[struct{}]{index: i, run: func(ctx context.Context) (struct{}, error) {
			if err := o.provider.Cancel(ctx, p.ProviderIntentID); err != nil {
				return struct{}{}, err
			}
			p.MarkVoided()
			return struct{}{}, o.db.Payments().UpdateStatus(ctx, p.ID, domain.PaymentVoided)
		}}
	}
	fanOut(ctx, o.pool, tasks)
}

// capturePhase captures every authorized card in parallel (§4.6 step 4).
// On any failure it returns the successfully captured subset so the
// caller can decide what still needs canceling.
func (o *Orchestrator) capturePhase(ctx context.Context, authorized []*domain.Payment) ([]*domain.Payment, error) {
	tasks := make([]cardTask[*domain.Payment], len(authorized))
	for i, p := range authorized {
		p := p
		tasks[i] = cardTask[*domain.Payment]{index: i, run: func(ctx context.Context) (*domain.Payment, error) {
			if _, err := provider.WithRetry(ctx, o.retry, func(ctx context.Context) (*provider.CaptureResult, error) {
				return o.provider.Capture(ctx, p.ProviderIntentID)
			}); err != nil {
				return nil, err
			}
			if err := p.MarkCaptured(); err != nil {
				return nil, err
			}
			if err := o.db.Payments().UpdateStatus(ctx, p.ID, domain.PaymentCaptured); err != nil {
				return nil, err
			}
			return p, nil
		}}
	}

	results := fanOut(ctx, o.pool, tasks)

	var captured []*domain.Payment
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		captured = append(captured, r.value)
	}
	if firstErr != nil {
		return captured, firstErr
	}
	return captured, nil
}

// cancelUncaptured best-effort-cancels every authorized card that did not
// end up in the captured set (§4.6 step 4's partial-capture anomaly).
func (o *Orchestrator) cancelUncaptured(ctx context.Context, authorized, captured []*domain.Payment) {
	capturedIDs := make(map[string]bool, len(captured))
	for _, p := range captured {
		capturedIDs[p.ID] = true
	}
	var toCancel []*domain.Payment
	for _, p := range authorized {
		if !capturedIDs[p.ID] {
			toCancel = append(toCancel, p)
		}
	}
	o.compensate(ctx, toCancel)
}
