package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/money"
	"github.com/plm/splitpay/provider"
)

// RefundOutcome is one payment's slice of a refund request.
type RefundOutcome struct {
	Refund *domain.Refund
}

// RefundResult is what refund() hands back to the admin surface.
type RefundResult struct {
	Refunds       []*domain.Refund
	TotalRefunded int64
	NewStatus     domain.TransactionStatus
}

// Refund proportionally distributes a refund across every captured
// payment and issues one provider refund call per non-zero share
// (§4.6 refund()).
func (o *Orchestrator) Refund(ctx context.Context, transactionID string, amountCents int64, reason domain.RefundReason, initiatedBy domain.RefundInitiator) (*RefundResult, error) {
	txn, err := o.db.Transactions().GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.TransactionCompleted && txn.Status != domain.TransactionPartiallyRefunded {
		return nil, domain.ErrNotRefundable
	}

	existingRefunds, err := o.db.Refunds().ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	alreadyRefunded := domain.SucceededRefundSum(existingRefunds)
	if amountCents > txn.TotalAmountCents-alreadyRefunded {
		return nil, domain.ErrRefundExceedsTotal
	}

	payments, err := o.db.Payments().ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	captured := domain.CapturedPayments(payments)

	weights := make([]int64, len(captured))
	for i, p := range captured {
		weights[i] = p.AmountCents
	}
	shares := money.Distribute(amountCents, weights)

	type refundTask struct {
		payment *domain.Payment
		amount  int64
	}
	var toIssue []refundTask
	for i, share := range shares {
		if share == 0 {
			continue
		}
		toIssue = append(toIssue, refundTask{payment: captured[i], amount: share})
	}

	tasks := make([]cardTask[*domain.Refund], len(toIssue))
	for i, t := range toIssue {
		t := t
		tasks[i] = cardTask[*domain.Refund]{index: i, run: func(ctx context.Context) (*domain.Refund, error) {
			return o.issueOneRefund(ctx, txn, t.payment, t.amount, reason, initiatedBy)
		}}
	}
	results := fanOut(ctx, o.pool, tasks)

	var refunds []*domain.Refund
	var succeededThisCall int64
	for _, r := range results {
		refunds = append(refunds, r.value)
		if r.value.Status == domain.RefundSucceeded {
			succeededThisCall += r.value.AmountCents
		}
	}

	newTotal := alreadyRefunded + succeededThisCall
	newStatus := domain.TransactionPartiallyRefunded
	if newTotal >= txn.TotalAmountCents {
		newStatus = domain.TransactionRefunded
	}
	if err := txn.TransitionTo(newStatus); err == nil {
		o.db.Transactions().UpdateStatus(ctx, txn.ID, newStatus, "")
	} else if txn.Status == domain.TransactionPartiallyRefunded && newStatus == domain.TransactionPartiallyRefunded {
		// re-entrant partial refund on an already partially_refunded
		// transaction is allowed (transactionTransitions permits self-loop).
	}

	return &RefundResult{Refunds: refunds, TotalRefunded: newTotal, NewStatus: newStatus}, nil
}

func (o *Orchestrator) issueOneRefund(ctx context.Context, txn *domain.Transaction, payment *domain.Payment, amount int64, reason domain.RefundReason, initiatedBy domain.RefundInitiator) (*domain.Refund, error) {
	rf, err := domain.NewRefund(uuid.NewString(), txn.ID, payment.ID, amount, reason, initiatedBy)
	if err != nil {
		return nil, err
	}
	if err := o.db.Refunds().Create(ctx, rf); err != nil {
		return nil, err
	}

	result, err := provider.WithRetry(ctx, o.retry, func(ctx context.Context) (*provider.RefundResult, error) {
		return o.provider.Refund(ctx, provider.RefundRequest{IntentID: payment.ProviderIntentID, AmountCents: amount, Reason: string(reason)})
	})
	if err != nil {
		rf.Fail(err.Error())
		o.db.Refunds().MarkFailed(ctx, rf.ID, err.Error())
		return rf, nil
	}

	rf.Succeed(result.RefundID)
	if err := o.db.Refunds().MarkSucceeded(ctx, rf.ID, result.RefundID); err != nil {
		return nil, fmt.Errorf("persist refund success: %w", err)
	}
	return rf, nil
}
