package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopgridhq/shopgrid/app/models"
	"gorm.io/gorm"
)

// Ledger applies the entitlement effect of a confirmed payment: a wallet
// credit or a subscription renewal. It does not re-check idempotency; the
// execution controller guarantees a single invocation per session and
// operator retries go through its effect-applied gate.
type Ledger struct {
	repo            Repository
	now             func() time.Time
	invalidateCache func(userID uint)
}

// NewLedger creates a ledger from an injected repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now, invalidateCache: invalidatePlanCache}
}

// NewLedgerFromDB creates a ledger from a GORM DB handle.
func NewLedgerFromDB(db *gorm.DB) *Ledger {
	return NewLedger(NewRepository(db))
}

// Apply performs the effect selected by the session's intent.
func (l *Ledger) Apply(ctx context.Context, sess *models.PaymentSession) error {
	_ = ctx
	switch sess.Intent {
	case models.PaymentIntentAddBalance:
		return l.creditBalance(sess)
	case models.PaymentIntentSubscribe:
		return l.renewSubscription(sess)
	}
	return fmt.Errorf("unknown payment intent %q for session %s", sess.Intent, sess.ID)
}

func (l *Ledger) creditBalance(sess *models.PaymentSession) error {
	if sess.Amount <= 0 {
		return fmt.Errorf("refusing to credit non-positive amount %.2f for session %s", sess.Amount, sess.ID)
	}
	// Atomic add against the stored value; two payments completing close
	// together must both land.
	return l.repo.AddBalance(sess.UserID, sess.Amount)
}

func (l *Ledger) renewSubscription(sess *models.PaymentSession) error {
	plan, ok := ParsePlan(sess.PlanType)
	if !ok {
		return fmt.Errorf("unknown plan %q for session %s", sess.PlanType, sess.ID)
	}

	now := l.now()
	periodStart := now
	periodEnd := now.Add(SubscriptionPeriod)

	current, err := l.repo.CurrentSubscription(sess.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if current != nil && current.IsCurrent(now) {
		// Remaining time carries over: stack the new period on top.
		periodStart = current.PeriodStart
		periodEnd = current.PeriodEnd.Add(SubscriptionPeriod)
	}

	sub := &models.Subscription{
		UserID:      sess.UserID,
		PlanType:    string(plan),
		Status:      models.SubscriptionStatusActive,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	if err := l.repo.UpsertSubscription(sub); err != nil {
		return err
	}

	// A renewal starts a fresh allowance.
	if err := l.repo.ResetUsage(sub.ID); err != nil {
		return err
	}

	l.invalidateCache(sess.UserID)
	return nil
}
