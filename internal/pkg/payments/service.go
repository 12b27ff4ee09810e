package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopgridhq/shopgrid/app/models"
	"github.com/shopgridhq/shopgrid/internal/pkg/entitlements"
	"github.com/shopgridhq/shopgrid/internal/pkg/gateway"
	"github.com/shopgridhq/shopgrid/internal/pkg/notify"
)

// GatewayAPI is the slice of the gateway client the service needs.
type GatewayAPI interface {
	CreatePayment(ctx context.Context, token string, in gateway.CreatePaymentRequest) (*gateway.CreatePaymentResponse, error)
	ExecutePayment(ctx context.Context, token, paymentID string) (*gateway.ExecutePaymentResponse, error)
	QueryPayment(ctx context.Context, token, paymentID string) (*gateway.PaymentStatusResponse, error)
}

// TokenProvider yields a valid gateway credential.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// EffectApplier applies the entitlement effect of a confirmed payment.
// Implemented by entitlements.Ledger.
type EffectApplier interface {
	Apply(ctx context.Context, sess *models.PaymentSession) error
}

// Config holds the session creator's validation settings.
type Config struct {
	MinAmount   float64
	Currency    string
	CallbackURL string
}

// Service is the payment engine: it opens sessions with the gateway and
// turns gateway callbacks into durable session state and entitlement
// effects, exactly once per session.
type Service struct {
	repo     Repository
	gw       GatewayAPI
	creds    TokenProvider
	ledger   EffectApplier
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

// NewService wires the payment engine from its collaborators.
func NewService(repo Repository, gw GatewayAPI, creds TokenProvider, ledger EffectApplier, notifier notify.Notifier, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}
	return &Service{
		repo:     repo,
		gw:       gw,
		creds:    creds,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateSession validates the request, opens a checkout session with the
// gateway and persists the local session record. A failed local write after
// the gateway session was opened still returns the redirect; the callback
// handler rebuilds the record from gateway metadata in that case.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*CreateSessionResult, error) {
	if in.UserID == 0 {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	if in.Amount < s.cfg.MinAmount {
		return nil, fmt.Errorf("%w: amount must be at least %.2f", ErrValidation, s.cfg.MinAmount)
	}
	switch in.Intent {
	case models.PaymentIntentAddBalance:
		in.PlanType = ""
	case models.PaymentIntentSubscribe:
		plan, ok := entitlements.ParsePlan(in.PlanType)
		if !ok {
			return nil, fmt.Errorf("%w: unknown plan %q", ErrValidation, in.PlanType)
		}
		in.PlanType = string(plan)
	default:
		return nil, fmt.Errorf("%w: unknown intent %q", ErrValidation, in.Intent)
	}

	token, err := s.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	invoiceRef := NewInvoiceRef(in.UserID, in.Intent, in.PlanType)
	resp, err := s.gw.CreatePayment(ctx, token, gateway.CreatePaymentRequest{
		Amount:      formatAmount(in.Amount),
		Currency:    s.cfg.Currency,
		Intent:      "sale",
		CallbackURL: s.cfg.CallbackURL,
		InvoiceRef:  invoiceRef,
		PayerRef:    strconv.FormatUint(uint64(in.UserID), 10),
	})
	if err != nil {
		return nil, err
	}

	sess := &models.PaymentSession{
		ID:         resp.PaymentID,
		InvoiceRef: invoiceRef,
		UserID:     in.UserID,
		Intent:     in.Intent,
		PlanType:   in.PlanType,
		Amount:     in.Amount,
		Status:     models.PaymentStatusCreated,
	}
	if err := s.repo.Create(sess); err != nil {
		// Best effort: the gateway session exists, so the payer can still
		// complete checkout. The callback rebuilds the record from gateway
		// metadata.
		log.Printf("[SESSION-PERSIST] failed to persist session %s (invoice %s): %v", resp.PaymentID, invoiceRef, err)
	}

	return &CreateSessionResult{SessionID: resp.PaymentID, RedirectURL: resp.RedirectURL}, nil
}

// HandleCallback processes one delivery of the gateway's completion
// callback. It is safe to call any number of times per session.
func (s *Service) HandleCallback(ctx context.Context, sessionID, outcome string) (*CallbackResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}

	switch outcome {
	case OutcomeCancel:
		return s.finishWithout(sessionID, models.PaymentStatusCancelled)
	case OutcomeFailure:
		return s.finishWithout(sessionID, models.PaymentStatusFailed)
	case OutcomeSuccess:
		return s.execute(ctx, sessionID)
	}
	return nil, fmt.Errorf("%w: unknown callback outcome %q", ErrValidation, outcome)
}

// finishWithout terminates a session that never reached execution. The
// transition is conditional on the created status, so a race with a
// concurrent success delivery cannot flip an executed session.
func (s *Service) finishWithout(sessionID, terminal string) (*CallbackResult, error) {
	var (
		ok  bool
		err error
	)
	if terminal == models.PaymentStatusCancelled {
		ok, err = s.repo.MarkCancelled(sessionID)
	} else {
		ok, err = s.repo.MarkFailed(sessionID, models.PaymentStatusCreated, "gateway reported failure before execution")
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return &CallbackResult{SessionID: sessionID, Status: resultForStatus(terminal)}, nil
	}

	sess, err := s.repo.GetByID(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// Nothing local to finish; no funds moved.
			return &CallbackResult{SessionID: sessionID, Status: resultForStatus(terminal)}, nil
		}
		return nil, err
	}
	return &CallbackResult{SessionID: sessionID, Status: resultForStatus(sess.Status)}, nil
}

func (s *Service) execute(ctx context.Context, sessionID string) (*CallbackResult, error) {
	sess, err := s.repo.GetByID(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		sess, err = s.recoverSession(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	// Idempotency gate: a replayed callback for an executed session answers
	// success without touching the gateway or the ledger again.
	if sess.Status == models.PaymentStatusExecuted {
		return &CallbackResult{SessionID: sessionID, Status: ResultExecuted, Replayed: true}, nil
	}
	if sess.IsTerminal() {
		return &CallbackResult{SessionID: sessionID, Status: resultForStatus(sess.Status)}, nil
	}

	claimed, err := s.repo.ClaimForExecution(sessionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race; report whatever the winner produced.
		current, err := s.repo.GetByID(sessionID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.PaymentStatusExecuted {
			return &CallbackResult{SessionID: sessionID, Status: ResultExecuted, Replayed: true}, nil
		}
		if current.IsTerminal() {
			return &CallbackResult{SessionID: sessionID, Status: resultForStatus(current.Status)}, nil
		}
		return &CallbackResult{SessionID: sessionID, Status: ResultProcessing}, nil
	}

	token, err := s.creds.Token(ctx)
	if err != nil {
		return s.failExecution(sessionID, fmt.Sprintf("credential grant failed: %v", err))
	}

	exec, err := s.gw.ExecutePayment(ctx, token, sessionID)
	if err != nil {
		return s.failExecution(sessionID, err.Error())
	}

	executedAt := s.now()
	if ok, err := s.repo.MarkExecuted(sessionID, exec.TrxID, executedAt); err != nil {
		return nil, err
	} else if !ok {
		log.Printf("session %s: executed transition lost despite holding the claim", sessionID)
	}
	sess.Status = models.PaymentStatusExecuted
	sess.GatewayTrxID = exec.TrxID

	// Money moved at the gateway; a ledger failure from here on is a
	// reconciliation case, never a failed payment.
	if err := s.applyEffect(ctx, sess); err != nil {
		log.Printf("[ENTITLEMENT-INCONSISTENCY] session %s (user %d, intent %s, amount %.2f): gateway trx %s confirmed but effect failed: %v",
			sessionID, sess.UserID, sess.Intent, sess.Amount, exec.TrxID, err)
	}

	s.notifyOutcome(sess)
	return &CallbackResult{SessionID: sessionID, Status: ResultExecuted}, nil
}

// failExecution releases the claim by moving the session to failed.
func (s *Service) failExecution(sessionID, reason string) (*CallbackResult, error) {
	if _, err := s.repo.MarkFailed(sessionID, models.PaymentStatusExecuting, reason); err != nil {
		return nil, err
	}
	return &CallbackResult{SessionID: sessionID, Status: ResultFailed}, nil
}

// recoverSession rebuilds a session row from the gateway's own metadata when
// the local write in CreateSession failed. The row is flagged for
// reconciliation.
func (s *Service) recoverSession(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	token, err := s.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.gw.QueryPayment(ctx, token, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s unknown locally and gateway lookup failed: %v", ErrSessionNotFound, sessionID, err)
	}

	userID, intent, planType, err := ParseInvoiceRef(st.InvoiceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s unknown locally and invoice ref unusable: %v", ErrSessionNotFound, sessionID, err)
	}
	amount, err := strconv.ParseFloat(st.Amount, 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("%w: session %s has unusable gateway amount %q", ErrSessionNotFound, sessionID, st.Amount)
	}

	sess := &models.PaymentSession{
		ID:         sessionID,
		InvoiceRef: st.InvoiceRef,
		UserID:     userID,
		Intent:     intent,
		PlanType:   planType,
		Amount:     amount,
		Status:     models.PaymentStatusCreated,
		Recovered:  true,
	}
	if err := s.repo.Create(sess); err != nil {
		// A concurrent delivery may have recovered it first.
		if existing, getErr := s.repo.GetByID(sessionID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	log.Printf("[SESSION-RECOVERED] session %s rebuilt from gateway metadata (user %d, intent %s); flagged for reconciliation",
		sessionID, userID, intent)
	return sess, nil
}

// ReapplyEffect re-runs the entitlement effect for an executed session whose
// effect application failed. Operator-triggered; a no-op when the effect is
// already recorded, including when a concurrent re-apply got there first.
func (s *Service) ReapplyEffect(ctx context.Context, sessionID string) error {
	sess, err := s.repo.GetByID(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.PaymentStatusExecuted {
		return fmt.Errorf("session %s is %s, not executed", sessionID, sess.Status)
	}
	return s.applyEffect(ctx, sess)
}

// applyEffect runs the entitlement effect under the effect-applied claim. The
// marker is taken before the ledger call and released again on failure, so
// the effect runs at most once no matter how many callers race here.
func (s *Service) applyEffect(ctx context.Context, sess *models.PaymentSession) error {
	claimed, err := s.repo.ClaimEffect(sess.ID, s.now())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if err := s.ledger.Apply(ctx, sess); err != nil {
		if relErr := s.repo.ReleaseEffect(sess.ID); relErr != nil {
			log.Printf("session %s: failed to release effect claim: %v", sess.ID, relErr)
		}
		return err
	}
	return nil
}

func (s *Service) notifyOutcome(sess *models.PaymentSession) {
	notificationType := "payment"
	title := "Payment received"
	message := fmt.Sprintf("Your payment of %.2f was received and %.2f was added to your balance.", sess.Amount, sess.Amount)
	if sess.Intent == models.PaymentIntentSubscribe {
		notificationType = "subscription"
		title = "Subscription renewed"
		message = fmt.Sprintf("Your payment of %.2f was received and your %s subscription was extended by 30 days.", sess.Amount, sess.PlanType)
	}
	if err := s.notifier.Notify(sess.UserID, notificationType, title, message, "/account"); err != nil {
		log.Printf("session %s: notification failed: %v", sess.ID, err)
	}
}

func resultForStatus(status string) string {
	switch status {
	case models.PaymentStatusExecuted:
		return ResultExecuted
	case models.PaymentStatusFailed:
		return ResultFailed
	case models.PaymentStatusCancelled:
		return ResultCancelled
	}
	return ResultProcessing
}

func formatAmount(a float64) string {
	return strconv.FormatFloat(a, 'f', 2, 64)
}
