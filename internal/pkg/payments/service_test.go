package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopgridhq/shopgrid/app/models"
	"github.com/shopgridhq/shopgrid/internal/pkg/gateway"
	"github.com/shopgridhq/shopgrid/internal/pkg/notify"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu        sync.Mutex
	sessions  map[string]*models.PaymentSession
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*models.PaymentSession)}
}

func (r *fakeRepo) Create(sess *models.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *sess
	r.sessions[sess.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(id string) (*models.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *fakeRepo) ClaimForExecution(id string) (bool, error) {
	return r.cas(id, models.PaymentStatusCreated, func(s *models.PaymentSession) {
		s.Status = models.PaymentStatusExecuting
	})
}

func (r *fakeRepo) MarkExecuted(id, trxID string, executedAt time.Time) (bool, error) {
	return r.cas(id, models.PaymentStatusExecuting, func(s *models.PaymentSession) {
		s.Status = models.PaymentStatusExecuted
		s.GatewayTrxID = trxID
		t := executedAt
		s.ExecutedAt = &t
	})
}

func (r *fakeRepo) MarkFailed(id, fromStatus, reason string) (bool, error) {
	return r.cas(id, fromStatus, func(s *models.PaymentSession) {
		s.Status = models.PaymentStatusFailed
		s.FailureReason = reason
	})
}

func (r *fakeRepo) MarkCancelled(id string) (bool, error) {
	return r.cas(id, models.PaymentStatusCreated, func(s *models.PaymentSession) {
		s.Status = models.PaymentStatusCancelled
	})
}

func (r *fakeRepo) ClaimEffect(id string, appliedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.EffectAppliedAt != nil {
		return false, nil
	}
	t := appliedAt
	sess.EffectAppliedAt = &t
	return true, nil
}

func (r *fakeRepo) ReleaseEffect(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.EffectAppliedAt = nil
	}
	return nil
}

func (r *fakeRepo) cas(id, from string, apply func(*models.PaymentSession)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.Status != from {
		return false, nil
	}
	apply(sess)
	return true, nil
}

func (r *fakeRepo) status(t *testing.T, id string) string {
	t.Helper()
	sess, err := r.GetByID(id)
	require.NoError(t, err)
	return sess.Status
}

type fakeGateway struct {
	mu           sync.Mutex
	createCalls  int
	executeCalls int
	executeErr   error
	executeDelay time.Duration
	queryResp    *gateway.PaymentStatusResponse
	queryErr     error
}

func (g *fakeGateway) CreatePayment(ctx context.Context, token string, in gateway.CreatePaymentRequest) (*gateway.CreatePaymentResponse, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()
	return &gateway.CreatePaymentResponse{
		StatusCode:  "0000",
		PaymentID:   "GW-100",
		RedirectURL: "https://gw.example/checkout/GW-100",
		InvoiceRef:  in.InvoiceRef,
	}, nil
}

func (g *fakeGateway) ExecutePayment(ctx context.Context, token, paymentID string) (*gateway.ExecutePaymentResponse, error) {
	g.mu.Lock()
	g.executeCalls++
	delay := g.executeDelay
	err := g.executeErr
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &gateway.ExecutePaymentResponse{
		StatusCode:        "0000",
		PaymentID:         paymentID,
		TrxID:             "TRX-" + paymentID,
		TransactionStatus: "Completed",
	}, nil
}

func (g *fakeGateway) QueryPayment(ctx context.Context, token, paymentID string) (*gateway.PaymentStatusResponse, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.queryResp, nil
}

func (g *fakeGateway) executed(t *testing.T) int {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executeCalls
}

type fakeCreds struct{}

func (fakeCreds) Token(ctx context.Context) (string, error) { return "test-token", nil }

type fakeLedger struct {
	mu         sync.Mutex
	applied    []*models.PaymentSession
	applyErr   error
	applyDelay time.Duration
}

func (l *fakeLedger) Apply(ctx context.Context, sess *models.PaymentSession) error {
	l.mu.Lock()
	delay := l.applyDelay
	err := l.applyErr
	l.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *sess
	l.applied = append(l.applied, &cp)
	return nil
}

func (l *fakeLedger) applyCount(t *testing.T) int {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applied)
}

func newTestService(repo Repository, gw GatewayAPI, ledger EffectApplier) *Service {
	return NewService(repo, gw, fakeCreds{}, ledger, notify.NopNotifier{}, Config{
		MinAmount:   10,
		Currency:    "BDT",
		CallbackURL: "https://shop.example/payments/callback",
	})
}

func seedSession(repo *fakeRepo, id string) {
	repo.sessions[id] = &models.PaymentSession{
		ID:         id,
		InvoiceRef: "SG-B-1-abcd1234",
		UserID:     1,
		Intent:     models.PaymentIntentAddBalance,
		Amount:     50,
		Status:     models.PaymentStatusCreated,
	}
}

func TestCreateSessionValidation(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newTestService(repo, gw, &fakeLedger{})
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateSessionInput
	}{
		{name: "missing user", in: CreateSessionInput{Amount: 50, Intent: models.PaymentIntentAddBalance}},
		{name: "amount below minimum", in: CreateSessionInput{UserID: 1, Amount: 5, Intent: models.PaymentIntentAddBalance}},
		{name: "unknown intent", in: CreateSessionInput{UserID: 1, Amount: 50, Intent: "refund"}},
		{name: "unknown plan", in: CreateSessionInput{UserID: 1, Amount: 50, Intent: models.PaymentIntentSubscribe, PlanType: "platinum"}},
	}
	for _, tt := range tests {
		_, err := svc.CreateSession(ctx, tt.in)
		require.ErrorIs(t, err, ErrValidation, tt.name)
	}

	// No gateway call and nothing persisted for any rejected request.
	require.Zero(t, gw.createCalls)
	require.Empty(t, repo.sessions)
}

func TestCreateSessionPersistsAndReturnsRedirect(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newTestService(repo, gw, &fakeLedger{})

	result, err := svc.CreateSession(context.Background(), CreateSessionInput{
		UserID: 7, Amount: 150, Intent: models.PaymentIntentSubscribe, PlanType: "standard",
	})
	require.NoError(t, err)
	require.Equal(t, "GW-100", result.SessionID)
	require.NotEmpty(t, result.RedirectURL)

	sess, err := repo.GetByID("GW-100")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusCreated, sess.Status)
	require.Equal(t, uint(7), sess.UserID)
	require.Equal(t, "standard", sess.PlanType)
}

func TestCreateSessionSurvivesPersistFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.createErr = context.DeadlineExceeded
	gw := &fakeGateway{}
	svc := newTestService(repo, gw, &fakeLedger{})

	// The gateway session was opened, so the caller still gets the redirect.
	result, err := svc.CreateSession(context.Background(), CreateSessionInput{
		UserID: 7, Amount: 150, Intent: models.PaymentIntentAddBalance,
	})
	require.NoError(t, err)
	require.Equal(t, "GW-100", result.SessionID)
}

func TestHandleCallbackIdempotentExecution(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	ledger := &fakeLedger{}
	svc := newTestService(repo, gw, ledger)
	seedSession(repo, "GW-1")
	ctx := context.Background()

	first, err := svc.HandleCallback(ctx, "GW-1", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, ResultExecuted, first.Status)
	require.False(t, first.Replayed)

	second, err := svc.HandleCallback(ctx, "GW-1", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, ResultExecuted, second.Status)
	require.True(t, second.Replayed)

	// Exactly one confirm call and one entitlement effect.
	require.Equal(t, 1, gw.executed(t))
	require.Equal(t, 1, ledger.applyCount(t))

	sess, err := repo.GetByID("GW-1")
	require.NoError(t, err)
	require.Equal(t, "TRX-GW-1", sess.GatewayTrxID)
	require.NotNil(t, sess.EffectAppliedAt)
}

func TestHandleCallbackConcurrentDeliveries(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{executeDelay: 20 * time.Millisecond}
	ledger := &fakeLedger{}
	svc := newTestService(repo, gw, ledger)
	seedSession(repo, "GW-2")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.HandleCallback(context.Background(), "GW-2", OutcomeSuccess)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, gw.executed(t))
	require.Equal(t, 1, ledger.applyCount(t))
	require.Equal(t, models.PaymentStatusExecuted, repo.status(t, "GW-2"))
}

func TestHandleCallbackCancelAndFailure(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	ledger := &fakeLedger{}
	svc := newTestService(repo, gw, ledger)
	ctx := context.Background()

	seedSession(repo, "GW-3")
	result, err := svc.HandleCallback(ctx, "GW-3", OutcomeCancel)
	require.NoError(t, err)
	require.Equal(t, ResultCancelled, result.Status)
	require.Equal(t, models.PaymentStatusCancelled, repo.status(t, "GW-3"))

	seedSession(repo, "GW-4")
	result, err = svc.HandleCallback(ctx, "GW-4", OutcomeFailure)
	require.NoError(t, err)
	require.Equal(t, ResultFailed, result.Status)

	// A late success delivery cannot resurrect either session.
	result, err = svc.HandleCallback(ctx, "GW-3", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, ResultCancelled, result.Status)
	result, err = svc.HandleCallback(ctx, "GW-4", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, ResultFailed, result.Status)
	require.Zero(t, gw.executed(t))
	require.Zero(t, ledger.applyCount(t))
}

func TestHandleCallbackTerminalStatesAreMonotonic(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newTestService(repo, gw, &fakeLedger{})
	ctx := context.Background()
	seedSession(repo, "GW-5")

	_, err := svc.HandleCallback(ctx, "GW-5", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusExecuted, repo.status(t, "GW-5"))

	// Neither cancel nor failure moves an executed session.
	result, err := svc.HandleCallback(ctx, "GW-5", OutcomeCancel)
	require.NoError(t, err)
	require.Equal(t, ResultExecuted, result.Status)
	result, err = svc.HandleCallback(ctx, "GW-5", OutcomeFailure)
	require.NoError(t, err)
	require.Equal(t, ResultExecuted, result.Status)
	require.Equal(t, models.PaymentStatusExecuted, repo.status(t, "GW-5"))
}

func TestHandleCallbackGatewayErrorFailsSession(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{executeErr: gateway.ErrGatewayRequest}
	ledger := &fakeLedger{}
	svc := newTestService(repo, gw, ledger)
	seedSession(repo, "GW-6")

	result, err := svc.HandleCallback(context.Background(), "GW-6", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, ResultFailed, result.Status)
	require.Equal(t, models.PaymentStatusFailed, repo.status(t, "GW-6"))
	require.Zero(t, ledger.applyCount(t))

	sess, _ := repo.GetByID("GW-6")
	require.NotEmpty(t, sess.FailureReason)
}

func TestHandleCallbackRecoversMissingSession(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{
		queryResp: &gateway.PaymentStatusResponse{
			StatusCode: "0000",
			PaymentID:  "GW-7",
			Amount:     "75.50",
			InvoiceRef: "SG-B-9-deadbeef",
		},
	}
	ledger := &fakeLedger{}
	svc := newTestService(repo, gw, ledger)

	result, err := svc.HandleCallback(context.Background(), "GW-7", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, ResultExecuted, result.Status)

	sess, err := repo.GetByID("GW-7")
	require.NoError(t, err)
	require.True(t, sess.Recovered)
	require.Equal(t, uint(9), sess.UserID)
	require.Equal(t, models.PaymentIntentAddBalance, sess.Intent)
	require.InDelta(t, 75.50, sess.Amount, 0.001)
	require.Equal(t, 1, ledger.applyCount(t))
}

func TestHandleCallbackUnresolvableSession(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{queryErr: gateway.ErrGatewayRequest}
	svc := newTestService(repo, gw, &fakeLedger{})

	_, err := svc.HandleCallback(context.Background(), "GW-8", OutcomeSuccess)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHandleCallbackEntitlementFailureStillSucceeds(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	ledger := &fakeLedger{applyErr: context.DeadlineExceeded}
	svc := newTestService(repo, gw, ledger)
	seedSession(repo, "GW-9")

	// Money moved at the gateway; the payer must not see a failed payment.
	result, err := svc.HandleCallback(context.Background(), "GW-9", OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, ResultExecuted, result.Status)
	require.Equal(t, models.PaymentStatusExecuted, repo.status(t, "GW-9"))

	// The effect was never recorded as applied, so the operator can retry.
	sess, _ := repo.GetByID("GW-9")
	require.Nil(t, sess.EffectAppliedAt)

	ledger.applyErr = nil
	require.NoError(t, svc.ReapplyEffect(context.Background(), "GW-9"))
	require.Equal(t, 1, ledger.applyCount(t))

	// A second reapply is a no-op.
	require.NoError(t, svc.ReapplyEffect(context.Background(), "GW-9"))
	require.Equal(t, 1, ledger.applyCount(t))
}

func TestReapplyEffectConcurrentCallsApplyOnce(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	// A slow ledger keeps the first caller inside Apply while the second
	// arrives, so the claim is what prevents a double credit.
	ledger := &fakeLedger{applyDelay: 30 * time.Millisecond}
	svc := newTestService(repo, gw, ledger)

	seedSession(repo, "GW-10")
	repo.sessions["GW-10"].Status = models.PaymentStatusExecuted

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, svc.ReapplyEffect(context.Background(), "GW-10"))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ledger.applyCount(t))
	sess, err := repo.GetByID("GW-10")
	require.NoError(t, err)
	require.NotNil(t, sess.EffectAppliedAt)
}

func TestReapplyEffectRacingCallbackAppliesOnce(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	ledger := &fakeLedger{applyDelay: 30 * time.Millisecond}
	svc := newTestService(repo, gw, ledger)
	seedSession(repo, "GW-11")

	// The operator hammers re-apply while the live callback is executing.
	// Before the session reaches executed the re-apply is rejected; once
	// it is executed the claim keeps the effect single.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.HandleCallback(context.Background(), "GW-11", OutcomeSuccess)
		require.NoError(t, err)
	}()
	for i := 0; i < 5; i++ {
		_ = svc.ReapplyEffect(context.Background(), "GW-11")
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	require.Equal(t, 1, ledger.applyCount(t))
}

type recordingNotifier struct {
	mu    sync.Mutex
	types []string
}

func (n *recordingNotifier) Notify(userID uint, notificationType, title, message, actionLink string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, notificationType)
	return nil
}

func TestNotificationTypeMatchesIntent(t *testing.T) {
	repo := newFakeRepo()
	notifier := &recordingNotifier{}
	svc := NewService(repo, &fakeGateway{}, fakeCreds{}, &fakeLedger{}, notifier, Config{
		MinAmount:   10,
		CallbackURL: "https://shop.example/payments/callback",
	})
	ctx := context.Background()

	seedSession(repo, "GW-12")
	repo.sessions["GW-13"] = &models.PaymentSession{
		ID:         "GW-13",
		InvoiceRef: "SG-S-2-premium-abcd1234",
		UserID:     2,
		Intent:     models.PaymentIntentSubscribe,
		PlanType:   "premium",
		Amount:     500,
		Status:     models.PaymentStatusCreated,
	}

	_, err := svc.HandleCallback(ctx, "GW-12", OutcomeSuccess)
	require.NoError(t, err)
	_, err = svc.HandleCallback(ctx, "GW-13", OutcomeSuccess)
	require.NoError(t, err)

	require.Equal(t, []string{"payment", "subscription"}, notifier.types)
}

func TestHandleCallbackRejectsBadInput(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeGateway{}, &fakeLedger{})

	_, err := svc.HandleCallback(context.Background(), "", OutcomeSuccess)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.HandleCallback(context.Background(), "GW-1", "maybe")
	require.ErrorIs(t, err, ErrValidation)
}
