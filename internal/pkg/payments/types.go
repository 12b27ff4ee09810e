package payments

import "errors"

// Callback outcomes reported by the gateway redirect/webhook.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeCancel  = "cancel"
)

// Callback result statuses returned to the HTTP layer for redirecting the
// payer.
const (
	ResultExecuted   = "executed"
	ResultFailed     = "failed"
	ResultCancelled  = "cancelled"
	ResultProcessing = "processing"
)

// ErrValidation covers rejected payment requests. No gateway call has been
// made and nothing was persisted; the message is safe to show the user.
var ErrValidation = errors.New("invalid payment request")

// ErrSessionNotFound is returned when a callback references a session the
// engine cannot resolve locally or at the gateway.
var ErrSessionNotFound = errors.New("payment session not found")

// CreateSessionInput is a validated request to open a payment session.
type CreateSessionInput struct {
	UserID   uint
	Amount   float64
	Intent   string
	PlanType string
}

// CreateSessionResult carries the gateway session id and payer redirect URL.
type CreateSessionResult struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// CallbackResult tells the HTTP layer how the callback concluded.
type CallbackResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	// Replayed is set when an already-executed session was re-delivered and
	// the handler short-circuited without touching the gateway.
	Replayed bool `json:"replayed,omitempty"`
}
