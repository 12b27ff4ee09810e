package models

import "time"

// Payment intents supported by the reconciliation engine.
const (
	PaymentIntentAddBalance = "add_balance"
	PaymentIntentSubscribe  = "subscribe"
)

// Payment session lifecycle states. Transitions out of created are
// conditional writes; executed, failed and cancelled are terminal.
const (
	PaymentStatusCreated   = "created"
	PaymentStatusExecuting = "executing"
	PaymentStatusExecuted  = "executed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// PaymentSession is one payment attempt, keyed by the gateway-assigned
// session id. Rows are never deleted; they are the audit trail for every
// money movement the engine has seen.
type PaymentSession struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	InvoiceRef    string     `gorm:"type:varchar(100);not null;uniqueIndex" json:"invoice_ref"`
	UserID        uint       `gorm:"not null;index" json:"user_id"`
	Intent        string     `gorm:"type:varchar(20);not null" json:"intent"`
	PlanType      string     `gorm:"type:varchar(50);default:''" json:"plan_type,omitempty"`
	Amount        float64    `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status        string     `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	GatewayTrxID  string     `gorm:"type:varchar(100);default:''" json:"gateway_trx_id,omitempty"`
	FailureReason string     `gorm:"type:text" json:"failure_reason,omitempty"`
	// Recovered marks sessions the callback handler had to rebuild from
	// gateway metadata because the local write in CreateSession failed.
	Recovered bool `gorm:"default:false;index" json:"recovered"`
	// EffectAppliedAt records when the entitlement effect for this session
	// was applied; an executed session without it is a reconciliation case.
	EffectAppliedAt *time.Time `gorm:"type:timestamp;default:null" json:"effect_applied_at,omitempty"`
	ExecutedAt      *time.Time `gorm:"type:timestamp;default:null" json:"executed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no further status transition is permitted.
func (p *PaymentSession) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusExecuted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}
