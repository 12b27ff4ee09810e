package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusInactive = "inactive"
)

// Subscription is the current subscription state for a user. One row per
// user, upserted in place on renewal.
type Subscription struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanType    string    `gorm:"type:varchar(50);not null" json:"plan_type"`
	Status      string    `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	PeriodStart time.Time `gorm:"type:timestamp;not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"type:timestamp;not null;index" json:"period_end"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Usages []SubscriptionUsage `gorm:"foreignKey:SubscriptionID" json:"usages,omitempty"`
}

// IsCurrent reports whether the subscription entitles the user right now.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.PeriodEnd.After(now)
}

// SubscriptionUsage tracks consumed monthly allowance for one metered
// feature within the current period. Counters are reset when a renewal is
// applied.
type SubscriptionUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index:ux_subscription_usages_sub_feature,unique,priority:1" json:"subscription_id"`
	Feature        string    `gorm:"type:varchar(50);not null;index:ux_subscription_usages_sub_feature,unique,priority:2" json:"feature"`
	UsedCount      int       `gorm:"not null;default:0" json:"used_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
