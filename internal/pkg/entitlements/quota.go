package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/shopgridhq/shopgrid/app/models"
	"gorm.io/gorm"
)

// ErrNoActiveSubscription means the user has no subscription entitling them
// to metered features right now.
var ErrNoActiveSubscription = errors.New("no active subscription")

// ErrQuotaExceeded means the feature's monthly allowance is used up.
var ErrQuotaExceeded = errors.New("feature quota exceeded")

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// Quota enforces per-feature monthly allowances against the user's active
// subscription.
type Quota struct {
	repo Repository
	now  func() time.Time

	cacheGet func(userID uint) (string, bool)
	cacheSet func(userID uint, plan string)
}

// NewQuota creates a quota enforcer from an injected repository.
func NewQuota(repo Repository) *Quota {
	return &Quota{
		repo:     repo,
		now:      time.Now,
		cacheGet: cachedPlan,
		cacheSet: cachePlan,
	}
}

// NewQuotaFromDB creates a quota enforcer from a GORM DB handle.
func NewQuotaFromDB(db *gorm.DB) *Quota {
	return NewQuota(NewRepository(db))
}

// CheckAndConsume reserves one unit of the feature's allowance. The check
// and the increment are a single conditional write, so two concurrent
// requests can never both pass on the last remaining unit.
func (q *Quota) CheckAndConsume(ctx context.Context, userID uint, feature Feature) (Decision, error) {
	_ = ctx
	sub, limit, err := q.activeLimit(userID, feature)
	if err != nil {
		return Decision{}, err
	}

	if err := q.repo.EnsureUsageRow(sub.ID, string(feature)); err != nil {
		return Decision{}, err
	}

	consumed, err := q.repo.ConsumeUsage(sub.ID, string(feature), limit)
	if err != nil {
		return Decision{}, err
	}
	if !consumed {
		return Decision{Allowed: false, Remaining: 0}, ErrQuotaExceeded
	}

	used, err := q.repo.GetUsage(sub.ID, string(feature))
	if err != nil {
		// The unit is reserved; a failed readback should not block the action.
		return Decision{Allowed: true, Remaining: 0}, nil
	}
	// Remaining is counted at decision time, so the unit just granted is
	// included: one remaining unit yields allowed=true, remaining=1.
	return Decision{Allowed: true, Remaining: remaining(limit, used-1)}, nil
}

// RecordUsage unconditionally increments a feature counter, for actions
// metered after the fact.
func (q *Quota) RecordUsage(ctx context.Context, userID uint, feature Feature) error {
	_ = ctx
	sub, _, err := q.activeLimit(userID, feature)
	if err != nil {
		return err
	}
	if err := q.repo.EnsureUsageRow(sub.ID, string(feature)); err != nil {
		return err
	}
	return q.repo.IncrementUsage(sub.ID, string(feature))
}

// Peek reports the remaining allowance without consuming any of it.
func (q *Quota) Peek(ctx context.Context, userID uint, feature Feature) (Decision, error) {
	_ = ctx
	sub, limit, err := q.activeLimit(userID, feature)
	if err != nil {
		return Decision{}, err
	}

	used, err := q.repo.GetUsage(sub.ID, string(feature))
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Decision{}, err
	}
	rem := remaining(limit, used)
	return Decision{Allowed: rem > 0, Remaining: rem}, nil
}

// RemainingAll returns the remaining allowance for every feature the user's
// plan covers. Used by account/status screens.
func (q *Quota) RemainingAll(ctx context.Context, userID uint) (map[Feature]int, error) {
	_ = ctx
	sub, err := q.activeSubscription(userID)
	if err != nil {
		return nil, err
	}

	plan, _ := ParsePlan(sub.PlanType)
	usages, err := q.repo.ListUsage(sub.ID)
	if err != nil {
		return nil, err
	}
	used := make(map[Feature]int, len(usages))
	for _, u := range usages {
		used[Feature(u.Feature)] = u.UsedCount
	}

	out := make(map[Feature]int)
	for _, f := range FeaturesFor(plan) {
		limit, _ := LimitFor(plan, f)
		out[f] = remaining(limit, used[f])
	}
	return out, nil
}

// EffectivePlan resolves the user's current plan, preferring the cache and
// falling back to the subscription row.
func (q *Quota) EffectivePlan(ctx context.Context, userID uint) (Plan, error) {
	_ = ctx
	if plan, ok := q.cacheGet(userID); ok {
		return Plan(plan), nil
	}
	sub, err := q.activeSubscription(userID)
	if err != nil {
		return "", err
	}
	plan, _ := ParsePlan(sub.PlanType)
	q.cacheSet(userID, string(plan))
	return plan, nil
}

func (q *Quota) activeSubscription(userID uint) (*models.Subscription, error) {
	sub, err := q.repo.CurrentSubscription(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if !sub.IsCurrent(q.now()) {
		return nil, ErrNoActiveSubscription
	}
	return sub, nil
}

func (q *Quota) activeLimit(userID uint, feature Feature) (*models.Subscription, int, error) {
	sub, err := q.activeSubscription(userID)
	if err != nil {
		return nil, 0, err
	}
	plan, ok := ParsePlan(sub.PlanType)
	if !ok {
		return nil, 0, ErrNoActiveSubscription
	}
	limit, ok := LimitFor(plan, feature)
	if !ok || limit <= 0 {
		return nil, 0, ErrQuotaExceeded
	}
	return sub, limit, nil
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
