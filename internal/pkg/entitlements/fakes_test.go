package entitlements

import (
	"fmt"
	"sync"

	"github.com/shopgridhq/shopgrid/app/models"
	"gorm.io/gorm"
)

// memRepo is an in-memory Repository with the same atomicity guarantees as
// the GORM implementation: balance adds and usage consumption are performed
// under a single lock.
type memRepo struct {
	mu        sync.Mutex
	balances  map[uint]float64
	subs      map[uint]*models.Subscription
	usage     map[string]int
	nextSubID uint
}

func newMemRepo() *memRepo {
	return &memRepo{
		balances: make(map[uint]float64),
		subs:     make(map[uint]*models.Subscription),
		usage:    make(map[string]int),
	}
}

func usageKey(subscriptionID uint, feature string) string {
	return fmt.Sprintf("%d:%s", subscriptionID, feature)
}

func (r *memRepo) AddBalance(userID uint, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] += amount
	return nil
}

func (r *memRepo) GetBalance(userID uint) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *memRepo) CurrentSubscription(userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *memRepo) UpsertSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.subs[sub.UserID]; ok {
		sub.ID = existing.ID
	} else {
		r.nextSubID++
		sub.ID = r.nextSubID
	}
	cp := *sub
	r.subs[sub.UserID] = &cp
	return nil
}

func (r *memRepo) ResetUsage(subscriptionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := fmt.Sprintf("%d:", subscriptionID)
	for key := range r.usage {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			r.usage[key] = 0
		}
	}
	return nil
}

func (r *memRepo) EnsureUsageRow(subscriptionID uint, feature string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey(subscriptionID, feature)
	if _, ok := r.usage[key]; !ok {
		r.usage[key] = 0
	}
	return nil
}

func (r *memRepo) ConsumeUsage(subscriptionID uint, feature string, limit int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey(subscriptionID, feature)
	if r.usage[key] >= limit {
		return false, nil
	}
	r.usage[key]++
	return true, nil
}

func (r *memRepo) IncrementUsage(subscriptionID uint, feature string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage[usageKey(subscriptionID, feature)]++
	return nil
}

func (r *memRepo) GetUsage(subscriptionID uint, feature string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	used, ok := r.usage[usageKey(subscriptionID, feature)]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	return used, nil
}

func (r *memRepo) ListUsage(subscriptionID uint) ([]models.SubscriptionUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := fmt.Sprintf("%d:", subscriptionID)
	var out []models.SubscriptionUsage
	for key, used := range r.usage {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, models.SubscriptionUsage{
				SubscriptionID: subscriptionID,
				Feature:        key[len(prefix):],
				UsedCount:      used,
			})
		}
	}
	return out, nil
}
