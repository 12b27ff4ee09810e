package entitlements

import (
	"fmt"
	"log"
	"time"

	"github.com/shopgridhq/shopgrid/internal/pkg/cache"
)

const planCacheTTL = 5 * time.Minute

func planCacheKey(userID uint) string {
	return fmt.Sprintf("entitlements:plan:%d", userID)
}

func invalidatePlanCache(userID uint) {
	if err := cache.Delete(planCacheKey(userID)); err != nil {
		log.Printf("failed to invalidate plan cache for user %d: %v", userID, err)
	}
}

func cachePlan(userID uint, plan string) {
	if err := cache.Set(planCacheKey(userID), plan, planCacheTTL); err != nil {
		log.Printf("failed to cache plan for user %d: %v", userID, err)
	}
}

func cachedPlan(userID uint) (string, bool) {
	plan, err := cache.Get(planCacheKey(userID))
	if err != nil || plan == "" {
		return "", false
	}
	return plan, true
}
