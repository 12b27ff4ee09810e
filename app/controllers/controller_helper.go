package controllers

import (
	"github.com/shopgridhq/shopgrid/internal/pkg/entitlements"
	"github.com/shopgridhq/shopgrid/internal/pkg/payments"
)

// Service singletons, wired once at application bootstrap. Kept explicit
// instead of constructed ad hoc inside handlers so the gateway credential
// cache is shared across all requests in the process.
var (
	paymentService *payments.Service
	quotaService   *entitlements.Quota
)

// SetupServices injects the service singletons used by the controllers.
func SetupServices(ps *payments.Service, qs *entitlements.Quota) {
	paymentService = ps
	quotaService = qs
}
