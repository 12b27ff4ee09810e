package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopgridhq/shopgrid/app/models"
	"github.com/shopgridhq/shopgrid/internal/pkg/database"
	"github.com/shopgridhq/shopgrid/internal/pkg/entitlements"
	"github.com/shopgridhq/shopgrid/internal/pkg/usercontext"
	"gorm.io/gorm"
)

// HandleGetAccount returns the caller's balance, subscription state and
// remaining feature allowances.
func HandleGetAccount(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	db := database.GetDB()

	var user models.User
	if err := db.Select("id", "name", "email", "shop_name", "balance").Where("id = ?", userID).First(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	resp := fiber.Map{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"shop_name": user.ShopName,
		"balance":   user.Balance,
	}

	var sub models.Subscription
	err := db.Where("user_id = ?", userID).First(&sub).Error
	switch {
	case err == nil:
		resp["subscription"] = sub
		if remaining, rerr := quotaService.RemainingAll(c.Context(), userID); rerr == nil {
			resp["feature_remaining"] = remaining
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		resp["subscription"] = nil
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(resp)
}

// HandleConsumeFeature reserves one unit of a metered feature's monthly
// allowance for the caller. The rest of the application calls this before
// performing the metered action.
func HandleConsumeFeature(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	feature := entitlements.Feature(c.Params("feature"))

	decision, err := quotaService.CheckAndConsume(c.Context(), userID, feature)
	if err != nil {
		if errors.Is(err, entitlements.ErrNoActiveSubscription) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error": "no_active_subscription", "allowed": false, "remaining": 0,
			})
		}
		if errors.Is(err, entitlements.ErrQuotaExceeded) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "quota_exceeded", "allowed": false, "remaining": 0,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(decision)
}

// HandlePeekFeature reports the remaining allowance without consuming any.
func HandlePeekFeature(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	feature := entitlements.Feature(c.Params("feature"))

	decision, err := quotaService.Peek(c.Context(), userID, feature)
	if err != nil {
		if errors.Is(err, entitlements.ErrNoActiveSubscription) || errors.Is(err, entitlements.ErrQuotaExceeded) {
			return c.JSON(entitlements.Decision{Allowed: false, Remaining: 0})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(decision)
}
