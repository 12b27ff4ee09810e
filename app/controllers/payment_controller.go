package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopgridhq/shopgrid/internal/pkg/gateway"
	"github.com/shopgridhq/shopgrid/internal/pkg/payments"
	"github.com/shopgridhq/shopgrid/internal/pkg/usercontext"
)

type initiatePaymentRequest struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Intent   string  `json:"intent" validate:"required,oneof=add_balance subscribe"`
	PlanType string  `json:"plan_type" validate:"max=50"`
}

// HandleInitiatePayment opens a payment session and returns the gateway
// redirect URL.
func HandleInitiatePayment(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	var req initiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validator.New().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	result, err := paymentService.CreateSession(ctx, payments.CreateSessionInput{
		UserID:   userID,
		Amount:   req.Amount,
		Intent:   req.Intent,
		PlanType: req.PlanType,
	})
	if err != nil {
		if errors.Is(err, payments.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
		}
		if errors.Is(err, gateway.ErrGatewayAuth) || errors.Is(err, gateway.ErrGatewayRequest) {
			log.Printf("payment initiation failed for user %d: %v", userID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable", "message": "Payment provider is unavailable, please try again"})
		}
		log.Printf("payment initiation failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandlePaymentCallback is the gateway's redirect/webhook target. It may be
// invoked any number of times per session.
func HandlePaymentCallback(c *fiber.Ctx) error {
	sessionID := c.Query("paymentID")
	outcome := c.Query("status")

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	result, err := paymentService.HandleCallback(ctx, sessionID, outcome)
	if err != nil {
		if errors.Is(err, payments.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		}
		if errors.Is(err, payments.ErrSessionNotFound) {
			log.Printf("callback for unresolvable session %q: %v", sessionID, err)
			return c.Redirect("/payment/result?status=unknown", fiber.StatusSeeOther)
		}
		log.Printf("callback processing failed for session %q: %v", sessionID, err)
		return c.Redirect(fmt.Sprintf("/payment/result?status=error&session=%s", sessionID), fiber.StatusSeeOther)
	}

	return c.Redirect(fmt.Sprintf("/payment/result?status=%s&session=%s", result.Status, result.SessionID), fiber.StatusSeeOther)
}

// HandleReapplyEffect lets an operator re-run the entitlement effect for an
// executed session flagged by reconciliation.
func HandleReapplyEffect(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	if err := paymentService.ReapplyEffect(ctx, sessionID); err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown session"})
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
