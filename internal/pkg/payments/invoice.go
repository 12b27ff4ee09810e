package payments

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopgridhq/shopgrid/app/models"
)

// Invoice references must be unique per attempt and carry enough identity to
// re-derive the payment effect when the local session row is missing:
//
//	SG-B-<userID>-<suffix>          add_balance
//	SG-S-<userID>-<planType>-<suffix>  subscribe
//
// The suffix is the first segment of a v4 UUID, so a retried client request
// can never collide with a prior attempt's reference.
const invoicePrefix = "SG"

const (
	intentCodeBalance   = "B"
	intentCodeSubscribe = "S"
)

// NewInvoiceRef builds a fresh invoice reference for one payment attempt.
func NewInvoiceRef(userID uint, intent, planType string) string {
	suffix := strings.SplitN(uuid.New().String(), "-", 2)[0]
	if intent == models.PaymentIntentSubscribe {
		return fmt.Sprintf("%s-%s-%d-%s-%s", invoicePrefix, intentCodeSubscribe, userID, planType, suffix)
	}
	return fmt.Sprintf("%s-%s-%d-%s", invoicePrefix, intentCodeBalance, userID, suffix)
}

// ParseInvoiceRef recovers the user id, intent and plan type encoded in an
// invoice reference.
func ParseInvoiceRef(ref string) (userID uint, intent string, planType string, err error) {
	parts := strings.Split(strings.TrimSpace(ref), "-")
	if len(parts) < 4 || parts[0] != invoicePrefix {
		return 0, "", "", fmt.Errorf("malformed invoice ref %q", ref)
	}

	id, convErr := strconv.ParseUint(parts[2], 10, 32)
	if convErr != nil || id == 0 {
		return 0, "", "", fmt.Errorf("invoice ref %q has invalid user id", ref)
	}

	switch parts[1] {
	case intentCodeBalance:
		if len(parts) != 4 {
			return 0, "", "", fmt.Errorf("malformed invoice ref %q", ref)
		}
		return uint(id), models.PaymentIntentAddBalance, "", nil
	case intentCodeSubscribe:
		if len(parts) != 5 || parts[3] == "" {
			return 0, "", "", fmt.Errorf("malformed invoice ref %q", ref)
		}
		return uint(id), models.PaymentIntentSubscribe, parts[3], nil
	}
	return 0, "", "", fmt.Errorf("invoice ref %q has unknown intent code %q", ref, parts[1])
}
