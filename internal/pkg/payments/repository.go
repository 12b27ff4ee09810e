package payments

import (
	"errors"
	"time"

	"github.com/shopgridhq/shopgrid/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations for payment sessions. Status transitions
// are conditional writes so that concurrent callback deliveries cannot move a
// session out of a terminal state.
type Repository interface {
	Create(sess *models.PaymentSession) error
	GetByID(id string) (*models.PaymentSession, error)
	// ClaimForExecution transitions created -> executing and reports whether
	// this caller won the claim.
	ClaimForExecution(id string) (bool, error)
	// MarkExecuted transitions executing -> executed and records the gateway
	// transaction id.
	MarkExecuted(id, trxID string, executedAt time.Time) (bool, error)
	// MarkFailed transitions from the given status to failed with a reason.
	MarkFailed(id, fromStatus, reason string) (bool, error)
	// MarkCancelled transitions created -> cancelled.
	MarkCancelled(id string) (bool, error)
	// ClaimEffect sets the effect-applied marker if it is still unset and
	// reports whether this caller won it. The effect runs only under a won
	// claim, so concurrent re-applies cannot double-credit.
	ClaimEffect(id string, appliedAt time.Time) (bool, error)
	// ReleaseEffect clears the marker after a failed effect application so a
	// later re-apply can claim it again.
	ReleaseEffect(id string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment session repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(sess *models.PaymentSession) error {
	return r.db.Create(sess).Error
}

func (r *gormRepository) GetByID(id string) (*models.PaymentSession, error) {
	var sess models.PaymentSession
	err := r.db.Where("id = ?", id).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (r *gormRepository) ClaimForExecution(id string) (bool, error) {
	return r.transition(id, models.PaymentStatusCreated, map[string]interface{}{
		"status": models.PaymentStatusExecuting,
	})
}

func (r *gormRepository) MarkExecuted(id, trxID string, executedAt time.Time) (bool, error) {
	return r.transition(id, models.PaymentStatusExecuting, map[string]interface{}{
		"status":         models.PaymentStatusExecuted,
		"gateway_trx_id": trxID,
		"executed_at":    executedAt,
	})
}

func (r *gormRepository) MarkFailed(id, fromStatus, reason string) (bool, error) {
	return r.transition(id, fromStatus, map[string]interface{}{
		"status":         models.PaymentStatusFailed,
		"failure_reason": reason,
	})
}

func (r *gormRepository) MarkCancelled(id string) (bool, error) {
	return r.transition(id, models.PaymentStatusCreated, map[string]interface{}{
		"status": models.PaymentStatusCancelled,
	})
}

func (r *gormRepository) ClaimEffect(id string, appliedAt time.Time) (bool, error) {
	tx := r.db.Model(&models.PaymentSession{}).
		Where("id = ? AND effect_applied_at IS NULL", id).
		Update("effect_applied_at", appliedAt)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ReleaseEffect(id string) error {
	return r.db.Model(&models.PaymentSession{}).
		Where("id = ?", id).
		Update("effect_applied_at", nil).Error
}

// transition performs a compare-and-swap status update; the WHERE clause on
// the current status is the cross-process mutual exclusion primitive.
func (r *gormRepository) transition(id, fromStatus string, updates map[string]interface{}) (bool, error) {
	tx := r.db.Model(&models.PaymentSession{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
