package entitlements

import (
	"github.com/shopgridhq/shopgrid/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations for balances, subscriptions and usage
// counters. Balance credits and usage consumption are single atomic writes;
// the engine never does read-modify-write against money or counters.
type Repository interface {
	AddBalance(userID uint, amount float64) error
	GetBalance(userID uint) (float64, error)
	CurrentSubscription(userID uint) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	ResetUsage(subscriptionID uint) error
	EnsureUsageRow(subscriptionID uint, feature string) error
	// ConsumeUsage increments the counter only while it is below limit and
	// reports whether the increment happened.
	ConsumeUsage(subscriptionID uint, feature string, limit int) (bool, error)
	IncrementUsage(subscriptionID uint, feature string) error
	GetUsage(subscriptionID uint, feature string) (int, error)
	ListUsage(subscriptionID uint) ([]models.SubscriptionUsage, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an entitlement repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) AddBalance(userID uint, amount float64) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error
}

func (r *gormRepository) GetBalance(userID uint) (float64, error) {
	var user models.User
	if err := r.db.Select("balance").Where("id = ?", userID).First(&user).Error; err != nil {
		return 0, err
	}
	return user.Balance, nil
}

func (r *gormRepository) CurrentSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).
		Order("period_start DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_type",
			"status",
			"period_start",
			"period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) ResetUsage(subscriptionID uint) error {
	return r.db.Model(&models.SubscriptionUsage{}).
		Where("subscription_id = ?", subscriptionID).
		Update("used_count", 0).Error
}

func (r *gormRepository) EnsureUsageRow(subscriptionID uint, feature string) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "feature"}},
		DoNothing: true,
	}).Create(&models.SubscriptionUsage{
		SubscriptionID: subscriptionID,
		Feature:        feature,
	}).Error
}

func (r *gormRepository) ConsumeUsage(subscriptionID uint, feature string, limit int) (bool, error) {
	tx := r.db.Model(&models.SubscriptionUsage{}).
		Where("subscription_id = ? AND feature = ? AND used_count < ?", subscriptionID, feature, limit).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) IncrementUsage(subscriptionID uint, feature string) error {
	return r.db.Model(&models.SubscriptionUsage{}).
		Where("subscription_id = ? AND feature = ?", subscriptionID, feature).
		UpdateColumn("used_count", gorm.Expr("used_count + 1")).Error
}

func (r *gormRepository) GetUsage(subscriptionID uint, feature string) (int, error) {
	var usage models.SubscriptionUsage
	err := r.db.Where("subscription_id = ? AND feature = ?", subscriptionID, feature).
		First(&usage).Error
	if err != nil {
		return 0, err
	}
	return usage.UsedCount, nil
}

func (r *gormRepository) ListUsage(subscriptionID uint) ([]models.SubscriptionUsage, error) {
	var usages []models.SubscriptionUsage
	err := r.db.Where("subscription_id = ?", subscriptionID).Find(&usages).Error
	return usages, err
}
