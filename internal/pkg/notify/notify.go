package notify

import (
	"log"

	"github.com/shopgridhq/shopgrid/app/models"
	"gorm.io/gorm"
)

// Notifier informs a user about an outcome. Delivery is fire-and-forget:
// implementations may fail, callers only log.
type Notifier interface {
	Notify(userID uint, notificationType, title, message, actionLink string) error
}

type dbNotifier struct {
	db *gorm.DB
}

// NewDBNotifier returns a Notifier that writes in-app notification rows. The
// actual push/delivery channel picks them up out of process.
func NewDBNotifier(db *gorm.DB) Notifier {
	return &dbNotifier{db: db}
}

func (n *dbNotifier) Notify(userID uint, notificationType, title, message, actionLink string) error {
	return models.CreateNotification(n.db, userID, notificationType, title, message, actionLink)
}

// NopNotifier swallows notifications; used in tests and when no channel is
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(userID uint, notificationType, title, message, actionLink string) error {
	log.Printf("notification dropped (no channel): user=%d type=%s title=%s", userID, notificationType, title)
	return nil
}
