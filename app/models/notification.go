package models

import (
	"time"

	"gorm.io/gorm"
)

type Notification struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"index" json:"user_id"`
	User       User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Type       string         `gorm:"type:varchar(50)" json:"type" validate:"oneof=payment subscription quota system"`
	Title      string         `gorm:"type:varchar(200)" json:"title"`
	Content    string         `gorm:"type:text" json:"content"`
	ActionLink string         `gorm:"type:varchar(255);default:''" json:"action_link"`
	IsRead     bool           `gorm:"default:false" json:"is_read"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// MarkAsRead marks a notification as read
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}

// CreateNotification creates a new in-app notification
func CreateNotification(db *gorm.DB, userID uint, notificationType string, title string, content string, actionLink string) error {
	notification := Notification{
		UserID:     userID,
		Type:       notificationType,
		Title:      title,
		Content:    content,
		ActionLink: actionLink,
		IsRead:     false,
	}

	return db.Create(&notification).Error
}
