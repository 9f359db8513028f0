package model

import "time"

// PushSubscription holds a browser push subscription for check-in
// notifications on a resource.
type PushSubscription struct {
	Endpoint   string    `gorm:"primaryKey"`
	ResourceID string    `gorm:"index;size:64;not null"`
	P256DH     string    `gorm:"column:p256dh;not null"`
	Auth       string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}
