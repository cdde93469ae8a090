package models

import "time"

// Ключи маршрутизации уведомлений.
const (
	NotifyReminderUpcoming = "reminder.upcoming"
	NotifyReminderToday    = "reminder.today"
	NotifyExpired          = "subscription.expired"
)

// Notification сообщение о подписке, которое получает сервис рассылки.
type Notification struct {
	Kind         string    `json:"kind"`
	IdentityUUID string    `json:"identity_uuid"`
	ExternalID   string    `json:"external_id"`
	Email        string    `json:"email,omitempty"`
	Plan         string    `json:"plan"`
	ExpiresAt    time.Time `json:"expires_at"`
}
