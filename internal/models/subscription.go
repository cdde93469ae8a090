package models

import "time"

// PlanTrial название тарифа пробного периода.
const PlanTrial = "trial"

// Subscription запись о праве доступа абонента. Активной может быть
// не более одной записи на абонента.
type Subscription struct {
	ID             int64     `json:"id"`
	IdentityID     int64     `json:"identity_id"`
	Plan           string    `json:"plan"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
	Notified24h    bool      `json:"notified_24h"`
	Notified0h     bool      `json:"notified_0h"`
	ExpiredHandled bool      `json:"expired_handled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Unexpired сообщает, действует ли подписка на момент now.
func (s *Subscription) Unexpired(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

// DueSubscription подписка, выбранная планировщиком, вместе с абонентом.
type DueSubscription struct {
	Subscription
	IdentityUUID string
	ExternalID   string
	Email        string
}

// ReminderKind флаг напоминания, который выставляет планировщик.
type ReminderKind string

const (
	Reminder24h ReminderKind = "notified_24h"
	Reminder0h  ReminderKind = "notified_0h"
)
