// Package models содержит доменные структуры сервиса: абонентов, узлы,
// подписки, учётные записи на узлах и платежи. Структуры используются
// в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Identity представляет абонента. UUID неизменяем и используется
// как идентификатор клиента на каждом узле.
type Identity struct {
	ID         int64     `json:"id"`
	UUID       string    `json:"uuid"`
	ExternalID string    `json:"external_id"` // Внешний идентификатор (например, chat id)
	Email      string    `json:"email,omitempty"`
	TrialUsed  bool      `json:"trial_used"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DummyIdentity используется для приёма данных из JSON-запроса.
type DummyIdentity struct {
	ExternalID string `json:"external_id" validate:"required"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}
