package models

import "time"

// Credential последний известный результат синхронизации абонента с узлом.
// Строка на пару (identity, node) единственна и пишется через upsert.
type Credential struct {
	ID            int64      `json:"id"`
	IdentityID    int64      `json:"identity_id"`
	NodeID        int64      `json:"node_id"`
	RemoteID      string     `json:"remote_id"`
	Synced        bool       `json:"synced"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	LastError     string     `json:"last_error,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // nil после отзыва
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RemoteCredential клиент, как его видит панель узла.
type RemoteCredential struct {
	ID        string
	Label     string
	Enabled   bool
	ExpiresAt time.Time // Нулевое значение означает бессрочный доступ
	SubID     string
	Flow      string
}
