package models

import "time"

// Статусы платежа у провайдера.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentCanceled  = "canceled"
	PaymentRefunded  = "refunded"
)

// PaymentRecord платёж, сохранённый при создании или при первом вебхуке.
type PaymentRecord struct {
	ID          int64      `json:"id"`
	PaymentID   string     `json:"payment_id"`
	IdentityID  int64      `json:"identity_id"`
	Plan        string     `json:"plan"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal сообщает, что статус платежа больше не изменится.
func (p *PaymentRecord) Terminal() bool {
	switch p.Status {
	case PaymentSucceeded, PaymentCanceled, PaymentRefunded:
		return true
	}
	return false
}

// PaymentEvent событие платежа, которое вебхук кладёт в очередь.
type PaymentEvent struct {
	PaymentID    string `json:"payment_id"`
	IdentityUUID string `json:"identity_uuid,omitempty"`
	Plan         string `json:"plan,omitempty"`
	Status       string `json:"status"`
	Amount       string `json:"amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
}
