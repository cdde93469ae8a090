package paymentprovider

import (
	"fmt"
	"time"
)

// Amount денежная сумма в формате ЮKassa.
type Amount struct {
	Value    string `json:"value"`    // сумма, например "130.00"
	Currency string `json:"currency"` // валюта, например "RUB"
}

// NewAmount форматирует сумму с двумя знаками после точки.
func NewAmount(value float64, currency string) Amount {
	return Amount{Value: fmt.Sprintf("%.2f", value), Currency: currency}
}

// Confirmation способ подтверждения платежа покупателем.
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// ReceiptItem позиция чека.
type ReceiptItem struct {
	Description    string `json:"description"`
	Quantity       string `json:"quantity"`
	Amount         Amount `json:"amount"`
	VatCode        int    `json:"vat_code"`
	PaymentMode    string `json:"payment_mode"`
	PaymentSubject string `json:"payment_subject"`
}

// Receipt данные чека.
type Receipt struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Items []ReceiptItem `json:"items"`
}

// CreatePaymentRequest запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description,omitempty"`
	Receipt      *Receipt          `json:"receipt,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"` // identity_uuid, plan
}

// Payment платёж, как его возвращает ЮKassa.
type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       Amount            `json:"amount"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Notification входящее HTTP-уведомление. Для событий возврата object.id
// содержит id возврата, а id платежа приходит в object.payment_id.
type Notification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID        string            `json:"id"`
		Status    string            `json:"status"`
		PaymentID string            `json:"payment_id,omitempty"`
		Amount    Amount            `json:"amount"`
		Metadata  map[string]string `json:"metadata,omitempty"`
	} `json:"object"`
}

// Ключи metadata, которыми платёж связывается с абонентом.
const (
	MetaIdentity = "identity_uuid"
	MetaPlan     = "plan"
)
