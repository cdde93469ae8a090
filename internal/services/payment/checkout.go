package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/paymentprovider"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/ledger"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

const maxDescriptionLen = 128

// Checkout созданный платёж и адрес страницы оплаты.
type Checkout struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

func newIdempotenceKey() string {
	return uuid.NewString()
}

// CreatePayment создаёт платёж у провайдера и сохраняет его в статусе pending.
func (s *Service) CreatePayment(ctx context.Context, identityUUID, plan string) (Checkout, error) {
	const op = "payment.CreatePayment"
	log := s.log.With(slog.String("op", op), slog.String("identity", identityUUID), slog.String("plan", plan))

	p, ok := s.plans.Plans[plan]
	if !ok {
		return Checkout{}, fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, plan)
	}
	identity, err := s.repo.GetIdentityByUUID(ctx, identityUUID)
	if errors.Is(err, repository.ErrNotFound) {
		return Checkout{}, fmt.Errorf("%s: %w", op, ledger.ErrIdentityNotFound)
	}
	if err != nil {
		return Checkout{}, fmt.Errorf("%s: %w", op, err)
	}

	amount := paymentprovider.NewAmount(p.Price, s.checkout.Currency)
	description := fmt.Sprintf("Подписка на %d мес.", p.Months)
	req := paymentprovider.CreatePaymentRequest{
		Amount:       amount,
		Confirmation: paymentprovider.Confirmation{Type: "redirect", ReturnURL: s.checkout.ReturnURL},
		Capture:      true,
		Description:  description,
		Metadata: map[string]string{
			paymentprovider.MetaIdentity: identity.UUID,
			paymentprovider.MetaPlan:     plan,
		},
	}
	if identity.Email != "" {
		receipt := &paymentprovider.Receipt{Items: []paymentprovider.ReceiptItem{{
			Description:    truncate(description, maxDescriptionLen),
			Quantity:       "1.0",
			Amount:         amount,
			VatCode:        1,
			PaymentMode:    "full_prepayment",
			PaymentSubject: "service",
		}}}
		receipt.Customer.Email = identity.Email
		req.Receipt = receipt
	}

	created, err := s.provider.CreatePayment(ctx, req, s.newKey())
	if err != nil {
		return Checkout{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.repo.SavePayment(ctx, models.PaymentRecord{
		PaymentID:  created.ID,
		IdentityID: identity.ID,
		Plan:       plan,
		Amount:     amount.Value,
		Currency:   amount.Currency,
		Status:     models.PaymentPending,
	}); err != nil {
		return Checkout{}, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("payment created", slog.String("payment_id", created.ID))

	return Checkout{
		PaymentID:       created.ID,
		ConfirmationURL: created.Confirmation.ConfirmationURL,
		Amount:          amount.Value,
		Currency:        amount.Currency,
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
