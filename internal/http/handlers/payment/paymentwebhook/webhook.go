// Package paymentwebhook принимает уведомления платёжного провайдера
// и ставит их в очередь событий платежей.
package paymentwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/paymentprovider"
)

// SignatureHeader заголовок с base64(HMAC-SHA256(body)).
const SignatureHeader = "X-Api-Signature"

const maxBodyBytes = 1 << 20

// События провайдера, которые меняют статус платежа.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
	EventPaymentWaiting   = "payment.waiting_for_capture"
	EventRefundSucceeded  = "refund.succeeded"
)

// Publisher кладёт событие в очередь платежей.
type Publisher interface {
	PublishPayment(event any) error
}

// Handler обработчик вебхука.
type Handler struct {
	log       *slog.Logger
	publisher Publisher
	secret    string
}

// New создаёт Handler. При пустом secret подпись не проверяется.
func New(log *slog.Logger, publisher Publisher, secret string) *Handler {
	return &Handler{
		log:       log,
		publisher: publisher,
		secret:    secret,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Принимает уведомление о платеже и ставит его в очередь. Повторная доставка безопасна.
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body paymentprovider.Notification true "Уведомление провайдера"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректное тело"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 503 {object} response.ErrorResponse "Очередь недоступна"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if h.secret != "" && !verifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		log.Warn("invalid or missing webhook signature")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var n paymentprovider.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	ev, ok := ToEvent(n)
	if !ok {
		log.Info("ignored webhook event", slog.String("event", n.Event))
		render.JSON(w, r, response.StatusOKWithData(map[string]any{"ignored": true}))
		return
	}

	if err := h.publisher.PublishPayment(ev); err != nil {
		log.Error("failed to publish payment event", sl.Err(err), slog.String("payment_id", ev.PaymentID))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error(response.Unavailable))
		return
	}

	log.Info("payment event queued",
		slog.String("event", n.Event),
		slog.String("payment_id", ev.PaymentID),
		slog.String("status", ev.Status))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{"queued": true}))
}

// ToEvent переводит уведомление провайдера в событие платежа.
// Для возврата id платежа берётся из object.payment_id.
func ToEvent(n paymentprovider.Notification) (models.PaymentEvent, bool) {
	ev := models.PaymentEvent{
		PaymentID:    n.Object.ID,
		Status:       n.Object.Status,
		Amount:       n.Object.Amount.Value,
		Currency:     n.Object.Amount.Currency,
		IdentityUUID: n.Object.Metadata[paymentprovider.MetaIdentity],
		Plan:         n.Object.Metadata[paymentprovider.MetaPlan],
	}
	switch n.Event {
	case EventPaymentSucceeded, EventPaymentCanceled, EventPaymentWaiting:
	case EventRefundSucceeded:
		ev.PaymentID = n.Object.PaymentID
		ev.Status = models.PaymentRefunded
	default:
		return models.PaymentEvent{}, false
	}
	if ev.PaymentID == "" || ev.Status == "" {
		return models.PaymentEvent{}, false
	}
	return ev, true
}

func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
