// Package paymentcreate создаёт платёж по тарифу для абонента.
package paymentcreate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/apierr"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/payment"
)

// Request тело запроса на создание платежа.
type Request struct {
	IdentityUUID string `json:"identity_uuid" validate:"required,uuid"`
	Plan         string `json:"plan" validate:"required"`
}

// Service создание платежа.
type Service interface {
	CreatePayment(ctx context.Context, identityUUID, plan string) (payment.Checkout, error)
}

// Handler обработчик создания платежа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Создать платёж
// @Description Создаёт платёж у провайдера и возвращает ссылку на страницу оплаты
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body Request true "Абонент и тариф"
// @Success 200 {object} response.Response{data=payment.Checkout}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Абонент не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации или неизвестный тариф"
// @Failure 503 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /payments [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	checkout, err := h.service.CreatePayment(r.Context(), req.IdentityUUID, req.Plan)
	if err != nil {
		apierr.Write(w, r, log, err)
		return
	}

	log.Info("payment created", slog.String("payment_id", checkout.PaymentID))
	render.JSON(w, r, response.StatusOKWithData(checkout))
}
