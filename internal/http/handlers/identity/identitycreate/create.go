// Package identitycreate регистрирует абонента.
package identitycreate

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
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

// Service регистрация абонента.
type Service interface {
	Register(ctx context.Context, req models.DummyIdentity) (models.Identity, error)
}

// Handler обработчик регистрации.
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
// @Summary Зарегистрировать абонента
// @Description Создаёт абонента с новым UUID. Повторный запрос с тем же external_id возвращает существующего.
// @Tags Identities
// @Accept json
// @Produce json
// @Param request body models.DummyIdentity true "Данные абонента"
// @Success 201 {object} response.Response{data=models.Identity}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 503 {object} response.ErrorResponse "Сервис недоступен"
// @Router /identities [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.identity.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyIdentity
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

	identity, err := h.service.Register(r.Context(), req)
	if err != nil {
		apierr.Write(w, r, log, err)
		return
	}

	log.Info("identity registered", slog.String("identity", identity.UUID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(identity))
}
