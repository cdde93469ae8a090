// Package identityget возвращает абонента и его действующую подписку.
package identityget

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/apierr"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/identity"
)

// Service чтение абонента.
type Service interface {
	Get(ctx context.Context, identityUUID string) (identity.Status, error)
}

// Handler обработчик запроса.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить абонента
// @Description Возвращает абонента и действующую подписку, если она есть
// @Tags Identities
// @Produce json
// @Param uuid path string true "UUID абонента"
// @Success 200 {object} response.Response{data=identity.Status}
// @Failure 404 {object} response.ErrorResponse "Абонент не найден"
// @Failure 503 {object} response.ErrorResponse "Сервис недоступен"
// @Router /identities/{uuid} [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.identity.get"
	identityUUID := chi.URLParam(r, "uuid")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("identity", identityUUID),
	)

	res, err := h.service.Get(r.Context(), identityUUID)
	if err != nil {
		apierr.Write(w, r, log, err)
		return
	}

	log.Info("identity loaded")
	render.JSON(w, r, response.StatusOKWithData(res))
}
