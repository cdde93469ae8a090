// Package identitycredentials показывает состояние синхронизации абонента по узлам.
package identitycredentials

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/apierr"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

// Service операция над абонентом.
type Service interface {
	Credentials(ctx context.Context, identityUUID string) ([]models.Credential, error)
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
// @Summary Состояние синхронизации
// @Description Возвращает последнюю попытку синхронизации по каждому узлу
// @Tags Identities
// @Produce json
// @Param uuid path string true "UUID абонента"
// @Success 200 {object} response.Response{data=[]models.Credential}
// @Failure 404 {object} response.ErrorResponse "Абонент не найден"
// @Failure 503 {object} response.ErrorResponse "Сервис недоступен"
// @Router /identities/{uuid}/credentials [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.identity.credentials"
	identityUUID := chi.URLParam(r, "uuid")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("identity", identityUUID),
	)

	res, err := h.service.Credentials(r.Context(), identityUUID)
	if err != nil {
		apierr.Write(w, r, log, err)
		return
	}

	log.Info("credentials loaded")
	render.JSON(w, r, response.StatusOKWithData(res))
}
