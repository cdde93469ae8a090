// Package identitydescriptors выдаёт ссылки подключения абонента.
package identitydescriptors

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

// Service построение ссылок.
type Service interface {
	Descriptors(ctx context.Context, identityUUID string) ([]identity.Descriptor, error)
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
// @Summary Ссылки подключения
// @Description Возвращает vless-ссылку для каждого активного узла. Требует действующую подписку
// @Tags Identities
// @Produce json
// @Param uuid path string true "UUID абонента"
// @Success 200 {object} response.Response{data=[]identity.Descriptor}
// @Failure 409 {object} response.ErrorResponse "Нет действующей подписки"
// @Failure 503 {object} response.ErrorResponse "Сервис недоступен"
// @Router /identities/{uuid}/descriptors [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.identity.descriptors"
	identityUUID := chi.URLParam(r, "uuid")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("identity", identityUUID),
	)

	res, err := h.service.Descriptors(r.Context(), identityUUID)
	if err != nil {
		apierr.Write(w, r, log, err)
		return
	}

	log.Info("descriptors built")
	render.JSON(w, r, response.StatusOKWithData(res))
}
