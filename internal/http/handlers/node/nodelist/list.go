// Package nodelist возвращает реестр узлов.
package nodelist

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/apierr"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

type Service interface {
	List(ctx context.Context, activeOnly bool) ([]models.Node, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Список узлов
// @Tags Nodes
// @Produce json
// @Param active query bool false "Только активные узлы"
// @Success 200 {object} response.Response{data=[]models.Node}
// @Failure 400 {object} response.ErrorResponse "Некорректный параметр"
// @Failure 503 {object} response.ErrorResponse "Сервис недоступен"
// @Router /nodes [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.node.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid active parameter"))
			return
		}
		activeOnly = b
	}

	list, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		apierr.Write(w, r, log, err)
		return
	}
	if list == nil {
		list = []models.Node{}
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"nodes": list,
	}))
}
