// Package nodecheck проверяет связь с панелью узла.
package nodecheck

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/apierr"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/nodes"
)

// Service диагностика узла.
type Service interface {
	Check(ctx context.Context, id int64) (nodes.Report, error)
}

// Handler обработчик диагностики.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Проверить узел
// @Description Входит в панель и читает клиентов инбаунда. Сбой панели возвращается в отчёте с кодом 200
// @Tags Nodes
// @Produce json
// @Param id path int true "ID узла"
// @Success 200 {object} response.Response{data=nodes.Report}
// @Failure 400 {object} response.ErrorResponse "Некорректный id"
// @Failure 404 {object} response.ErrorResponse "Узел не найден"
// @Router /nodes/{id}/check [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.node.check"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode id from url"))
		return
	}

	rep, err := h.service.Check(r.Context(), id)
	if err != nil {
		apierr.Write(w, r, log, err)
		return
	}

	log.Info("node checked",
		slog.Int64("id", id),
		slog.Bool("authenticated", rep.Authenticated),
		slog.String("failure", rep.Failure))
	render.JSON(w, r, response.StatusOKWithData(rep))
}
