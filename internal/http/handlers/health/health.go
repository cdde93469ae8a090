// Package health отдаёт состояние зависимостей сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
)

// Check проверка одной зависимости.
type Check func(ctx context.Context) error

type Handler struct {
	log     *slog.Logger
	checks  map[string]Check
	timeout time.Duration
}

func New(log *slog.Logger, checks map[string]Check) *Handler {
	return &Handler{log: log, checks: checks, timeout: 2 * time.Second}
}

// ServeHTTP godoc
// @Summary Состояние сервиса
// @Tags Health
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.log.Warn("dependency unhealthy", slog.String("op", op), slog.String("dependency", name), sl.Err(err))
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Response{Status: response.StatusError, Data: status})
		return
	}
	render.JSON(w, r, response.StatusOKWithData(status))
}
