// Package apierr переводит ошибки сервисов в HTTP-статус и текст для клиента.
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/response"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/identity"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/ledger"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/nodes"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/payment"
)

type mapping struct {
	err    error
	status int
	msg    string
}

var known = []mapping{
	{ledger.ErrIdentityNotFound, http.StatusNotFound, "identity not found"},
	{nodes.ErrNodeNotFound, http.StatusNotFound, "node not found"},
	{ledger.ErrTrialAlreadyUsed, http.StatusConflict, "trial already used"},
	{ledger.ErrSubscriptionActive, http.StatusConflict, "subscription is already active"},
	{identity.ErrNoActiveSubscription, http.StatusConflict, "no active subscription"},
	{payment.ErrUnknownPlan, http.StatusUnprocessableEntity, "unknown plan"},
}

// Resolve возвращает статус и текст ответа. Неизвестные ошибки скрываются
// за общим сообщением.
func Resolve(err error) (int, string) {
	for _, m := range known {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusServiceUnavailable, response.Unavailable
}

// Write пишет ответ с ошибкой. Ожидаемые отказы логируются как предупреждение.
func Write(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, msg := Resolve(err)
	if status == http.StatusServiceUnavailable {
		log.Error("request failed", sl.Err(err))
	} else {
		log.Warn("request rejected", sl.Err(err))
	}
	render.Status(r, status)
	render.JSON(w, r, response.Error(msg))
}
