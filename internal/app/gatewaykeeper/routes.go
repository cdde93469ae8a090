package gatewaykeeper

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/health"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/identity/identitycreate"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/identity/identitycredentials"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/identity/identitydescriptors"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/identity/identityget"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/identity/identityreset"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/identity/identitysync"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/identity/identitytrial"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/node/nodeactive"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/node/nodecheck"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/node/nodecreate"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/node/nodelist"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/payment/paymentcreate"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/middlewarectx"
	identityservice "github.com/magabrotheeeer/gateway-keeper/internal/services/identity"
	nodeservice "github.com/magabrotheeeer/gateway-keeper/internal/services/nodes"
	paymentservice "github.com/magabrotheeeer/gateway-keeper/internal/services/payment"
)

// Deps сервисы и настройки, на которые опираются маршруты.
type Deps struct {
	Identity      *identityservice.Service
	Nodes         *nodeservice.Service
	Payment       *paymentservice.Service
	Tokens        middlewarectx.TokenParser
	Publisher     paymentwebhook.Publisher
	WebhookSecret string
	WebhookLimit  *rate.Limiter
	Health        map[string]health.Check
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Get("/health", health.New(logger, d.Health).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук провайдера без аутентификации, подлинность проверяется подписью
		r.With(middlewarectx.RateLimit(d.WebhookLimit, logger)).
			Post("/payments/webhook", paymentwebhook.New(logger, d.Publisher, d.WebhookSecret).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.AdminOnly(d.Tokens, logger))

			r.Post("/payments", paymentcreate.New(logger, d.Payment).ServeHTTP)

			r.Post("/identities", identitycreate.New(logger, d.Identity).ServeHTTP)
			r.Get("/identities/{uuid}", identityget.New(logger, d.Identity).ServeHTTP)
			r.Post("/identities/{uuid}/trial", identitytrial.New(logger, d.Identity).ServeHTTP)
			r.Post("/identities/{uuid}/reset", identityreset.New(logger, d.Identity).ServeHTTP)
			r.Get("/identities/{uuid}/descriptors", identitydescriptors.New(logger, d.Identity).ServeHTTP)
			r.Post("/identities/{uuid}/sync", identitysync.New(logger, d.Identity).ServeHTTP)
			r.Get("/identities/{uuid}/credentials", identitycredentials.New(logger, d.Identity).ServeHTTP)

			r.Post("/nodes", nodecreate.New(logger, d.Nodes).ServeHTTP)
			r.Get("/nodes", nodelist.New(logger, d.Nodes).ServeHTTP)
			r.Post("/nodes/{id}/check", nodecheck.New(logger, d.Nodes).ServeHTTP)
			r.Put("/nodes/{id}/active", nodeactive.New(logger, d.Nodes).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
