package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-token-auth/internal/config"
	"go-token-auth/internal/handler"
	"go-token-auth/internal/middleware"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Profile *handler.ProfileHandler
	Health  *handler.HealthHandler
	Docs    *handler.DocsHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.NewClientIPResolver(cfg.TrustedProxies).Handler)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)
	r.Get("/openapi.yaml", h.Docs.OpenAPIYAML)
	r.Get("/openapi.json", h.Docs.OpenAPIJSON)

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Post("/register", h.Auth.Register)
		api.Post("/login", h.Auth.Login)
		api.Post("/refresh", h.Auth.Refresh)
		api.Post("/logout", h.Auth.Logout)

		api.Route("/profile", func(profile chi.Router) {
			profile.Use(authMiddleware.RequireAuth)
			profile.Get("/me", h.Profile.Me)
			profile.Put("/me", h.Profile.UpdateMe)
			profile.Get("/me/activity", h.Profile.Activity)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"route not found"}}`))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"error":{"code":"METHOD_NOT_ALLOWED","message":"method not allowed"}}`))
	})

	return r
}
