package http

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/middleware"
	"github.com/DanFrunza/Public-Data-Explorer/internal/ratelimit"
)

// Limiters are the per-route request budgets. A nil limiter disables
// limiting for its routes.
type Limiters struct {
	Register ratelimit.Limiter
	Login    ratelimit.Limiter
	Avatar   ratelimit.Limiter
}

// RouterOptions carries the deployment-level router settings.
type RouterOptions struct {
	AllowedOrigins []string
	// TrustProxy takes the client address from X-Real-IP, True-Client-IP or
	// X-Forwarded-For. Only set it when a proxy in front overwrites them.
	TrustProxy bool
}

func NewRouter(handler *Handler, authMiddleware *middleware.AuthMiddleware, limiters Limiters, opts RouterOptions, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(ratelimit.Middleware(limiters.Register, logger)).Post("/register", handler.Register)
			r.With(ratelimit.Middleware(limiters.Login, logger)).Post("/login", handler.Login)
			r.Post("/refresh", handler.Refresh)
			r.Post("/logout", handler.Logout)
			r.With(authMiddleware.Optional).Get("/session", handler.Session)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)
				r.Get("/me", handler.GetCurrentUser)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Get("/me", handler.GetProfile)
			r.Put("/me", handler.UpdateProfile)
			r.With(ratelimit.Middleware(limiters.Avatar, logger)).Post("/me/avatar", handler.UploadAvatar)
			r.Get("/me/avatar-url", handler.GetAvatarURL)
			r.Get("/me/auth-events", handler.GetAuthEvents)

			r.With(ratelimit.Middleware(limiters.Avatar, logger)).Post("/{id}/avatar", handler.UploadAvatar)
			r.Get("/{id}/avatar-url", handler.GetAvatarURL)
			r.With(authMiddleware.AdminOnly).Get("/{id}/auth-events", handler.GetAuthEvents)
		})
	})

	return r
}
