package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"livestock-track/internal/config"
	"livestock-track/internal/handler"
	"livestock-track/internal/middleware"
	"livestock-track/internal/model"
)

type Handlers struct {
	Auth *handler.AuthHandler
	User *handler.UserHandler
	Docs *handler.DocsHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, limiter middleware.Limiter, handlers Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimit := middleware.NewRateLimitMiddleware(limiter)
	limits := cfg.RateLimit

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		slog.Warn("ignoring trusted proxies", "error", err)
		trusted = nil
	}

	r.Use(middleware.Recovery)
	r.Use(middleware.RealIP(trusted))
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", handler.Health)
	r.Get("/openapi.yaml", handlers.Docs.OpenAPI)
	r.Get("/swagger", handlers.Docs.SwaggerUI)

	r.Route("/api/"+cfg.APIVersion, func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))
		api.Use(rateLimit.Limit(middleware.Rule{Name: "general", Limit: limits.GeneralRPM, Window: time.Minute}))

		api.Route("/auth", func(auth chi.Router) {
			auth.With(rateLimit.Limit(middleware.Rule{
				Name: "register", Limit: limits.RegisterMax, Window: limits.RegisterWindow, Message: "Too many registrations",
			})).Post("/register", handlers.Auth.Register)
			auth.Post("/verify-email", handlers.Auth.VerifyEmail)
			auth.With(rateLimit.Limit(middleware.Rule{
				Name: "login", Limit: limits.LoginMax, Window: limits.LoginWindow, Message: "Too many login attempts",
			})).Post("/login", handlers.Auth.Login)
			auth.Post("/refresh-token", handlers.Auth.Refresh)
			auth.With(authMiddleware.RequireAuth).Post("/logout", handlers.Auth.Logout)
			auth.With(rateLimit.Limit(middleware.Rule{
				Name: "forgot-password", Limit: limits.ForgotMax, Window: limits.ForgotWindow, Message: "Too many reset requests",
			})).Post("/forgot-password", handlers.Auth.ForgotPassword)
			auth.Post("/reset-password", handlers.Auth.ResetPassword)
			auth.With(authMiddleware.RequireAuth).Get("/me", handlers.Auth.Me)
			auth.With(authMiddleware.RequireAuth).Patch("/me", handlers.Auth.UpdateProfile)
			auth.With(authMiddleware.RequireAuth).Post("/change-password", handlers.Auth.ChangePassword)
			auth.With(rateLimit.Limit(middleware.Rule{
				Name: "resend-verification", Limit: limits.ResendMax, Window: limits.ResendWindow, Message: "Too many verification emails",
			})).Post("/resend-verification", handlers.Auth.ResendVerification)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin))
			admin.Get("/users/{id}", handlers.User.Get)
			admin.Patch("/users/{id}/status", handlers.User.UpdateStatus)
		})
	})

	return r
}
