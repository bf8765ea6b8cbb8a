package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	adminsvc "github.com/rey45eyh45/daromatx/internal/services/adminauth"
	authsvc "github.com/rey45eyh45/daromatx/internal/services/auth"
	catalogsvc "github.com/rey45eyh45/daromatx/internal/services/catalog"
	entsvc "github.com/rey45eyh45/daromatx/internal/services/entitlements"
	ledgersvc "github.com/rey45eyh45/daromatx/internal/services/ledger"
	"github.com/rey45eyh45/daromatx/internal/services/reconcile"
	userssvc "github.com/rey45eyh45/daromatx/internal/services/users"
	videosvc "github.com/rey45eyh45/daromatx/internal/services/videotoken"
	"github.com/rey45eyh45/daromatx/internal/transport/http/handlers"
)

type Dependencies struct {
	InitDataValidator *authsvc.Validator
	AdminAuthService  *adminsvc.Service
	CatalogService    *catalogsvc.Service
	UserService       *userssvc.Service
	EntitlementSvc    *entsvc.Service
	LedgerService     *ledgersvc.Service
	GatewayVerifier   *reconcile.GatewayVerifier
	TONVerifier       *reconcile.TONVerifier
	VideoService      *videosvc.Service
	CoverSigner       handlers.CoverSigner
	TONWallet         string
	FiatPerTON        int64
	Logger            *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	courseHandler := handlers.NewCourseHandler(deps.CatalogService, deps.CoverSigner)
	meHandler := handlers.NewMeHandler(deps.UserService, deps.EntitlementSvc)
	paymentHandler := handlers.NewPaymentHandler(deps.LedgerService, deps.GatewayVerifier, deps.TONVerifier, deps.TONWallet, deps.FiatPerTON)
	videoHandler := handlers.NewVideoHandler(deps.VideoService)
	adminHandler := handlers.NewAdminHandler(deps.AdminAuthService, deps.CatalogService, deps.LedgerService, deps.GatewayVerifier, deps.EntitlementSvc)

	authMW := InitDataAuthMiddleware(deps.InitDataValidator, deps.Logger)
	adminMW := AdminAuthMiddleware(deps.AdminAuthService, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/api", func(r chi.Router) {
		r.Get("/courses", courseHandler.List)
		r.Get("/courses/{id}", courseHandler.Get)
		r.Get("/courses/{id}/lessons", courseHandler.Lessons)
		r.Get("/lessons/{id}", courseHandler.Lesson)
		r.Get("/video/stream-check", videoHandler.StreamCheck)

		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Get("/me", meHandler.Get)
			r.Post("/payments", paymentHandler.Create)
			r.Get("/payments/{id}", paymentHandler.Status)
			r.Post("/payments/{id}/verify", paymentHandler.VerifyTON)
			r.Post("/lessons/{id}/video-url", videoHandler.URL)
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(authMW).Post("/login", adminHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(adminMW)
				r.Post("/payments/{id}/confirm", adminHandler.ConfirmGateway)
				r.Post("/payments/{id}/refund", adminHandler.Refund)
				r.Post("/grants", adminHandler.Grant)
				r.Post("/courses", adminHandler.CreateCourse)
				r.Post("/courses/{id}/lessons", adminHandler.CreateLesson)
				r.Post("/courses/{id}/active", adminHandler.SetCourseActive)
			})
		})
	})
}
