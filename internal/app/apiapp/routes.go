package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/config"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/infra/metrics"
	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	btsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/banktransfer"
	checkoutsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/checkout"
	devicesvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/devices"
	enrollsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/enrollments"
	playbacksvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/playback"
	refundsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/refunds"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/handlers"
)

type Dependencies struct {
	CheckoutService     *checkoutsvc.Service
	BankTransferService *btsvc.Service
	EnrollmentService   *enrollsvc.Service
	RefundService       *refundsvc.Service
	DeviceService       *devicesvc.Service
	PlaybackService     *playbacksvc.Service
	OrderRepo           *pgrepo.OrderRepo
	JWTManager          *authsvc.JWTManager
	Metrics             *metrics.Metrics
	Logger              *zap.Logger
	Config              config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	checkoutHandler := handlers.NewCheckoutHandler(deps.CheckoutService, deps.OrderRepo)
	bankTransferHandler := handlers.NewBankTransferHandler(deps.BankTransferService)
	refundHandler := handlers.NewRefundHandler(deps.RefundService)
	deviceHandler := handlers.NewDeviceHandler(deps.DeviceService, deps.Config.Playback.DeviceLimit)
	playbackHandler := handlers.NewPlaybackHandler(deps.PlaybackService)
	enrollmentHandler := handlers.NewEnrollmentHandler(deps.EnrollmentService)

	authMW := AuthMiddleware(deps.JWTManager, deps.Logger)
	adminMW := RequireAdmin()
	webhookMW := WebhookAuthMiddleware(deps.Config.Auth.WebhookSecret, deps.Logger)

	r.Get("/healthz", healthHandler.Handle)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(authMW).Post("/checkout", checkoutHandler.Create)
		r.With(webhookMW).Post("/webhooks/payment", checkoutHandler.Webhook)

		r.With(authMW).Get("/orders", checkoutHandler.ListOrders)
		r.With(authMW).Get("/orders/{orderID}", checkoutHandler.Order)
		r.With(authMW).Get("/orders/{orderID}/refunds", refundHandler.ListForOrder)

		r.With(authMW).Post("/refunds", refundHandler.Create)

		r.With(authMW).Get("/enrollments", enrollmentHandler.ListMine)

		r.With(authMW).Post("/devices", deviceHandler.Register)
		r.With(authMW).Post("/devices/verify", deviceHandler.Verify)
		r.With(authMW).Get("/devices", deviceHandler.List)
		r.With(authMW).Delete("/devices/{deviceID}", deviceHandler.Remove)
		r.With(authMW).Patch("/devices/{deviceID}", deviceHandler.Rename)

		r.With(authMW).Post("/playback/authorize", playbackHandler.Authorize)
		r.With(authMW).Post("/playback/validate", playbackHandler.Validate)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMW, adminMW)

			r.Get("/bank-transfers", bankTransferHandler.ListPending)
			r.Post("/bank-transfers/{requestID}/approve", bankTransferHandler.Approve)
			r.Post("/bank-transfers/{requestID}/reject", bankTransferHandler.Reject)

			r.Get("/refunds", refundHandler.ListPending)
			r.Post("/refunds/{refundID}/approve", refundHandler.Approve)
			r.Post("/refunds/{refundID}/reject", refundHandler.Reject)

			r.Post("/enrollments", enrollmentHandler.Grant)
			r.Delete("/enrollments/{userID}/{courseID}", enrollmentHandler.Revoke)
		})
	})
}
