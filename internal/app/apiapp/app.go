package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/config"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/model"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/infra/metrics"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/infra/storage"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/jobs/reaper"
	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
	redrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/redis"
	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	btsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/banktransfer"
	checkoutsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/checkout"
	devicesvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/devices"
	enrollsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/enrollments"
	notifysvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/notify"
	playbacksvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/playback"
	refundsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/refunds"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	s3         *minio.Client
	notifier   *notifysvc.Notifier
	reaperJob  *reaper.Job
	reaperStop context.CancelFunc
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	var s3Client *minio.Client
	if c, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	}); err != nil {
		log.Warn("storage init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
	}

	courseRepo := pgrepo.NewCourseRepo(pool)
	orderRepo := pgrepo.NewOrderRepo(pool)
	paymentRepo := pgrepo.NewPaymentRepo(pool)
	bankTransferRepo := pgrepo.NewBankTransferRepo(pool)
	enrollmentRepo := pgrepo.NewEnrollmentRepo(pool)
	refundRepo := pgrepo.NewRefundRepo(pool)
	deviceRepo := pgrepo.NewDeviceRepo(pool)
	ticketRepo := redrepo.NewPlaybackTicketRepo(redisClient)
	txRunner := pgrepo.NewRunner(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	appMetrics := metrics.New()
	notifier := notifysvc.New(notifysvc.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	}, log)

	payoutAccount := model.PayoutAccount{
		Bank:   cfg.Payment.PayoutAccount.BankName,
		Number: cfg.Payment.PayoutAccount.AccountNumber,
		Holder: cfg.Payment.PayoutAccount.AccountHolder,
	}

	checkoutService := checkoutsvc.NewService(checkoutsvc.Dependencies{
		Courses:       courseRepo,
		Orders:        orderRepo,
		Payments:      paymentRepo,
		BankTransfers: bankTransferRepo,
		Enrollments:   enrollmentRepo,
		Tx:            txRunner,
	}, checkoutsvc.Config{
		Currency:      cfg.Payment.Currency,
		PayoutAccount: payoutAccount,
	}, log)
	checkoutService.AttachNotifier(notifier)
	checkoutService.AttachMetrics(appMetrics)

	bankTransferService := btsvc.NewService(btsvc.Dependencies{
		Requests:    bankTransferRepo,
		Payments:    paymentRepo,
		Courses:     courseRepo,
		Enrollments: enrollmentRepo,
		Tx:          txRunner,
	}, btsvc.Config{
		MinRejectReason: cfg.Payment.MinRejectReason,
	}, log)
	bankTransferService.AttachNotifier(notifier)
	bankTransferService.AttachMetrics(appMetrics)

	enrollmentService := enrollsvc.NewService(enrollmentRepo, courseRepo, log)

	refundService := refundsvc.NewService(refundsvc.Dependencies{
		Refunds:     refundRepo,
		Orders:      orderRepo,
		Payments:    paymentRepo,
		Enrollments: enrollmentRepo,
		Tx:          txRunner,
	}, refundsvc.Config{
		RefundWindow:    cfg.Payment.RefundWindow,
		MinRejectReason: cfg.Payment.MinRejectReason,
	}, log)
	refundService.AttachNotifier(notifier)
	refundService.AttachMetrics(appMetrics)

	deviceService := devicesvc.NewService(deviceRepo, devicesvc.Config{
		Limit: cfg.Playback.DeviceLimit,
	}, log)
	deviceService.AttachMetrics(appMetrics)

	urlSigner := playbacksvc.NewMinioSigner(s3Client, cfg.Storage.Bucket)
	playbackService := playbacksvc.NewService(enrollmentService, deviceService, ticketRepo, urlSigner, playbacksvc.Config{
		TicketTTL:    cfg.Playback.TicketTTL,
		SignedURLTTL: cfg.Playback.SignedURLTTL,
	}, log)
	playbackService.AttachMetrics(appMetrics)

	reaperJob := reaper.New(paymentRepo, txRunner, cfg.Payment.PendingTTL, log)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		CheckoutService:     checkoutService,
		BankTransferService: bankTransferService,
		EnrollmentService:   enrollmentService,
		RefundService:       refundService,
		DeviceService:       deviceService,
		PlaybackService:     playbackService,
		OrderRepo:           orderRepo,
		JWTManager:          jwtManager,
		Metrics:             appMetrics,
		Logger:              log,
		Config:              cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		s3:         s3Client,
		notifier:   notifier,
		reaperJob:  reaperJob,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	if a.postgres != nil {
		reaperCtx, cancel := context.WithCancel(context.Background())
		a.reaperStop = cancel
		go a.reaperJob.Start(reaperCtx, 5*time.Minute)
	}

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if a.reaperStop != nil {
		a.reaperStop()
	}
	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
