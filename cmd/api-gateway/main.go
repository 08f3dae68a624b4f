package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/training-admin-api/api/swagger"
	"github.com/noah-isme/training-admin-api/internal/handler"
	"github.com/noah-isme/training-admin-api/internal/repository"
	"github.com/noah-isme/training-admin-api/internal/service"
	"github.com/noah-isme/training-admin-api/pkg/cache"
	"github.com/noah-isme/training-admin-api/pkg/config"
	"github.com/noah-isme/training-admin-api/pkg/database"
	"github.com/noah-isme/training-admin-api/pkg/export"
	"github.com/noah-isme/training-admin-api/pkg/jobs"
	"github.com/noah-isme/training-admin-api/pkg/lock"
	"github.com/noah-isme/training-admin-api/pkg/logger"
	"github.com/noah-isme/training-admin-api/pkg/notify"
	"github.com/noah-isme/training-admin-api/pkg/storage"
)

// @title Training Admin API
// @version 1.0.0
// @description Course enrollment lifecycle: attendance, payments and certificates.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
	}

	application, err := buildApp(cfg, db, redisClient, logr)
	if err != nil {
		logr.Fatal("failed to assemble application", zap.Error(err))
	}
	application.notifications.Start(ctx)
	defer application.notifications.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, application, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
	logr.Info("server stopped")
}

// app holds the assembled handlers and the background workers main owns.
type app struct {
	tokens        *service.TokenService
	metrics       *service.MetricsService
	audit         *repository.AuditRepository
	notifications *jobs.Queue

	enrollments  *handler.EnrollmentHandler
	attendance   *handler.AttendanceHandler
	payments     *handler.PaymentHandler
	certificates *handler.CertificateHandler
	files        *handler.FileHandler
	health       *handler.MetricsHandler
}

func buildApp(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*app, error) {
	metrics := service.NewMetricsService()
	validate := service.NewValidator()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var (
		locker    lock.Locker = lock.NewLocalLocker()
		cacheRepo service.CacheRepository
		checks    = map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	)
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient, "lock:", cfg.Enrollment.LockTTL, logr)
		redisCache := repository.NewCacheRepository(redisClient, logr)
		cacheRepo = redisCache
		checks["redis"] = redisCache.Ping
	}
	projections := service.NewCacheService(cacheRepo, metrics, cfg.Enrollment.CacheTTL, logr, cacheRepo != nil)

	objects, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	files := service.NewFileService(objects, signer, cfg.APIPrefix)

	var sender notify.Sender
	switch cfg.Notify.Provider {
	case config.NotifyProviderSendGrid:
		if cfg.Notify.SendGridAPIKey == "" {
			return nil, fmt.Errorf("SENDGRID_API_KEY is required when NOTIFY_PROVIDER=%s", config.NotifyProviderSendGrid)
		}
		sender = notify.NewSendGridSender(cfg.Notify.SendGridAPIKey, cfg.Notify.AppName, cfg.Notify.FromEmail)
	default:
		sender = notify.NewLogSender(logr)
	}
	notifier := service.NewNotificationService(sender, metrics, logr)
	queue := jobs.NewQueue("notifications", notifier.Handle, jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		Logger:     logr,
	})
	notifier.UseQueue(queue)

	uploads := service.UploadPolicy{MaxFileSize: cfg.Storage.MaxFileSizeBytes, AllowedMIMEs: cfg.Storage.AllowedMIMEs}

	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, projections, auditRepo, validate, logr, cfg.Enrollment.CacheTTL)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, enrollmentRepo, locker, projections, metrics, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, enrollmentRepo, objects, locker, projections, notifier, auditRepo, metrics, validate, logr, service.PaymentServiceConfig{
		EnrollmentRetries: cfg.Verification.EnrollmentRetries,
		RetryDelay:        cfg.Verification.RetryDelay,
		Upload:            uploads,
	})
	certificateSvc := service.NewCertificateService(certificateRepo, enrollmentRepo, objects, export.NewPDFExporter(cfg.Notify.AppName), files, notifier, auditRepo, metrics, validate, logr, service.UploadPolicy{
		MaxFileSize: cfg.Storage.MaxFileSizeBytes,
	})

	logr.Info("application assembled",
		zap.Bool("redis", redisClient != nil),
		zap.String("notify_provider", cfg.Notify.Provider),
		zap.String("storage_dir", cfg.Storage.Dir))

	return &app{
		tokens:        service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer),
		metrics:       metrics,
		audit:         auditRepo,
		notifications: queue,
		enrollments:   handler.NewEnrollmentHandler(enrollmentSvc, attendanceSvc),
		attendance:    handler.NewAttendanceHandler(attendanceSvc),
		payments:      handler.NewPaymentHandler(paymentSvc),
		certificates:  handler.NewCertificateHandler(certificateSvc),
		files:         handler.NewFileHandler(files),
		health:        handler.NewMetricsHandler(metrics, checks),
	}, nil
}
