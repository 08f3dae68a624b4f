package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/training-admin-api/internal/middleware"
	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/pkg/config"
	"github.com/noah-isme/training-admin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/training-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/training-admin-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, a *app, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", a.health.Health)
	r.GET("/ready", a.health.Ready)
	r.GET("/metrics", a.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleInstructor)
	anyone := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleInstructor, models.RoleParticipant)
	audit := func(action string) gin.HandlerFunc {
		return middleware.Audit(a.audit, logr, action, "attendance", "id")
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/files/download", a.files.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(a.tokens))

	secured.POST("/sessions/:sessionId/enrollments", admins, a.enrollments.Create)
	secured.GET("/sessions/:sessionId/enrollments", staff, a.enrollments.List)
	secured.GET("/enrollments/:id", anyone, a.enrollments.Get)
	secured.DELETE("/enrollments/:id", admins, a.enrollments.Delete)
	secured.POST("/enrollments/:id/presence/rebuild", admins, a.enrollments.RebuildPresence)

	secured.POST("/enrollments/:id/attendance", staff, audit(models.AuditActionAttendanceRecord), a.attendance.Record)
	secured.GET("/enrollments/:id/attendance", anyone, a.attendance.List)
	secured.PUT("/attendance/:id", staff, audit(models.AuditActionAttendanceUpdate), a.attendance.Update)
	secured.DELETE("/attendance/:id", staff, audit(models.AuditActionAttendanceDelete), a.attendance.Delete)

	secured.POST("/enrollments/:id/payments", anyone, a.payments.Submit)
	secured.GET("/payments/:ref", staff, a.payments.Get)
	secured.POST("/payments/:ref/verify", admins, a.payments.Verify)
	secured.POST("/payments/:ref/override", admins, a.payments.Override)
	secured.POST("/payments/:ref/reconcile", admins, a.payments.Reconcile)

	secured.PUT("/enrollments/:id/certificate", admins, a.certificates.Issue)
	secured.GET("/enrollments/:id/certificate", anyone, a.certificates.Get)
	secured.PUT("/certificates/:id/artifact", admins, a.certificates.AttachArtifact)
	secured.POST("/certificates/:id/artifact/upload", admins, a.certificates.UploadArtifact)
	secured.POST("/certificates/:id/artifact/render", admins, a.certificates.RenderArtifact)

	return r
}
