package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/internal/repository"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// storeError translates a raw repository error into the API taxonomy.
// notFound is used for sql.ErrNoRows, malformed identifiers and dangling references;
// msg describes the failed operation.
func storeError(err error, notFound, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows), repository.IsInvalidIdentifier(err), repository.IsForeignKeyViolation(err):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	case repository.IsUnavailable(err):
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, msg+": store unavailable")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
	}
}

func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, source string, log *models.AuditLog) {
	if audit == nil || log == nil {
		return
	}
	if log.IPAddress == "" {
		log.IPAddress = "system"
	}
	log.UserAgent = source
	if err := audit.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("failed to create audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

func actorID(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

func isAdmin(actor *models.JWTClaims) bool {
	return actor != nil && (actor.Role == models.RoleAdmin || actor.Role == models.RoleSuperAdmin)
}
