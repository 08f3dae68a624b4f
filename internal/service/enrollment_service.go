package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/internal/repository"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Exists(ctx context.Context, participantID, sessionID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id string) error
}

type projectionCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateEnrollment(ctx context.Context, enrollmentID, sessionID string)
}

// EnrollmentService manages the participant roster of course sessions and
// serves cached enrollment projections.
type EnrollmentService struct {
	repo      enrollmentRepository
	cache     projectionCache
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, cache projectionCache, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *EnrollmentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, cache: cache, audit: audit, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

// Enroll adds a participant to a session. New enrollments start PENDING and
// UNPAID with no present days.
func (s *EnrollmentService) Enroll(ctx context.Context, sessionID string, req dto.CreateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	participantID := strings.TrimSpace(req.ParticipantID)
	exists, err := s.repo.Exists(ctx, participantID, sessionID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "participant already enrolled in session")
	}
	enrollment := &models.Enrollment{
		ParticipantID:      participantID,
		SessionID:          sessionID,
		RegistrationStatus: models.RegistrationStatusPending,
		PaymentStatus:      models.EnrollmentPaymentUnpaid,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if repository.IsUniqueViolation(err, "") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "participant already enrolled in session")
		}
		return nil, storeError(err, "participant or session not found", "failed to create enrollment")
	}
	s.invalidate(ctx, enrollment.ID, sessionID)
	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment detail")
	}
	return detail, nil
}

// List returns a page of a session roster.
func (s *EnrollmentService) List(ctx context.Context, sessionID string, query dto.EnrollmentQuery) (*dto.EnrollmentList, bool, error) {
	filter := models.EnrollmentFilter{
		SessionID:          sessionID,
		RegistrationStatus: models.RegistrationStatus(strings.ToUpper(query.RegistrationStatus)),
		PaymentStatus:      models.EnrollmentPaymentStatus(strings.ToUpper(query.PaymentStatus)),
		Page:               query.Page,
		PageSize:           query.PageSize,
		SortBy:             query.SortBy,
		SortOrder:          query.SortOrder,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	key := SessionEnrollmentsKey(sessionID, filter.RegistrationStatus, filter.PaymentStatus, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)

	var cached dto.EnrollmentList
	if hit := s.cacheGet(ctx, key, &cached); hit {
		return &cached, true, nil
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, false, storeError(err, "session not found", "failed to list enrollments")
	}
	if items == nil {
		items = []models.EnrollmentDetail{}
	}
	list := &dto.EnrollmentList{
		Items:      items,
		Pagination: models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total},
	}
	s.cacheSet(ctx, key, list)
	return list, false, nil
}

// Get returns the enrollment projection, served from cache when possible.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, bool, error) {
	key := EnrollmentKey(id)
	var cached models.EnrollmentDetail
	if hit := s.cacheGet(ctx, key, &cached); hit {
		return &cached, true, nil
	}
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, false, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	s.cacheSet(ctx, key, detail)
	return detail, false, nil
}

// Remove deletes an enrollment with its attendance, payment and certificate
// rows. Stored binaries are kept.
func (s *EnrollmentService) Remove(ctx context.Context, id string, actor *models.JWTClaims) error {
	if !isAdmin(actor) {
		return appErrors.ErrForbidden
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return storeError(err, "enrollment not found", "failed to load enrollment")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return storeError(err, "enrollment not found", "failed to delete enrollment")
	}
	s.invalidate(ctx, id, enrollment.SessionID)
	s.logger.Info("enrollment removed", zap.String("enrollment_id", id), zap.String("session_id", enrollment.SessionID), zap.String("actor", actor.Actor()))
	resourceID := id
	emitAudit(ctx, s.audit, s.logger, "enrollment-service", &models.AuditLog{
		UserID:     actorID(actor),
		Action:     models.AuditActionEnrollmentDelete,
		Resource:   "enrollment",
		ResourceID: &resourceID,
		OldValues: []byte(fmt.Sprintf(`{"participant_id":%q,"session_id":%q,"payment_status":%q,"registration_status":%q}`,
			enrollment.ParticipantID, enrollment.SessionID, enrollment.PaymentStatus, enrollment.RegistrationStatus)),
	})
	return nil
}

func (s *EnrollmentService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	return err == nil && hit
}

func (s *EnrollmentService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Set(ctx, key, value, s.cacheTTL)
}

func (s *EnrollmentService) invalidate(ctx context.Context, id, sessionID string) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateEnrollment(ctx, id, sessionID)
}
