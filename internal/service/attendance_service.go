package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/lock"
)

type attendanceStore interface {
	Create(ctx context.Context, event *models.AttendanceEvent) error
	FindByID(ctx context.Context, id string) (*models.AttendanceEvent, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.AttendanceEvent, error)
	Update(ctx context.Context, id string, patch models.AttendancePatch) error
	Delete(ctx context.Context, id string) error
}

type presenceStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	UpdatePresentDayCount(ctx context.Context, id string, count int) error
}

type enrollmentCache interface {
	InvalidateEnrollment(ctx context.Context, enrollmentID, sessionID string)
}

// AttendanceService owns the attendance ledger and keeps the present day
// counter of each enrollment rebuilt from it.
type AttendanceService struct {
	events      attendanceStore
	enrollments presenceStore
	locker      lock.Locker
	cache       enrollmentCache
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs the service.
func NewAttendanceService(events attendanceStore, enrollments presenceStore, locker lock.Locker, cache enrollmentCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		events:      events,
		enrollments: enrollments,
		locker:      locker,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

func enrollmentLockKey(enrollmentID string) string {
	return "attendance:" + enrollmentID
}

// Record appends an attendance event and recomputes the counter.
func (s *AttendanceService) Record(ctx context.Context, enrollmentID string, req dto.RecordAttendanceRequest) (*models.AttendanceEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	attendedAt, err := parseTimestamp(req.AttendedAt)
	if err != nil {
		return nil, err
	}
	mode := models.AttendanceModeOffline
	if req.Mode != "" {
		mode = models.AttendanceMode(strings.ToUpper(req.Mode))
	}
	event := &models.AttendanceEvent{
		EnrollmentID: enrollmentID,
		AttendedAt:   attendedAt,
		Status:       models.AttendanceStatus(strings.ToUpper(req.Status)),
		Mode:         mode,
	}

	release, err := s.acquire(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, storeError(err, "enrollment not found", "failed to record attendance")
	}
	s.metrics.RecordAttendanceMutation("create")
	s.recompute(ctx, enrollment.ID, enrollment.SessionID)
	return event, nil
}

// Update edits the given fields of an event and recomputes the counter.
func (s *AttendanceService) Update(ctx context.Context, eventID string, req dto.UpdateAttendanceRequest) (*models.AttendanceEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	patch, err := toPatch(req)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no attendance fields to update")
	}

	current, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, storeError(err, "attendance event not found", "failed to load attendance event")
	}
	release, err := s.acquire(ctx, current.EnrollmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.events.Update(ctx, eventID, patch); err != nil {
		return nil, storeError(err, "attendance event not found", "failed to update attendance")
	}
	s.metrics.RecordAttendanceMutation("update")
	s.recompute(ctx, current.EnrollmentID, s.sessionOf(ctx, current.EnrollmentID))

	updated, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, storeError(err, "attendance event not found", "failed to reload attendance event")
	}
	return updated, nil
}

// Delete removes an event and recomputes the counter.
func (s *AttendanceService) Delete(ctx context.Context, eventID string) error {
	current, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return storeError(err, "attendance event not found", "failed to load attendance event")
	}
	release, err := s.acquire(ctx, current.EnrollmentID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.events.Delete(ctx, eventID); err != nil {
		return storeError(err, "attendance event not found", "failed to delete attendance")
	}
	s.metrics.RecordAttendanceMutation("delete")
	s.recompute(ctx, current.EnrollmentID, s.sessionOf(ctx, current.EnrollmentID))
	return nil
}

// List returns the events of an enrollment, most recent first.
func (s *AttendanceService) List(ctx context.Context, enrollmentID string) ([]models.AttendanceEvent, error) {
	if _, err := s.enrollments.FindByID(ctx, enrollmentID); err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	events, err := s.events.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to list attendance")
	}
	if events == nil {
		events = []models.AttendanceEvent{}
	}
	return events, nil
}

// RebuildPresence recomputes the counter of one enrollment from the ledger.
func (s *AttendanceService) RebuildPresence(ctx context.Context, enrollmentID string) (*dto.PresenceRebuildResponse, error) {
	release, err := s.acquire(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	events, err := s.events.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to list attendance")
	}
	count := CountPresent(events)
	if err := s.enrollments.UpdatePresentDayCount(ctx, enrollmentID, count); err != nil {
		s.metrics.RecordPresenceRecompute("failed")
		return nil, storeError(err, "enrollment not found", "failed to write present day count")
	}
	s.metrics.RecordPresenceRecompute("written")
	if s.cache != nil {
		s.cache.InvalidateEnrollment(ctx, enrollmentID, enrollment.SessionID)
	}
	if count != enrollment.PresentDayCount {
		s.logger.Info("present day count repaired",
			zap.String("enrollment_id", enrollmentID),
			zap.Int("previous", enrollment.PresentDayCount),
			zap.Int("present_day_count", count))
	}
	return &dto.PresenceRebuildResponse{
		EnrollmentID:    enrollmentID,
		PreviousCount:   enrollment.PresentDayCount,
		PresentDayCount: count,
		Events:          len(events),
	}, nil
}

// recompute rebuilds the counter after a ledger write. The ledger write has
// already succeeded, so failures here are logged and never returned; a later
// write or RebuildPresence repairs the counter.
func (s *AttendanceService) recompute(ctx context.Context, enrollmentID, sessionID string) {
	events, err := s.events.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		s.metrics.RecordPresenceRecompute("failed")
		s.logger.Error("present day count recompute failed", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		return
	}
	count := CountPresent(events)
	if err := s.enrollments.UpdatePresentDayCount(ctx, enrollmentID, count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordPresenceRecompute("vanished")
			s.logger.Warn("enrollment vanished before present day count write", zap.String("enrollment_id", enrollmentID))
			return
		}
		s.metrics.RecordPresenceRecompute("failed")
		s.logger.Error("present day count write failed", zap.String("enrollment_id", enrollmentID), zap.Int("present_day_count", count), zap.Error(err))
		return
	}
	s.metrics.RecordPresenceRecompute("written")
	if s.cache != nil {
		s.cache.InvalidateEnrollment(ctx, enrollmentID, sessionID)
	}
}

func (s *AttendanceService) sessionOf(ctx context.Context, enrollmentID string) string {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return ""
	}
	return enrollment.SessionID
}

func (s *AttendanceService) acquire(ctx context.Context, enrollmentID string) (lock.Release, error) {
	release, err := s.locker.Acquire(ctx, enrollmentLockKey(enrollmentID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "enrollment is busy, please retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to lock enrollment")
	}
	return release, nil
}

func toPatch(req dto.UpdateAttendanceRequest) (models.AttendancePatch, error) {
	var patch models.AttendancePatch
	if req.AttendedAt != nil {
		t, err := parseTimestamp(*req.AttendedAt)
		if err != nil {
			return patch, err
		}
		patch.AttendedAt = &t
	}
	if req.Status != nil {
		status := models.AttendanceStatus(strings.ToUpper(*req.Status))
		patch.Status = &status
	}
	if req.Mode != nil {
		mode := models.AttendanceMode(strings.ToUpper(*req.Mode))
		patch.Mode = &mode
	}
	return patch, nil
}
