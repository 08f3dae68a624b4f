package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/internal/repository"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/lock"
	"github.com/noah-isme/training-admin-api/pkg/notify"
)

// enrollmentRefPrefix marks a reference that names the enrollment rather than
// the payment, e.g. "enrollment:<id>".
const enrollmentRefPrefix = "enrollment:"

type paymentStore interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByEnrollmentID(ctx context.Context, enrollmentID string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	UpdateSubmission(ctx context.Context, payment *models.Payment, from models.PaymentStatus) error
	UpdateStatus(ctx context.Context, id string, from, to models.PaymentStatus, verifiedAt *time.Time) error
}

type paymentEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	UpdatePaymentState(ctx context.Context, id string, payment models.EnrollmentPaymentStatus, registration models.RegistrationStatus, auditLine string) error
}

type notificationDispatcher interface {
	Dispatch(ctx context.Context, n notify.Notification) error
}

// PaymentServiceConfig tunes the enrollment phase of a transition.
type PaymentServiceConfig struct {
	EnrollmentRetries int
	RetryDelay        time.Duration
	Upload            UploadPolicy
}

// PaymentService is the payment state machine. Every transition writes the
// payment first and then the enrollment status pair; when the second write
// cannot be applied the caller receives VERIFICATION_PARTIAL and Reconcile
// repairs the enrollment.
type PaymentService struct {
	payments    paymentStore
	enrollments paymentEnrollmentStore
	evidence    objectStore
	locker      lock.Locker
	cache       enrollmentCache
	notifier    notificationDispatcher
	audit       auditLogger
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         PaymentServiceConfig
	uploads     uploadChecker
	now         func() time.Time
}

// NewPaymentService constructs the service.
func NewPaymentService(payments paymentStore, enrollments paymentEnrollmentStore, evidence objectStore, locker lock.Locker, cache enrollmentCache, notifier notificationDispatcher, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg PaymentServiceConfig) *PaymentService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnrollmentRetries < 0 {
		cfg.EnrollmentRetries = 0
	}
	return &PaymentService{
		payments:    payments,
		enrollments: enrollments,
		evidence:    evidence,
		locker:      locker,
		cache:       cache,
		notifier:    notifier,
		audit:       audit,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		uploads:     newUploadChecker(cfg.Upload),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates or resubmits the payment of an enrollment and moves both
// records to PENDING. evidence is optional.
func (s *PaymentService) Submit(ctx context.Context, enrollmentID string, req dto.SubmitPaymentRequest, evidence *Upload, actor *models.JWTClaims) (*dto.PaymentStateResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment payload")
	}
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	if actor.Role == models.RoleParticipant && actor.UserID != enrollment.ParticipantID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "payment belongs to another participant")
	}

	var evidenceMime string
	if evidence != nil {
		if evidenceMime, err = s.uploads.check(*evidence); err != nil {
			return nil, err
		}
	}

	release, err := s.acquire(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.payments.FindByEnrollmentID(ctx, enrollmentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storeError(err, "payment not found", "failed to load payment")
	}
	if existing != nil && !submissionAllowed(existing.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("payment is %s and cannot be resubmitted", existing.Status))
	}

	var evidenceRef *string
	if evidence != nil {
		ref, err := s.evidence.Put(ctx, objectKey("payments", enrollmentID, evidenceMime), evidence.Content)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to store payment evidence")
		}
		evidenceRef = &ref
	}

	now := s.now()
	from := models.PaymentStatusUnpaid
	payment := &models.Payment{
		EnrollmentID:      enrollmentID,
		Status:            models.PaymentStatusPending,
		Amount:            req.Amount,
		Method:            strings.TrimSpace(req.Method),
		EvidenceReference: evidenceRef,
		SubmittedAt:       &now,
	}
	if existing == nil {
		if err := s.payments.Create(ctx, payment); err != nil {
			return nil, storeError(err, "enrollment not found", "failed to create payment")
		}
	} else {
		from = existing.Status
		payment.ID = existing.ID
		payment.CreatedAt = existing.CreatedAt
		if payment.EvidenceReference == nil {
			payment.EvidenceReference = existing.EvidenceReference
		}
		if err := s.payments.UpdateSubmission(ctx, payment, existing.Status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "payment changed concurrently, please retry")
			}
			return nil, storeError(err, "payment not found", "failed to resubmit payment")
		}
	}
	s.metrics.RecordPaymentTransition("submit", string(from), string(payment.Status))

	line := s.auditLine("submitted", actor, fmt.Sprintf("amount %d via %s", payment.Amount, payment.Method))
	if err := s.applyEnrollment(ctx, payment, enrollment.ID, line); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, models.AuditActionPaymentSubmit, payment, from, actor, "")
	return s.result(ctx, payment, enrollment, true)
}

// Verify approves or rejects a PENDING payment. ref is a payment ID or, as a
// logged fallback, an enrollment reference.
func (s *PaymentService) Verify(ctx context.Context, ref string, approve bool, actor *models.JWTClaims) (*dto.PaymentStateResponse, error) {
	if !isAdmin(actor) {
		return nil, appErrors.ErrForbidden
	}
	payment, release, err := s.resolveLocked(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer release()

	target, _ := verificationTarget(approve)
	decision := "rejected"
	if approve {
		decision = "approved"
	}

	switch payment.Status {
	case models.PaymentStatusPending:
	case target:
		enrollment, err := s.enrollments.FindByID(ctx, payment.EnrollmentID)
		if err != nil {
			return nil, storeError(err, "enrollment not found", "failed to load enrollment")
		}
		if consistentWith(enrollment, target) {
			return &dto.PaymentStateResponse{Payment: payment, Enrollment: enrollment, Changed: false}, nil
		}
		// A previous verification left the enrollment behind; finish it.
		line := s.auditLine(decision, actor, "completing earlier verification")
		if err := s.applyEnrollment(ctx, payment, enrollment.ID, line); err != nil {
			return nil, err
		}
		return s.result(ctx, payment, enrollment, true)
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("payment is %s; use override to change a decided payment", payment.Status))
	}

	from := payment.Status
	if err := s.applyPayment(ctx, payment, target); err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentTransition("verify", string(from), string(target))
	if err := s.applyEnrollment(ctx, payment, payment.EnrollmentID, s.auditLine(decision, actor, "")); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, models.AuditActionPaymentVerify, payment, from, actor, "")
	s.notifyDecision(ctx, payment)
	return s.result(ctx, payment, nil, true)
}

// Override forces an administrative correction of a decided payment.
func (s *PaymentService) Override(ctx context.Context, ref string, req dto.OverridePaymentRequest, actor *models.JWTClaims) (*dto.PaymentStateResponse, error) {
	if !isAdmin(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid override payload")
	}
	target := models.PaymentStatus(strings.ToUpper(req.Status))

	payment, release, err := s.resolveLocked(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer release()

	from := payment.Status
	if !overrideAllowed(from, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("override from %s to %s is not allowed", from, target))
	}
	s.logger.Warn("payment override",
		zap.String("payment_id", payment.ID),
		zap.String("enrollment_id", payment.EnrollmentID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor.Actor()),
		zap.String("reason", req.Reason))

	if err := s.applyPayment(ctx, payment, target); err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentTransition("override", string(from), string(target))
	line := s.auditLine(fmt.Sprintf("override %s->%s", from, target), actor, req.Reason)
	if err := s.applyEnrollment(ctx, payment, payment.EnrollmentID, line); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, models.AuditActionPaymentOverride, payment, from, actor, req.Reason)
	s.notifyDecision(ctx, payment)
	return s.result(ctx, payment, nil, true)
}

// Reconcile re-derives the enrollment status pair from the payment status. It
// is a no-op when both records already agree.
func (s *PaymentService) Reconcile(ctx context.Context, ref string, actor *models.JWTClaims) (*dto.PaymentStateResponse, error) {
	if !isAdmin(actor) {
		return nil, appErrors.ErrForbidden
	}
	payment, release, err := s.resolveLocked(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer release()

	enrollment, err := s.enrollments.FindByID(ctx, payment.EnrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	if consistentWith(enrollment, payment.Status) {
		return &dto.PaymentStateResponse{Payment: payment, Enrollment: enrollment, Changed: false}, nil
	}
	line := s.auditLine("reconciled", actor, fmt.Sprintf("enrollment was %s/%s", enrollment.PaymentStatus, enrollment.RegistrationStatus))
	if err := s.applyEnrollment(ctx, payment, enrollment.ID, line); err != nil {
		return nil, err
	}
	s.logger.Info("enrollment reconciled with payment",
		zap.String("payment_id", payment.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.String("payment_status", string(payment.Status)))
	s.recordAudit(ctx, models.AuditActionPaymentReconcile, payment, payment.Status, actor, "")
	return s.result(ctx, payment, enrollment, true)
}

// Get returns the payment an ID or enrollment reference resolves to.
func (s *PaymentService) Get(ctx context.Context, ref string) (*models.Payment, error) {
	return s.resolve(ctx, ref)
}

func (s *PaymentService) resolve(ctx context.Context, ref string) (*models.Payment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment reference is required")
	}
	if !strings.HasPrefix(ref, enrollmentRefPrefix) {
		payment, err := s.payments.FindByID(ctx, ref)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, sql.ErrNoRows) && !repository.IsInvalidIdentifier(err) {
			return nil, storeError(err, "payment not found", "failed to load payment")
		}
	}
	enrollmentID := strings.TrimPrefix(ref, enrollmentRefPrefix)
	payment, err := s.payments.FindByEnrollmentID(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "payment not found", "failed to load payment")
	}
	s.logger.Warn("payment resolved through enrollment reference",
		zap.String("ref", ref),
		zap.String("payment_id", payment.ID),
		zap.String("enrollment_id", payment.EnrollmentID))
	return payment, nil
}

// resolveLocked resolves ref, locks its enrollment and reloads the payment so
// decisions are taken on the state seen under the lock.
func (s *PaymentService) resolveLocked(ctx context.Context, ref string) (*models.Payment, lock.Release, error) {
	payment, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	release, err := s.acquire(ctx, payment.EnrollmentID)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.payments.FindByID(ctx, payment.ID)
	if err != nil {
		release()
		return nil, nil, storeError(err, "payment not found", "failed to reload payment")
	}
	return current, release, nil
}

func (s *PaymentService) applyPayment(ctx context.Context, payment *models.Payment, to models.PaymentStatus) error {
	var verifiedAt *time.Time
	if to == models.PaymentStatusPaid || to == models.PaymentStatusRejected {
		now := s.now()
		verifiedAt = &now
	}
	if err := s.payments.UpdateStatus(ctx, payment.ID, payment.Status, to, verifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "payment changed concurrently, please retry")
		}
		return storeError(err, "payment not found", "failed to update payment")
	}
	payment.Status = to
	payment.VerifiedAt = verifiedAt
	return nil
}

// applyEnrollment writes the status pair implied by payment.Status, retrying
// transient failures. The payment is already written at this point, so a final
// failure is reported as VERIFICATION_PARTIAL.
func (s *PaymentService) applyEnrollment(ctx context.Context, payment *models.Payment, enrollmentID, auditLine string) error {
	paymentStatus, registration := enrollmentStateFor(payment.Status)
	var err error
	for attempt := 0; ; attempt++ {
		err = s.enrollments.UpdatePaymentState(ctx, enrollmentID, paymentStatus, registration, auditLine)
		if err == nil || errors.Is(err, sql.ErrNoRows) || attempt >= s.cfg.EnrollmentRetries {
			break
		}
		if waitErr := wait(ctx, s.cfg.RetryDelay); waitErr != nil {
			break
		}
	}
	if err == nil {
		return nil
	}
	s.metrics.RecordVerificationPartial()
	s.logger.Error("payment updated but enrollment update failed",
		zap.String("payment_id", payment.ID),
		zap.String("enrollment_id", enrollmentID),
		zap.String("payment_status", string(payment.Status)),
		zap.String("target_enrollment_payment_status", string(paymentStatus)),
		zap.String("target_registration_status", string(registration)),
		zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrVerificationPartial.Code, appErrors.ErrVerificationPartial.Status, appErrors.ErrVerificationPartial.Message)
}

func (s *PaymentService) result(ctx context.Context, payment *models.Payment, fallback *models.Enrollment, changed bool) (*dto.PaymentStateResponse, error) {
	enrollment, err := s.enrollments.FindByID(ctx, payment.EnrollmentID)
	if err != nil {
		if fallback == nil {
			return nil, storeError(err, "enrollment not found", "failed to reload enrollment")
		}
		s.logger.Warn("failed to reload enrollment after payment transition", zap.String("enrollment_id", payment.EnrollmentID), zap.Error(err))
		enrollment = fallback
	}
	if changed && s.cache != nil {
		s.cache.InvalidateEnrollment(ctx, enrollment.ID, enrollment.SessionID)
	}
	return &dto.PaymentStateResponse{Payment: payment, Enrollment: enrollment, Changed: changed}, nil
}

func (s *PaymentService) auditLine(action string, actor *models.JWTClaims, note string) string {
	line := fmt.Sprintf("[%s] payment %s by %s", s.now().Format(time.RFC3339), action, actor.Actor())
	if note = strings.TrimSpace(note); note != "" {
		line += ": " + note
	}
	return line
}

func (s *PaymentService) recordAudit(ctx context.Context, action string, payment *models.Payment, from models.PaymentStatus, actor *models.JWTClaims, reason string) {
	old := []byte(fmt.Sprintf(`{"status":%q}`, from))
	newValues := []byte(fmt.Sprintf(`{"status":%q,"enrollment_id":%q,"reason":%q}`, payment.Status, payment.EnrollmentID, reason))
	id := payment.ID
	emitAudit(ctx, s.audit, s.logger, "payment-service", &models.AuditLog{
		UserID:     actorID(actor),
		Action:     action,
		Resource:   "payment",
		ResourceID: &id,
		OldValues:  old,
		NewValues:  newValues,
	})
}

func (s *PaymentService) notifyDecision(ctx context.Context, payment *models.Payment) {
	if s.notifier == nil {
		return
	}
	var template notify.Template
	switch payment.Status {
	case models.PaymentStatusPaid:
		template = notify.TemplatePaymentVerified
	case models.PaymentStatusRejected:
		template = notify.TemplatePaymentRejected
	default:
		return
	}
	detail, err := s.enrollments.FindDetailByID(ctx, payment.EnrollmentID)
	if err != nil {
		s.logger.Warn("skipping payment notification", zap.String("payment_id", payment.ID), zap.Error(err))
		return
	}
	err = s.notifier.Dispatch(ctx, notify.Notification{
		Recipient: mail.Address{Name: detail.ParticipantName, Address: detail.ParticipantEmail},
		Template:  template,
		Payload: map[string]string{
			"participant_name": detail.ParticipantName,
			"session_title":    detail.SessionTitle,
		},
	})
	if err != nil {
		s.logger.Warn("payment notification not dispatched",
			zap.String("payment_id", payment.ID),
			zap.String("template", string(template)),
			zap.Error(err))
	}
}

func (s *PaymentService) acquire(ctx context.Context, enrollmentID string) (lock.Release, error) {
	release, err := s.locker.Acquire(ctx, "payment:"+enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "payment is busy, please retry")
	}
	return release, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
