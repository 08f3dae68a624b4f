package service

import (
	"bytes"
	"context"
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
	"github.com/noah-isme/training-admin-api/pkg/export"
	"github.com/noah-isme/training-admin-api/pkg/notify"
)

// Warning messages attached to partially successful certificate writes.
const (
	WarningArtifactNotAttached = "certificate saved but the artifact could not be attached"
	WarningNotificationFailed  = "certificate saved but the participant notification could not be queued"
)

type certificateStore interface {
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByEnrollmentID(ctx context.Context, enrollmentID string) (*models.Certificate, error)
	Upsert(ctx context.Context, cert *models.Certificate) (bool, error)
	UpdateArtifact(ctx context.Context, id, artifactRef string) error
}

type certificateEnrollmentReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

type certificateRenderer interface {
	RenderCertificate(doc export.CertificateDocument) ([]byte, error)
}

type downloadLinker interface {
	DownloadURL(ownerID, key string) (string, error)
}

// CertificateService is the issuance gate. It upserts the single certificate
// of an enrollment without checking payment or attendance; issuance ahead of
// full payment (e.g. scholarships) is an administrative decision.
type CertificateService struct {
	certificates certificateStore
	enrollments  certificateEnrollmentReader
	artifacts    objectStore
	renderer     certificateRenderer
	links        downloadLinker
	notifier     notificationDispatcher
	audit        auditLogger
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	uploads      uploadChecker
}

// NewCertificateService constructs the service.
func NewCertificateService(certificates certificateStore, enrollments certificateEnrollmentReader, artifacts objectStore, renderer certificateRenderer, links downloadLinker, notifier notificationDispatcher, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, uploads UploadPolicy) *CertificateService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(uploads.AllowedMIMEs) == 0 {
		uploads.AllowedMIMEs = []string{"application/pdf"}
	}
	return &CertificateService{
		certificates: certificates,
		enrollments:  enrollments,
		artifacts:    artifacts,
		renderer:     renderer,
		links:        links,
		notifier:     notifier,
		audit:        audit,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		uploads:      newUploadChecker(uploads),
	}
}

// IssueOrUpdate creates the certificate of an enrollment or overwrites the
// existing one. Issuing twice never produces a second record.
func (s *CertificateService) IssueOrUpdate(ctx context.Context, enrollmentID string, req dto.IssueCertificateRequest, actor *models.JWTClaims) (*dto.CertificateResult, error) {
	if !isAdmin(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid certificate payload")
	}
	issueDate, err := parseTimestamp(req.IssueDate)
	if err != nil {
		return nil, err
	}
	// Fresh read; the gate never works from cached enrollment state.
	enrollment, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}

	cert := &models.Certificate{
		EnrollmentID:          enrollmentID,
		CertificateNumber:     strings.TrimSpace(req.CertificateNumber),
		IssueDate:             issueDate,
		ArtifactReference:     trimmedRef(req.ArtifactReference),
		ExternalLinkReference: trimmedRef(req.ExternalLinkReference),
	}
	created, err := s.certificates.Upsert(ctx, cert)
	if err != nil {
		if repository.IsUniqueViolation(err, repository.CertificateNumberConstraint) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "certificate number already used by another enrollment")
		}
		return nil, storeError(err, "enrollment not found", "failed to save certificate")
	}
	result := "updated"
	if created {
		result = "created"
	}
	s.metrics.RecordCertificate(result)
	s.logger.Info("certificate saved",
		zap.String("certificate_id", cert.ID),
		zap.String("enrollment_id", enrollmentID),
		zap.String("certificate_number", cert.CertificateNumber),
		zap.Bool("created", created),
		zap.String("payment_status", string(enrollment.PaymentStatus)),
		zap.Int("present_day_count", enrollment.PresentDayCount))

	id := cert.ID
	emitAudit(ctx, s.audit, s.logger, "certificate-service", &models.AuditLog{
		UserID:     actorID(actor),
		Action:     models.AuditActionCertificateIssue,
		Resource:   "certificate",
		ResourceID: &id,
		NewValues:  []byte(fmt.Sprintf(`{"certificate_number":%q,"result":%q}`, cert.CertificateNumber, result)),
	})

	out := s.result(cert, created)
	if req.Notify == nil || *req.Notify {
		if err := s.notifyIssued(ctx, cert, enrollment); err != nil {
			out.Warnings = append(out.Warnings, WarningNotificationFailed)
		}
	}
	return out, nil
}

// Get returns the certificate of an enrollment.
func (s *CertificateService) Get(ctx context.Context, enrollmentID string) (*dto.CertificateResult, error) {
	cert, err := s.certificates.FindByEnrollmentID(ctx, enrollmentID)
	if err != nil {
		return nil, storeError(err, "certificate not found", "failed to load certificate")
	}
	return s.result(cert, false), nil
}

// AttachArtifact binds an already stored artifact reference to a certificate.
func (s *CertificateService) AttachArtifact(ctx context.Context, certificateID string, req dto.AttachArtifactRequest, actor *models.JWTClaims) (*dto.CertificateResult, error) {
	if !isAdmin(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid artifact payload")
	}
	ref := strings.TrimSpace(req.ArtifactReference)
	if err := s.certificates.UpdateArtifact(ctx, certificateID, ref); err != nil {
		return nil, storeError(err, "certificate not found", "failed to attach artifact")
	}
	s.metrics.RecordCertificateArtifact("reference", "attached")
	cert, err := s.certificates.FindByID(ctx, certificateID)
	if err != nil {
		return nil, storeError(err, "certificate not found", "failed to reload certificate")
	}
	return s.result(cert, false), nil
}

// UploadArtifact stores an uploaded PDF and binds it to the certificate. A
// storage failure leaves the certificate unchanged and is reported as a warning.
func (s *CertificateService) UploadArtifact(ctx context.Context, certificateID string, upload Upload, actor *models.JWTClaims) (*dto.CertificateResult, error) {
	if !isAdmin(actor) {
		return nil, appErrors.ErrForbidden
	}
	cert, err := s.certificates.FindByID(ctx, certificateID)
	if err != nil {
		return nil, storeError(err, "certificate not found", "failed to load certificate")
	}
	mimeType, err := s.uploads.check(upload)
	if err != nil {
		return nil, err
	}
	key := objectKey("certificates", cert.EnrollmentID, mimeType)
	return s.bindArtifact(ctx, cert, "upload", func() (string, error) {
		return s.artifacts.Put(ctx, key, upload.Content)
	}), nil
}

// RenderArtifact generates the certificate PDF, stores it and binds it. Render
// or storage failures are reported as warnings.
func (s *CertificateService) RenderArtifact(ctx context.Context, certificateID string, actor *models.JWTClaims) (*dto.CertificateResult, error) {
	if !isAdmin(actor) {
		return nil, appErrors.ErrForbidden
	}
	cert, err := s.certificates.FindByID(ctx, certificateID)
	if err != nil {
		return nil, storeError(err, "certificate not found", "failed to load certificate")
	}
	enrollment, err := s.enrollments.FindDetailByID(ctx, cert.EnrollmentID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	key := objectKey("certificates", cert.EnrollmentID, "application/pdf")
	return s.bindArtifact(ctx, cert, "render", func() (string, error) {
		pdf, err := s.renderer.RenderCertificate(export.CertificateDocument{
			CertificateNumber: cert.CertificateNumber,
			ParticipantName:   enrollment.ParticipantName,
			SessionTitle:      enrollment.SessionTitle,
			IssueDate:         cert.IssueDate,
			PresentDays:       enrollment.PresentDayCount,
		})
		if err != nil {
			return "", err
		}
		return s.artifacts.Put(ctx, key, bytes.NewReader(pdf))
	}), nil
}

// bindArtifact runs store and, when it yields a reference, writes it to the
// certificate. Any failure keeps the certificate as it was.
func (s *CertificateService) bindArtifact(ctx context.Context, cert *models.Certificate, source string, store func() (string, error)) *dto.CertificateResult {
	ref, err := store()
	if err == nil {
		err = s.certificates.UpdateArtifact(ctx, cert.ID, ref)
	}
	if err != nil {
		s.metrics.RecordCertificateArtifact(source, "failed")
		s.logger.Warn("certificate artifact not attached",
			zap.String("certificate_id", cert.ID),
			zap.String("source", source),
			zap.Error(err))
		out := s.result(cert, false)
		out.Warnings = []string{WarningArtifactNotAttached}
		return out
	}
	s.metrics.RecordCertificateArtifact(source, "attached")
	cert.ArtifactReference = &ref
	cert.UpdatedAt = time.Now().UTC()
	return s.result(cert, false)
}

func (s *CertificateService) result(cert *models.Certificate, created bool) *dto.CertificateResult {
	out := &dto.CertificateResult{Certificate: cert, Created: created}
	if cert.ArtifactReference != nil && s.links != nil {
		if url, err := s.links.DownloadURL(cert.ID, *cert.ArtifactReference); err == nil {
			out.DownloadURL = url
		}
	}
	return out
}

func (s *CertificateService) notifyIssued(ctx context.Context, cert *models.Certificate, enrollment *models.EnrollmentDetail) error {
	if s.notifier == nil {
		return nil
	}
	err := s.notifier.Dispatch(ctx, notify.Notification{
		Recipient: mail.Address{Name: enrollment.ParticipantName, Address: enrollment.ParticipantEmail},
		Template:  notify.TemplateCertificateIssued,
		Payload: map[string]string{
			"participant_name":   enrollment.ParticipantName,
			"session_title":      enrollment.SessionTitle,
			"certificate_number": cert.CertificateNumber,
			"issue_date":         cert.IssueDate.Format(dateLayout),
		},
	})
	if err != nil {
		s.logger.Warn("certificate notification not dispatched", zap.String("certificate_id", cert.ID), zap.Error(err))
	}
	return err
}

func trimmedRef(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
