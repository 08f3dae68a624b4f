package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/notify"
	"github.com/noah-isme/training-admin-api/pkg/storage"
)

type certificateFixture struct {
	svc      *CertificateService
	db       *memDB
	objects  *memObjects
	renderer *rendererStub
	notifier *dispatcherStub
	audit    *auditRecorder
}

func newCertificateFixture(t *testing.T) *certificateFixture {
	t.Helper()
	f := &certificateFixture{
		db:       newMemDB(),
		objects:  &memObjects{},
		renderer: &rendererStub{},
		notifier: &dispatcherStub{},
		audit:    &auditRecorder{},
	}
	links := NewFileService(nil, storage.NewSignedURLSigner("download-secret", time.Hour), "/api/v1")
	f.svc = NewCertificateService(certificateStub{f.db}, enrollmentStub{f.db}, f.objects, f.renderer, links, f.notifier, f.audit, NewMetricsService(), nil, zap.NewNop(), UploadPolicy{})
	return f
}

func strPtr(v string) *string { return &v }

func TestIssueCertificateCreatesThenUpdates(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E")
	ctx := context.Background()

	first, err := f.svc.IssueOrUpdate(ctx, "E", dto.IssueCertificateRequest{
		CertificateNumber: "CERT-2024-001",
		IssueDate:         "2024-03-15",
		ArtifactReference: strPtr("certificates/E/cert.pdf"),
	}, adminActor)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "CERT-2024-001", first.Certificate.CertificateNumber)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), first.Certificate.IssueDate)
	assert.True(t, strings.HasPrefix(first.DownloadURL, "/api/v1/files/download?token="))
	assert.Empty(t, first.Warnings)

	second, err := f.svc.IssueOrUpdate(ctx, "E", dto.IssueCertificateRequest{
		CertificateNumber: "CERT-2024-002",
		IssueDate:         "2024-03-16T09:00:00Z",
	}, adminActor)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Certificate.ID, second.Certificate.ID)
	assert.Equal(t, "CERT-2024-002", second.Certificate.CertificateNumber)
	require.NotNil(t, second.Certificate.ArtifactReference)
	assert.Equal(t, "certificates/E/cert.pdf", *second.Certificate.ArtifactReference)

	assert.Equal(t, 1, f.db.certificateCount())
	assert.Equal(t, []string{models.AuditActionCertificateIssue, models.AuditActionCertificateIssue}, f.audit.actions())
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, notify.TemplateCertificateIssued, f.notifier.sent[0].Template)
	assert.Equal(t, "ayu@example.com", f.notifier.sent[0].Recipient.Address)
	assert.Equal(t, "CERT-2024-001", f.notifier.sent[0].Payload["certificate_number"])
}

func TestIssueCertificateIgnoresPaymentState(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E", func(e *models.EnrollmentDetail) {
		e.PaymentStatus = models.EnrollmentPaymentRejected
		e.RegistrationStatus = models.RegistrationStatusRejected
	})

	out, err := f.svc.IssueOrUpdate(context.Background(), "E", dto.IssueCertificateRequest{CertificateNumber: "SCH-01", IssueDate: "2024-04-01"}, adminActor)
	require.NoError(t, err)
	assert.True(t, out.Created)
}

func TestIssueCertificateDuplicateNumber(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E1")
	f.db.addEnrollment("E2")
	ctx := context.Background()

	_, err := f.svc.IssueOrUpdate(ctx, "E1", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, adminActor)
	require.NoError(t, err)

	_, err = f.svc.IssueOrUpdate(ctx, "E2", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, f.db.certificateCount())
}

func TestIssueCertificateValidation(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E")
	ctx := context.Background()

	cases := []dto.IssueCertificateRequest{
		{IssueDate: "2024-03-15"},
		{CertificateNumber: "CERT-1"},
		{CertificateNumber: "CERT-1", IssueDate: "15/03/2024"},
		{CertificateNumber: "CERT-1", IssueDate: "2024-03-15", ExternalLinkReference: strPtr("not a url")},
	}
	for _, req := range cases {
		_, err := f.svc.IssueOrUpdate(ctx, "E", req, adminActor)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
	assert.Zero(t, f.db.certificateCount())

	_, err := f.svc.IssueOrUpdate(ctx, "missing", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.IssueOrUpdate(ctx, "E", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, &models.JWTClaims{Role: models.RoleInstructor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestIssueCertificateNotificationFailureIsWarning(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E")
	f.notifier.err = errors.New("queue full")

	out, err := f.svc.IssueOrUpdate(context.Background(), "E", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, []string{WarningNotificationFailed}, out.Warnings)
	assert.Equal(t, 1, f.db.certificateCount())
}

func TestIssueCertificateNotifyOptOut(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E")
	off := false

	_, err := f.svc.IssueOrUpdate(context.Background(), "E", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15", Notify: &off}, adminActor)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.sent)
}

func TestCertificateAttachArtifact(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E")
	ctx := context.Background()
	issued, err := f.svc.IssueOrUpdate(ctx, "E", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, adminActor)
	require.NoError(t, err)
	assert.Empty(t, issued.DownloadURL)

	out, err := f.svc.AttachArtifact(ctx, issued.Certificate.ID, dto.AttachArtifactRequest{ArtifactReference: " certificates/E/final.pdf "}, adminActor)
	require.NoError(t, err)
	require.NotNil(t, out.Certificate.ArtifactReference)
	assert.Equal(t, "certificates/E/final.pdf", *out.Certificate.ArtifactReference)
	assert.NotEmpty(t, out.DownloadURL)

	got, err := f.svc.Get(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, "certificates/E/final.pdf", *got.Certificate.ArtifactReference)

	_, err = f.svc.AttachArtifact(ctx, "cert-missing", dto.AttachArtifactRequest{ArtifactReference: "x.pdf"}, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCertificateUploadArtifact(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E")
	ctx := context.Background()
	issued, err := f.svc.IssueOrUpdate(ctx, "E", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, adminActor)
	require.NoError(t, err)
	pdf := []byte("%PDF-1.4 signed certificate")

	out, err := f.svc.UploadArtifact(ctx, issued.Certificate.ID, Upload{Filename: "cert.pdf", Size: int64(len(pdf)), Content: bytes.NewReader(pdf)}, adminActor)
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	require.NotNil(t, out.Certificate.ArtifactReference)
	assert.True(t, strings.HasPrefix(*out.Certificate.ArtifactReference, "certificates/E/"))
	assert.Equal(t, pdf, f.objects.objects[*out.Certificate.ArtifactReference])

	png := []byte("\x89PNG\r\n\x1a\n not a pdf")
	_, err = f.svc.UploadArtifact(ctx, issued.Certificate.ID, Upload{Filename: "cert.png", Size: int64(len(png)), Content: bytes.NewReader(png)}, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnsupportedMediaType.Code, appErrors.FromError(err).Code)
}

func TestCertificateUploadFailureKeepsCertificate(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E")
	ctx := context.Background()
	issued, err := f.svc.IssueOrUpdate(ctx, "E", dto.IssueCertificateRequest{CertificateNumber: "CERT-1", IssueDate: "2024-03-15"}, adminActor)
	require.NoError(t, err)
	f.objects.err = errors.New("disk full")
	pdf := []byte("%PDF-1.4 signed certificate")

	out, err := f.svc.UploadArtifact(ctx, issued.Certificate.ID, Upload{Filename: "cert.pdf", Size: int64(len(pdf)), Content: bytes.NewReader(pdf)}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, []string{WarningArtifactNotAttached}, out.Warnings)
	assert.Nil(t, out.Certificate.ArtifactReference)

	got, err := f.svc.Get(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, "CERT-1", got.Certificate.CertificateNumber)
	assert.Nil(t, got.Certificate.ArtifactReference)
}

func TestCertificateRenderArtifact(t *testing.T) {
	f := newCertificateFixture(t)
	f.db.addEnrollment("E", func(e *models.EnrollmentDetail) { e.PresentDayCount = 4 })
	ctx := context.Background()
	issued, err := f.svc.IssueOrUpdate(ctx, "E", dto.IssueCertificateRequest{CertificateNumber: "CERT-9", IssueDate: "2024-03-15"}, adminActor)
	require.NoError(t, err)

	out, err := f.svc.RenderArtifact(ctx, issued.Certificate.ID, adminActor)
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	require.Len(t, f.renderer.docs, 1)
	doc := f.renderer.docs[0]
	assert.Equal(t, "CERT-9", doc.CertificateNumber)
	assert.Equal(t, "Ayu Lestari", doc.ParticipantName)
	assert.Equal(t, "Go Fundamentals", doc.SessionTitle)
	assert.Equal(t, 4, doc.PresentDays)
	require.NotNil(t, out.Certificate.ArtifactReference)
	assert.True(t, strings.HasSuffix(*out.Certificate.ArtifactReference, ".pdf"))

	f.renderer.err = errors.New("font missing")
	out, err = f.svc.RenderArtifact(ctx, issued.Certificate.ID, adminActor)
	require.NoError(t, err)
	assert.Equal(t, []string{WarningArtifactNotAttached}, out.Warnings)
}
