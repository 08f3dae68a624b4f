package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/training-admin-api/internal/models"
)

func TestCertificateRepositoryUpsertReportsInsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	issued := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "certificate_number", "issue_date", "artifact_reference", "external_link_reference", "created_at", "updated_at", "inserted"}).
		AddRow("cert-1", "enr-1", "CERT-001", issued, nil, nil, issued, issued, true)
	mock.ExpectQuery("INSERT INTO certificates .* ON CONFLICT \\(enrollment_id\\) DO UPDATE").
		WithArgs(sqlmock.AnyArg(), "enr-1", "CERT-001", issued, nil, nil, sqlmock.AnyArg()).
		WillReturnRows(rows)

	cert := &models.Certificate{EnrollmentID: "enr-1", CertificateNumber: "CERT-001", IssueDate: issued}
	inserted, err := repo.Upsert(context.Background(), cert)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "cert-1", cert.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryUpsertKeepsExistingArtifact(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	issued := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "certificate_number", "issue_date", "artifact_reference", "external_link_reference", "created_at", "updated_at", "inserted"}).
		AddRow("cert-1", "enr-1", "CERT-002", issued, "certificates/cert-1.pdf", nil, issued, issued, false)
	mock.ExpectQuery("COALESCE\\(EXCLUDED.artifact_reference, certificates.artifact_reference\\)").
		WillReturnRows(rows)

	cert := &models.Certificate{EnrollmentID: "enr-1", CertificateNumber: "CERT-002", IssueDate: issued}
	inserted, err := repo.Upsert(context.Background(), cert)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NotNil(t, cert.ArtifactReference)
	assert.Equal(t, "certificates/cert-1.pdf", *cert.ArtifactReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryUpsertDuplicateNumber(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery("INSERT INTO certificates").
		WillReturnError(&pq.Error{Code: "23505", Constraint: CertificateNumberConstraint})

	_, err := repo.Upsert(context.Background(), &models.Certificate{EnrollmentID: "enr-2", CertificateNumber: "CERT-001", IssueDate: time.Now()})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, CertificateNumberConstraint))
	assert.NoError(t, mock.ExpectationsWereMet())
}
