package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/training-admin-api/internal/models"
)

const certificateColumns = `id, enrollment_id, certificate_number, issue_date, artifact_reference, external_link_reference, created_at, updated_at`

// CertificateNumberConstraint is the unique index guarding certificate numbers.
const CertificateNumberConstraint = "certificates_certificate_number_key"

// CertificateRepository persists issued certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// FindByID loads a certificate.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// FindByEnrollmentID loads the certificate of an enrollment.
func (r *CertificateRepository) FindByEnrollmentID(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE enrollment_id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, enrollmentID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// Upsert creates the certificate of an enrollment or updates the existing one
// in place. Nil artifact or link references keep the stored values. The
// returned flag is true when a new row was inserted.
func (r *CertificateRepository) Upsert(ctx context.Context, cert *models.Certificate) (bool, error) {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	const query = `INSERT INTO certificates (id, enrollment_id, certificate_number, issue_date, artifact_reference, external_link_reference, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
        ON CONFLICT (enrollment_id) DO UPDATE
        SET certificate_number = EXCLUDED.certificate_number,
            issue_date = EXCLUDED.issue_date,
            artifact_reference = COALESCE(EXCLUDED.artifact_reference, certificates.artifact_reference),
            external_link_reference = COALESCE(EXCLUDED.external_link_reference, certificates.external_link_reference),
            updated_at = EXCLUDED.updated_at
        RETURNING ` + certificateColumns + `, (xmax = 0) AS inserted`

	var row struct {
		models.Certificate
		Inserted bool `db:"inserted"`
	}
	if err := r.db.GetContext(ctx, &row, query,
		cert.ID, cert.EnrollmentID, cert.CertificateNumber, cert.IssueDate,
		cert.ArtifactReference, cert.ExternalLinkReference, now); err != nil {
		return false, fmt.Errorf("upsert certificate: %w", err)
	}
	*cert = row.Certificate
	return row.Inserted, nil
}

// UpdateArtifact stores the artifact reference of a certificate.
func (r *CertificateRepository) UpdateArtifact(ctx context.Context, id, artifactRef string) error {
	const query = `UPDATE certificates SET artifact_reference = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, artifactRef, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update certificate artifact: %w", err)
	}
	return expectAffected(res, "update certificate artifact")
}
