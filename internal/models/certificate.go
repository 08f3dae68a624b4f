package models

import "time"

// Certificate is the single completion certificate of an enrollment.
type Certificate struct {
	ID                    string    `db:"id" json:"id"`
	EnrollmentID          string    `db:"enrollment_id" json:"enrollment_id"`
	CertificateNumber     string    `db:"certificate_number" json:"certificate_number"`
	IssueDate             time.Time `db:"issue_date" json:"issue_date"`
	ArtifactReference     *string   `db:"artifact_reference" json:"artifact_reference,omitempty"`
	ExternalLinkReference *string   `db:"external_link_reference" json:"external_link_reference,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}
