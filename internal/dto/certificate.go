package dto

import "github.com/noah-isme/training-admin-api/internal/models"

// IssueCertificateRequest creates or updates the certificate of an enrollment.
// Nil references keep the stored values.
type IssueCertificateRequest struct {
	CertificateNumber     string  `json:"certificateNumber" validate:"required,max=64"`
	IssueDate             string  `json:"issueDate" validate:"required,date_or_rfc3339"`
	ArtifactReference     *string `json:"artifactReference" validate:"omitempty,max=512"`
	ExternalLinkReference *string `json:"externalLinkReference" validate:"omitempty,url"`
	Notify                *bool   `json:"notify"`
}

// AttachArtifactRequest binds an already stored artifact to a certificate.
type AttachArtifactRequest struct {
	ArtifactReference string `json:"artifactReference" validate:"required,max=512"`
}

// CertificateResult reports a certificate write. Warnings list follow-up steps
// that failed without invalidating the certificate.
type CertificateResult struct {
	Certificate *models.Certificate `json:"certificate"`
	Created     bool                `json:"created"`
	DownloadURL string              `json:"downloadUrl,omitempty"`
	Warnings    []string            `json:"-"`
}
