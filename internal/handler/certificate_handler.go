package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/internal/service"
	"github.com/noah-isme/training-admin-api/pkg/response"
)

type certificateService interface {
	IssueOrUpdate(ctx context.Context, enrollmentID string, req dto.IssueCertificateRequest, actor *models.JWTClaims) (*dto.CertificateResult, error)
	Get(ctx context.Context, enrollmentID string) (*dto.CertificateResult, error)
	AttachArtifact(ctx context.Context, certificateID string, req dto.AttachArtifactRequest, actor *models.JWTClaims) (*dto.CertificateResult, error)
	UploadArtifact(ctx context.Context, certificateID string, upload service.Upload, actor *models.JWTClaims) (*dto.CertificateResult, error)
	RenderArtifact(ctx context.Context, certificateID string, actor *models.JWTClaims) (*dto.CertificateResult, error)
}

// CertificateHandler exposes the certificate issuance gate.
type CertificateHandler struct {
	service certificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(service certificateService) *CertificateHandler {
	return &CertificateHandler{service: service}
}

// Issue godoc
// @Summary Issue or update the certificate of an enrollment
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.IssueCertificateRequest true "Certificate payload"
// @Success 200 {object} response.Envelope "updated"
// @Success 201 {object} response.Envelope "created"
// @Router /enrollments/{id}/certificate [put]
func (h *CertificateHandler) Issue(c *gin.Context) {
	var req dto.IssueCertificateRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.IssueOrUpdate(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.WithWarnings(c, status, result, result.Warnings)
}

// Get godoc
// @Summary Get the certificate of an enrollment
// @Tags Certificates
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/certificate [get]
func (h *CertificateHandler) Get(c *gin.Context) {
	result, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AttachArtifact godoc
// @Summary Bind a stored artifact reference to a certificate
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param payload body dto.AttachArtifactRequest true "Artifact reference"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/artifact [put]
func (h *CertificateHandler) AttachArtifact(c *gin.Context) {
	var req dto.AttachArtifactRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.AttachArtifact(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// UploadArtifact godoc
// @Summary Upload a certificate PDF and bind it
// @Tags Certificates
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Certificate ID"
// @Param file formData file true "Certificate PDF"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/artifact/upload [post]
func (h *CertificateHandler) UploadArtifact(c *gin.Context) {
	upload, closeUpload, err := formUpload(c, "file", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeUpload()

	result, err := h.service.UploadArtifact(c.Request.Context(), c.Param("id"), *upload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithWarnings(c, http.StatusOK, result, result.Warnings)
}

// RenderArtifact godoc
// @Summary Render the certificate PDF, store it and bind it
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/artifact/render [post]
func (h *CertificateHandler) RenderArtifact(c *gin.Context) {
	result, err := h.service.RenderArtifact(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithWarnings(c, http.StatusOK, result, result.Warnings)
}
