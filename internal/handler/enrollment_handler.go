package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/middleware"
	"github.com/noah-isme/training-admin-api/internal/models"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, sessionID string, req dto.CreateEnrollmentRequest) (*models.EnrollmentDetail, error)
	List(ctx context.Context, sessionID string, query dto.EnrollmentQuery) (*dto.EnrollmentList, bool, error)
	Get(ctx context.Context, id string) (*models.EnrollmentDetail, bool, error)
	Remove(ctx context.Context, id string, actor *models.JWTClaims) error
}

type presenceRebuilder interface {
	RebuildPresence(ctx context.Context, enrollmentID string) (*dto.PresenceRebuildResponse, error)
}

// EnrollmentHandler exposes session roster endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
	presence    presenceRebuilder
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, presence presenceRebuilder) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, presence: presence}
}

// List godoc
// @Summary List enrollments of a session
// @Tags Enrollments
// @Produce json
// @Param sessionId path string true "Course session ID"
// @Param registrationStatus query string false "Filter by registration status"
// @Param paymentStatus query string false "Filter by payment status"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param sortBy query string false "created_at, participant_name or present_days"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /sessions/{sessionId}/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var query dto.EnrollmentQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	list, hit, err := h.enrollments.List(c.Request.Context(), c.Param("sessionId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, list.Items, &list.Pagination, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Enroll a participant in a session
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param sessionId path string true "Course session ID"
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /sessions/{sessionId}/enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req dto.CreateEnrollmentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), c.Param("sessionId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Get godoc
// @Summary Get an enrollment projection
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, hit, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, enrollment, nil, middleware.ExtractMeta(c))
}

// Delete godoc
// @Summary Remove a participant from a session
// @Description Removes the enrollment with its attendance, payment and certificate rows.
// @Tags Enrollments
// @Param id path string true "Enrollment ID"
// @Success 204
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	if err := h.enrollments.Remove(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RebuildPresence godoc
// @Summary Rebuild the present day counter from the attendance ledger
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/presence/rebuild [post]
func (h *EnrollmentHandler) RebuildPresence(c *gin.Context) {
	if h.presence == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "presence rebuild not configured"))
		return
	}
	result, err := h.presence.RebuildPresence(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
