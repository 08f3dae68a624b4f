package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/internal/service"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/response"
)

type paymentService interface {
	Submit(ctx context.Context, enrollmentID string, req dto.SubmitPaymentRequest, evidence *service.Upload, actor *models.JWTClaims) (*dto.PaymentStateResponse, error)
	Verify(ctx context.Context, ref string, approve bool, actor *models.JWTClaims) (*dto.PaymentStateResponse, error)
	Override(ctx context.Context, ref string, req dto.OverridePaymentRequest, actor *models.JWTClaims) (*dto.PaymentStateResponse, error)
	Reconcile(ctx context.Context, ref string, actor *models.JWTClaims) (*dto.PaymentStateResponse, error)
	Get(ctx context.Context, ref string) (*models.Payment, error)
}

// PaymentHandler exposes the payment state machine.
type PaymentHandler struct {
	service paymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(service paymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// Submit godoc
// @Summary Submit or resubmit the payment of an enrollment
// @Tags Payments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param amount formData int true "Amount"
// @Param method formData string true "Payment method"
// @Param evidence formData file false "Transfer receipt"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/payments [post]
func (h *PaymentHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitPaymentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payment payload"))
		return
	}
	evidence, closeEvidence, err := formUpload(c, "evidence", false)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeEvidence()

	result, err := h.service.Submit(c.Request.Context(), c.Param("id"), req, evidence, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// Get godoc
// @Summary Get a payment by payment ID or enrollment reference
// @Tags Payments
// @Produce json
// @Param ref path string true "Payment ID or enrollment:<id>"
// @Success 200 {object} response.Envelope
// @Router /payments/{ref} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.service.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Verify godoc
// @Summary Approve or reject a pending payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param ref path string true "Payment ID or enrollment:<id>"
// @Param payload body dto.VerifyPaymentRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "INVALID_TRANSITION or VERIFICATION_PARTIAL"
// @Router /payments/{ref}/verify [post]
func (h *PaymentHandler) Verify(c *gin.Context) {
	var req dto.VerifyPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if req.Approve == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "approve is required"))
		return
	}
	result, err := h.service.Verify(c.Request.Context(), c.Param("ref"), *req.Approve, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Override godoc
// @Summary Administratively correct a decided payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param ref path string true "Payment ID or enrollment:<id>"
// @Param payload body dto.OverridePaymentRequest true "Target status and reason"
// @Success 200 {object} response.Envelope
// @Router /payments/{ref}/override [post]
func (h *PaymentHandler) Override(c *gin.Context) {
	var req dto.OverridePaymentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Override(c.Request.Context(), c.Param("ref"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reconcile godoc
// @Summary Re-derive the enrollment status pair from the payment
// @Tags Payments
// @Produce json
// @Param ref path string true "Payment ID or enrollment:<id>"
// @Success 200 {object} response.Envelope
// @Router /payments/{ref}/reconcile [post]
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	result, err := h.service.Reconcile(c.Request.Context(), c.Param("ref"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
