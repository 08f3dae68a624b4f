package dto

import "github.com/noah-isme/training-admin-api/internal/models"

// SubmitPaymentRequest carries the form fields of a payment submission.
type SubmitPaymentRequest struct {
	Amount int64  `form:"amount" json:"amount" validate:"gt=0"`
	Method string `form:"method" json:"method" validate:"required,max=64"`
}

// VerifyPaymentRequest approves or rejects a pending payment.
type VerifyPaymentRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

// OverridePaymentRequest forces an administrative correction.
type OverridePaymentRequest struct {
	Status string `json:"status" validate:"required,payment_status"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// PaymentStateResponse returns both records touched by a payment transition.
type PaymentStateResponse struct {
	Payment    *models.Payment    `json:"payment"`
	Enrollment *models.Enrollment `json:"enrollment"`
	Changed    bool               `json:"changed"`
}
