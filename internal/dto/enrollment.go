package dto

import "github.com/noah-isme/training-admin-api/internal/models"

// CreateEnrollmentRequest adds a participant to a course session.
type CreateEnrollmentRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

// EnrollmentQuery captures list query parameters.
type EnrollmentQuery struct {
	RegistrationStatus string `form:"registrationStatus"`
	PaymentStatus      string `form:"paymentStatus"`
	Page               int    `form:"page"`
	PageSize           int    `form:"pageSize"`
	SortBy             string `form:"sortBy"`
	SortOrder          string `form:"sortOrder"`
}

// EnrollmentList is a cached roster page.
type EnrollmentList struct {
	Items      []models.EnrollmentDetail `json:"items"`
	Pagination models.Pagination         `json:"pagination"`
}

// PresenceRebuildResponse reports the outcome of a counter rebuild.
type PresenceRebuildResponse struct {
	EnrollmentID    string `json:"enrollmentId"`
	PreviousCount   int    `json:"previousCount"`
	PresentDayCount int    `json:"presentDayCount"`
	Events          int    `json:"events"`
}
