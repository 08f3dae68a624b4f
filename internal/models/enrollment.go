package models

import "time"

// RegistrationStatus represents whether a participant holds a seat in a session.
type RegistrationStatus string

// Possible registration statuses.
const (
	RegistrationStatusRegistered RegistrationStatus = "REGISTERED"
	RegistrationStatusRejected   RegistrationStatus = "REJECTED"
	RegistrationStatusPending    RegistrationStatus = "PENDING"
	RegistrationStatusCancelled  RegistrationStatus = "CANCELLED"
)

// EnrollmentPaymentStatus is the denormalised payment state kept on an enrollment.
type EnrollmentPaymentStatus string

// Possible enrollment payment statuses.
const (
	EnrollmentPaymentUnpaid   EnrollmentPaymentStatus = "UNPAID"
	EnrollmentPaymentPending  EnrollmentPaymentStatus = "PENDING"
	EnrollmentPaymentPaid     EnrollmentPaymentStatus = "PAID"
	EnrollmentPaymentRejected EnrollmentPaymentStatus = "REJECTED"
	EnrollmentPaymentPartial  EnrollmentPaymentStatus = "PARTIAL"
)

// Enrollment binds one participant to one course session.
//
// PresentDayCount is a cache rebuilt from attendance_events after every ledger
// write. PaymentStatus and RegistrationStatus are written together by the
// payment state machine only.
type Enrollment struct {
	ID                 string                  `db:"id" json:"id"`
	ParticipantID      string                  `db:"participant_id" json:"participant_id"`
	SessionID          string                  `db:"session_id" json:"session_id"`
	RegistrationStatus RegistrationStatus      `db:"registration_status" json:"registration_status"`
	PaymentStatus      EnrollmentPaymentStatus `db:"payment_status" json:"payment_status"`
	PresentDayCount    int                     `db:"present_day_count" json:"present_day_count"`
	PaymentDetail      string                  `db:"payment_detail" json:"payment_detail"`
	CreatedAt          time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time               `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with participant and session info.
type EnrollmentDetail struct {
	Enrollment
	ParticipantName  string `db:"participant_name" json:"participant_name"`
	ParticipantEmail string `db:"participant_email" json:"participant_email"`
	SessionTitle     string `db:"session_title" json:"session_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	SessionID          string
	RegistrationStatus RegistrationStatus
	PaymentStatus      EnrollmentPaymentStatus
	Page               int
	PageSize           int
	SortBy             string
	SortOrder          string
}
