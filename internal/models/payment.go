package models

import "time"

// PaymentStatus is the lifecycle state of a payment record.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRejected PaymentStatus = "REJECTED"
)

// Valid returns true when the status is a supported value.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusPaid, PaymentStatusRejected:
		return true
	default:
		return false
	}
}

// Payment is the single payment attached to an enrollment.
type Payment struct {
	ID                string        `db:"id" json:"id"`
	EnrollmentID      string        `db:"enrollment_id" json:"enrollment_id"`
	Status            PaymentStatus `db:"status" json:"status"`
	Amount            int64         `db:"amount" json:"amount"`
	Method            string        `db:"method" json:"method"`
	EvidenceReference *string       `db:"evidence_reference" json:"evidence_reference,omitempty"`
	SubmittedAt       *time.Time    `db:"submitted_at" json:"submitted_at,omitempty"`
	VerifiedAt        *time.Time    `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}
