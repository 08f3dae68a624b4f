package service

import "github.com/noah-isme/training-admin-api/internal/models"

// verificationTarget maps a verification decision to the payment and
// registration states it produces.
func verificationTarget(approve bool) (models.PaymentStatus, models.RegistrationStatus) {
	if approve {
		return models.PaymentStatusPaid, models.RegistrationStatusRegistered
	}
	return models.PaymentStatusRejected, models.RegistrationStatusRejected
}

// enrollmentStateFor derives the enrollment status pair implied by a payment status.
func enrollmentStateFor(status models.PaymentStatus) (models.EnrollmentPaymentStatus, models.RegistrationStatus) {
	switch status {
	case models.PaymentStatusPaid:
		return models.EnrollmentPaymentPaid, models.RegistrationStatusRegistered
	case models.PaymentStatusRejected:
		return models.EnrollmentPaymentRejected, models.RegistrationStatusRejected
	case models.PaymentStatusPending:
		return models.EnrollmentPaymentPending, models.RegistrationStatusPending
	default:
		return models.EnrollmentPaymentUnpaid, models.RegistrationStatusPending
	}
}

// consistentWith reports whether the enrollment already mirrors the payment status.
func consistentWith(enrollment *models.Enrollment, status models.PaymentStatus) bool {
	payment, registration := enrollmentStateFor(status)
	return enrollment.PaymentStatus == payment && enrollment.RegistrationStatus == registration
}

// overrideAllowed lists the administrative corrections of a decided payment.
func overrideAllowed(from, to models.PaymentStatus) bool {
	switch from {
	case models.PaymentStatusPaid:
		return to == models.PaymentStatusPending || to == models.PaymentStatusRejected
	case models.PaymentStatusRejected:
		return to == models.PaymentStatusPending || to == models.PaymentStatusPaid
	default:
		return false
	}
}

// submissionAllowed reports whether a participant may (re)submit a payment.
func submissionAllowed(status models.PaymentStatus) bool {
	return status == models.PaymentStatusUnpaid || status == models.PaymentStatusRejected
}
