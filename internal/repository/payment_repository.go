package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/training-admin-api/internal/models"
)

const paymentColumns = `id, enrollment_id, status, amount, method, evidence_reference, submitted_at, verified_at, created_at, updated_at`

// PaymentRepository persists payment records.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByID loads a payment by its own identifier.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByEnrollmentID loads the payment attached to an enrollment.
func (r *PaymentRepository) FindByEnrollmentID(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE enrollment_id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, enrollmentID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Create inserts a payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	const query = `INSERT INTO payments (id, enrollment_id, status, amount, method, evidence_reference, submitted_at, verified_at, created_at, updated_at)
        VALUES (:id, :enrollment_id, :status, :amount, :method, :evidence_reference, :submitted_at, :verified_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// UpdateSubmission stores a resubmitted payment and moves it to PENDING when
// its current status still equals from.
func (r *PaymentRepository) UpdateSubmission(ctx context.Context, payment *models.Payment, from models.PaymentStatus) error {
	const query = `UPDATE payments
        SET status = $3, amount = $4, method = $5, evidence_reference = $6, submitted_at = $7, verified_at = NULL, updated_at = $8
        WHERE id = $1 AND status = $2`
	payment.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query,
		payment.ID, from, payment.Status, payment.Amount, payment.Method,
		payment.EvidenceReference, payment.SubmittedAt, payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment submission: %w", err)
	}
	return expectAffected(res, "update payment submission")
}

// UpdateStatus moves a payment from one status to another. sql.ErrNoRows is
// returned when the stored status no longer equals from.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, from, to models.PaymentStatus, verifiedAt *time.Time) error {
	const query = `UPDATE payments SET status = $3, verified_at = $4, updated_at = $5 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, verifiedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return expectAffected(res, "update payment status")
}
