package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/pkg/database"
)

const enrollmentColumns = `e.id, e.participant_id, e.session_id, e.registration_status, e.payment_status,
        e.present_day_count, e.payment_detail, e.created_at, e.updated_at`

const enrollmentDetailFrom = `FROM enrollments e
LEFT JOIN participants p ON p.id = e.participant_id
LEFT JOIN course_sessions cs ON cs.id = e.session_id`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.RegistrationStatus != "" {
		conditions = append(conditions, fmt.Sprintf("e.registration_status = $%d", len(args)+1))
		args = append(args, filter.RegistrationStatus)
	}
	if filter.PaymentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("e.payment_status = $%d", len(args)+1))
		args = append(args, filter.PaymentStatus)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":       "e.created_at",
		"participant_name": "p.full_name",
		"present_days":     "e.present_day_count",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s,
        p.full_name AS participant_name, p.email AS participant_email, cs.title AS session_title
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, enrollmentColumns, enrollmentDetailFrom+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", enrollmentDetailFrom+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with participant and session info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := `SELECT ` + enrollmentColumns + `,
        p.full_name AS participant_name, p.email AS participant_email, cs.title AS session_title
        ` + enrollmentDetailFrom + `
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Exists checks whether the participant already holds an enrollment in the session.
func (r *EnrollmentRepository) Exists(ctx context.Context, participantID, sessionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE participant_id = $1 AND session_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, participantID, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = enrollment.CreatedAt
	if enrollment.RegistrationStatus == "" {
		enrollment.RegistrationStatus = models.RegistrationStatusPending
	}
	if enrollment.PaymentStatus == "" {
		enrollment.PaymentStatus = models.EnrollmentPaymentUnpaid
	}
	const query = `INSERT INTO enrollments (id, participant_id, session_id, registration_status, payment_status, present_day_count, payment_detail, created_at, updated_at)
        VALUES (:id, :participant_id, :session_id, :registration_status, :payment_status, :present_day_count, :payment_detail, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdatePresentDayCount overwrites only the presence counter. It returns
// sql.ErrNoRows when the enrollment no longer exists.
func (r *EnrollmentRepository) UpdatePresentDayCount(ctx context.Context, id string, count int) error {
	const query = `UPDATE enrollments SET present_day_count = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, count, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update present day count: %w", err)
	}
	return expectAffected(res, "update present day count")
}

// UpdatePaymentState writes the payment and registration status pair and
// appends auditLine to payment_detail. Other columns are left untouched.
func (r *EnrollmentRepository) UpdatePaymentState(ctx context.Context, id string, payment models.EnrollmentPaymentStatus, registration models.RegistrationStatus, auditLine string) error {
	const query = `UPDATE enrollments
        SET payment_status = $2,
            registration_status = $3,
            payment_detail = CASE WHEN $4 = '' THEN payment_detail
                                  WHEN payment_detail = '' THEN $4
                                  ELSE payment_detail || E'\n' || $4 END,
            updated_at = $5
        WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, payment, registration, auditLine, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment payment state: %w", err)
	}
	return expectAffected(res, "update enrollment payment state")
}

// Delete removes an enrollment together with its attendance events, payment
// and certificate rows in one transaction.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM attendance_events WHERE enrollment_id = $1`,
			`DELETE FROM payments WHERE enrollment_id = $1`,
			`DELETE FROM certificates WHERE enrollment_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete enrollment children: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete enrollment: %w", err)
		}
		return expectAffected(res, "delete enrollment")
	})
}

func expectAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
