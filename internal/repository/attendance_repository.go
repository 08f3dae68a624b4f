package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/training-admin-api/internal/models"
)

const attendanceColumns = `id, enrollment_id, attended_at, status, mode, created_at, updated_at`

// AttendanceRepository persists raw attendance events.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Create inserts a new attendance event.
func (r *AttendanceRepository) Create(ctx context.Context, event *models.AttendanceEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	const query = `INSERT INTO attendance_events (id, enrollment_id, attended_at, status, mode, created_at, updated_at)
        VALUES (:id, :enrollment_id, :attended_at, :status, :mode, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create attendance event: %w", err)
	}
	return nil
}

// FindByID returns an attendance event.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceEvent, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_events WHERE id = $1`
	var event models.AttendanceEvent
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// ListByEnrollment returns every event of an enrollment, newest first.
func (r *AttendanceRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.AttendanceEvent, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_events WHERE enrollment_id = $1 ORDER BY attended_at DESC, id DESC`
	var events []models.AttendanceEvent
	if err := r.db.SelectContext(ctx, &events, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list attendance events: %w", err)
	}
	return events, nil
}

// Update applies only the fields present in patch.
func (r *AttendanceRepository) Update(ctx context.Context, id string, patch models.AttendancePatch) error {
	var sets []string
	args := []interface{}{id}
	if patch.AttendedAt != nil {
		args = append(args, patch.AttendedAt.UTC())
		sets = append(sets, fmt.Sprintf("attended_at = $%d", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.Mode != nil {
		args = append(args, *patch.Mode)
		sets = append(sets, fmt.Sprintf("mode = $%d", len(args)))
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	query := fmt.Sprintf(`UPDATE attendance_events SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update attendance event: %w", err)
	}
	return expectAffected(res, "update attendance event")
}

// Delete removes an attendance event.
func (r *AttendanceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attendance event: %w", err)
	}
	return expectAffected(res, "delete attendance event")
}
