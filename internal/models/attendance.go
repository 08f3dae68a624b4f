package models

import "time"

// AttendanceStatus represents presence for one attendance event.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// AttendanceMode records how the participant attended.
type AttendanceMode string

const (
	AttendanceModeOnline  AttendanceMode = "ONLINE"
	AttendanceModeOffline AttendanceMode = "OFFLINE"
)

// Valid returns true when the mode is a supported value.
func (m AttendanceMode) Valid() bool {
	switch m {
	case AttendanceModeOnline, AttendanceModeOffline:
		return true
	default:
		return false
	}
}

// AttendanceEvent is one raw check-in row. Several events may exist for the
// same enrollment and day.
type AttendanceEvent struct {
	ID           string           `db:"id" json:"id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	AttendedAt   time.Time        `db:"attended_at" json:"attended_at"`
	Status       AttendanceStatus `db:"status" json:"status"`
	Mode         AttendanceMode   `db:"mode" json:"mode"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendancePatch lists the fields an update may change. Nil means unchanged.
type AttendancePatch struct {
	AttendedAt *time.Time
	Status     *AttendanceStatus
	Mode       *AttendanceMode
}

// Empty reports whether the patch changes nothing.
func (p AttendancePatch) Empty() bool {
	return p.AttendedAt == nil && p.Status == nil && p.Mode == nil
}
