package dto

// RecordAttendanceRequest marks one attendance event. Mode defaults to OFFLINE.
type RecordAttendanceRequest struct {
	AttendedAt string `json:"attendedAt" validate:"required,date_or_rfc3339"`
	Status     string `json:"status" validate:"required,attendance_status"`
	Mode       string `json:"mode" validate:"omitempty,attendance_mode"`
}

// UpdateAttendanceRequest edits an event in place. Absent fields stay unchanged.
type UpdateAttendanceRequest struct {
	AttendedAt *string `json:"attendedAt" validate:"omitempty,date_or_rfc3339"`
	Status     *string `json:"status" validate:"omitempty,attendance_status"`
	Mode       *string `json:"mode" validate:"omitempty,attendance_mode"`
}
