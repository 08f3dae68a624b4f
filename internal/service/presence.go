package service

import "github.com/noah-isme/training-admin-api/internal/models"

// CountPresent returns the number of PRESENT events. Several events on the same
// day each count; the ledger keeps raw check-ins.
func CountPresent(events []models.AttendanceEvent) int {
	count := 0
	for _, event := range events {
		if event.Status == models.AttendanceStatusPresent {
			count++
		}
	}
	return count
}
