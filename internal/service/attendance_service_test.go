package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/lock"
)

func newAttendanceFixture(t *testing.T) (*AttendanceService, *memDB, *memCacheRepo) {
	t.Helper()
	db := newMemDB()
	cacheRepo := newMemCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewAttendanceService(attendanceStub{db}, enrollmentStub{db}, lock.NewLocalLocker(), cache, NewMetricsService(), nil, zap.NewNop())
	return svc, db, cacheRepo
}

func TestCountPresent(t *testing.T) {
	day := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	events := []models.AttendanceEvent{
		{Status: models.AttendanceStatusPresent, AttendedAt: day},
		{Status: models.AttendanceStatusPresent, AttendedAt: day.Add(4 * time.Hour)},
		{Status: models.AttendanceStatusAbsent, AttendedAt: day.Add(24 * time.Hour)},
	}
	assert.Equal(t, 2, CountPresent(events))
	assert.Equal(t, 0, CountPresent(nil))
}

func TestAttendanceRecordThenDelete(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()

	event, err := svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01", Status: "present", Mode: "online"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, event.Status)
	assert.Equal(t, models.AttendanceModeOnline, event.Mode)
	assert.Equal(t, 1, db.enrollment("E").PresentDayCount)

	require.NoError(t, svc.Delete(ctx, event.ID))
	assert.Equal(t, 0, db.enrollment("E").PresentDayCount)
}

func TestAttendanceCounterFollowsLedger(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()

	var ids []string
	for i, status := range []string{"PRESENT", "PRESENT", "ABSENT", "PRESENT"} {
		ev, err := svc.Record(ctx, "E", dto.RecordAttendanceRequest{
			AttendedAt: fmt.Sprintf("2024-03-0%dT09:00:00Z", i+1),
			Status:     status,
		})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, 3, db.enrollment("E").PresentDayCount)

	absent := "ABSENT"
	_, err := svc.Update(ctx, ids[0], dto.UpdateAttendanceRequest{Status: &absent})
	require.NoError(t, err)
	assert.Equal(t, 2, db.enrollment("E").PresentDayCount)

	present := "PRESENT"
	updated, err := svc.Update(ctx, ids[2], dto.UpdateAttendanceRequest{Status: &present})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, updated.Status)

	require.NoError(t, svc.Delete(ctx, ids[3]))

	events, err := svc.List(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, CountPresent(events), db.enrollment("E").PresentDayCount)
	assert.Equal(t, 2, db.enrollment("E").PresentDayCount)
}

func TestAttendanceSameDayEventsEachCount(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()

	for _, at := range []string{"2024-03-01T08:00:00Z", "2024-03-01T13:00:00Z"} {
		_, err := svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: at, Status: "PRESENT"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, db.enrollment("E").PresentDayCount)
}

func TestAttendanceListNewestFirst(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()

	for _, at := range []string{"2024-03-01", "2024-03-03", "2024-03-02"} {
		_, err := svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: at, Status: "PRESENT"})
		require.NoError(t, err)
	}
	events, err := svc.List(ctx, "E")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "2024-03-03", events[0].AttendedAt.Format(dateLayout))
	assert.Equal(t, "2024-03-01", events[2].AttendedAt.Format(dateLayout))
}

func TestAttendanceListEmptyEnrollment(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")

	events, err := svc.List(context.Background(), "E")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestAttendanceRecordValidation(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()

	_, err := svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Record(ctx, "E", dto.RecordAttendanceRequest{Status: "PRESENT"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: "01/03/2024", Status: "PRESENT"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01", Status: "LATE"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	assert.Empty(t, db.events)
	assert.Zero(t, db.presenceWrites)
}

func TestAttendanceUnknownEnrollment(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)

	_, err := svc.Record(context.Background(), "missing", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01", Status: "PRESENT"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, db.events)
}

func TestAttendanceUnknownEvent(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()

	present := "PRESENT"
	_, err := svc.Update(ctx, "nope", dto.UpdateAttendanceRequest{Status: &present})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	err = svc.Delete(ctx, "nope")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Zero(t, db.presenceWrites)
}

func TestAttendanceMalformedEventID(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	db.malformedIDs["not-a-uuid"] = true
	ctx := context.Background()

	present := "PRESENT"
	_, err := svc.Update(ctx, "not-a-uuid", dto.UpdateAttendanceRequest{Status: &present})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	err = svc.Delete(ctx, "not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Zero(t, db.presenceWrites)
}

func TestAttendanceUpdateRequiresAField(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ev, err := svc.Record(context.Background(), "E", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01", Status: "PRESENT"})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), ev.ID, dto.UpdateAttendanceRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttendanceVanishedEnrollmentKeepsEvent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	db := newMemDB()
	db.addEnrollment("E")
	db.presenceErr = sql.ErrNoRows
	svc := NewAttendanceService(attendanceStub{db}, enrollmentStub{db}, nil, nil, nil, nil, zap.New(core))

	ev, err := svc.Record(context.Background(), "E", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01", Status: "PRESENT"})
	require.NoError(t, err)
	assert.Contains(t, db.events, ev.ID)
	assert.Equal(t, 1, logs.FilterMessage("enrollment vanished before present day count write").Len())
}

func TestAttendanceRebuildPresence(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E", func(e *models.EnrollmentDetail) { e.PresentDayCount = 7 })
	db.events["a1"] = models.AttendanceEvent{ID: "a1", EnrollmentID: "E", Status: models.AttendanceStatusPresent, AttendedAt: time.Now()}
	db.events["a2"] = models.AttendanceEvent{ID: "a2", EnrollmentID: "E", Status: models.AttendanceStatusAbsent, AttendedAt: time.Now()}

	out, err := svc.RebuildPresence(context.Background(), "E")
	require.NoError(t, err)
	assert.Equal(t, 7, out.PreviousCount)
	assert.Equal(t, 1, out.PresentDayCount)
	assert.Equal(t, 2, out.Events)
	assert.Equal(t, 1, db.enrollment("E").PresentDayCount)
}

func TestAttendanceRebuildZeroEvents(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E", func(e *models.EnrollmentDetail) { e.PresentDayCount = 3 })

	out, err := svc.RebuildPresence(context.Background(), "E")
	require.NoError(t, err)
	assert.Equal(t, 0, out.PresentDayCount)
	assert.Equal(t, 0, db.enrollment("E").PresentDayCount)
}

func TestAttendanceInvalidatesProjection(t *testing.T) {
	svc, db, cacheRepo := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()
	require.NoError(t, cacheRepo.Set(ctx, EnrollmentKey("E"), map[string]int{"present_day_count": 0}, time.Minute))
	require.NoError(t, cacheRepo.Set(ctx, SessionEnrollmentsKey("session-1", 1, 20), []string{"E"}, time.Minute))

	_, err := svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01", Status: "PRESENT"})
	require.NoError(t, err)
	assert.False(t, cacheRepo.has(EnrollmentKey("E")))
	assert.False(t, cacheRepo.has(SessionEnrollmentsKey("session-1", 1, 20)))
}

func TestAttendanceConcurrentWritesSettle(t *testing.T) {
	svc, db, _ := newAttendanceFixture(t)
	db.addEnrollment("E")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := "PRESENT"
			if i%4 == 0 {
				status = "ABSENT"
			}
			_, err := svc.Record(ctx, "E", dto.RecordAttendanceRequest{AttendedAt: "2024-03-01", Status: status})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events, err := svc.List(ctx, "E")
	require.NoError(t, err)
	assert.Len(t, events, 20)
	assert.Equal(t, 15, db.enrollment("E").PresentDayCount)
}
