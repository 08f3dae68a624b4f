package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/training-admin-api/internal/dto"
	"github.com/noah-isme/training-admin-api/internal/models"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
)

type fakeEnrollmentSrv struct {
	list       *dto.EnrollmentList
	hit        bool
	err        error
	lastQuery  dto.EnrollmentQuery
	lastEnroll dto.CreateEnrollmentRequest
	removed    string
	rebuilt    string
}

func (f *fakeEnrollmentSrv) Enroll(_ context.Context, sessionID string, req dto.CreateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	f.lastEnroll = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.EnrollmentDetail{Enrollment: models.Enrollment{ID: "enr-1", SessionID: sessionID, ParticipantID: req.ParticipantID}}, nil
}

func (f *fakeEnrollmentSrv) List(_ context.Context, _ string, query dto.EnrollmentQuery) (*dto.EnrollmentList, bool, error) {
	f.lastQuery = query
	return f.list, f.hit, f.err
}

func (f *fakeEnrollmentSrv) Get(_ context.Context, id string) (*models.EnrollmentDetail, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.EnrollmentDetail{Enrollment: models.Enrollment{ID: id}}, f.hit, nil
}

func (f *fakeEnrollmentSrv) Remove(_ context.Context, id string, _ *models.JWTClaims) error {
	f.removed = id
	return f.err
}

func (f *fakeEnrollmentSrv) RebuildPresence(_ context.Context, id string) (*dto.PresenceRebuildResponse, error) {
	f.rebuilt = id
	return &dto.PresenceRebuildResponse{EnrollmentID: id, PreviousCount: 1, PresentDayCount: 3, Events: 4}, nil
}

func TestEnrollmentHandlerList(t *testing.T) {
	srv := &fakeEnrollmentSrv{
		list: &dto.EnrollmentList{
			Items:      []models.EnrollmentDetail{{Enrollment: models.Enrollment{ID: "enr-1"}}},
			Pagination: models.Pagination{Page: 2, PageSize: 10, TotalCount: 11},
		},
		hit: true,
	}
	handler := NewEnrollmentHandler(srv, srv)
	c, rec := newTestContext(http.MethodGet, "/sessions/s-1/enrollments?page=2&pageSize=10&paymentStatus=paid", nil, gin.Params{{Key: "sessionId", Value: "s-1"}})

	handler.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 11, env.Pagination.TotalCount)
	assert.Equal(t, 2, srv.lastQuery.Page)
	assert.Equal(t, "paid", srv.lastQuery.PaymentStatus)
}

func TestEnrollmentHandlerCreate(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	handler := NewEnrollmentHandler(srv, srv)
	c, rec := newTestContext(http.MethodPost, "/sessions/s-1/enrollments", jsonBody(t, map[string]string{"participantId": "p-1"}), gin.Params{{Key: "sessionId", Value: "s-1"}})

	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	var detail models.EnrollmentDetail
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &detail))
	assert.Equal(t, "s-1", detail.SessionID)
	assert.Equal(t, "p-1", srv.lastEnroll.ParticipantID)
}

func TestEnrollmentHandlerCreateInvalidPayload(t *testing.T) {
	handler := NewEnrollmentHandler(&fakeEnrollmentSrv{}, nil)
	c, rec := newTestContext(http.MethodPost, "/sessions/s-1/enrollments", strings.NewReader("{"), nil)

	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, rec).Error.Code)
}

func TestEnrollmentHandlerCreateConflict(t *testing.T) {
	handler := NewEnrollmentHandler(&fakeEnrollmentSrv{err: appErrors.Clone(appErrors.ErrConflict, "participant already enrolled in session")}, nil)
	c, rec := newTestContext(http.MethodPost, "/sessions/s-1/enrollments", jsonBody(t, map[string]string{"participantId": "p-1"}), nil)

	handler.Create(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnrollmentHandlerDelete(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	handler := NewEnrollmentHandler(srv, srv)
	c, _ := newTestContext(http.MethodDelete, "/enrollments/enr-1", nil, gin.Params{{Key: "id", Value: "enr-1"}})

	handler.Delete(c)

	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "enr-1", srv.removed)
}

func TestEnrollmentHandlerRebuildPresence(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	handler := NewEnrollmentHandler(srv, srv)
	c, rec := newTestContext(http.MethodPost, "/enrollments/enr-1/presence/rebuild", nil, gin.Params{{Key: "id", Value: "enr-1"}})

	handler.RebuildPresence(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var result dto.PresenceRebuildResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.Equal(t, 3, result.PresentDayCount)
	assert.Equal(t, "enr-1", srv.rebuilt)
}
