package service

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
)

func TestStoreError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"no rows", sql.ErrNoRows, appErrors.ErrNotFound.Code, http.StatusNotFound},
		{"malformed uuid", fmt.Errorf("wrap: %w", &pq.Error{Code: "22P02"}), appErrors.ErrNotFound.Code, http.StatusNotFound},
		{"dangling reference", &pq.Error{Code: "23503"}, appErrors.ErrNotFound.Code, http.StatusNotFound},
		{"bad connection", driver.ErrBadConn, appErrors.ErrUnavailable.Code, http.StatusServiceUnavailable},
		{"other", errors.New("syntax error"), appErrors.ErrInternal.Code, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := appErrors.FromError(storeError(tc.err, "payment not found", "failed to load payment"))
			assert.Equal(t, tc.code, got.Code)
			assert.Equal(t, tc.status, got.Status)
		})
	}
	assert.NoError(t, storeError(nil, "x", "y"))
}
