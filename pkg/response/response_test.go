package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
)

func record(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(c)
	return w
}

func TestSuccess(t *testing.T) {
	w := record(func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"value": 42})
	})

	require.Equal(t, http.StatusOK, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Nil(t, body.Error)
}

func TestErrorMapsCodesToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperrors.ErrOffline, http.StatusServiceUnavailable},
		{apperrors.ErrAlreadySyncing, http.StatusConflict},
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := record(func(c *gin.Context) { Error(c, tc.err) })
		require.Equal(t, tc.status, w.Code)

		var body Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.False(t, body.Success)
		require.NotNil(t, body.Error)
	}
}
