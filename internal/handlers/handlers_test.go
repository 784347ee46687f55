package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/middleware"
	"github.com/Data-Integrities/backend-ai/internal/services"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err      error
		wantCode int
		wantText string
	}{
		{apperr.ExecutionNotFound("x"), http.StatusNotFound, apperr.CodeExecutionNotFound},
		{apperr.TaskExpired("t"), http.StatusGone, apperr.CodeQueueTaskExpired},
		{apperr.Timeout("slow"), http.StatusGatewayTimeout, apperr.CodeTimeout},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, tt.err)

		assert.Equal(t, tt.wantCode, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tt.wantText, body["code"])
		assert.NotEmpty(t, body["error"])
	}
}

func TestParseWaitTimeout(t *testing.T) {
	d, err := parseWaitTimeout("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = parseWaitTimeout("1500ms")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = parseWaitTimeout("45")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	_, err = parseWaitTimeout("-3")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))
}

func TestExecutionHandler_CompleteAcceptsEmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := services.NewExecutionStore(services.ExecutionStoreOptions{})
	id, err := store.Start(services.StartRequest{Target: "web", Kind: "start-web", Timeout: time.Minute})
	require.NoError(t, err)

	h := NewExecutionHandler(store, nil)
	r := gin.New()
	r.POST("/executions/:id/complete", h.Complete)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/executions/"+id+"/complete", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"`+id+`","applied":true,"status":"SUCCESS"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/executions/"+id+"/complete", strings.NewReader(`{"result":"again"}`)))
	assert.JSONEq(t, `{"id":"`+id+`","applied":false,"status":"SUCCESS"}`, w.Body.String())
}

func TestVersionHandler_Info(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewVersionHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/version", nil)

	handler.Info(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "correlator", response["name"])
	assert.NotEmpty(t, response["version"])
}

func TestStreamURLUsesPathPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "/api/executions/stream", streamURL(c))

	c.Set(middleware.PathPrefixKey, "/remote")
	assert.Equal(t, "/remote/api/executions/stream", streamURL(c))
}
