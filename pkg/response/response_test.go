package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]string{"code": "ABC123"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, map[string]interface{}{"code": "ABC123"}, body.Data)
}

func TestPartial(t *testing.T) {
	rec := httptest.NewRecorder()
	Partial(rec, []int{}, "history unavailable")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "history unavailable", body.Warning)
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusNotFound, "not_found", "device not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "not_found", body.Code)
	assert.Equal(t, "device not found", body.Error)
}
