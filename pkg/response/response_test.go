package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestOKWithMeta(t *testing.T) {
	c, w := newContext()
	OK(c, map[string]int{"version": 3}, map[string]interface{}{"saved": true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body struct {
		Data map[string]int         `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Data["version"])
	assert.Equal(t, true, body.Meta["saved"])
}

func TestErrorEnvelope(t *testing.T) {
	c, w := newContext()
	Error(c, appErrors.Clone(appErrors.ErrValidation, "title required"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, "title required", body.Error.Message)
	assert.Nil(t, body.Data)

	c, w = newContext()
	Error(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreatedAndNoContent(t *testing.T) {
	c, w := newContext()
	Created(c, gin.H{"id": "gb-1"})
	assert.Equal(t, http.StatusCreated, w.Code)

	c, w = newContext()
	NoContent(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
}
