package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cronflow/cronflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func httpEvent(method, url string) *models.Event {
	return &models.Event{
		ScriptType: models.ScriptHTTP,
		HTTPMethod: method,
		HTTPURL:    url,
	}
}

func decodeWrapper(t *testing.T, res *Result) httpResponse {
	t.Helper()
	var w httpResponse
	require.NoError(t, json.Unmarshal(res.Output, &w))
	return w
}

func TestHTTPRunSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Probe", "yes")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"pong": true}`)
	}))
	defer srv.Close()

	res := NewHTTPRunner(5*time.Second).Run(context.Background(), httpEvent("GET", srv.URL))

	assert.False(t, res.Failed())
	wrapper := decodeWrapper(t, res)
	assert.Equal(t, http.StatusOK, wrapper.Status)
	assert.Equal(t, "yes", wrapper.Headers["X-Probe"])
	assert.JSONEq(t, `{"pong": true}`, wrapper.Body)
}

func TestHTTPRunStatusErrorIsFailureWithWrapper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewHTTPRunner(5*time.Second).Run(context.Background(), httpEvent("GET", srv.URL))

	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "500")
	wrapper := decodeWrapper(t, res)
	assert.Equal(t, http.StatusInternalServerError, wrapper.Status)
}

func TestHTTPRunTransportErrorStillReturnsWrapper(t *testing.T) {
	res := NewHTTPRunner(time.Second).Run(context.Background(), httpEvent("GET", "http://127.0.0.1:1"))

	assert.True(t, res.Failed())
	require.NotNil(t, res.Output)
	wrapper := decodeWrapper(t, res)
	assert.Zero(t, wrapper.Status)
	assert.NotEmpty(t, wrapper.Error)
}

func TestHTTPRunJSONBody(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	event := httpEvent("POST", srv.URL)
	event.HTTPBody = `{"a": 1}`
	res := NewHTTPRunner(5*time.Second).Run(context.Background(), event)

	assert.False(t, res.Failed())
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"a": 1}`, gotBody)
}

func TestHTTPRunFormBody(t *testing.T) {
	var gotForm string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotForm = string(body)
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	event := httpEvent("POST", srv.URL)
	event.HTTPBody = `{"name": "cron", "n": 2}`
	event.HTTPContentType = "form"
	res := NewHTTPRunner(5*time.Second).Run(context.Background(), event)

	assert.False(t, res.Failed())
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Contains(t, gotForm, "name=cron")
	assert.Contains(t, gotForm, "n=2")
}

func TestHTTPRunMultipartBody(t *testing.T) {
	var gotContentType string
	var gotValue string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotValue = r.FormValue("field")
	}))
	defer srv.Close()

	event := httpEvent("POST", srv.URL)
	event.HTTPBody = `{"field": "value"}`
	event.HTTPContentType = "multipart"
	res := NewHTTPRunner(5*time.Second).Run(context.Background(), event)

	assert.False(t, res.Failed())
	assert.True(t, strings.HasPrefix(gotContentType, "multipart/form-data"))
	assert.Equal(t, "value", gotValue)
}

func TestHTTPRunCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	event := httpEvent("GET", srv.URL)
	event.HTTPHeaders = datatypes.JSON(`{"Authorization": "Bearer abc"}`)
	res := NewHTTPRunner(5*time.Second).Run(context.Background(), event)

	assert.False(t, res.Failed())
	assert.Equal(t, "Bearer abc", gotAuth)
}
