package eventlog

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

func newTestReceiver(buf *bytes.Buffer) *Receiver {
	return NewReceiver(telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "info", Format: "json"}, buf))
}

func TestReceiverAcceptsInfo(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReceiver(&buf)

	req := httptest.NewRequest(http.MethodPost, Path,
		strings.NewReader(`{"type":"Info","event":"page_view","timestamp":1,"metadata":{"page":"stocks"}}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var reply string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "Log written", reply)

	assert.Contains(t, buf.String(), "Frontend log info")
	assert.Contains(t, buf.String(), `"level":"info"`)
}

func TestReceiverLogsErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReceiver(&buf)

	req := httptest.NewRequest(http.MethodPost, Path, strings.NewReader(`{"type":"Error","event":"fetch_failed"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "Frontend log error")
}

func TestReceiverRejectsMalformedBody(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReceiver(&buf)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Path, strings.NewReader(`{broken`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid payload")
}

func TestReceiverRejectsGet(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReceiver(&buf)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
