package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/agroforward/srvreg"
)

func testServer(t *testing.T) *WebServer {
	t.Helper()
	registry := srvreg.NewServiceRegistry(nil, nil, cmtlog.NewNopLogger())
	registry.RegisterHandler("GET", "/status", true, func(_ context.Context, _ *srvreg.Request) (*srvreg.Response, error) {
		return &srvreg.Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"connected":true}`,
		}, nil
	})
	registry.RegisterHandler("POST", "/contracts", true, func(_ context.Context, req *srvreg.Request) (*srvreg.Response, error) {
		return &srvreg.Response{
			StatusCode: http.StatusCreated,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"echo":` + strconv.Quote(req.Body) + `}`,
		}, nil
	})
	return NewWebServer("0", registry, cmtlog.NewNopLogger())
}

func TestHandleAPIDispatchesThroughRegistry(t *testing.T) {
	ws := testServer(t)

	rec := httptest.NewRecorder()
	ws.handleAPI(rec, httptest.NewRequest("GET", "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"connected":true}`, rec.Body.String())
}

func TestHandleAPIPassesBody(t *testing.T) {
	ws := testServer(t)

	rec := httptest.NewRecorder()
	ws.handleAPI(rec, httptest.NewRequest("POST", "/contracts", strings.NewReader(`{"commodity":"Soybean"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, `{"commodity":"Soybean"}`, body["echo"])
}

func TestHandleAPIUnknownRoute(t *testing.T) {
	ws := testServer(t)

	rec := httptest.NewRecorder()
	ws.handleAPI(rec, httptest.NewRequest("GET", "/bogus", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRoot(t *testing.T) {
	ws := testServer(t)

	rec := httptest.NewRecorder()
	ws.handleRoot(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.NotEmpty(t, info["endpoints"])

	rec = httptest.NewRecorder()
	ws.handleRoot(rec, httptest.NewRequest("POST", "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
