package projection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/keyline-lab/keyline/internal/core/aggregation"
	"github.com/keyline-lab/keyline/internal/core/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	rows []storage.AggregateRow
	err  error
}

func (r *stubReader) QueryWindow(_ context.Context, _ string, _ uint64, _ string) ([]storage.AggregateRow, error) {
	return r.rows, r.err
}

func serveQuery(t *testing.T, reader storage.AggregateReader, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewService(reader).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestQueryWindowHandler_ReturnsMergedMapping(t *testing.T) {
	reader := &stubReader{rows: []storage.AggregateRow{
		{Stream: "api_usage", WindowID: 7, Kind: aggregation.KindSumDouble, Key: "a", Value: decimal.NewFromInt(13)},
		{Stream: "api_usage", WindowID: 7, Kind: aggregation.KindSumDouble, Key: "b", Value: decimal.RequireFromString("25.5")},
	}}

	resp := serveQuery(t, reader, "/v1/streams/api_usage/windows/7/aggregates/sum_double")
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "api_usage", body["stream"])
	require.Equal(t, float64(7), body["window_id"])
	require.Equal(t, "sum_double", body["kind"])

	values, ok := body["values"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "13", values["a"])
	require.Equal(t, "25.5", values["b"])
}

func TestQueryWindowHandler_UnflushedWindowIs404(t *testing.T) {
	resp := serveQuery(t, &stubReader{}, "/v1/streams/api_usage/windows/7/aggregates/count")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestQueryWindowHandler_BadWindowID(t *testing.T) {
	resp := serveQuery(t, &stubReader{}, "/v1/streams/api_usage/windows/seven/aggregates/count")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestQueryWindowHandler_UnsupportedKind(t *testing.T) {
	resp := serveQuery(t, &stubReader{}, "/v1/streams/api_usage/windows/7/aggregates/avg")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestQueryWindowHandler_ReaderError(t *testing.T) {
	reader := &stubReader{err: errors.New("db down")}
	resp := serveQuery(t, reader, "/v1/streams/api_usage/windows/7/aggregates/count")
	require.Equal(t, http.StatusInternalServerError, resp.Code)
}
