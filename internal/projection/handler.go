package projection

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	v1 "github.com/keyline-lab/keyline/internal/api/v1"
	"github.com/keyline-lab/keyline/internal/core/aggregation"
	httperr "github.com/keyline-lab/keyline/internal/core/errors"
)

// QueryWindowHandler returns the finalized mapping for one output kind of one
// window. A window that was never flushed (or was aborted) yields 404.
func (s *Service) QueryWindowHandler(c *gin.Context) {
	stream := c.Param("stream")
	kind := c.Param("kind")

	windowID, err := strconv.ParseUint(c.Param("window_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "window_id must be an unsigned integer",
		})
		return
	}

	if !aggregation.ValidKind(kind) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "unsupported aggregate kind",
			Details:   map[string]interface{}{"kind": kind},
		})
		return
	}

	rows, err := s.reader.QueryWindow(c.Request.Context(), stream, windowID, kind)
	if err != nil {
		slog.Error("Failed to query window aggregates",
			"stream", stream, "window_id", windowID, "kind", kind, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query window aggregates",
		})
		return
	}

	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownStreamError,
			Message:   "no finalized aggregates for this stream, window and kind",
		})
		return
	}

	result := v1.WindowResult{
		Stream:   stream,
		WindowID: windowID,
		Kind:     kind,
		Values:   make(map[string]string, len(rows)),
	}
	for _, row := range rows {
		result.Values[row.Key] = row.Value.String()
	}

	c.JSON(http.StatusOK, result)
}
