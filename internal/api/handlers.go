package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/skinscan/internal/analytics"
	"github.com/roach88/skinscan/internal/engine"
	"github.com/roach88/skinscan/internal/scan"
)

// Pagination defaults for GET /history.
const (
	DefaultPage  = 1
	DefaultLimit = 10
)

type predictResponse struct {
	PredictedClass string    `json:"predicted_class"`
	Label          string    `json:"label"`
	Confidence     float64   `json:"confidence"`
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
}

type historyResponse struct {
	Data       []scan.Record `json:"data"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`

	// TotalPagesCamel mirrors total_pages for clients that read camelCase.
	TotalPagesCamel int `json:"totalPages"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

func (s *Server) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.abort(c, http.StatusRequestEntityTooLarge, scan.KindInvalidInput,
				fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		s.fail(c, scan.Errorf(scan.KindInvalidInput, "predict", "file is required: %v", err))
		return
	}

	userID := c.PostForm("userId")
	if userID == "" {
		userID = c.PostForm("user_id")
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, scan.Errorf(scan.KindInvalidInput, "predict", "open upload: %v", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, scan.Errorf(scan.KindInvalidInput, "predict", "read upload: %v", err))
		return
	}

	res, err := s.deps.Ingester.Ingest(c.Request.Context(), engine.Request{
		UserID:      userID,
		ContentType: fh.Header.Get("Content-Type"),
		Image:       data,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, predictResponse{
		PredictedClass: res.Label,
		Label:          res.Label,
		Confidence:     res.Confidence,
		ID:             res.RecordID,
		Timestamp:      res.Timestamp,
	})
}

func (s *Server) history(c *gin.Context) {
	page, err := queryInt(c, "page", DefaultPage)
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", DefaultLimit)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.deps.Queries.Page(c.Request.Context(), c.Param("userId"), page, limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, newHistoryResponse(res))
}

func (s *Server) stats(c *gin.Context) {
	out, err := s.deps.Queries.Stats(c.Request.Context(), c.Param("userId"), c.Param("kind"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func newHistoryResponse(res analytics.PageResult) historyResponse {
	return historyResponse{
		Data:            res.Items,
		Total:           res.Total,
		Page:            res.Page,
		Limit:           res.Limit,
		TotalPages:      res.TotalPages,
		TotalPagesCamel: res.TotalPages,
	}
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, scan.Errorf(scan.KindInvalidInput, "history", "%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind scan.Kind) int {
	switch kind {
	case scan.KindInvalidInput:
		return http.StatusBadRequest
	case scan.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := scan.KindOf(err)
	status := statusFor(kind)
	if kind == "" {
		kind = "INTERNAL"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"kind", kind,
			"error", err)
	}
	s.abort(c, status, kind, err.Error())
}

func (s *Server) abort(c *gin.Context, status int, kind scan.Kind, detail string) {
	c.AbortWithStatusJSON(status, errorResponse{Detail: detail, Kind: string(kind)})
}
