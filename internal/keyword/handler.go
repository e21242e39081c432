package keyword

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	httperr "github.com/aevon-lab/orderlens/internal/core/errors"
	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/gin-gonic/gin"
)

// RangeSource reports the months currently published.
type RangeSource interface {
	AvailableRange(ctx context.Context) (period.Range, bool, error)
}

// Handler exposes index build and search over HTTP.
type Handler struct {
	index        *Index
	ranges       RangeSource
	defaultDims  []string
	defaultLimit int
}

// NewHandler wraps index. A build request without a window indexes every
// published month; one without dims uses defaultDims.
func NewHandler(index *Index, ranges RangeSource, defaultDims []string, defaultLimit int) *Handler {
	if len(defaultDims) == 0 {
		defaultDims = DefaultDims
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Handler{index: index, ranges: ranges, defaultDims: defaultDims, defaultLimit: defaultLimit}
}

// RegisterRoutes registers the index API routes on the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/index", h.HandleBuild)
	r.GET("/v1/index/search", h.HandleSearch)
}

type buildRequest struct {
	Dims        []string `json:"dims"`
	StartYYYYMM string   `json:"start_yyyymm"`
	EndYYYYMM   string   `json:"end_yyyymm"`
}

// HandleBuild handles POST /v1/index.
func (h *Handler) HandleBuild(c *gin.Context) {
	var req buildRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidJsonError,
				Message:   "Invalid index body",
				Details:   err.Error(),
			})
			return
		}
	}

	var window period.Range
	if strings.TrimSpace(req.StartYYYYMM) == "" && strings.TrimSpace(req.EndYYYYMM) == "" {
		rng, ok, err := h.ranges.AvailableRange(c.Request.Context())
		if err != nil || !ok {
			details := "no months are published"
			if err != nil {
				details = err.Error()
			}
			c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
				ErrorType: httperr.HttpSourceUnavailableError,
				Message:   "No index window available",
				Details:   details,
			})
			return
		}
		window = rng
	} else {
		rng, err := parseWindow(req.StartYYYYMM, req.EndYYYYMM)
		if err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   "Invalid index window",
				Details:   err.Error(),
			})
			return
		}
		window = rng
	}

	dims := req.Dims
	if len(dims) == 0 {
		dims = h.defaultDims
	}
	if err := h.index.Init(c.Request.Context(), dims, window); err != nil {
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpSourceUnavailableError,
			Message:   "Failed to build index",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": h.index.Key()})
}

// parseWindow builds a month range; a missing bound takes the other's value.
func parseWindow(start, end string) (period.Range, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" {
		start = end
	}
	if end == "" {
		end = start
	}
	s, err := period.Parse(start)
	if err != nil {
		return period.Range{}, err
	}
	e, err := period.Parse(end)
	if err != nil {
		return period.Range{}, err
	}
	return period.NewRange(s, e)
}

// HandleSearch handles GET /v1/index/search?q=...&dims=a,b&op=OR&limit=N.
// Search failures are reported in the body's error field with a 200.
func (h *Handler) HandleSearch(c *gin.Context) {
	req := SearchRequest{
		Text:  c.Query("q"),
		Op:    Op(c.Query("op")),
		Limit: h.defaultLimit,
	}
	if dims := c.Query("dims"); dims != "" {
		req.Dims = strings.Split(dims, ",")
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   "limit must be a positive integer",
				Details:   raw,
			})
			return
		}
		req.Limit = n
	}
	c.JSON(http.StatusOK, h.index.Search(req))
}
