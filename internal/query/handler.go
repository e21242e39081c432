package query

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httperr "github.com/aevon-lab/orderlens/internal/core/errors"
	"github.com/aevon-lab/orderlens/internal/export"
	"github.com/aevon-lab/orderlens/internal/verification"
	"github.com/gin-gonic/gin"
)

// Handler exposes the query pipeline over HTTP. It serves one local session.
type Handler struct {
	engine *Engine
	resets []func()
}

// NewHandler wraps engine. resets run on POST /v1/cache/clear after the
// engine's own caches are dropped.
func NewHandler(engine *Engine, resets ...func()) *Handler {
	return &Handler{engine: engine, resets: resets}
}

// RegisterRoutes registers the query API routes on the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/query", h.HandleQuery)
	r.POST("/v1/query/export", h.HandleExport)
	r.POST("/v1/query/:context_id/verify", h.HandleVerify)
	r.POST("/v1/cache/clear", h.HandleClearCache)
}

type verifyRequest struct {
	Decisions map[string]string `json:"decisions" binding:"required"`
}

// HandleQuery handles POST /v1/query. A paused run is a 200 with
// needs_verification set.
func (h *Handler) HandleQuery(c *gin.Context) {
	var q Query
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query body",
			Details:   err.Error(),
		})
		return
	}

	res, err := h.engine.Run(c.Request.Context(), q)
	if err != nil {
		writeError(c, err, "Failed to run query")
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleVerify handles POST /v1/query/:context_id/verify.
func (h *Handler) HandleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid verification body",
			Details:   err.Error(),
		})
		return
	}

	decisions := make(map[string]verification.Decision, len(req.Decisions))
	for name, raw := range req.Decisions {
		d, err := verification.ParseDecision(raw)
		if err != nil {
			writeError(c, err, "Invalid decision")
			return
		}
		decisions[name] = d
	}

	res, err := h.engine.Continue(c.Request.Context(), c.Param("context_id"), decisions)
	if err != nil {
		writeError(c, err, "Failed to resolve verification")
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleExport handles POST /v1/query/export. The query must complete
// without a verification pause; otherwise the pause is returned as a 409.
func (h *Handler) HandleExport(c *gin.Context) {
	var q Query
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query body",
			Details:   err.Error(),
		})
		return
	}

	res, err := h.engine.Run(c.Request.Context(), q)
	if err != nil {
		writeError(c, err, "Failed to run query")
		return
	}
	if res.NeedsVerification {
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.HttpVerificationRequired,
			Message:   "Resolve the verification before exporting",
			Details: gin.H{
				"context_id":          res.ContextID,
				"discovered_products": res.DiscoveredProducts,
			},
		})
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, res.RawData, res.Summary); err != nil {
		writeError(c, err, "Failed to build workbook")
		return
	}
	name := fmt.Sprintf("orders-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// HandleClearCache handles POST /v1/cache/clear.
func (h *Handler) HandleClearCache(c *gin.Context) {
	h.engine.ClearCaches()
	for _, reset := range h.resets {
		reset()
	}
	slog.Info("[Query] Caches cleared", "resets", len(h.resets))
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

type errorMapping struct {
	target    error
	status    int
	errorType string
}

var errorMappings = []errorMapping{
	{ErrInvalidQuery, http.StatusBadRequest, httperr.HttpInvalidQueryError},
	{verification.ErrInvalidDecision, http.StatusBadRequest, httperr.HttpInvalidQueryError},
	{ErrNoPendingVerification, http.StatusConflict, httperr.HttpNoPendingVerification},
	{verification.ErrUnknownCandidate, http.StatusUnprocessableEntity, httperr.HttpUnknownCandidateError},
	{ErrSourceUnavailable, http.StatusServiceUnavailable, httperr.HttpSourceUnavailableError},
}

func writeError(c *gin.Context, err error, message string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, httperr.ErrorResponse{
				ErrorType: m.errorType,
				Message:   message,
				Details:   err.Error(),
			})
			return
		}
	}
	slog.Error("[Query] Request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   message,
		Details:   err.Error(),
	})
}
