package catalog

import (
	"net/http"
	"strings"

	httperr "github.com/aevon-lab/orderlens/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the catalog API routes on the given router.
func (r *Repository) RegisterRoutes(router gin.IRouter) {
	router.GET("/v1/catalog/search", r.HandleSearch)
	router.GET("/v1/catalog/facets", r.HandleFacets)
	router.POST("/v1/catalog/selective", r.HandleSelective)
	router.DELETE("/v1/catalog/selective", r.HandleResetSelective)
}

// HandleSearch handles GET /v1/catalog/search?q=...&<facet>=<value>.
// Every query parameter other than q is a facet filter; repeat a
// parameter to OR its values.
func (r *Repository) HandleSearch(c *gin.Context) {
	text := c.Query("q")
	filters := Filters{}
	for name, values := range c.Request.URL.Query() {
		if name == "q" {
			continue
		}
		filters[strings.ToLower(name)] = values
	}

	matches, err := r.SearchProducts(c.Request.Context(), text, filters)
	if err != nil {
		writeUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":   len(matches),
		"results": matches,
	})
}

// HandleFacets handles GET /v1/catalog/facets.
func (r *Repository) HandleFacets(c *gin.Context) {
	facets, err := r.Facets(c.Request.Context())
	if err != nil {
		writeUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, facets)
}

// HandleSelective handles POST /v1/catalog/selective. The listed products,
// looked up in the full catalog, replace it until the selection is deleted.
func (r *Repository) HandleSelective(c *gin.Context) {
	var req struct {
		IDs  []string `json:"ids"`
		SKUs []string `json:"skus"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid selection body",
			Details:   err.Error(),
		})
		return
	}
	if len(req.IDs) == 0 && len(req.SKUs) == 0 {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Selection needs ids or skus",
		})
		return
	}

	r.ResetToFullCache()
	full, err := r.LoadCurrentCatalog(c.Request.Context())
	if err != nil {
		writeUnavailable(c, err)
		return
	}
	snap := r.UseSelective(full.Lookup(req.IDs, req.SKUs))
	c.JSON(http.StatusOK, gin.H{"products": len(snap.Products)})
}

// HandleResetSelective handles DELETE /v1/catalog/selective.
func (r *Repository) HandleResetSelective(c *gin.Context) {
	r.ResetToFullCache()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func writeUnavailable(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
		ErrorType: httperr.HttpSourceUnavailableError,
		Message:   "Catalog unavailable",
		Details:   err.Error(),
	})
}
