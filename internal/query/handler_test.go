package query

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	httperr "github.com/aevon-lab/orderlens/internal/core/errors"
	"github.com/aevon-lab/orderlens/internal/export"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newRouter(t *testing.T, resets ...func()) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t, Options{})
	r := gin.New()
	NewHandler(f.engine, resets...).RegisterRoutes(r)
	return r, f
}

func post(r http.Handler, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) httperr.ErrorResponse {
	t.Helper()
	var out httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

const tinClothBody = `{
	"time": {"start_yyyymm": "2024-11", "end_yyyymm": "2024-12"},
	"product": {"text": "tin cloth jacket"},
	"metric": ["quantity", "revenue"]
}`

func TestHandler_QueryThenVerify(t *testing.T) {
	r, _ := newRouter(t)

	resp := post(r, "/v1/query", tinClothBody)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var paused struct {
		NeedsVerification  bool   `json:"needs_verification"`
		ContextID          string `json:"context_id"`
		DiscoveredProducts []struct {
			Name string `json:"name"`
		} `json:"discovered_products"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &paused))
	require.True(t, paused.NeedsVerification)
	require.Len(t, paused.DiscoveredProducts, 1)
	assert.Equal(t, "Tin Cloth Packer Jacket", paused.DiscoveredProducts[0].Name)

	resp = post(r, "/v1/query/"+paused.ContextID+"/verify",
		`{"decisions": {"Tin Cloth Packer Jacket": "approve"}}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var final struct {
		NeedsVerification bool `json:"needs_verification"`
		Summary           struct {
			Values map[string]string `json:"values"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &final))
	assert.False(t, final.NeedsVerification)
	assert.Equal(t, "6", final.Summary.Values["quantity"])
	assert.Equal(t, "1860", final.Summary.Values["revenue"])
}

func TestHandler_StatusMapping(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		body           string
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "malformed json returns 400",
			url:            "/v1/query",
			body:           `{"time":`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   httperr.HttpInvalidJsonError,
		},
		{
			name:           "inverted range returns 400",
			url:            "/v1/query",
			body:           `{"time": {"start_yyyymm": "2024-12", "end_yyyymm": "2024-11"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   httperr.HttpInvalidQueryError,
		},
		{
			name:           "unknown metric returns 400",
			url:            "/v1/query",
			body:           `{"metric": ["margin"]}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   httperr.HttpInvalidQueryError,
		},
		{
			name:           "unknown context returns 409",
			url:            "/v1/query/does-not-exist/verify",
			body:           `{"decisions": {}}`,
			expectedStatus: http.StatusConflict,
			expectedType:   httperr.HttpNoPendingVerification,
		},
		{
			name:           "invalid decision returns 400",
			url:            "/v1/query/does-not-exist/verify",
			body:           `{"decisions": {"Wool Cap": "maybe"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   httperr.HttpInvalidQueryError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newRouter(t)
			resp := post(r, tc.url, tc.body)
			if resp.Code != tc.expectedStatus {
				t.Logf("unexpected response body: %s", resp.Body.String())
			}
			require.Equal(t, tc.expectedStatus, resp.Code)
			assert.Equal(t, tc.expectedType, decodeError(t, resp).ErrorType)
		})
	}
}

func TestHandler_VerifyUnknownCandidate(t *testing.T) {
	r, _ := newRouter(t)

	resp := post(r, "/v1/query", tinClothBody)
	require.Equal(t, http.StatusOK, resp.Code)
	var paused struct {
		ContextID string `json:"context_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &paused))

	resp = post(r, "/v1/query/"+paused.ContextID+"/verify", `{"decisions": {"Canvas Tote": "approved"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, httperr.HttpUnknownCandidateError, decodeError(t, resp).ErrorType)

	// The context survives a bad decision set.
	resp = post(r, "/v1/query/"+paused.ContextID+"/verify", `{"decisions": {"Tin Cloth Packer Jacket": "rejected"}}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestHandler_ExportRequiresResolvedQuery(t *testing.T) {
	r, _ := newRouter(t)

	resp := post(r, "/v1/query/export", tinClothBody)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, httperr.HttpVerificationRequired, decodeError(t, resp).ErrorType)
}

func TestHandler_ExportWorkbook(t *testing.T) {
	r, _ := newRouter(t)

	resp := post(r, "/v1/query/export", `{
		"time": {"start_yyyymm": "2024-11", "end_yyyymm": "2024-12"},
		"product": {"text": "wool cap"}
	}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, export.ContentType, resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.SheetRows)
	require.NoError(t, err)
	require.Len(t, rows, 3, "heading plus one wool cap line per month")
	assert.Equal(t, "Wool Cap", rows[1][2])
	assert.Equal(t, "Wool Cap", rows[2][2])
}

func TestHandler_ClearCache(t *testing.T) {
	resets := 0
	r, f := newRouter(t, func() { resets++ })

	resp := post(r, "/v1/query", tinClothBody)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = post(r, "/v1/cache/clear", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, resets)
	assert.Empty(t, f.attach.CachedMonths())
}
