package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string `json:"name"`
}

func newTestRouter() *mux.Router {
	r := mux.NewRouter()
	Router(r, "/api").
		Post("/items", func(req *Req, res *Res) {
			var p payload
			if err := req.JSON(&p); err != nil {
				res.BadRequest("Invalid request body", map[string]string{"error": err.Error()})
				return
			}
			res.Created("created", p)
		}).
		Get("/items/{id}", func(req *Req, res *Res) {
			res.Success("ok", map[string]any{"id": req.Param("id"), "limit": req.QueryInt("limit", 10)})
		}).
		Delete("/items/{id}", func(req *Req, res *Res) {
			res.NotFound("missing", nil)
		}).
		Get("/upstream", func(req *Req, res *Res) {
			res.ExternalError("upstream failed", nil, 30)
		})
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouter_JSONBody(t *testing.T) {
	r := newTestRouter()

	rec := serve(r, http.MethodPost, "/api/items", `{"name":"a"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env StandardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, map[string]any{"name": "a"}, env.Payload)
}

func TestRouter_RejectsBadBodies(t *testing.T) {
	r := newTestRouter()

	for _, body := range []string{``, `{"name":"a","extra":1}`, `{"name":"a"}{"name":"b"}`, `not json`} {
		rec := serve(r, http.MethodPost, "/api/items", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)

		var env StandardResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrorTypeValidation, env.Error.Type)
	}
}

func TestRouter_ParamsAndQuery(t *testing.T) {
	rec := serve(newTestRouter(), http.MethodGet, "/api/items/42?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","message":"ok","payload":{"id":"42","limit":5}}`, rec.Body.String())
}

func TestRouter_ErrorEnvelopes(t *testing.T) {
	r := newTestRouter()

	rec := serve(r, http.MethodDelete, "/api/items/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, http.MethodGet, "/api/upstream", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

}

func TestRouter_MethodMismatchUsesEnvelope(t *testing.T) {
	rec := serve(newTestRouter(), http.MethodPut, "/api/items/1", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var env StandardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "fail", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrorTypeMethod, env.Error.Type)
	assert.Equal(t, "METHOD_NOT_ALLOWED", env.Error.Code)
}
