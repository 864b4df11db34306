package content

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/access"
)

// newTestRouter mounts the content handler the way the server does.
func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	h := NewHandler(newTestService(t, opts), quietLogger())
	r := chi.NewRouter()
	r.Route("/api", h.PublicRoutes)
	r.Route("/admin/api", h.AdminRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp
}

func errorCode(t *testing.T, resp map[string]any) string {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected error object in response: %v", resp)
	code, _ := errObj["code"].(string)
	return code
}

func dataItem(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "expected data object in response: %v", resp)
	item, ok := data["item"].(map[string]any)
	require.True(t, ok, "expected item in response: %v", data)
	return item
}

func TestHandler_NotFound(t *testing.T) {
	r := newTestRouter(t, Options{})

	tests := []struct {
		name   string
		target string
	}{
		{"unknown entity", "/api/collection/nope"},
		{"unknown kind", "/api/widget/articles"},
		{"non-public collection", "/api/collection/posts"},
		{"non-public item", "/api/collection/posts/abc"},
		{"blocks are never public", "/api/block/hero"},
		{"unknown admin entity", "/admin/api/content/collection/nope"},
		{"missing item", "/admin/api/content/collection/articles/missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, r, http.MethodGet, tt.target, nil)
			assert.Equal(t, http.StatusNotFound, code)
			assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
		})
	}
}

func TestHandler_AdminCreate_InvalidJSON(t *testing.T) {
	r := newTestRouter(t, Options{})

	code, resp := do(t, r, http.MethodPost, "/admin/api/content/collection/articles", strings.NewReader("not json"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_JSON", errorCode(t, resp))
}

func TestHandler_InvalidQueryParams(t *testing.T) {
	r := newTestRouter(t, Options{})

	for _, target := range []string{
		"/admin/api/content/collection/articles?page=-1",
		"/api/collection/articles?sort=nope",
		"/api/collection/articles?filter[nope]=x",
	} {
		code, resp := do(t, r, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.Equal(t, "INVALID_PARAMS", errorCode(t, resp), target)
	}
}

func TestHandler_CreatePublishAndRead(t *testing.T) {
	r := newTestRouter(t, Options{})

	code, resp := do(t, r, http.MethodPost, "/admin/api/content/collection/articles",
		strings.NewReader(`{"title": "Hello", "views": 3, "keywords": ["go"]}`))
	require.Equal(t, http.StatusCreated, code, "%v", resp)
	item := dataItem(t, resp)
	id, _ := item["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "Hello", item["title"])
	assert.Equal(t, float64(3), item["views"])
	assert.Equal(t, "draft", item["status"])

	// Drafts stay hidden from the public API.
	code, _ = do(t, r, http.MethodGet, "/api/collection/articles/hello", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = do(t, r, http.MethodPost, "/admin/api/content/collection/articles/"+id+"/publish", nil)
	require.Equal(t, http.StatusOK, code, "%v", resp)
	assert.Equal(t, "published", dataItem(t, resp)["status"])

	for _, ref := range []string{id, "hello"} {
		code, resp = do(t, r, http.MethodGet, "/api/collection/articles/"+ref, nil)
		require.Equal(t, http.StatusOK, code, "%v", resp)
		assert.Equal(t, id, dataItem(t, resp)["id"])
		assert.Equal(t, "/blog/hello", resp["data"].(map[string]any)["url"])
	}

	code, resp = do(t, r, http.MethodGet, "/api/collection/articles", nil)
	require.Equal(t, http.StatusOK, code)
	items := resp["data"].(map[string]any)["items"].([]any)
	assert.Len(t, items, 1)

	code, resp = do(t, r, http.MethodGet, "/api/tags/collection/articles", nil)
	require.Equal(t, http.StatusOK, code)
	cloud := resp["data"].([]any)
	require.Len(t, cloud, 1)
	assert.Equal(t, "go", cloud[0].(map[string]any)["name"])
}

func TestHandler_AdminUpdateAndDelete(t *testing.T) {
	r := newTestRouter(t, Options{})

	code, resp := do(t, r, http.MethodPost, "/admin/api/content/collection/articles",
		strings.NewReader(`{"title": "Hello"}`))
	require.Equal(t, http.StatusCreated, code)
	id := dataItem(t, resp)["id"].(string)

	code, resp = do(t, r, http.MethodPut, "/admin/api/content/collection/articles/"+id,
		strings.NewReader(`{"body": "updated"}`))
	require.Equal(t, http.StatusOK, code, "%v", resp)
	assert.Equal(t, "updated", dataItem(t, resp)["body"])
	assert.Equal(t, "Hello", dataItem(t, resp)["title"])

	code, resp = do(t, r, http.MethodGet, "/admin/api/content/collection/articles", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp["data"].(map[string]any)["items"].([]any), 1)

	code, _ = do(t, r, http.MethodDelete, "/admin/api/content/collection/articles/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, r, http.MethodDelete, "/admin/api/content/collection/articles/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
}

func TestHandler_ServiceErrors(t *testing.T) {
	r := newTestRouter(t, Options{})

	t.Run("validation", func(t *testing.T) {
		code, resp := do(t, r, http.MethodPost, "/admin/api/content/collection/articles",
			strings.NewReader(`{"title": "x", "evil": 1}`))
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
		details := resp["error"].(map[string]any)["details"].([]any)
		require.NotEmpty(t, details)
		assert.Equal(t, "evil", details[0].(map[string]any)["field"])
	})

	t.Run("integrity", func(t *testing.T) {
		code, resp := do(t, r, http.MethodPost, "/admin/api/content/collection/articles",
			strings.NewReader(`{"title": "x", "parent_id": "missing"}`))
		assert.Equal(t, http.StatusUnprocessableEntity, code)
		assert.Equal(t, "INTEGRITY_ERROR", errorCode(t, resp))
	})

	t.Run("publish without status", func(t *testing.T) {
		code, resp := do(t, r, http.MethodPost, "/admin/api/content/global/settings/any/publish", nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "INVALID_OPERATION", errorCode(t, resp))
	})
}

func TestHandler_WritesRequireUser(t *testing.T) {
	r := newTestRouter(t, Options{Authorizer: access.AuthenticatedWrites{}})

	code, resp := do(t, r, http.MethodPost, "/admin/api/content/collection/articles",
		strings.NewReader(`{"title": "Hello"}`))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, resp))

	// Reads stay open.
	code, _ = do(t, r, http.MethodGet, "/api/collection/articles", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestNormalizeNumbers(t *testing.T) {
	data := map[string]any{
		"int_val":    json.Number("42"),
		"float_val":  json.Number("3.14"),
		"string_val": "hello",
		"nested": map[string]any{
			"num": json.Number("7"),
		},
		"list": []any{
			json.Number("1"),
			map[string]any{"n": json.Number("2.5")},
		},
	}

	normalizeNumbers(data)

	assert.Equal(t, int64(42), data["int_val"])
	assert.Equal(t, 3.14, data["float_val"])
	assert.Equal(t, "hello", data["string_val"])
	assert.Equal(t, int64(7), data["nested"].(map[string]any)["num"])

	list := data["list"].([]any)
	assert.Equal(t, int64(1), list[0])
	assert.Equal(t, 2.5, list[1].(map[string]any)["n"])
}
