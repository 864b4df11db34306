package media

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, transformer := newTestService(t)
	h := NewHandler(svc, transformer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	r.Post("/media", h.Upload)
	r.Get("/media", h.List)
	r.Get("/media/{id}", h.Get)
	r.Patch("/media/{id}", h.Update)
	r.Delete("/media/{id}", h.Delete)
	r.Get("/files/{ref}", h.Serve)
	return r, svc
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_UploadServeAndDelete(t *testing.T) {
	r, _ := newTestRouter(t)

	body, ct := multipartBody(t, "file", "photo.png", pngBytes(t, 1200, 600))
	req := httptest.NewRequest(http.MethodPost, "/media", body)
	req.Header.Set("Content-Type", ct)
	rr := serve(r, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct{ Data File }
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	f := created.Data

	// By filename and by id.
	for _, ref := range []string{f.Filename, f.ID} {
		rr = serve(r, httptest.NewRequest(http.MethodGet, "/files/"+ref, nil))
		require.Equal(t, http.StatusOK, rr.Code, ref)
		assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
		assert.Empty(t, rr.Header().Get("Content-Disposition"), "images render inline")
	}

	rr = serve(r, httptest.NewRequest(http.MethodGet, "/files/"+f.Filename+"?v=sm", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	img, err := png.Decode(rr.Body)
	require.NoError(t, err)
	assert.Less(t, img.Bounds().Dx(), 1200)

	rr = serve(r, httptest.NewRequest(http.MethodGet, "/files/"+f.Filename+"?v=huge", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPatch, "/media/"+f.ID, strings.NewReader(`{"alt":"banner"}`))
	rr = serve(r, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"alt":"banner"`)

	rr = serve(r, httptest.NewRequest(http.MethodGet, "/media?per_page=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":1`)

	rr = serve(r, httptest.NewRequest(http.MethodDelete, "/media/"+f.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(r, httptest.NewRequest(http.MethodGet, "/files/"+f.ID, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_Errors(t *testing.T) {
	r, svc := newTestRouter(t)
	doc, err := svc.Store(context.Background(), "notes.txt", "text/plain", []byte("plain notes"), "")
	require.NoError(t, err)

	missingField, ct := multipartBody(t, "other", "a.png", []byte("x"))
	upload := httptest.NewRequest(http.MethodPost, "/media", missingField)
	upload.Header.Set("Content-Type", ct)

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"upload without file", upload, http.StatusBadRequest, "MISSING_FILE"},
		{"get unknown", httptest.NewRequest(http.MethodGet, "/media/00000000-0000-0000-0000-000000000000", nil), http.StatusNotFound, "NOT_FOUND"},
		{"update bad json", httptest.NewRequest(http.MethodPatch, "/media/"+doc.ID, strings.NewReader("{")), http.StatusBadRequest, "INVALID_JSON"},
		{"update unknown", httptest.NewRequest(http.MethodPatch, "/media/00000000-0000-0000-0000-000000000000", strings.NewReader(`{"alt":"x"}`)), http.StatusNotFound, "NOT_FOUND"},
		{"delete non uuid", httptest.NewRequest(http.MethodDelete, "/media/abc", nil), http.StatusBadRequest, "INVALID_ID"},
		{"serve traversal", httptest.NewRequest(http.MethodGet, "/files/..%2Fetc", nil), http.StatusBadRequest, "INVALID_FILENAME"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(r, tt.req)
			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), tt.wantErr)
		})
	}

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/files/"+doc.Filename, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="notes.txt"`, rr.Header().Get("Content-Disposition"))
}
