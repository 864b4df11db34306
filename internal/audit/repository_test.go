package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyroZepelix/mithril-engine/internal/database/dbtest"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

func TestRepository_InsertAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	require.NoError(t, repo.Insert(ctx, Event{
		Action:     "content.save",
		ActorID:    "admin-1",
		Resource:   "collection/posts",
		ResourceID: "p1",
		Payload:    map[string]any{"created": true},
	}))
	require.NoError(t, repo.Insert(ctx, Event{Action: "auth.login.failure"}))

	all, total, err := repo.List(ctx, Filters{}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	saved, total, err := repo.List(ctx, Filters{Action: "content.save"}, 1, 20)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	e := saved[0]
	require.NotNil(t, e.ActorID)
	assert.Equal(t, "admin-1", *e.ActorID)
	require.NotNil(t, e.Resource)
	assert.Equal(t, "collection/posts", *e.Resource)
	assert.Equal(t, map[string]any{"created": true}, e.Payload)
	assert.False(t, e.CreatedAt.IsZero())

	failed, _, err := repo.List(ctx, Filters{Action: "auth.login.failure"}, 1, 20)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Nil(t, failed[0].ActorID)
	assert.Nil(t, failed[0].Payload)
}

func TestRepository_Filters(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.Insert(ctx, Event{Action: "content.save", ActorID: "a1", Resource: "collection/posts", ResourceID: "p1", At: old}))
	require.NoError(t, repo.Insert(ctx, Event{Action: "content.save", ActorID: "a2", Resource: "collection/posts", ResourceID: "p2"}))
	require.NoError(t, repo.Insert(ctx, Event{Action: "content.delete", ActorID: "a1", Resource: "global/settings"}))

	tests := []struct {
		name    string
		filters Filters
		want    int
	}{
		{"actor", Filters{ActorID: "a1"}, 2},
		{"resource id", Filters{ResourceID: "p2"}, 1},
		{"action and resource", Filters{Action: "content.save", Resource: "collection/posts"}, 2},
		{"since", Filters{Since: time.Now().Add(-time.Hour)}, 2},
		{"no match", Filters{ActorID: "nobody"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := repo.List(ctx, tt.filters, 1, 20)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
		})
	}

	page, total, err := repo.List(ctx, Filters{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "p1", *page[0].ResourceID, "oldest entry is last")
}

func TestService_DrainsOnShutdown(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	s := NewService(repo, quietLogger())
	s.Start()

	for range 5 {
		s.Log(ctx, Event{Action: "schema.refresh"})
	}
	s.Shutdown(ctx)

	_, total, err := repo.List(ctx, Filters{Action: "schema.refresh"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestHandler_List(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	require.NoError(t, repo.Insert(ctx, Event{Action: "auth.login.success", ActorID: "a1"}))
	require.NoError(t, repo.Insert(ctx, Event{Action: "auth.login.failure"}))
	h := NewHandler(NewService(repo, quietLogger()), quietLogger())

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/audit-log?action=auth.login.success&per_page=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []Entry               `json:"data"`
		Meta server.PaginationMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "auth.login.success", resp.Data[0].Action)
	assert.Equal(t, server.PaginationMeta{Page: 1, PerPage: 5, Total: 1, TotalPages: 1}, resp.Meta)

	rr = httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/audit-log?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
