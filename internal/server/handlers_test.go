package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgedb/internal/config"
	DB "surgedb/internal/db"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conf, err := config.NewConfig(t.TempDir())
	require.NoError(t, err)
	database, err := DB.New(conf)
	require.NoError(t, err)
	t.Cleanup(database.Close)
	return New(database)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func createCollection(t *testing.T, s *Server, name string, dims int) {
	t.Helper()
	w := do(t, s, http.MethodPost, "/collections", CreateCollectionRequest{
		Name:       name,
		Dimensions: dims,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateCollection(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 4)

	// Duplicate name conflicts.
	w := do(t, s, http.MethodPost, "/collections", CreateCollectionRequest{Name: "items", Dimensions: 4})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Bad metric and bad dimensions are client errors.
	w = do(t, s, http.MethodPost, "/collections", CreateCollectionRequest{
		Name: "bad", Dimensions: 4, DistanceMetric: "hamming",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodPost, "/collections", CreateCollectionRequest{Name: "bad", Dimensions: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/collections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Equal(t, []string{"items"}, names)
}

func TestDeleteCollection(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 2)

	w := do(t, s, http.MethodDelete, "/collections/items", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, http.MethodDelete, "/collections/items", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInsertGetDeleteVector(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 2)

	w := do(t, s, http.MethodPost, "/collections/items/vectors", InsertVectorRequest{
		ID:       "v1",
		Vector:   []float32{1, 0},
		Metadata: map[string]any{"tag": "a"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Duplicate id conflicts; upsert of the same id succeeds.
	w = do(t, s, http.MethodPost, "/collections/items/vectors", InsertVectorRequest{
		ID: "v1", Vector: []float32{1, 0},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, s, http.MethodPost, "/collections/items/upsert", InsertVectorRequest{
		ID: "v1", Vector: []float32{0, 1},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/collections/items/vectors/v1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec DB.VectorRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, []float32{0, 1}, rec.Vector)

	w = do(t, s, http.MethodDelete, "/collections/items/vectors/v1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, http.MethodGet, "/collections/items/vectors/v1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVectorOpsOnMissingCollection(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodPost, "/collections/ghost/vectors", InsertVectorRequest{
		ID: "v1", Vector: []float32{1},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, s, http.MethodPost, "/collections/ghost/search", SearchRequest{Vector: []float32{1}, K: 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDimensionMismatchIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 4)

	w := do(t, s, http.MethodPost, "/collections/items/vectors", InsertVectorRequest{
		ID: "v1", Vector: []float32{1, 2},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchWithFilter(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 2)

	vectors := []InsertVectorRequest{
		{ID: "a1", Vector: []float32{1, 0}, Metadata: map[string]any{"tag": "A", "price": 10}},
		{ID: "a2", Vector: []float32{0.9, 0.1}, Metadata: map[string]any{"tag": "A", "price": 90}},
		{ID: "b1", Vector: []float32{0.95, 0.05}, Metadata: map[string]any{"tag": "B", "price": 20}},
	}
	for _, v := range vectors {
		w := do(t, s, http.MethodPost, "/collections/items/vectors", v)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(t, s, http.MethodPost, "/collections/items/search", map[string]any{
		"vector": []float32{1, 0},
		"k":      2,
		"filter": map[string]any{
			"And": []any{
				map[string]any{"Exact": []any{"tag", "A"}},
				map[string]any{"Range": []any{"price", nil, 50}},
			},
		},
		"include_metadata": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var items []SearchResponseItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].ID)
	assert.Equal(t, "A", items[0].Metadata["tag"])

	// Malformed filters are client errors.
	w = do(t, s, http.MethodPost, "/collections/items/search", map[string]any{
		"vector": []float32{1, 0},
		"k":      1,
		"filter": map[string]any{"Between": []any{"price", 0, 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchWithoutMetadata(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 2)
	w := do(t, s, http.MethodPost, "/collections/items/vectors", InsertVectorRequest{
		ID: "v1", Vector: []float32{1, 0}, Metadata: map[string]any{"tag": "a"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodPost, "/collections/items/search", SearchRequest{
		Vector: []float32{1, 0},
		K:      1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var items []SearchResponseItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Metadata)
}

func TestListVectors(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 2)
	for _, id := range []string{"c", "a", "b", "d"} {
		w := do(t, s, http.MethodPost, "/collections/items/vectors", InsertVectorRequest{
			ID: id, Vector: []float32{1, 0},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(t, s, http.MethodGet, "/collections/items/vectors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ListVectorsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"a", "b", "c", "d"}, resp.IDs)
	assert.Equal(t, 4, resp.Total)

	w = do(t, s, http.MethodGet, "/collections/items/vectors?offset=1&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"b", "c"}, resp.IDs)
	assert.Equal(t, 4, resp.Total)

	w = do(t, s, http.MethodGet, "/collections/items/vectors?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodGet, "/collections/items/vectors?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodGet, "/collections/ghost/vectors", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchUpsert(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 2)

	w := do(t, s, http.MethodPost, "/collections/items/vectors/batch", BatchUpsertRequest{
		Vectors: []DB.BatchEntry{
			{ID: "ok", Vector: []float32{1, 0}},
			{ID: "bad", Vector: []float32{1, 0, 0}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result DB.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, []string{"ok"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "bad", result.Failed[0].ID)
}

func TestStatsEndpoints(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "items", 2)
	w := do(t, s, http.MethodPost, "/collections/items/vectors", InsertVectorRequest{
		ID: "v1", Vector: []float32{1, 0},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalVectors)
	assert.Contains(t, stats.Collections, "items")

	w = do(t, s, http.MethodGet, "/collections/items/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodGet, "/collections/ghost/stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckpointAndSync(t *testing.T) {
	s := newTestServer(t)
	// In-memory collections reject checkpoints but accept syncs.
	createCollection(t, s, "mem", 2)
	w := do(t, s, http.MethodPost, "/collections/mem/checkpoint", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodPost, "/collections/mem/sync", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodPost, "/collections", CreateCollectionRequest{
		Name: "disk", Dimensions: 2, Persistent: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, s, http.MethodPost, "/collections/disk/vectors", InsertVectorRequest{
		ID: "v1", Vector: []float32{1, 0},
	})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodPost, "/collections/disk/checkpoint", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodPost, "/collections/disk/sync", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
