package server

import (
	"encoding/json"

	DB "surgedb/internal/db"
)

// CreateCollectionRequest is the body of POST /collections.
type CreateCollectionRequest struct {
	Name           string `json:"name"`
	Dimensions     int    `json:"dimensions"`
	DistanceMetric string `json:"distance_metric"`
	Quantization   string `json:"quantization"`
	Persistent     bool   `json:"persistent"`
}

// InsertVectorRequest is the body of the insert/upsert endpoints.
type InsertVectorRequest struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BatchUpsertRequest is the body of POST /collections/:name/vectors/batch.
type BatchUpsertRequest struct {
	Vectors []DB.BatchEntry `json:"vectors"`
}

// ListVectorsResponse is the body of GET /collections/:name/vectors.
type ListVectorsResponse struct {
	IDs   []string `json:"ids"`
	Total int      `json:"total"`
}

// SearchRequest is the body of POST /collections/:name/search. The filter
// keeps its wire form until the handler compiles it.
type SearchRequest struct {
	Vector          []float32       `json:"vector"`
	K               int             `json:"k"`
	Filter          json.RawMessage `json:"filter,omitempty"`
	IncludeMetadata bool            `json:"include_metadata"`
}

// SearchResponseItem is one hit in a search response.
type SearchResponseItem struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	Collections   map[string]any `json:"collections"`
	TotalVectors  int            `json:"total_vectors"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is the uniform error body for statuses >= 400.
type ErrorResponse struct {
	Error string `json:"error"`
}
