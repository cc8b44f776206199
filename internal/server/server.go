// Package server exposes the engine over HTTP. It is a thin translation
// layer: request decoding, error-to-status mapping, nothing else.
package server

import (
	"time"

	"github.com/gin-gonic/gin"

	DB "surgedb/internal/db"
)

// Server wraps the gin router around a registry.
type Server struct {
	router  *gin.Engine
	db      *DB.DB
	started time.Time
}

// New creates a server for the given registry.
func New(db *DB.DB) *Server {
	s := &Server{
		db:      db,
		router:  gin.Default(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/stats", s.handleStats())

	s.router.POST("/collections", s.handleCreateCollection())
	s.router.GET("/collections", s.handleListCollections())
	s.router.DELETE("/collections/:name", s.handleDeleteCollection())
	s.router.GET("/collections/:name/stats", s.handleCollectionStats())
	s.router.POST("/collections/:name/checkpoint", s.handleCheckpoint())
	s.router.POST("/collections/:name/sync", s.handleSync())

	s.router.POST("/collections/:name/vectors", s.handleInsertVector())
	s.router.GET("/collections/:name/vectors", s.handleListVectors())
	s.router.POST("/collections/:name/upsert", s.handleUpsertVector())
	s.router.POST("/collections/:name/vectors/batch", s.handleBatchUpsert())
	s.router.GET("/collections/:name/vectors/:id", s.handleGetVector())
	s.router.DELETE("/collections/:name/vectors/:id", s.handleDeleteVector())
	s.router.POST("/collections/:name/search", s.handleSearch())
}

// Run starts serving on addr, blocking until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
