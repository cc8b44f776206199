package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	DB "surgedb/internal/db"
	"surgedb/internal/filter"
	"surgedb/internal/index"
	"surgedb/internal/quantization"
	pkgerrors "surgedb/pkg/errors"
)

// statusFor maps engine errors onto HTTP statuses. Anything unclassified is
// a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrCollectionNotFound), errors.Is(err, pkgerrors.ErrVectorNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrCollectionExists), errors.Is(err, pkgerrors.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInvalidDimension),
		errors.Is(err, pkgerrors.ErrInvalidConfig),
		errors.Is(err, pkgerrors.ErrInvalidFilter),
		errors.Is(err, pkgerrors.ErrNotPersistent):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrConfigMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(s.started) / time.Second),
		})
	}
}

func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := s.db.Stats()
		collections := make(map[string]any, len(stats))
		total := 0
		for name, st := range stats {
			collections[name] = st
			total += st.VectorCount
		}
		c.JSON(http.StatusOK, StatsResponse{
			UptimeSeconds: int64(time.Since(s.started) / time.Second),
			Collections:   collections,
			TotalVectors:  total,
		})
	}
}

func (s *Server) handleCreateCollection() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCollectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}

		metric, err := index.ParseMetric(req.DistanceMetric)
		if err != nil {
			abortWithError(c, err)
			return
		}
		quant, err := quantization.ParseType(req.Quantization)
		if err != nil {
			abortWithError(c, err)
			return
		}

		_, err = s.db.CreateCollection(req.Name, DB.CollectionConfig{
			Dimensions:   req.Dimensions,
			Metric:       metric,
			Quantization: quant,
			Persistent:   req.Persistent,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"name": req.Name})
	}
}

func (s *Server) handleListCollections() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.db.ListCollections())
	}
}

func (s *Server) handleDeleteCollection() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.DeleteCollection(c.Param("name")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleCollectionStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, coll.Stats())
	}
}

func (s *Server) handleCheckpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if err := coll.Checkpoint(); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

func (s *Server) handleSync() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if err := coll.Sync(); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

func (s *Server) handleInsertVector() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		var req InsertVectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		if err := coll.Insert(req.ID, req.Vector, req.Metadata); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

func (s *Server) handleUpsertVector() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		var req InsertVectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		if err := coll.Upsert(req.ID, req.Vector, req.Metadata); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

func (s *Server) handleBatchUpsert() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		var req BatchUpsertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, coll.UpsertBatch(req.Vectors))
	}
}

func (s *Server) handleListVectors() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "offset must be a non-negative integer"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		c.JSON(http.StatusOK, ListVectorsResponse{
			IDs:   coll.List(offset, limit),
			Total: coll.Len(),
		})
	}
}

func (s *Server) handleGetVector() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		rec, err := coll.Get(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) handleDeleteVector() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if err := coll.Delete(c.Param("id")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, err := s.db.GetCollection(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}

		var f *filter.Filter
		if len(req.Filter) > 0 {
			f, err = filter.Parse(req.Filter)
			if err != nil {
				abortWithError(c, err)
				return
			}
		}

		results, err := coll.SearchWithFilter(req.Vector, req.K, f)
		if err != nil {
			abortWithError(c, err)
			return
		}

		items := make([]SearchResponseItem, len(results))
		for i, r := range results {
			items[i] = SearchResponseItem{ID: r.ID, Score: r.Score}
			if req.IncludeMetadata {
				items[i].Metadata = r.Metadata
			}
		}
		c.JSON(http.StatusOK, items)
	}
}
