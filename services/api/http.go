package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qbenchsim/services/arrowpipeline"
	"qbenchsim/services/dataset"
	"qbenchsim/services/engine"
	"qbenchsim/services/errs"
	"qbenchsim/services/history"
)

const arrowStreamType = "application/vnd.apache.arrow.stream"

// APIError is the error body of every failed request.
type APIError struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

type tripleQuery struct {
	Algorithm string `form:"algorithm"`
	Size      int    `form:"size"`
	Backend   string `form:"backend"`
	Mirror    bool   `form:"mirror"`
	Dataset   string `form:"dataset"`
}

func (q tripleQuery) key() history.Key {
	return history.Key{Algorithm: q.Algorithm, Size: q.Size, Backend: q.Backend, Mirror: q.Mirror}
}

func (q tripleQuery) triple() dataset.Triple {
	return dataset.Triple{Algorithm: q.Algorithm, Size: q.Size, Backend: q.Backend}
}

// Routes registers the REST API on r.
func (s *Service) Routes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/outcomes", s.handleFetch)
		api.POST("/outcomes.arrow", s.handleFetchArrow)
		api.GET("/datasets/:name/index", s.handleIndex)
		api.GET("/datasets/:name/backend", s.handleBackend)
		api.GET("/datasets/:name/circuit", s.handleCircuit)
		api.DELETE("/cursors", s.handleResetCursor)
		api.GET("/health", s.handleHealthCheck)
	}
}

func (s *Service) writeError(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	if code == errs.CodeInternal {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code.HTTPStatus(), gin.H{"error": APIError{Code: code, Message: err.Error()}})
}

func (s *Service) bindRequest(c *gin.Context) (engine.Request, bool) {
	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errs.Wrap(errs.CodeInvalidArgument, err, "invalid request body"))
		return req, false
	}
	return req, true
}

func (s *Service) handleFetch(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	res, err := s.engine.Fetch(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToResponse(res))
}

func (s *Service) handleFetchArrow(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	res, err := s.engine.Fetch(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	data, err := s.pipeline.ConvertToArrow([]arrowpipeline.Batch{{
		RequestID: res.RequestID,
		Dataset:   res.Dataset,
		Key:       res.Key,
		Counts:    res.Counts,
	}})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("X-Request-Id", res.RequestID)
	c.Data(http.StatusOK, arrowStreamType, data)
}

func (s *Service) handleIndex(c *gin.Context) {
	triples, err := s.catalog.Index(c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": c.Param("name"), "entries": triples})
}

func (s *Service) bindTriple(c *gin.Context) (tripleQuery, bool) {
	var q tripleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, errs.Wrap(errs.CodeInvalidArgument, err, "invalid query"))
		return q, false
	}
	if err := q.key().Validate(); err != nil {
		s.writeError(c, err)
		return q, false
	}
	return q, true
}

func (s *Service) handleBackend(c *gin.Context) {
	q, ok := s.bindTriple(c)
	if !ok {
		return
	}
	backend, err := s.catalog.Backend(c.Param("name"), q.triple())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, backend)
}

func (s *Service) handleCircuit(c *gin.Context) {
	q, ok := s.bindTriple(c)
	if !ok {
		return
	}
	qasm, err := s.catalog.Circuit(c.Param("name"), q.triple(), q.Mirror)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qasm": qasm, "mirror": q.Mirror})
}

func (s *Service) handleResetCursor(c *gin.Context) {
	q, ok := s.bindTriple(c)
	if !ok {
		return
	}
	s.engine.ResetCursor(s.datasetOrDefault(q.Dataset), q.key())
	c.Status(http.StatusNoContent)
}

func (s *Service) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"dataset":   s.engine.Config().Dataset,
	})
}
