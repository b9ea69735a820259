package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/meta"
	"github.com/dynabo/dynabo/internal/query"
)

// Reserved query parameters; everything else is a filter term.
const (
	paramPage     = "page"
	paramPageSize = "page_size"
	paramSort     = "sort"
)

func (s *Server) definition(c *gin.Context) (*meta.BODefinition, bool) {
	def, err := s.schemas.GetDefinition(c.Request.Context(), c.Param("bo"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return def, true
}

func (s *Server) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return c.Request.Context(), func() {}
	}
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

// parseListRequest turns the raw query string into a query request.
// Repeated filter keys are rejected rather than silently collapsed.
func parseListRequest(c *gin.Context) (query.Request, error) {
	req := query.Request{Filters: map[string]string{}}

	for key, vals := range c.Request.URL.Query() {
		switch key {
		case paramPage, paramPageSize, paramSort:
			continue
		}
		if len(vals) > 1 {
			return req, errs.Newf(errs.KindValidation, errs.CodeInvalidFilter,
				"filter %q given more than once", key).WithField(key)
		}
		req.Filters[key] = vals[0]
	}

	req.Sort = c.Query(paramSort)

	var err error
	if req.Page, err = intParam(c, paramPage); err != nil {
		return req, err
	}
	if req.PageSize, err = intParam(c, paramPageSize); err != nil {
		return req, err
	}
	return req, nil
}

func intParam(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.Newf(errs.KindValidation, errs.CodeInvalidFilter,
			"%s must be a non-negative integer", name).
			WithField(name).WithValue(raw)
	}
	return n, nil
}

func (s *Server) listRecords(c *gin.Context) {
	def, ok := s.definition(c)
	if !ok {
		return
	}
	req, err := parseListRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	page, err := s.queries.List(ctx, def, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getRecord(c *gin.Context) {
	def, ok := s.definition(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	rec, err := s.queries.Get(ctx, def, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) createRecord(c *gin.Context) {
	def, ok := s.definition(c)
	if !ok {
		return
	}
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		respondBadJSON(c, err)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	rec, err := s.records.Insert(ctx, def, data, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) updateRecord(c *gin.Context) {
	def, ok := s.definition(c)
	if !ok {
		return
	}
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		respondBadJSON(c, err)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	rec, err := s.records.Update(ctx, def, c.Param("id"), data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteRecord(c *gin.Context) {
	def, ok := s.definition(c)
	if !ok {
		return
	}
	ctx, cancel := s.queryContext(c)
	defer cancel()

	if err := s.records.Delete(ctx, def, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTransitions(c *gin.Context) {
	def, ok := s.definition(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	rec, err := s.queries.Get(ctx, def, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	available, err := s.workflows.AvailableTransitions(def, rec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":       rec["_state"],
		"transitions": available,
	})
}

func (s *Server) applyTransition(c *gin.Context) {
	def, ok := s.definition(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	rec, err := s.queries.Get(ctx, def, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	newState, err := s.workflows.Transition(
		ctx, def, rec, c.Param("transition"), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := s.queries.Get(ctx, def, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":  newState,
		"record": updated,
	})
}
