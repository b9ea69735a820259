package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dynabo/dynabo/internal/meta"
)

func (s *Server) listModules(c *gin.Context) {
	modules, err := s.schemas.ListModules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"modules": modules,
		"count":   len(modules),
	})
}

func (s *Server) createModule(c *gin.Context) {
	var m meta.Module
	if err := c.ShouldBindJSON(&m); err != nil {
		respondBadJSON(c, err)
		return
	}
	if err := s.schemas.CreateModule(c.Request.Context(), &m); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) getModule(c *gin.Context) {
	m, err := s.schemas.GetModule(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) updateModule(c *gin.Context) {
	var m meta.Module
	if err := c.ShouldBindJSON(&m); err != nil {
		respondBadJSON(c, err)
		return
	}
	m.Code = c.Param("code")
	if err := s.schemas.UpdateModule(c.Request.Context(), &m); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) deleteModule(c *gin.Context) {
	if err := s.schemas.DeleteModule(c.Request.Context(), c.Param("code")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listDefinitions(c *gin.Context) {
	defs, err := s.schemas.ListDefinitions(
		c.Request.Context(), c.Query("module"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"definitions": defs,
		"count":       len(defs),
	})
}

func (s *Server) createDefinition(c *gin.Context) {
	var def meta.BODefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		respondBadJSON(c, err)
		return
	}
	created, err := s.schemas.CreateDefinition(c.Request.Context(), &def)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getDefinition(c *gin.Context) {
	def, err := s.schemas.GetDefinition(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) upsertDefinition(c *gin.Context) {
	var def meta.BODefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		respondBadJSON(c, err)
		return
	}
	stored, created, err := s.schemas.UpsertDefinition(
		c.Request.Context(), c.Param("code"), &def)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, stored)
}

func (s *Server) deleteDefinition(c *gin.Context) {
	if err := s.schemas.DeleteDefinition(c.Request.Context(), c.Param("code")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addField(c *gin.Context) {
	var f meta.FieldDefinition
	if err := c.ShouldBindJSON(&f); err != nil {
		respondBadJSON(c, err)
		return
	}
	def, err := s.schemas.AddField(c.Request.Context(), c.Param("code"), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

func (s *Server) removeField(c *gin.Context) {
	err := s.schemas.RemoveField(
		c.Request.Context(), c.Param("code"), c.Param("field"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setWorkflow(c *gin.Context) {
	var w meta.WorkflowDefinition
	if err := c.ShouldBindJSON(&w); err != nil {
		respondBadJSON(c, err)
		return
	}
	if err := meta.ValidateWorkflow(&w); err != nil {
		respondError(c, err)
		return
	}
	if err := s.schemas.SetWorkflow(c.Request.Context(), c.Param("code"), &w); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) createRelation(c *gin.Context) {
	var r meta.RelationDefinition
	if err := c.ShouldBindJSON(&r); err != nil {
		respondBadJSON(c, err)
		return
	}
	if err := s.schemas.CreateRelation(c.Request.Context(), &r); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// boSummary is one business object's line in the platform overview.
type boSummary struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Module      string `json:"module,omitempty"`
	Table       string `json:"table"`
	Fields      int    `json:"fields"`
	HasWorkflow bool   `json:"has_workflow"`
	Records     int    `json:"records"`
}

// overview reports the platform at a glance: every module, every BO
// with its record count, and the grand totals.
func (s *Server) overview(c *gin.Context) {
	ctx, cancel := s.queryContext(c)
	defer cancel()

	modules, err := s.schemas.ListModules(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	defs, err := s.schemas.ListDefinitions(ctx, "")
	if err != nil {
		respondError(c, err)
		return
	}

	totalRecords := 0
	bos := make([]boSummary, 0, len(defs))
	for _, def := range defs {
		b := boSummary{
			Code:        def.Code,
			Name:        def.Name,
			Module:      def.ModuleCode,
			Table:       def.TableName,
			Fields:      len(def.Fields),
			HasWorkflow: def.Workflow != nil,
		}
		if def.TableCreated {
			n, err := s.queries.Count(ctx, &def)
			if err != nil {
				respondError(c, err)
				return
			}
			b.Records = n
		}
		totalRecords += b.Records
		bos = append(bos, b)
	}

	c.JSON(http.StatusOK, gin.H{
		"modules":          modules,
		"business_objects": bos,
		"totals": gin.H{
			"modules":          len(modules),
			"business_objects": len(bos),
			"records":          totalRecords,
		},
	})
}

func (s *Server) inspectTable(c *gin.Context) {
	info, err := s.schemas.InspectTable(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
