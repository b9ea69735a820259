// Package server implements the HTTP API for the platform: schema
// management, dynamic record access and workflow transitions.
package server

import (
	"log/slog"
	"net/http"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/dynabo/dynabo/internal/query"
	"github.com/dynabo/dynabo/internal/record"
	"github.com/dynabo/dynabo/internal/schema"
	"github.com/dynabo/dynabo/internal/workflow"
)

// Server implements the HTTP API server for the platform.
type Server struct {
	schemas   *schema.Service
	queries   *query.Engine
	records   *record.Writer
	workflows *workflow.Engine
	timeout   time.Duration
}

// NewServer creates a new HTTP API server.
func NewServer(schemas *schema.Service, queries *query.Engine,
	records *record.Writer, workflows *workflow.Engine,
	queryTimeout time.Duration) *Server {
	return &Server{
		schemas:   schemas,
		queries:   queries,
		records:   records,
		workflows: workflows,
		timeout:   queryTimeout,
	}
}

// SetupRoutes configures and returns the HTTP router with all API
// endpoints.
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, PATCH, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization, X-Actor",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	api := router.Group("/api/v1")

	// Schema management endpoints
	sch := api.Group("/schema")
	{
		sch.GET("/modules", s.listModules)
		sch.POST("/modules", s.createModule)
		sch.GET("/modules/:code", s.getModule)
		sch.PUT("/modules/:code", s.updateModule)
		sch.DELETE("/modules/:code", s.deleteModule)

		sch.GET("/definitions", s.listDefinitions)
		sch.POST("/definitions", s.createDefinition)
		sch.GET("/definitions/:code", s.getDefinition)
		sch.PUT("/definitions/:code", s.upsertDefinition)
		sch.DELETE("/definitions/:code", s.deleteDefinition)

		sch.POST("/definitions/:code/fields", s.addField)
		sch.DELETE("/definitions/:code/fields/:field", s.removeField)
		sch.PUT("/definitions/:code/workflow", s.setWorkflow)

		sch.POST("/relations", s.createRelation)
	}

	// Introspection endpoints
	api.GET("/introspect/overview", s.overview)
	api.GET("/introspect/definitions/:code/table", s.inspectTable)

	// Dynamic record endpoints
	data := api.Group("/data/:bo")
	{
		data.GET("", s.listRecords)
		data.POST("", s.createRecord)
		data.GET("/:id", s.getRecord)
		data.PATCH("/:id", s.updateRecord)
		data.DELETE("/:id", s.deleteRecord)

		data.GET("/:id/transitions", s.listTransitions)
		data.POST("/:id/transitions/:transition", s.applyTransition)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// actor resolves the acting user from the request, if declared.
func actor(c *gin.Context) string {
	return c.GetHeader("X-Actor")
}
