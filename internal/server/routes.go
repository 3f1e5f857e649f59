package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)
	r.GET("/ready", s.readyHandler)
	r.GET("/online", s.onlineHandler)

	r.POST("/imports", s.createImportHandler)
	r.GET("/imports", s.listImportsHandler)
	r.GET("/imports/:id", s.getImportHandler)
	r.GET("/imports/:id/files", s.listImportFilesHandler)
	r.POST("/imports/:id/resume", s.resumeImportHandler)
	r.POST("/imports/:id/retry", s.retryImportHandler)
	r.GET("/imports/:id/events", s.importEventsHandler)

	return r
}
