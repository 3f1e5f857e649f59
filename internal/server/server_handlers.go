package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	if err := s.sc.DBHealth(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) readyHandler(c *gin.Context) {
	dbErr := s.sc.DBHealth()
	cacheErr := s.sc.CacheHealth()
	rabbitErr := s.sc.RabbitHealth()
	docsErr := s.sc.DocStoreHealth()

	res := gin.H{
		"database":       dbErr == nil,
		"cache":          cacheErr == nil,
		"rabbit":         rabbitErr == nil,
		"document_store": docsErr == nil,
	}

	if dbErr != nil || cacheErr != nil || rabbitErr != nil || docsErr != nil {
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) onlineHandler(c *gin.Context) {
	online := s.sc.Online()

	c.String(http.StatusOK, online)
}
