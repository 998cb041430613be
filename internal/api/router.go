package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/roles", s.handleListRoles)
		v1.GET("/roles/:role/entries", s.handleRoleEntries)
		v1.GET("/switches/:id/entries", s.handleSwitchEntries)
		v1.POST("/simulate", s.handleSimulate)
	}
}
