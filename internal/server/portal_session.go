package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) CreatePortalSession(c *gin.Context) {
	url, err := s.portalSvc.CreateSession(c.Request.Context(), accountIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
