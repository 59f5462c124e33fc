package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

func (s *Server) HandleBillingWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.webhooks.Ingest(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"received": true}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	c.JSON(http.StatusOK, resp)
}
