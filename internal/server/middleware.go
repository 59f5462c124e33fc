package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tokenledger/internal/observability/context"
)

const (
	defaultIdentityHeader = "X-Account-ID"
	contextAccountIDKey   = "account_id"
)

// IdentityRequired trusts the account id set by the identity proxy in front of the API.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	header := strings.TrimSpace(s.cfg.IdentityHeader)
	if header == "" {
		header = defaultIdentityHeader
	}

	return func(c *gin.Context) {
		accountID := strings.TrimSpace(c.GetHeader(header))
		if accountID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAccountIDKey, accountID)
		c.Request = c.Request.WithContext(obscontext.WithAccountID(c.Request.Context(), accountID))
		c.Next()
	}
}

func accountIDFrom(c *gin.Context) string {
	return c.GetString(contextAccountIDKey)
}
