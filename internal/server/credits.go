package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
)

type creditsResponse struct {
	ExpiringTokens       int64      `json:"expiringTokens"`
	NonexpiringTokens    int64      `json:"nonexpiringTokens"`
	ExpiringTokensExpiry *time.Time `json:"expiringTokensExpiry"`
}

func (s *Server) GetCredits(c *gin.Context) {
	view, err := s.ledgerSvc.GetBalance(c.Request.Context(), accountIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, creditsResponse{
		ExpiringTokens:       view.ExpiringTokens,
		NonexpiringTokens:    view.NonexpiringTokens,
		ExpiringTokensExpiry: view.ExpiringTokensExpiry,
	})
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	page, err := parsePagination(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.ListEntries(c.Request.Context(), accountIDFrom(c), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp.Entries == nil {
		resp.Entries = []ledgerdomain.EntryView{}
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}
