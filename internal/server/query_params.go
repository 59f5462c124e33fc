package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tokenledger/pkg/db/pagination"
)

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parsePagination reads page_token and page_size, accepting limit as an alias for page_size.
func parsePagination(c *gin.Context) (pagination.Pagination, error) {
	page := pagination.Pagination{PageToken: strings.TrimSpace(c.Query("page_token"))}

	size := c.Query("page_size")
	if strings.TrimSpace(size) == "" {
		size = c.Query("limit")
	}
	parsed, err := parseOptionalInt(size)
	if err != nil {
		return pagination.Pagination{}, newValidationError("page_size", "invalid_page_size", "page_size must be an integer")
	}
	if parsed != nil {
		page.PageSize = *parsed
	}
	return page, nil
}
