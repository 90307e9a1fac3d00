package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/recall/api/search"
)

// handleSearchEndpoint handles GET /v1/search requests.
// Query parameters:
//   - query (required): the search query text
//   - session_id (optional): restrict results to one session
//   - limit (optional, default 10): number of results to return
//   - min_relevance (optional): minimum fused score, or minimum stored
//     relevance in keyword mode; negative keeps every hit
//   - mode (optional, default hybrid): hybrid or keyword
func (s *Server) handleSearchEndpoint(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return errorJSON(c, fiber.StatusBadRequest, "query parameter is required")
	}

	limit, err := positiveQueryInt(c, "limit", search.DefaultLimit)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	var minRelevance float64
	if raw := c.Query("min_relevance"); raw != "" {
		minRelevance, err = strconv.ParseFloat(raw, 64)
		if err != nil || minRelevance > 1 {
			return errorJSON(c, fiber.StatusBadRequest, "min_relevance must be a number no greater than 1")
		}
	}

	output, err := search.Search(c.Context(), s.engine, search.SearchInput{
		Query:        query,
		SessionID:    c.Query("session_id"),
		Limit:        limit,
		MinRelevance: minRelevance,
		Mode:         c.Query("mode"),
	})
	switch {
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, search.ErrInvalidMode):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("keyword search failed", "query", query, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "search failed")
	}

	return c.JSON(output)
}
