package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/recall/pkg/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}

// storeError maps a store error to 404 or 500.
func (s *Server) storeError(c *fiber.Ctx, err error, msg string) error {
	var nf storage.ErrNotFound
	if errors.As(err, &nf) {
		return errorJSON(c, fiber.StatusNotFound, nf.Error())
	}
	s.logger.Error(msg, "path", c.Path(), "error", err)
	return errorJSON(c, fiber.StatusInternalServerError, msg)
}
