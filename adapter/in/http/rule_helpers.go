// Package http exposes the rule service over a Fiber API.
package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"rule_server/infra/middleware"
	"rule_server/pkg/apperr"
)

// GetUserID returns the user id parsed by middleware.ParseUserID.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals(middleware.UserIDLocal).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, apperr.MissingField("userID")
	}
	return userID, nil
}

// parseBody decodes a JSON body into T.
func parseBody[T any](c *fiber.Ctx) (*T, error) {
	var body T
	if err := c.BodyParser(&body); err != nil {
		return nil, apperr.BadRequest("invalid request body")
	}
	return &body, nil
}
