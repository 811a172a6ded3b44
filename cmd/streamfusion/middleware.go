package main

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/model"
)

// authMiddleware validates the API key carried in the decoded UserConfig:
// when a key is present and rejected, the request is surfaced as 401. A
// UserConfig with no key at all is allowed through un-authenticated, since
// apiKey is optional in the config shape.
func authMiddleware(store apiKeyStore, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cfg, ok := c.Locals(localsUserConfig).(model.UserConfig)
		if !ok || cfg.APIKey == "" {
			return c.Next()
		}

		record, err := store.Validate(c.Context(), cfg.APIKey)
		if err != nil {
			logger.Warn("api key validation failed", zap.Error(err))
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		if !record.IsActive {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		if !record.NeverExpire && record.ExpirationDate > 0 && record.ExpirationDate < time.Now().Unix() {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		c.Locals(localsAPIKeyRecord, record)
		return c.Next()
	}
}
