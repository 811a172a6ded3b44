package main

import (
	crand "crypto/rand"
	"encoding/base64"
	"math/big"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/beluchon/stream-fusion/internal/config"
	"github.com/beluchon/stream-fusion/internal/model"
)

const oauth2StateCookie = "stream_fusion_oauth2_state"

// oauth2Conf builds the provider-agnostic oauth2.Config for whichever
// debrid service uses the {access_token, refresh_token} token shape
// instead of a bare API key.
func oauth2Conf(cfg config.Config, redirectURL string) oauth2.Config {
	return oauth2.Config{
		ClientID:     cfg.OAuth2ClientID,
		ClientSecret: cfg.OAuth2ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.OAuth2AuthURL,
			TokenURL: cfg.OAuth2TokenURL,
		},
	}
}

// oauth2InitHandler redirects the user to the provider's authorize endpoint,
// carrying a random state value in a cookie to be checked on return.
func oauth2InitHandler(cfg config.Config, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		randInt, err := crand.Int(crand.Reader, big.NewInt(6))
		if err != nil {
			logger.Error("couldn't generate random number", zap.Error(err))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		stateLen := randInt.Int64() + 5
		b := make([]byte, stateLen)
		if _, err := crand.Read(b); err != nil {
			logger.Error("couldn't generate random bytes", zap.Error(err))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		state := base64.RawURLEncoding.EncodeToString(b)

		redirectURL := cfg.AddonHost + "/oauth2/install"
		conf := oauth2Conf(cfg, redirectURL)
		authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline)

		c.Cookie(&fiber.Cookie{
			Name:     oauth2StateCookie,
			Value:    state,
			Secure:   true,
			HTTPOnly: true,
			SameSite: "lax",
		})
		c.Set(fiber.HeaderLocation, authURL)
		return c.SendStatus(fiber.StatusTemporaryRedirect)
	}
}

// oauth2InstallHandler exchanges the authorization code for a token, encrypts
// it so the server never has to persist it, and hands it back to the client
// embedded in a fresh config_b64.
func oauth2InstallHandler(cfg config.Config, providerCode string, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stateFromURL := c.Query("state")
		stateFromCookie := c.Cookies(oauth2StateCookie)
		if stateFromURL == "" || stateFromURL != stateFromCookie {
			return c.SendStatus(fiber.StatusForbidden)
		}

		code := c.Query("code")
		if code == "" {
			return c.SendStatus(fiber.StatusForbidden)
		}

		redirectURL := cfg.AddonHost + "/oauth2/install"
		conf := oauth2Conf(cfg, redirectURL)
		token, err := conf.Exchange(c.Context(), code, oauth2.AccessTypeOffline)
		if err != nil {
			logger.Warn("couldn't exchange authorization code for access token", zap.Error(err))
			return c.SendStatus(fiber.StatusForbidden)
		}

		encrypted, err := encryptToken(cfg.EncryptionKey(), token)
		if err != nil {
			logger.Error("couldn't encrypt oauth2 token", zap.Error(err))
			return c.SendStatus(fiber.StatusInternalServerError)
		}

		userCfg := model.UserConfig{
			ProviderTokens: map[string]model.ProviderToken{
				providerCode: {AccessToken: encrypted},
			},
		}
		configB64, err := encodeConfig(userCfg)
		if err != nil {
			logger.Error("couldn't encode user config", zap.Error(err))
			return c.SendStatus(fiber.StatusInternalServerError)
		}

		c.Set(fiber.HeaderLocation, "/configure#"+configB64)
		return c.SendStatus(fiber.StatusTemporaryRedirect)
	}
}
