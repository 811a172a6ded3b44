package main

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/model"
)

// decodeConfig decodes the config_b64 path segment into a UserConfig.
// Callers pass the raw path segment; padding is tolerated whether
// present or stripped by the client.
func decodeConfig(raw string, logger *zap.Logger) (model.UserConfig, error) {
	var cfg model.UserConfig
	data, err := decodeB64(raw)
	if err != nil {
		logger.Warn("couldn't base64-decode config", zap.Error(err))
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("couldn't unmarshal config JSON", zap.Error(err))
		return cfg, err
	}
	return cfg, nil
}

func encodeConfig(cfg model.UserConfig) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return encodeB64(b), nil
}

// decodeQuery decodes the query_b64 path segment into a PlaybackQuery.
func decodeQuery(raw string, logger *zap.Logger) (model.PlaybackQuery, error) {
	var q model.PlaybackQuery
	data, err := decodeB64(raw)
	if err != nil {
		logger.Warn("couldn't base64-decode playback query", zap.Error(err))
		return q, err
	}
	if err := json.Unmarshal(data, &q); err != nil {
		logger.Warn("couldn't unmarshal playback query JSON", zap.Error(err))
		return q, err
	}
	return q, nil
}

// encodeQuery base64-encodes the query: URL-safe, with "="
// padding escaped as "%3D" so it survives unescaped inside a URL path
// segment.
func encodeQuery(q model.PlaybackQuery) (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return encodeB64(b), nil
}

// encodeB64/decodeB64 use the standard (not URL-safe) base64 alphabet, to
// match internal/descriptor.Builder.playbackURL: the server round-trips
// its own generated playback URLs, so the alphabet just needs to agree
// between the two, with "=" padding escaped as "%3D".
func encodeB64(b []byte) string {
	encoded := base64.StdEncoding.EncodeToString(b)
	return strings.ReplaceAll(encoded, "=", "%3D")
}

func decodeB64(raw string) ([]byte, error) {
	raw = strings.ReplaceAll(raw, "%3D", "=")
	raw = strings.ReplaceAll(raw, "%3d", "=")
	if m := len(raw) % 4; m != 0 {
		raw += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(raw)
}

// encryptToken AES-256-GCM encrypts an OAuth2-style token so it can be
// handed back to the client inside config_b64 without the server having to
// persist it server-side.
func encryptToken(key [32]byte, token interface{}) (string, error) {
	plaintext, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("couldn't marshal token: %w", err)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("couldn't create block cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("couldn't create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := crand.Read(nonce); err != nil {
		return "", fmt.Errorf("couldn't generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// decryptToken reverses encryptToken and unmarshals the result into target.
func decryptToken(key [32]byte, encoded string, target interface{}) error {
	ciphertext, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("couldn't base64-decode token: %w", err)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("couldn't create block cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("couldn't create GCM: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return fmt.Errorf("couldn't decrypt token: %w", err)
	}
	return json.Unmarshal(plaintext, target)
}
