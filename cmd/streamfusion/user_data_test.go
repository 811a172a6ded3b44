package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/beluchon/stream-fusion/internal/model"
)

func TestEncodeDecodeConfigRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	cfg := model.UserConfig{
		APIKey:   "abc123",
		Services: []string{"RD", "AD"},
		ProviderTokens: map[string]model.ProviderToken{
			"RD": {APIKey: "rd-token"},
		},
		MaxResults: 10,
	}

	encoded, err := encodeConfig(cfg)
	require.NoError(t, err)

	decoded, err := decodeConfig(encoded, logger)
	require.NoError(t, err)
	require.Equal(t, cfg, decoded)
}

func TestEncodeDecodeQueryRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	fileIdx := 2
	q := model.PlaybackQuery{
		InfoHash:  "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Type:      string(model.SeriesEpisode),
		Season:    1,
		Episode:   4,
		FileIndex: &fileIdx,
		Service:   "RD",
	}

	encoded, err := encodeQuery(q)
	require.NoError(t, err)

	decoded, err := decodeQuery(encoded, logger)
	require.NoError(t, err)
	require.Equal(t, q, decoded)
}

func TestDecodeB64TolerantOfMissingPadding(t *testing.T) {
	raw := []byte(`{"apiKey":"x"}`)
	encoded := encodeB64(raw)

	decoded, err := decodeB64(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestEncryptDecryptTokenRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	token := oauth2.Token{AccessToken: "access", RefreshToken: "refresh"}

	encrypted, err := encryptToken(key, token)
	require.NoError(t, err)
	require.NotContains(t, encrypted, "access")

	var out oauth2.Token
	require.NoError(t, decryptToken(key, encrypted, &out))
	require.Equal(t, token.AccessToken, out.AccessToken)
	require.Equal(t, token.RefreshToken, out.RefreshToken)
}

func TestDecryptTokenFailsWithWrongKey(t *testing.T) {
	var key1, key2 [32]byte
	key2[0] = 1

	encrypted, err := encryptToken(key1, oauth2.Token{AccessToken: "a"})
	require.NoError(t, err)

	var out oauth2.Token
	require.Error(t, decryptToken(key2, encrypted, &out))
}
