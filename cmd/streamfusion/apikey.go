package main

import (
	"context"
	"errors"
	"time"
)

// APIKeyRecord mirrors the persistent, Postgres-owned API-key record.
// This binary never writes these rows; a real deployment points
// apiKeyStore at the operator's existing user-management service.
type APIKeyRecord struct {
	ID              string
	APIKey          string
	IsActive        bool
	NeverExpire     bool
	ExpirationDate  int64 // unix seconds
	LatestQueryDate int64
	TotalQueries    int64
	Name            string
	ProxiedLinks    bool
}

var errAPIKeyNotFound = errors.New("api key not found")

// apiKeyStore is the interface the auth middleware needs against the
// external API-key store. Key storage belongs to the operator's
// user-management service; only the interface and the record shape live
// here. Validate should return errAPIKeyNotFound for
// an unknown key so the middleware can distinguish "rejected" from a
// transient store failure.
type apiKeyStore interface {
	Validate(ctx context.Context, apiKey string) (APIKeyRecord, error)
}

// openAPIKeyStore is the zero-configuration default: every request is
// authorized, as if the operator hadn't wired in a real API-key backend.
// It exists so the binary is runnable standalone; production deployments
// wire in a client against their own Postgres-backed service instead.
type openAPIKeyStore struct{}

func (openAPIKeyStore) Validate(ctx context.Context, apiKey string) (APIKeyRecord, error) {
	return APIKeyRecord{APIKey: apiKey, IsActive: true, NeverExpire: true, LatestQueryDate: time.Now().Unix()}, nil
}
