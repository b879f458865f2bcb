// Package apikey mints API keys. Only the bcrypt hash and a lookup prefix
// are persisted; the raw key is returned to the caller once.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

const (
	// PrefixLen is how many leading characters of a raw key are stored in
	// clear for lookup.
	PrefixLen = 8
	keyPrefix = "sr_"
	keyBytes  = 24
)

// Generate creates a random key for ownerID and returns the raw key with
// its storable record.
func Generate(ownerID, name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := keyPrefix + hex.EncodeToString(buf)
	key, err := New(raw, ownerID, name, scopes)
	if err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// New builds the storable record for an existing raw key.
func New(raw, ownerID, name string, scopes []string) (*models.APIKey, error) {
	if len(raw) < PrefixLen {
		return nil, fmt.Errorf("api key must be at least %d characters", PrefixLen)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("api key requires an owner")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
