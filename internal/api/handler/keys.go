package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/scoutreport/internal/api/response"
	"github.com/kiranshivaraju/scoutreport/internal/apikey"
	"github.com/kiranshivaraju/scoutreport/internal/store"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// KeyCreator persists newly minted API keys.
type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

type createKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key is only ever shown in this response.
func NewCreateKeyHandler(keys KeyCreator, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OwnerID string   `json:"owner_id"`
			Name    string   `json:"name"`
			Scopes  []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.OwnerID = strings.TrimSpace(req.OwnerID)
		req.Name = strings.TrimSpace(req.Name)
		fields := map[string]string{}
		if req.OwnerID == "" {
			fields["owner_id"] = "is required"
		}
		if req.Name == "" {
			fields["name"] = "is required"
		}
		if len(fields) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request fields", fields)
			return
		}
		if req.Scopes == nil {
			req.Scopes = []string{}
		}

		raw, key, err := apikey.Generate(req.OwnerID, req.Name, req.Scopes)
		if err != nil {
			logger.Error("generate api key failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
			return
		}

		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key with this name already exists", nil)
				return
			}
			logger.Error("store api key failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
			return
		}

		logger.Info("api key created", "key_id", key.ID, "owner_id", key.OwnerID, "prefix", key.KeyPrefix)
		response.Created(w, createKeyResponse{
			ID:        key.ID,
			OwnerID:   key.OwnerID,
			Name:      key.Name,
			Key:       raw,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
			CreatedAt: key.CreatedAt,
		})
	}
}
