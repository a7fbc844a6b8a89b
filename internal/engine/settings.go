package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"raciline/internal/config"
	"raciline/internal/domain"
	"raciline/internal/events"
	"raciline/internal/repo"
)

// LoadConfig returns the stored workspace config, falling back to the engine's own.
func (e Engine) LoadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := e.Repo.GetConfig(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return e.config(), nil
	}
	return cfg, err
}

// ImportConfig validates and stores cfg. The engine keeps using cfg afterwards.
func (e *Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertConfigTx(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ConfigImported, "", "config", cfg.Workspace.ID, actorOrDefault(actorID), events.Payload{
		"gate_threshold": cfg.Gate.PercentThreshold,
		"webhooks":       len(cfg.Webhooks),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Config = cfg
	return nil
}

// CreateAPIKey stores a new key for actorID and returns its plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.APIKey{}, fmt.Errorf("%w: actor id is required", ErrInvalidValue)
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "rl_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKeyTx(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, "", "apikey", key.ID, actorID, events.Payload{"name": key.Name}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
