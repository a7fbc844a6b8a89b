package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"raciline/internal/config"
)

const configKey = "config"

// GetSetting returns a raw settings value.
func (r Repo) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (r Repo) SetSettingTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO settings(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, now)
	return err
}

// UpsertConfigTx validates and stores the workspace configuration.
func (r Repo) UpsertConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := cfg.YAML()
	if err != nil {
		return err
	}
	return r.SetSettingTx(ctx, tx, configKey, string(payload))
}

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	return r.UpsertConfigTx(ctx, nil, cfg)
}

// GetConfig loads the stored configuration, kept as YAML so webhook secrets survive.
func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	payload, err := r.GetSetting(ctx, configKey)
	if err != nil {
		return nil, err
	}
	cfg, err := config.FromYAML([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode stored config: %w", err)
	}
	return cfg, nil
}
