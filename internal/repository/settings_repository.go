package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-sales-approvals/internal/platform/database"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
)

// SettingsRepository is the key/value parameter store.
type SettingsRepository struct {
	db *database.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetParams returns the stored values for keys. Keys never written are absent
// from the result.
func (r *SettingsRepository) GetParams(ctx context.Context, keys []string) (map[string]string, error) {
	query := `
		SELECT key, value
		FROM config_parameters
		WHERE key = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, keys)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read config parameters")
	}
	defer rows.Close()

	params := make(map[string]string, len(keys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan config parameter")
		}
		params[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read config parameters")
	}
	return params, nil
}

// SetParams upserts all params in one transaction.
func (r *SettingsRepository) SetParams(ctx context.Context, params map[string]string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO config_parameters (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value,
			    updated_at = NOW()
		`
		for key, value := range params {
			if _, err := tx.Exec(ctx, query, key, value); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to write config parameter "+key)
			}
		}
		return nil
	})
}
