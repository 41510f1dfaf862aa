package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

type UsernameRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewUsernameRepository(sqlDB *sql.DB, logger zerolog.Logger) *UsernameRepository {
	return &UsernameRepository{db: sqlDB, logger: logger}
}

// Get returns the stored display name for a player ID, or "" when the
// player has never been seen.
func (r *UsernameRepository) Get(ctx context.Context, playerID string) (string, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT username FROM usernames WHERE player_id = ?`, playerID)

	var username string
	err := row.Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query username for %s: %w", playerID, err)
	}
	return username, nil
}

func (r *UsernameRepository) Set(ctx context.Context, playerID, username string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usernames (player_id, username, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(player_id) DO UPDATE SET username = excluded.username, updated_at = CURRENT_TIMESTAMP`,
		playerID, username)
	if err != nil {
		return fmt.Errorf("failed to upsert username for %s: %w", playerID, err)
	}
	return nil
}
