package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
)

// FetchedGameRepository tracks which remote game IDs a player's fetch runs
// have already considered. Markers cover skipped games too, so a later run
// does not re-download payloads that were already judged unusable.
type FetchedGameRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewFetchedGameRepository(sqlDB *sql.DB, logger zerolog.Logger) *FetchedGameRepository {
	return &FetchedGameRepository{db: sqlDB, logger: logger}
}

func (r *FetchedGameRepository) InsertIfAbsent(ctx context.Context, marker domain.FetchedGame) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fetched_games (game_id, player_id, game_type) VALUES (?, ?, ?)`,
		marker.GameID, marker.PlayerID, string(marker.GameType))
	if err != nil {
		return fmt.Errorf("failed to insert fetched-game marker %s: %w", marker.GameID, err)
	}
	return nil
}

func (r *FetchedGameRepository) ListFetchedIDs(ctx context.Context, playerID string, gameType domain.GameType) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT game_id FROM fetched_games WHERE player_id = ? AND game_type = ?`,
		playerID, string(gameType))
	if err != nil {
		return nil, fmt.Errorf("failed to query fetched games: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan fetched-game row: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
