// Package repository holds the SQLite persistence layer. Games are stored
// append-only as JSON payloads; statistics rollups are append-only history
// rows read latest-first.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
)

type GameRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewGameRepository(sqlDB *sql.DB, logger zerolog.Logger) *GameRepository {
	return &GameRepository{db: sqlDB, logger: logger}
}

func (r *GameRepository) AppendSolo(ctx context.Context, playerID string, game *domain.SoloGame) error {
	payload, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to encode solo game %s: %w", game.GameID, err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate id: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO solo_games (id, game_id, player_id, is_competitive, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		id, game.GameID, playerID, game.IsCompetitive, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert solo game %s: %w", game.GameID, err)
	}
	return nil
}

func (r *GameRepository) AppendTeam(ctx context.Context, playerID string, game *domain.TeamGame) error {
	payload, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to encode team game %s: %w", game.GameID, err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate id: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO team_games (id, game_id, player_id, is_competitive, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		id, game.GameID, playerID, game.IsCompetitive, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert team game %s: %w", game.GameID, err)
	}
	return nil
}

func (r *GameRepository) ListSolo(ctx context.Context, playerID string) ([]domain.SoloGame, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM solo_games WHERE player_id = ? ORDER BY created_at, game_id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query solo games: %w", err)
	}
	defer rows.Close()

	var games []domain.SoloGame
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan solo game row: %w", err)
		}
		var game domain.SoloGame
		if err := json.Unmarshal([]byte(payload), &game); err != nil {
			// A corrupt row should not take the whole dataset down.
			r.logger.Warn().Err(err).Msg("skipping undecodable solo game payload")
			continue
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (r *GameRepository) ListTeam(ctx context.Context, playerID string) ([]domain.TeamGame, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM team_games WHERE player_id = ? ORDER BY created_at, game_id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query team games: %w", err)
	}
	defer rows.Close()

	var games []domain.TeamGame
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan team game row: %w", err)
		}
		var game domain.TeamGame
		if err := json.Unmarshal([]byte(payload), &game); err != nil {
			r.logger.Warn().Err(err).Msg("skipping undecodable team game payload")
			continue
		}
		games = append(games, game)
	}
	return games, rows.Err()
}
