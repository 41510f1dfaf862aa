package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
)

// ErrNoStats is returned when no aggregation rollup exists yet for the
// requested scope.
var ErrNoStats = errors.New("repository: no stats rollup stored for scope")

// StatsRepository persists aggregation rollups as append-only history. A
// rollup is one overall_stats row plus its child contribution and country
// rows; readers take the newest row for a scope.
type StatsRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStatsRepository(sqlDB *sql.DB, logger zerolog.Logger) *StatsRepository {
	return &StatsRepository{db: sqlDB, logger: logger}
}

// AppendRollup writes one aggregation run atomically and returns the new
// overall_stats row ID.
func (r *StatsRepository) AppendRollup(ctx context.Context, overall domain.OverallStats, contributions []domain.PlayerContribution, countries []domain.CountryStats) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statsID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO overall_stats
		 (id, player_id, game_type, mode, teammate_id, total_games, win_percentage,
		  avg_rounds_per_game, avg_score, total_5ks, avg_guess_time, multi_merchant, reverse_merchant)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		statsID, overall.PlayerID, string(overall.GameType), string(overall.Mode), overall.TeammateID,
		overall.TotalGames, overall.WinPercentage, overall.AvgRoundsPerGame,
		overall.AvgScore, overall.Total5Ks, overall.AvgGuessTime,
		overall.MultiMerchant, overall.ReverseMerchant)
	if err != nil {
		return "", fmt.Errorf("failed to insert overall stats: %w", err)
	}

	for _, c := range contributions {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO player_contributions
			 (id, overall_stats_id, player_id, username, contribution_percent,
			  avg_individual_score, total_5ks, avg_guess_time, games_played)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, statsID, c.PlayerID, c.Username, c.ContributionPercent,
			c.AvgIndividualScore, c.Total5Ks, c.AvgGuessTime, c.GamesPlayed)
		if err != nil {
			return "", fmt.Errorf("failed to insert contribution for %s: %w", c.PlayerID, err)
		}
	}

	for _, cs := range countries {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO country_stats
			 (id, overall_stats_id, country_code, rounds, avg_score, avg_distance_km,
			  five_k_rate, avg_score_diff, hit_rate, win_rate)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, statsID, cs.CountryCode, cs.Rounds, cs.AvgScore, cs.AvgDistanceKm,
			cs.FiveKRate, cs.AvgScoreDiff, cs.HitRate, cs.WinRate)
		if err != nil {
			return "", fmt.Errorf("failed to insert country stats for %s: %w", cs.CountryCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit rollup: %w", err)
	}
	return statsID, nil
}

// LatestOverall returns the newest rollup summary for the scope, or
// ErrNoStats when none has been written yet.
func (r *StatsRepository) LatestOverall(ctx context.Context, playerID string, gameType domain.GameType, mode domain.Mode, teammateID string) (*domain.OverallStats, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, player_id, game_type, mode, teammate_id, total_games, win_percentage,
		        avg_rounds_per_game, avg_score, total_5ks, avg_guess_time,
		        multi_merchant, reverse_merchant, created_at
		 FROM overall_stats
		 WHERE player_id = ? AND game_type = ? AND mode = ? AND teammate_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		playerID, string(gameType), string(mode), teammateID)

	var s domain.OverallStats
	var gt, m string
	err := row.Scan(&s.ID, &s.PlayerID, &gt, &m, &s.TeammateID, &s.TotalGames, &s.WinPercentage,
		&s.AvgRoundsPerGame, &s.AvgScore, &s.Total5Ks, &s.AvgGuessTime,
		&s.MultiMerchant, &s.ReverseMerchant, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoStats
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest overall stats: %w", err)
	}
	s.GameType = domain.GameType(gt)
	s.Mode = domain.Mode(m)
	return &s, nil
}

func (r *StatsRepository) ContributionsFor(ctx context.Context, overallStatsID string) ([]domain.PlayerContribution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, overall_stats_id, player_id, username, contribution_percent,
		        avg_individual_score, total_5ks, avg_guess_time, games_played
		 FROM player_contributions
		 WHERE overall_stats_id = ?
		 ORDER BY player_id`,
		overallStatsID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var out []domain.PlayerContribution
	for rows.Next() {
		var c domain.PlayerContribution
		if err := rows.Scan(&c.ID, &c.OverallStatsID, &c.PlayerID, &c.Username, &c.ContributionPercent,
			&c.AvgIndividualScore, &c.Total5Ks, &c.AvgGuessTime, &c.GamesPlayed); err != nil {
			return nil, fmt.Errorf("failed to scan contribution row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *StatsRepository) CountriesFor(ctx context.Context, overallStatsID string) ([]domain.CountryStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, overall_stats_id, country_code, rounds, avg_score, avg_distance_km,
		        five_k_rate, avg_score_diff, hit_rate, win_rate
		 FROM country_stats
		 WHERE overall_stats_id = ?
		 ORDER BY avg_score_diff DESC, country_code`,
		overallStatsID)
	if err != nil {
		return nil, fmt.Errorf("failed to query country stats: %w", err)
	}
	defer rows.Close()

	var out []domain.CountryStats
	for rows.Next() {
		var cs domain.CountryStats
		if err := rows.Scan(&cs.ID, &cs.OverallStatsID, &cs.CountryCode, &cs.Rounds, &cs.AvgScore,
			&cs.AvgDistanceKm, &cs.FiveKRate, &cs.AvgScoreDiff, &cs.HitRate, &cs.WinRate); err != nil {
			return nil, fmt.Errorf("failed to scan country stats row: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
