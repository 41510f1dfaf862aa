package domain

import "time"

type GameType string

const (
	GameTypeDuels     GameType = "duels"
	GameTypeTeamDuels GameType = "team_duels"
)

func (t GameType) Valid() bool {
	return t == GameTypeDuels || t == GameTypeTeamDuels
}

type Mode string

const (
	ModeAll         Mode = "all"
	ModeCompetitive Mode = "competitive"
	ModeCasual      Mode = "casual"
)

func (m Mode) Valid() bool {
	return m == ModeAll || m == ModeCompetitive || m == ModeCasual
}

type SortKey string

const (
	SortScoreDiff SortKey = "score_diff"
	SortAvgScore  SortKey = "avg_score"
	SortWinRate   SortKey = "win_rate"
	SortHitRate   SortKey = "hit_rate"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortScoreDiff, SortAvgScore, SortWinRate, SortHitRate:
		return true
	}
	return false
}

// Guess is one player's answer for one round. Country is the lowercase ISO
// code of the round's panorama, backfilled by reverse geocoding when the
// upstream payload omits it; empty when neither source resolved.
type Guess struct {
	RoundNumber int      `json:"roundNumber"`
	Distance    float64  `json:"distance"`
	Score       int      `json:"score"`
	Seconds     *float64 `json:"seconds,omitempty"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Country     string   `json:"country,omitempty"`
	ActualLat   float64  `json:"actualLat"`
	ActualLng   float64  `json:"actualLng"`
}

type SoloRoundResult struct {
	RoundNumber int    `json:"roundNumber"`
	EnemyScore  int    `json:"enemyScore"`
	HealthDelta int    `json:"healthDelta"`
	Country     string `json:"country,omitempty"`
}

// SoloGame is a normalized 1v1 duel from the acting player's side.
type SoloGame struct {
	GameID        string            `json:"gameId"`
	IsCompetitive bool              `json:"isCompetitive"`
	TotalScore    int               `json:"totalScore"`
	Guesses       []Guess           `json:"guesses"`
	RoundResults  []SoloRoundResult `json:"roundResults"`
}

type TeamRoundResult struct {
	RoundNumber    int      `json:"roundNumber"`
	TotalDistance  float64  `json:"totalDistance"`
	TotalScore     int      `json:"totalScore"`
	HealthDelta    int      `json:"healthDelta"`
	Countries      []string `json:"countries,omitempty"`
	EnemyBestScore int      `json:"enemyBestScore"`
}

type TeamStats struct {
	TotalDistance    float64 `json:"totalDistance"`
	TotalScore       int     `json:"totalScore"`
	TotalRounds      int     `json:"totalRounds"`
	TotalHealthDelta int     `json:"totalHealthDelta"`
	ScoreDiff        int     `json:"scoreDiff"`
}

// TeamGame is a normalized 2v2 duel from the acting player's team's side.
// Players maps each teammate's player ID to their guesses.
type TeamGame struct {
	GameID        string             `json:"gameId"`
	IsCompetitive bool               `json:"isCompetitive"`
	TeamID        string             `json:"teamId"`
	Players       map[string][]Guess `json:"players"`
	RoundResults  []TeamRoundResult  `json:"roundResults"`
	TeamStats     TeamStats          `json:"teamStats"`
}

// FetchedGame is the idempotency marker for one remote game. Inserted once
// per identifier considered by a fetch run, never updated or deleted; its
// presence keeps a later run from re-fetching the same game.
type FetchedGame struct {
	GameID   string
	PlayerID string
	GameType GameType
}

// OverallStats is one aggregation run's summary for a (player, game type,
// mode, teammate) combination. Rows are append-only history; consumers read
// the most recent by CreatedAt.
type OverallStats struct {
	ID               string
	PlayerID         string
	GameType         GameType
	Mode             Mode
	TeammateID       string
	TotalGames       int
	WinPercentage    float64
	AvgRoundsPerGame float64
	AvgScore         float64
	Total5Ks         int
	AvgGuessTime     float64
	MultiMerchant    int
	ReverseMerchant  int
	CreatedAt        time.Time
}

type PlayerContribution struct {
	ID                  string
	OverallStatsID      string
	PlayerID            string
	Username            string
	ContributionPercent float64
	AvgIndividualScore  float64
	Total5Ks            int
	AvgGuessTime        float64
	GamesPlayed         int
}

type CountryStats struct {
	ID             string
	OverallStatsID string
	CountryCode    string
	Rounds         int
	AvgScore       float64
	AvgDistanceKm  float64
	FiveKRate      float64
	AvgScoreDiff   float64
	HitRate        float64
	WinRate        float64
}
