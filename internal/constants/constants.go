package constants

import "time"

// Game rules. StartingHealth is the health pool each side begins a duel
// with; a game counts as lost only when the pool is fully depleted. If the
// upstream game ever changes the pool size, win/loss classification follows
// this constant.
const (
	StartingHealth = 6000
	MaxRoundScore  = 5000

	// WorldMapDiagonalMeters is the diagonal of the world map, the scale
	// factor of the exponential score decay used when the server omits a
	// guess score.
	WorldMapDiagonalMeters = 14_916_862.0
)

// Country report gates. Countries with fewer than MinCountryRounds rounds
// are excluded from the top/bottom extremes so single-round countries do
// not dominate them.
const (
	MinCountryRounds = 20
	TopCountryCount  = 10
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
	FetchRunTimeout    = 15 * time.Minute
)

// Upstream courtesy delays. The feed and game-server walks are strictly
// sequential; pausing between requests keeps the upstream from throttling
// mid-pagination.
const (
	FeedPageDelay     = 300 * time.Millisecond
	GameFetchDelay    = 100 * time.Millisecond
	RateLimitBackoff  = 2 * time.Second
	RateLimitMaxRetry = 4
)

const (
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)
