package stats

// Overall is the game-level summary shared by both game shapes.
type Overall struct {
	TotalGames       int     `json:"totalGames"`
	WinPercentage    float64 `json:"winPercentage"`
	AvgRoundsPerGame float64 `json:"avgRoundsPerGame"`
	MultiMerchant    int     `json:"multiMerchant"`
	ReverseMerchant  int     `json:"reverseMerchant"`
}

// SoloOverall adds the single-player aggregates that have no per-player
// breakdown to live in.
type SoloOverall struct {
	Overall
	AvgScore     float64 `json:"avgScore"`
	Total5Ks     int     `json:"total5ks"`
	AvgGuessTime float64 `json:"avgGuessTime"`
}

// PlayerLine is one teammate's contribution summary across a team dataset.
type PlayerLine struct {
	PlayerID            string  `json:"playerId"`
	Username            string  `json:"username,omitempty"`
	ContributionPercent float64 `json:"contributionPercent"`
	AvgIndividualScore  float64 `json:"avgIndividualScore"`
	Total5Ks            int     `json:"total5ks"`
	AvgGuessTime        float64 `json:"avgGuessTime"`
	GamesPlayed         int     `json:"gamesPlayed"`
}

type CountryPlayerLine struct {
	AvgScore      float64 `json:"avgScore"`
	AvgDistanceKm float64 `json:"avgDistanceKm"`
	FiveKRate     float64 `json:"fiveKRate"`
}

// CountryEntry is one country's breakdown. For team datasets AvgScore and
// FiveKRate are computed over the team's best guess per round, and Players
// carries the per-teammate split.
type CountryEntry struct {
	Code          string                       `json:"code"`
	Rounds        int                          `json:"rounds"`
	AvgScore      float64                      `json:"avgScore"`
	AvgDistanceKm float64                      `json:"avgDistanceKm"`
	FiveKRate     float64                      `json:"fiveKRate"`
	AvgScoreDiff  float64                      `json:"avgScoreDiff"`
	HitRate       float64                      `json:"hitRate"`
	WinRate       float64                      `json:"winRate"`
	Players       map[string]CountryPlayerLine `json:"players,omitempty"`
}

// TeamReport is the aggregation output for a team-duel dataset. Countries
// is ordered by descending average score differential; Top10 is a prefix
// and Bottom10 a suffix of that order filtered to countries with enough
// rounds to be meaningful.
type TeamReport struct {
	Overall   Overall        `json:"overall"`
	Players   []PlayerLine   `json:"players"`
	Countries []CountryEntry `json:"countries"`
	Top10     []CountryEntry `json:"top10"`
	Bottom10  []CountryEntry `json:"bottom10"`
}

type SoloReport struct {
	Overall   SoloOverall    `json:"overall"`
	Countries []CountryEntry `json:"countries"`
	Top10     []CountryEntry `json:"top10"`
	Bottom10  []CountryEntry `json:"bottom10"`
}
