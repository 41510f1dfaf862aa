package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/keshavt3/Geoguessr-dashboard/internal/constants"
	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
	"github.com/keshavt3/Geoguessr-dashboard/internal/geocode"
	"github.com/keshavt3/Geoguessr-dashboard/internal/repository"
	"github.com/keshavt3/Geoguessr-dashboard/internal/stats"
)

// ErrNoStats mirrors the repository sentinel so handlers depend on the
// service layer only.
var ErrNoStats = repository.ErrNoStats

type StatsReader interface {
	LatestOverall(ctx context.Context, playerID string, gameType domain.GameType, mode domain.Mode, teammateID string) (*domain.OverallStats, error)
	ContributionsFor(ctx context.Context, overallStatsID string) ([]domain.PlayerContribution, error)
	CountriesFor(ctx context.Context, overallStatsID string) ([]domain.CountryStats, error)
}

// Overview is the stats endpoint's response: the scope's summary, the
// per-teammate contribution lines for team scopes, and the best and worst
// ends of the country table.
type Overview struct {
	Overall  domain.OverallStats         `json:"overall"`
	Players  []domain.PlayerContribution `json:"players,omitempty"`
	Top10    []stats.CountryEntry        `json:"top10"`
	Bottom10 []stats.CountryEntry        `json:"bottom10"`
}

// RegionLine is one first-level subdivision's breakdown inside a country
// detail view.
type RegionLine struct {
	Region   string  `json:"region"`
	Rounds   int     `json:"rounds"`
	AvgScore float64 `json:"avgScore"`
	HitRate  float64 `json:"hitRate"`
}

type CountryDetail struct {
	Country stats.CountryEntry `json:"country"`
	Regions []RegionLine       `json:"regions"`
}

// StatsService answers the read-side queries. Unscoped views come from the
// latest persisted rollup; teammate-scoped views are recomputed from the
// stored games because rollups for an arbitrary teammate may never have
// been written.
type StatsService struct {
	statsRepo StatsReader
	games     GameStore
	usernames UsernameStore
	engine    *stats.Engine
	geo       geocode.Geocoder
	logger    zerolog.Logger
}

func NewStatsService(statsRepo StatsReader, games GameStore, usernames UsernameStore, engine *stats.Engine, geo geocode.Geocoder, logger zerolog.Logger) *StatsService {
	return &StatsService{
		statsRepo: statsRepo,
		games:     games,
		usernames: usernames,
		engine:    engine,
		geo:       geo,
		logger:    logger,
	}
}

func (s *StatsService) Overview(ctx context.Context, scope Scope) (*Overview, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	if scope.TeammateID != "" {
		return s.recomputeOverview(ctx, scope)
	}

	overall, err := s.statsRepo.LatestOverall(ctx, scope.PlayerID, scope.GameType, scope.Mode, scope.TeammateID)
	if err != nil {
		return nil, err
	}

	out := &Overview{Overall: *overall}

	var countryRows []domain.CountryStats
	g, gCtx := errgroup.WithContext(ctx)
	if scope.GameType == domain.GameTypeTeamDuels {
		g.Go(func() error {
			var err error
			out.Players, err = s.statsRepo.ContributionsFor(gCtx, overall.ID)
			return err
		})
	}
	g.Go(func() error {
		var err error
		countryRows, err = s.statsRepo.CountriesFor(gCtx, overall.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Rows are stored in score-differential order, so the extremes are a
	// prefix and suffix of the eligible subset.
	var eligible []stats.CountryEntry
	for _, cs := range countryRows {
		if cs.Rounds < constants.MinCountryRounds {
			continue
		}
		eligible = append(eligible, stats.CountryEntry{
			Code:          cs.CountryCode,
			Rounds:        cs.Rounds,
			AvgScore:      cs.AvgScore,
			AvgDistanceKm: cs.AvgDistanceKm,
			FiveKRate:     cs.FiveKRate,
			AvgScoreDiff:  cs.AvgScoreDiff,
			HitRate:       cs.HitRate,
			WinRate:       cs.WinRate,
		})
	}
	n := min(constants.TopCountryCount, len(eligible))
	out.Top10 = eligible[:n]
	out.Bottom10 = eligible[len(eligible)-n:]

	return out, nil
}

func (s *StatsService) Countries(ctx context.Context, scope Scope, sortKey domain.SortKey) ([]stats.CountryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	var entries []stats.CountryEntry

	if scope.TeammateID != "" {
		report, err := s.recomputeTeam(ctx, scope)
		if err != nil {
			return nil, err
		}
		entries = report.Countries
	} else {
		overall, err := s.statsRepo.LatestOverall(ctx, scope.PlayerID, scope.GameType, scope.Mode, scope.TeammateID)
		if err != nil {
			return nil, err
		}
		rows, err := s.statsRepo.CountriesFor(ctx, overall.ID)
		if err != nil {
			return nil, err
		}
		entries = make([]stats.CountryEntry, 0, len(rows))
		for _, cs := range rows {
			entries = append(entries, stats.CountryEntry{
				Code:          cs.CountryCode,
				Rounds:        cs.Rounds,
				AvgScore:      cs.AvgScore,
				AvgDistanceKm: cs.AvgDistanceKm,
				FiveKRate:     cs.FiveKRate,
				AvgScoreDiff:  cs.AvgScoreDiff,
				HitRate:       cs.HitRate,
				WinRate:       cs.WinRate,
			})
		}
	}

	sortCountries(entries, sortKey)
	return entries, nil
}

// Detail builds the single-country view: the country's aggregate line plus
// its per-region breakdown, both recomputed from the stored games so the
// two always agree.
func (s *StatsService) Detail(ctx context.Context, scope Scope, countryCode string) (*CountryDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	countryCode = strings.ToLower(countryCode)

	var entry *stats.CountryEntry
	var regions []RegionLine

	if scope.GameType == domain.GameTypeTeamDuels {
		teamGames, err := s.games.ListTeam(ctx, scope.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored games: %w", err)
		}
		teamGames = FilterTeamGames(teamGames, scope.Mode, scope.TeammateID)
		report := s.engine.Team(teamGames)
		entry = findCountry(report.Countries, countryCode)
		regions = s.teamRegions(teamGames, countryCode)
	} else {
		soloGames, err := s.games.ListSolo(ctx, scope.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored games: %w", err)
		}
		soloGames = FilterSoloGames(soloGames, scope.Mode)
		report := s.engine.Solo(soloGames)
		entry = findCountry(report.Countries, countryCode)
		regions = s.soloRegions(soloGames, countryCode)
	}

	if entry == nil {
		return nil, ErrNoStats
	}

	return &CountryDetail{Country: *entry, Regions: regions}, nil
}

func (s *StatsService) recomputeOverview(ctx context.Context, scope Scope) (*Overview, error) {
	if scope.GameType != domain.GameTypeTeamDuels {
		// Teammates only exist in team duels.
		return nil, fmt.Errorf("teammate filter requires team duels, got %q", scope.GameType)
	}

	report, err := s.recomputeTeam(ctx, scope)
	if err != nil {
		return nil, err
	}
	if report.Overall.TotalGames == 0 {
		return nil, ErrNoStats
	}

	for i := range report.Players {
		name, err := s.usernames.Get(ctx, report.Players[i].PlayerID)
		if err == nil {
			report.Players[i].Username = name
		}
	}

	return &Overview{
		Overall:  teamOverallRow(scope, report),
		Players:  contributionRows(report),
		Top10:    report.Top10,
		Bottom10: report.Bottom10,
	}, nil
}

func (s *StatsService) recomputeTeam(ctx context.Context, scope Scope) (*stats.TeamReport, error) {
	games, err := s.games.ListTeam(ctx, scope.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored team games: %w", err)
	}
	games = FilterTeamGames(games, scope.Mode, scope.TeammateID)
	return s.engine.Team(games), nil
}

// regionAcc accumulates one region's rounds for the country detail view.
type regionAcc struct {
	rounds   int
	scoreSum int
	hits     int
	guessed  int
}

func (s *StatsService) teamRegions(games []domain.TeamGame, countryCode string) []RegionLine {
	accs := make(map[string]*regionAcc)
	for _, g := range games {
		best := bestGuessPerRound(g)
		for _, guess := range best {
			if guess.Country != countryCode {
				continue
			}
			s.creditRegion(accs, guess)
		}
	}
	return finalizeRegions(accs)
}

func (s *StatsService) soloRegions(games []domain.SoloGame, countryCode string) []RegionLine {
	accs := make(map[string]*regionAcc)
	for _, g := range games {
		for _, guess := range g.Guesses {
			if guess.Country != countryCode {
				continue
			}
			s.creditRegion(accs, guess)
		}
	}
	return finalizeRegions(accs)
}

// creditRegion resolves the guessed and actual coordinates independently
// and counts the guess a hit only when both the country and the region
// agree. Rounds whose actual location has no named region are skipped;
// small territories often resolve without one.
func (s *StatsService) creditRegion(accs map[string]*regionAcc, guess domain.Guess) {
	actualCountry, actualRegion, err := s.geo.Region(guess.ActualLat, guess.ActualLng)
	if err != nil || actualRegion == "" {
		return
	}

	acc, ok := accs[actualRegion]
	if !ok {
		acc = &regionAcc{}
		accs[actualRegion] = acc
	}
	acc.rounds++
	acc.scoreSum += guess.Score

	guessCountry, guessRegion, err := s.geo.Region(guess.Lat, guess.Lng)
	if err != nil {
		return
	}
	acc.guessed++
	if strings.EqualFold(guessCountry, actualCountry) && guessRegion == actualRegion {
		acc.hits++
	}
}

func finalizeRegions(accs map[string]*regionAcc) []RegionLine {
	out := make([]RegionLine, 0, len(accs))
	for region, acc := range accs {
		line := RegionLine{
			Region:   region,
			Rounds:   acc.rounds,
			AvgScore: float64(acc.scoreSum) / float64(acc.rounds),
		}
		if acc.guessed > 0 {
			line.HitRate = float64(acc.hits) / float64(acc.guessed)
		}
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rounds != out[j].Rounds {
			return out[i].Rounds > out[j].Rounds
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// bestGuessPerRound picks the team's higher-scoring guess for each round.
func bestGuessPerRound(g domain.TeamGame) map[int]domain.Guess {
	best := make(map[int]domain.Guess)
	for _, guesses := range g.Players {
		for _, guess := range guesses {
			if cur, ok := best[guess.RoundNumber]; !ok || guess.Score > cur.Score {
				best[guess.RoundNumber] = guess
			}
		}
	}
	return best
}

func findCountry(entries []stats.CountryEntry, code string) *stats.CountryEntry {
	for i := range entries {
		if entries[i].Code == code {
			return &entries[i]
		}
	}
	return nil
}

func sortCountries(entries []stats.CountryEntry, key domain.SortKey) {
	value := func(e stats.CountryEntry) float64 {
		switch key {
		case domain.SortAvgScore:
			return e.AvgScore
		case domain.SortWinRate:
			return e.WinRate
		case domain.SortHitRate:
			return e.HitRate
		default:
			return e.AvgScoreDiff
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		vi, vj := value(entries[i]), value(entries[j])
		if vi != vj {
			return vi > vj
		}
		return entries[i].Code < entries[j].Code
	})
}
