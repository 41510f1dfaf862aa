package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
	"github.com/keshavt3/Geoguessr-dashboard/internal/geocode"
	"github.com/keshavt3/Geoguessr-dashboard/internal/repository"
	"github.com/keshavt3/Geoguessr-dashboard/internal/stats"
)

type fakeStatsReader struct {
	overall   *domain.OverallStats
	contribs  []domain.PlayerContribution
	countries []domain.CountryStats
}

func (f *fakeStatsReader) LatestOverall(ctx context.Context, playerID string, gameType domain.GameType, mode domain.Mode, teammateID string) (*domain.OverallStats, error) {
	if f.overall == nil {
		return nil, repository.ErrNoStats
	}
	return f.overall, nil
}

func (f *fakeStatsReader) ContributionsFor(ctx context.Context, id string) ([]domain.PlayerContribution, error) {
	return f.contribs, nil
}

func (f *fakeStatsReader) CountriesFor(ctx context.Context, id string) ([]domain.CountryStats, error) {
	return f.countries, nil
}

// regionGeocoder reports a region table keyed by coordinate, for the
// country-detail breakdown.
type regionGeocoder struct {
	regions map[geocode.Coord][2]string
}

func (g *regionGeocoder) CountryCode(lat, lng float64) (string, error) {
	if loc, ok := g.regions[geocode.Coord{Lat: lat, Lng: lng}]; ok {
		return loc[0], nil
	}
	return "", geocode.ErrNotFound
}

func (g *regionGeocoder) Region(lat, lng float64) (string, string, error) {
	if loc, ok := g.regions[geocode.Coord{Lat: lat, Lng: lng}]; ok {
		return loc[0], loc[1], nil
	}
	return "", "", geocode.ErrNotFound
}

func (g *regionGeocoder) BatchCountryCode(coords []geocode.Coord) ([]string, error) {
	out := make([]string, len(coords))
	for i, c := range coords {
		out[i] = g.regions[c][0]
	}
	return out, nil
}

func newStatsService(reader StatsReader, games GameStore, geo geocode.Geocoder) *StatsService {
	logger := zerolog.Nop()
	return NewStatsService(reader, games, &fakeUsernameStore{}, stats.NewEngine(geo, logger), geo, logger)
}

func teamScope() Scope {
	return Scope{PlayerID: "me", GameType: domain.GameTypeTeamDuels, Mode: domain.ModeAll}
}

func TestOverview_ReadsLatestRollup(t *testing.T) {
	reader := &fakeStatsReader{
		overall: &domain.OverallStats{
			ID: "r1", PlayerID: "me", GameType: domain.GameTypeTeamDuels,
			Mode: domain.ModeAll, TotalGames: 40, WinPercentage: 0.55,
		},
		contribs: []domain.PlayerContribution{
			{PlayerID: "me", ContributionPercent: 0.52},
			{PlayerID: "mate", ContributionPercent: 0.48},
		},
		countries: []domain.CountryStats{
			{CountryCode: "fr", Rounds: 30, AvgScoreDiff: 200},
			{CountryCode: "mc", Rounds: 3, AvgScoreDiff: 900},
			{CountryCode: "de", Rounds: 40, AvgScoreDiff: -100},
		},
	}
	svc := newStatsService(reader, &fakeGameStore{}, nopGeocoder{})

	overview, err := svc.Overview(context.Background(), teamScope())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overview.Overall.TotalGames != 40 {
		t.Errorf("total games = %d, want 40", overview.Overall.TotalGames)
	}
	if len(overview.Players) != 2 {
		t.Errorf("player count = %d, want 2", len(overview.Players))
	}

	// mc has too few rounds for the extremes.
	if len(overview.Top10) != 2 || overview.Top10[0].Code != "fr" {
		t.Errorf("top10 = %+v, want fr then de", overview.Top10)
	}
	if overview.Bottom10[len(overview.Bottom10)-1].Code != "de" {
		t.Errorf("bottom10 = %+v, want de last", overview.Bottom10)
	}
}

func TestOverview_NoRollupYet(t *testing.T) {
	svc := newStatsService(&fakeStatsReader{}, &fakeGameStore{}, nopGeocoder{})

	_, err := svc.Overview(context.Background(), teamScope())
	if !errors.Is(err, ErrNoStats) {
		t.Fatalf("error = %v, want ErrNoStats", err)
	}
}

func TestOverview_TeammateScopeRecomputes(t *testing.T) {
	games := &fakeGameStore{team: []domain.TeamGame{
		{
			GameID:  "g1",
			Players: map[string][]domain.Guess{"me": {{RoundNumber: 1, Score: 4000, Distance: 100}}, "mate": {{RoundNumber: 1, Score: 3000, Distance: 200}}},
			RoundResults: []domain.TeamRoundResult{{RoundNumber: 1}},
			TeamStats:    domain.TeamStats{TotalHealthDelta: -1000},
		},
		{
			GameID:  "g2",
			Players: map[string][]domain.Guess{"me": {{RoundNumber: 1, Score: 2000, Distance: 900}}, "other": {{RoundNumber: 1, Score: 2500, Distance: 700}}},
			RoundResults: []domain.TeamRoundResult{{RoundNumber: 1}},
			TeamStats:    domain.TeamStats{TotalHealthDelta: -6000},
		},
	}}
	// No rollup stored; the teammate view must not need one.
	svc := newStatsService(&fakeStatsReader{}, games, nopGeocoder{})

	scope := teamScope()
	scope.TeammateID = "mate"
	overview, err := svc.Overview(context.Background(), scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if overview.Overall.TotalGames != 1 {
		t.Errorf("total games = %d, want only the game with mate", overview.Overall.TotalGames)
	}
	if overview.Overall.WinPercentage != 1 {
		t.Errorf("win percentage = %f, want 1", overview.Overall.WinPercentage)
	}
	if overview.Overall.TeammateID != "mate" {
		t.Errorf("teammate id = %q, want mate", overview.Overall.TeammateID)
	}
}

func TestOverview_TeammateRequiresTeamDuels(t *testing.T) {
	svc := newStatsService(&fakeStatsReader{}, &fakeGameStore{}, nopGeocoder{})

	scope := teamScope()
	scope.GameType = domain.GameTypeDuels
	scope.TeammateID = "mate"
	if _, err := svc.Overview(context.Background(), scope); err == nil {
		t.Error("teammate filter on solo duels accepted")
	}
}

func TestCountries_SortKeys(t *testing.T) {
	reader := &fakeStatsReader{
		overall: &domain.OverallStats{ID: "r1"},
		countries: []domain.CountryStats{
			{CountryCode: "fr", AvgScoreDiff: 200, AvgScore: 3000, WinRate: 0.4, HitRate: 0.9},
			{CountryCode: "de", AvgScoreDiff: -100, AvgScore: 4000, WinRate: 0.7, HitRate: 0.2},
		},
	}
	svc := newStatsService(reader, &fakeGameStore{}, nopGeocoder{})

	cases := []struct {
		key   domain.SortKey
		first string
	}{
		{domain.SortScoreDiff, "fr"},
		{domain.SortAvgScore, "de"},
		{domain.SortWinRate, "de"},
		{domain.SortHitRate, "fr"},
	}
	for _, tc := range cases {
		entries, err := svc.Countries(context.Background(), teamScope(), tc.key)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.key, err)
		}
		if entries[0].Code != tc.first {
			t.Errorf("sort %s put %s first, want %s", tc.key, entries[0].Code, tc.first)
		}
	}
}

func TestDetail_RegionBreakdown(t *testing.T) {
	bavaria := geocode.Coord{Lat: 48.1, Lng: 11.6}
	berlin := geocode.Coord{Lat: 52.5, Lng: 13.4}
	nearBavaria := geocode.Coord{Lat: 48.2, Lng: 11.7}

	geo := &regionGeocoder{regions: map[geocode.Coord][2]string{
		bavaria:     {"de", "Bayern"},
		berlin:      {"de", "Berlin"},
		nearBavaria: {"de", "Bayern"},
	}}

	games := &fakeGameStore{solo: []domain.SoloGame{{
		GameID: "g1",
		Guesses: []domain.Guess{
			// Guessed inside the right region.
			{RoundNumber: 1, Score: 4800, Country: "de", Lat: nearBavaria.Lat, Lng: nearBavaria.Lng, ActualLat: bavaria.Lat, ActualLng: bavaria.Lng},
			// Guessed the right country but the wrong region.
			{RoundNumber: 2, Score: 3000, Country: "de", Lat: bavaria.Lat, Lng: bavaria.Lng, ActualLat: berlin.Lat, ActualLng: berlin.Lng},
			// Different country, must not appear.
			{RoundNumber: 3, Score: 2000, Country: "fr", ActualLat: 48.8, ActualLng: 2.3},
		},
		RoundResults: []domain.SoloRoundResult{
			{RoundNumber: 1, Country: "de"}, {RoundNumber: 2, Country: "de"}, {RoundNumber: 3, Country: "fr"},
		},
	}}}

	svc := newStatsService(&fakeStatsReader{}, games, geo)

	scope := teamScope()
	scope.GameType = domain.GameTypeDuels
	detail, err := svc.Detail(context.Background(), scope, "DE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if detail.Country.Code != "de" {
		t.Errorf("country = %q, want de", detail.Country.Code)
	}
	if len(detail.Regions) != 2 {
		t.Fatalf("region count = %d, want 2: %+v", len(detail.Regions), detail.Regions)
	}

	byName := map[string]RegionLine{}
	for _, r := range detail.Regions {
		byName[r.Region] = r
	}
	if got := byName["Bayern"]; got.Rounds != 1 || got.HitRate != 1 {
		t.Errorf("Bayern line = %+v, want 1 round, full hit rate", got)
	}
	if got := byName["Berlin"]; got.Rounds != 1 || got.HitRate != 0 {
		t.Errorf("Berlin line = %+v, want 1 round, zero hit rate", got)
	}
}

func TestDetail_UnknownCountry(t *testing.T) {
	svc := newStatsService(&fakeStatsReader{}, &fakeGameStore{}, nopGeocoder{})

	scope := teamScope()
	scope.GameType = domain.GameTypeDuels
	_, err := svc.Detail(context.Background(), scope, "zz")
	if !errors.Is(err, ErrNoStats) {
		t.Fatalf("error = %v, want ErrNoStats", err)
	}
}
