package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/api"
	"github.com/keshavt3/Geoguessr-dashboard/internal/config"
	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
	"github.com/keshavt3/Geoguessr-dashboard/internal/geocode"
	"github.com/keshavt3/Geoguessr-dashboard/internal/normalize"
	"github.com/keshavt3/Geoguessr-dashboard/internal/stats"
)

type nopGeocoder struct{}

func (nopGeocoder) CountryCode(lat, lng float64) (string, error) { return "", geocode.ErrNotFound }
func (nopGeocoder) Region(lat, lng float64) (string, string, error) {
	return "", "", geocode.ErrNotFound
}
func (nopGeocoder) BatchCountryCode(coords []geocode.Coord) ([]string, error) {
	return make([]string, len(coords)), nil
}

// fakeSource serves scripted feed pages and duel payloads, recording which
// games were actually downloaded.
type fakeSource struct {
	pages      []*api.FeedPage
	duels      map[string]*api.DuelPayload
	pageErr    map[int]error
	duelErr    map[string]error
	pageCalls  int
	duelCalled []string
}

func (f *fakeSource) ListFeedPage(ctx context.Context, token string) (*api.FeedPage, error) {
	idx := f.pageCalls
	f.pageCalls++
	if err, ok := f.pageErr[idx]; ok {
		return nil, err
	}
	if idx >= len(f.pages) {
		return &api.FeedPage{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeSource) GetDuel(ctx context.Context, gameID string) (*api.DuelPayload, error) {
	f.duelCalled = append(f.duelCalled, gameID)
	if err, ok := f.duelErr[gameID]; ok {
		return nil, err
	}
	payload, ok := f.duels[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: no such duel", api.ErrMalformedPayload)
	}
	return payload, nil
}

type fakeGameStore struct {
	solo []domain.SoloGame
	team []domain.TeamGame
}

func (s *fakeGameStore) AppendSolo(ctx context.Context, playerID string, g *domain.SoloGame) error {
	s.solo = append(s.solo, *g)
	return nil
}

func (s *fakeGameStore) AppendTeam(ctx context.Context, playerID string, g *domain.TeamGame) error {
	s.team = append(s.team, *g)
	return nil
}

func (s *fakeGameStore) ListSolo(ctx context.Context, playerID string) ([]domain.SoloGame, error) {
	return s.solo, nil
}

func (s *fakeGameStore) ListTeam(ctx context.Context, playerID string) ([]domain.TeamGame, error) {
	return s.team, nil
}

type fakeFetchedStore struct {
	known    map[string]struct{}
	inserted []string
}

func (s *fakeFetchedStore) InsertIfAbsent(ctx context.Context, m domain.FetchedGame) error {
	s.inserted = append(s.inserted, m.GameID)
	return nil
}

func (s *fakeFetchedStore) ListFetchedIDs(ctx context.Context, playerID string, gt domain.GameType) (map[string]struct{}, error) {
	if s.known == nil {
		return map[string]struct{}{}, nil
	}
	return s.known, nil
}

type fakeStatsStore struct {
	rollups int
	last    domain.OverallStats
}

func (s *fakeStatsStore) AppendRollup(ctx context.Context, overall domain.OverallStats, contributions []domain.PlayerContribution, countries []domain.CountryStats) (string, error) {
	s.rollups++
	s.last = overall
	return "rollup-id", nil
}

type fakeUsernameStore struct {
	names map[string]string
}

func (s *fakeUsernameStore) Get(ctx context.Context, playerID string) (string, error) {
	return s.names[playerID], nil
}

func (s *fakeUsernameStore) Set(ctx context.Context, playerID, username string) error {
	if s.names == nil {
		s.names = map[string]string{}
	}
	s.names[playerID] = username
	return nil
}

func feedPage(t *testing.T, token string, items ...string) *api.FeedPage {
	t.Helper()
	page := &api.FeedPage{PaginationToken: token}
	for _, item := range items {
		quoted, err := json.Marshal(item)
		if err != nil {
			t.Fatalf("failed to quote feed item: %v", err)
		}
		page.Entries = append(page.Entries, api.FeedEntry{Payload: quoted})
	}
	return page
}

func duelItem(gameID, competitive string) string {
	return fmt.Sprintf(`{"gameMode":"Duels","gameId":%q,"payload":{"competitiveGameMode":%q}}`, gameID, competitive)
}

func soloDuel(gameID string) *api.DuelPayload {
	return &api.DuelPayload{
		GameID: gameID,
		Teams: []api.DuelTeam{
			{
				ID: "a",
				Players: []api.DuelPlayer{{PlayerID: "me", Guesses: []api.DuelGuess{
					{RoundNumber: 1, Score: intPtr(4000), Distance: 150},
				}}},
				RoundResults: []api.DuelRoundResult{
					{RoundNumber: 1, HealthBefore: intPtr(6000), HealthAfter: intPtr(5500)},
				},
			},
			{
				ID: "b",
				Players: []api.DuelPlayer{{PlayerID: "enemy", Nick: "The Enemy", Guesses: []api.DuelGuess{
					{RoundNumber: 1, Score: intPtr(3500), Distance: 400},
				}}},
			},
		},
		Rounds: []api.DuelRound{
			{RoundNumber: 1, Panorama: api.DuelPanorama{CountryCode: "FR"}},
		},
	}
}

func intPtr(v int) *int { return &v }

func newFetchService(source *fakeSource, games *fakeGameStore, fetched *fakeFetchedStore, statsStore *fakeStatsStore) *FetchService {
	logger := zerolog.Nop()
	geo := nopGeocoder{}
	return NewFetchService(
		func(ncfa string) GameSource { return source },
		games,
		fetched,
		statsStore,
		&fakeUsernameStore{},
		normalize.New(geo, logger),
		stats.NewEngine(geo, logger),
		&config.Config{FeedPageCap: 10, FeedIdlePageRun: 2},
		logger,
	)
}

func soloParams() FetchParams {
	return FetchParams{
		Scope: Scope{PlayerID: "me", GameType: domain.GameTypeDuels, Mode: domain.ModeAll},
		NCFA:  "cookie",
	}
}

func discard(ProgressEvent) {}

func TestRun_FetchesAndAggregates(t *testing.T) {
	source := &fakeSource{
		pages: []*api.FeedPage{
			feedPage(t, "", duelItem("g1", "None"), duelItem("g2", "StandardDuels")),
		},
		duels: map[string]*api.DuelPayload{"g1": soloDuel("g1"), "g2": soloDuel("g2")},
	}
	games := &fakeGameStore{}
	fetched := &fakeFetchedStore{}
	statsStore := &fakeStatsStore{}
	svc := newFetchService(source, games, fetched, statsStore)

	summary, err := svc.Run(context.Background(), soloParams(), discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.GamesFetched != 2 || summary.TotalGames != 2 {
		t.Errorf("summary = %+v, want 2 fetched, 2 total", summary)
	}
	if summary.Solo == nil {
		t.Fatal("solo report missing from summary")
	}
	if summary.Partial {
		t.Error("clean run flagged partial")
	}
	if statsStore.rollups != 1 {
		t.Errorf("rollups persisted = %d, want 1", statsStore.rollups)
	}
	if len(fetched.inserted) != 2 {
		t.Errorf("markers inserted = %v, want both games", fetched.inserted)
	}
}

func TestRun_SkipsKnownGames(t *testing.T) {
	source := &fakeSource{
		pages: []*api.FeedPage{
			feedPage(t, "", duelItem("old", "None"), duelItem("new", "None")),
		},
		duels: map[string]*api.DuelPayload{"new": soloDuel("new")},
	}
	games := &fakeGameStore{solo: []domain.SoloGame{{GameID: "old"}}}
	fetched := &fakeFetchedStore{known: map[string]struct{}{"old": {}}}
	svc := newFetchService(source, games, fetched, &fakeStatsStore{})

	summary, err := svc.Run(context.Background(), soloParams(), discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range source.duelCalled {
		if id == "old" {
			t.Error("known game was downloaded again")
		}
	}
	// The stored game still counts toward the merged dataset.
	if summary.GamesFetched != 1 || summary.TotalGames != 2 {
		t.Errorf("summary = %+v, want 1 fetched, 2 total", summary)
	}
}

func TestRun_StopsAfterIdlePages(t *testing.T) {
	// Every page repeats the same game, so after the first page nothing is
	// new and the walk should stop at the idle-page threshold rather than
	// the page cap.
	var pages []*api.FeedPage
	for i := 0; i < 10; i++ {
		pages = append(pages, feedPage(t, fmt.Sprintf("t%d", i), duelItem("g1", "None")))
	}
	source := &fakeSource{
		pages: pages,
		duels: map[string]*api.DuelPayload{"g1": soloDuel("g1")},
	}
	svc := newFetchService(source, &fakeGameStore{}, &fakeFetchedStore{}, &fakeStatsStore{})

	if _, err := svc.Run(context.Background(), soloParams(), discard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Page 1 finds the game, pages 2 and 3 are idle, then the walk stops.
	if source.pageCalls != 3 {
		t.Errorf("feed pages requested = %d, want 3", source.pageCalls)
	}
}

func TestRun_AuthFailureIsTerminal(t *testing.T) {
	source := &fakeSource{pageErr: map[int]error{0: api.ErrAuthentication}}
	svc := newFetchService(source, &fakeGameStore{}, &fakeFetchedStore{}, &fakeStatsStore{})

	_, err := svc.Run(context.Background(), soloParams(), discard)
	if !errors.Is(err, api.ErrAuthentication) {
		t.Fatalf("error = %v, want ErrAuthentication", err)
	}
}

func TestRun_TransportFailureDegradesToPartial(t *testing.T) {
	source := &fakeSource{
		pages: []*api.FeedPage{
			feedPage(t, "next", duelItem("g1", "None")),
		},
		// Page 2 fails on both the initial attempt and the single retry.
		pageErr: map[int]error{1: api.ErrTransport, 2: api.ErrTransport},
		duels:   map[string]*api.DuelPayload{"g1": soloDuel("g1")},
	}
	statsStore := &fakeStatsStore{}
	svc := newFetchService(source, &fakeGameStore{}, &fakeFetchedStore{}, statsStore)

	summary, err := svc.Run(context.Background(), soloParams(), discard)
	if err != nil {
		t.Fatalf("partial run should not error: %v", err)
	}
	if !summary.Partial {
		t.Error("summary not flagged partial")
	}
	if summary.GamesFetched != 1 {
		t.Errorf("games fetched = %d, want 1 from before the failure", summary.GamesFetched)
	}
	if statsStore.rollups != 1 {
		t.Errorf("partial run should still persist a rollup, got %d", statsStore.rollups)
	}
}

func TestRun_MalformedGameSkippedAndMarked(t *testing.T) {
	source := &fakeSource{
		pages: []*api.FeedPage{
			feedPage(t, "", duelItem("bad", "None"), duelItem("good", "None")),
		},
		// "bad" has no scripted payload, which surfaces as a decode error.
		duels: map[string]*api.DuelPayload{"good": soloDuel("good")},
	}
	fetched := &fakeFetchedStore{}
	svc := newFetchService(source, &fakeGameStore{}, fetched, &fakeStatsStore{})

	summary, err := svc.Run(context.Background(), soloParams(), discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.GamesFetched != 1 {
		t.Errorf("games fetched = %d, want 1", summary.GamesFetched)
	}

	marked := map[string]bool{}
	for _, id := range fetched.inserted {
		marked[id] = true
	}
	if !marked["bad"] {
		t.Error("malformed game should still get an idempotency marker")
	}
	if !marked["good"] {
		t.Error("stored game missing its marker")
	}
}

func TestRun_ModeFilterAppliesToMergedDataset(t *testing.T) {
	source := &fakeSource{
		pages: []*api.FeedPage{
			feedPage(t, "", duelItem("comp", "StandardDuels"), duelItem("cas", "None")),
		},
		duels: map[string]*api.DuelPayload{"comp": soloDuel("comp"), "cas": soloDuel("cas")},
	}
	statsStore := &fakeStatsStore{}
	svc := newFetchService(source, &fakeGameStore{}, &fakeFetchedStore{}, statsStore)

	params := soloParams()
	params.Mode = domain.ModeCompetitive

	summary, err := svc.Run(context.Background(), params, discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both games are downloaded and stored; the filter only narrows the
	// aggregated view.
	if summary.GamesFetched != 2 {
		t.Errorf("games fetched = %d, want 2", summary.GamesFetched)
	}
	if summary.TotalGames != 1 {
		t.Errorf("total games = %d, want 1 competitive", summary.TotalGames)
	}
	if statsStore.last.Mode != domain.ModeCompetitive {
		t.Errorf("persisted mode = %q, want competitive", statsStore.last.Mode)
	}
}

func TestRun_RejectsInvalidScope(t *testing.T) {
	svc := newFetchService(&fakeSource{}, &fakeGameStore{}, &fakeFetchedStore{}, &fakeStatsStore{})

	params := soloParams()
	params.GameType = "battle_royale"
	if _, err := svc.Run(context.Background(), params, discard); err == nil {
		t.Error("invalid game type accepted")
	}

	params = soloParams()
	params.Mode = "ranked"
	if _, err := svc.Run(context.Background(), params, discard); err == nil {
		t.Error("invalid mode accepted")
	}
}

func TestFilterTeamGames(t *testing.T) {
	games := []domain.TeamGame{
		{GameID: "a", IsCompetitive: true, Players: map[string][]domain.Guess{"me": nil, "mate": nil}},
		{GameID: "b", IsCompetitive: false, Players: map[string][]domain.Guess{"me": nil, "mate": nil}},
		{GameID: "c", IsCompetitive: true, Players: map[string][]domain.Guess{"me": nil, "other": nil}},
	}

	if got := FilterTeamGames(games, domain.ModeCompetitive, ""); len(got) != 2 {
		t.Errorf("competitive filter kept %d games, want 2", len(got))
	}
	if got := FilterTeamGames(games, domain.ModeAll, "mate"); len(got) != 2 {
		t.Errorf("teammate filter kept %d games, want 2", len(got))
	}
	if got := FilterTeamGames(games, domain.ModeCasual, "other"); len(got) != 0 {
		t.Errorf("combined filter kept %d games, want 0", len(got))
	}
}
