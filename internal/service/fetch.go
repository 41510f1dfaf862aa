// Package service orchestrates fetch runs and statistics queries on top of
// the upstream client, the repositories, and the aggregation engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/keshavt3/Geoguessr-dashboard/internal/api"
	"github.com/keshavt3/Geoguessr-dashboard/internal/config"
	"github.com/keshavt3/Geoguessr-dashboard/internal/constants"
	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
	"github.com/keshavt3/Geoguessr-dashboard/internal/normalize"
	"github.com/keshavt3/Geoguessr-dashboard/internal/stats"
)

// GameSource is the slice of the upstream client a fetch run needs.
type GameSource interface {
	ListFeedPage(ctx context.Context, paginationToken string) (*api.FeedPage, error)
	GetDuel(ctx context.Context, gameID string) (*api.DuelPayload, error)
}

// SourceFactory builds a GameSource bound to one request's session cookie.
type SourceFactory func(ncfa string) GameSource

type GameStore interface {
	AppendSolo(ctx context.Context, playerID string, game *domain.SoloGame) error
	AppendTeam(ctx context.Context, playerID string, game *domain.TeamGame) error
	ListSolo(ctx context.Context, playerID string) ([]domain.SoloGame, error)
	ListTeam(ctx context.Context, playerID string) ([]domain.TeamGame, error)
}

type FetchedStore interface {
	InsertIfAbsent(ctx context.Context, marker domain.FetchedGame) error
	ListFetchedIDs(ctx context.Context, playerID string, gameType domain.GameType) (map[string]struct{}, error)
}

type StatsStore interface {
	AppendRollup(ctx context.Context, overall domain.OverallStats, contributions []domain.PlayerContribution, countries []domain.CountryStats) (string, error)
}

type UsernameStore interface {
	Get(ctx context.Context, playerID string) (string, error)
	Set(ctx context.Context, playerID, username string) error
}

// Scope identifies one statistics view: whose games, which game shape, and
// the optional mode and teammate filters.
type Scope struct {
	PlayerID   string
	GameType   domain.GameType
	Mode       domain.Mode
	TeammateID string
}

type FetchParams struct {
	Scope
	NCFA string
}

// ProgressEvent is one step of a running fetch, streamed to the caller.
type ProgressEvent struct {
	Phase        string `json:"phase"`
	Page         int    `json:"page,omitempty"`
	GamesFetched int    `json:"gamesFetched,omitempty"`
	TotalGames   int    `json:"totalGames,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Summary is the terminal result of a fetch run: how much was new, how much
// the merged dataset holds, and the freshly computed report.
type Summary struct {
	GamesFetched int               `json:"gamesFetched"`
	TotalGames   int               `json:"totalGames"`
	Partial      bool              `json:"partial,omitempty"`
	Team         *stats.TeamReport `json:"team,omitempty"`
	Solo         *stats.SoloReport `json:"solo,omitempty"`
}

type FetchService struct {
	newSource  SourceFactory
	games      GameStore
	fetched    FetchedStore
	statsStore StatsStore
	usernames  UsernameStore
	normalizer *normalize.Normalizer
	engine     *stats.Engine
	cfg        *config.Config
	logger     zerolog.Logger
}

func NewFetchService(newSource SourceFactory, games GameStore, fetched FetchedStore, statsStore StatsStore, usernames UsernameStore, normalizer *normalize.Normalizer, engine *stats.Engine, cfg *config.Config, logger zerolog.Logger) *FetchService {
	return &FetchService{
		newSource:  newSource,
		games:      games,
		fetched:    fetched,
		statsStore: statsStore,
		usernames:  usernames,
		normalizer: normalizer,
		engine:     engine,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run walks the player's activity feed, downloads every game not seen by a
// previous run, stores its normalized form, and recomputes statistics over
// the merged dataset. Progress is reported through emit; the terminal
// outcome is the returned Summary or error.
//
// Transient upstream failure mid-walk degrades to a partial run: whatever
// was fetched before the failure is kept and aggregated. Authentication
// failure and a player ID absent from a game's rosters are terminal.
func (s *FetchService) Run(ctx context.Context, params FetchParams, emit func(ProgressEvent)) (*Summary, error) {
	if !params.GameType.Valid() {
		return nil, fmt.Errorf("invalid game type %q", params.GameType)
	}
	if !params.Mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", params.Mode)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.FetchRunTimeout)
	defer cancel()

	source := s.newSource(params.NCFA)

	known, err := s.fetched.ListFetchedIDs(ctx, params.PlayerID, params.GameType)
	if err != nil {
		return nil, fmt.Errorf("failed to load fetched-game markers: %w", err)
	}

	s.logger.Info().
		Str("player_id", params.PlayerID).
		Str("game_type", string(params.GameType)).
		Int("known_games", len(known)).
		Msg("starting fetch run")

	candidates, partial, err := s.walkFeed(ctx, source, params, known, emit)
	if err != nil {
		return nil, err
	}

	fetchedCount, fetchPartial, err := s.downloadGames(ctx, source, params, candidates, emit)
	if err != nil {
		return nil, err
	}
	partial = partial || fetchPartial

	emit(ProgressEvent{Phase: "aggregate", GamesFetched: fetchedCount})

	summary, err := s.aggregate(ctx, params, fetchedCount)
	if err != nil {
		return nil, err
	}
	summary.Partial = partial

	s.logger.Info().
		Str("player_id", params.PlayerID).
		Int("games_fetched", summary.GamesFetched).
		Int("total_games", summary.TotalGames).
		Bool("partial", partial).
		Msg("fetch run complete")

	return summary, nil
}

// walkFeed pages through the activity feed until the page cap, a run of
// pages with no new games, or the feed's end. Returns the new candidates in
// feed order, oldest last.
func (s *FetchService) walkFeed(ctx context.Context, source GameSource, params FetchParams, known map[string]struct{}, emit func(ProgressEvent)) ([]api.FeedCandidate, bool, error) {
	wantMode := feedGameMode(params.GameType)

	var out []api.FeedCandidate
	seen := make(map[string]struct{})
	token := ""
	idlePages := 0

	for page := 1; page <= s.cfg.FeedPageCap; page++ {
		if page > 1 {
			if err := sleepCtx(ctx, constants.FeedPageDelay); err != nil {
				return out, true, nil
			}
		}

		feedPage, err := s.fetchFeedPage(ctx, source, token)
		if err != nil {
			if errors.Is(err, api.ErrAuthentication) {
				return nil, false, err
			}
			s.logger.Warn().Err(err).Int("page", page).Msg("feed walk aborted, continuing with games fetched so far")
			return out, true, nil
		}

		newOnPage := 0
		for _, c := range feedPage.Candidates() {
			if c.GameMode != wantMode {
				continue
			}
			if _, ok := known[c.GameID]; ok {
				continue
			}
			if _, ok := seen[c.GameID]; ok {
				continue
			}
			seen[c.GameID] = struct{}{}
			out = append(out, c)
			newOnPage++
		}

		emit(ProgressEvent{Phase: "feed", Page: page, GamesFetched: len(out)})

		if newOnPage == 0 {
			idlePages++
			if idlePages >= s.cfg.FeedIdlePageRun {
				s.logger.Debug().Int("page", page).Msg("feed walk stopping, no new games for several pages")
				break
			}
		} else {
			idlePages = 0
		}

		if feedPage.PaginationToken == "" {
			break
		}
		token = feedPage.PaginationToken
	}

	return out, false, nil
}

// downloadGames fetches, normalizes, and stores each candidate. Every
// candidate that was actually considered gets an idempotency marker, skipped
// ones included, so future runs do not re-download them.
func (s *FetchService) downloadGames(ctx context.Context, source GameSource, params FetchParams, candidates []api.FeedCandidate, emit func(ProgressEvent)) (int, bool, error) {
	fetched := 0
	for i, c := range candidates {
		if i > 0 {
			if err := sleepCtx(ctx, constants.GameFetchDelay); err != nil {
				return fetched, true, nil
			}
		}

		payload, err := s.fetchDuel(ctx, source, c.GameID)
		if err != nil {
			if errors.Is(err, api.ErrAuthentication) {
				return 0, false, err
			}
			if isMalformedPayload(err) {
				s.logger.Warn().Err(err).Str("game_id", c.GameID).Msg("skipping undecodable game payload")
				s.mark(ctx, params, c.GameID)
				continue
			}
			s.logger.Warn().Err(err).Str("game_id", c.GameID).Msg("game download aborted, continuing with games fetched so far")
			return fetched, true, nil
		}

		stored, err := s.normalizeAndStore(ctx, params, c, payload)
		if err != nil {
			return fetched, false, err
		}
		s.mark(ctx, params, c.GameID)
		if stored {
			fetched++
		}

		emit(ProgressEvent{Phase: "games", GamesFetched: fetched, TotalGames: len(candidates)})
	}
	return fetched, false, nil
}

// normalizeAndStore converts one payload and persists it. A skip verdict
// from the normalizer is not an error, just not stored.
func (s *FetchService) normalizeAndStore(ctx context.Context, params FetchParams, c api.FeedCandidate, payload *api.DuelPayload) (bool, error) {
	s.recordUsernames(ctx, payload)

	switch params.GameType {
	case domain.GameTypeTeamDuels:
		game, err := s.normalizer.Team(payload, params.PlayerID, c.IsCompetitive, "")
		if err != nil {
			return false, err
		}
		if game == nil {
			return false, nil
		}
		if err := s.games.AppendTeam(ctx, params.PlayerID, game); err != nil {
			return false, err
		}
	default:
		game, err := s.normalizer.Solo(payload, params.PlayerID, c.IsCompetitive)
		if err != nil {
			return false, err
		}
		if game == nil {
			return false, nil
		}
		if err := s.games.AppendSolo(ctx, params.PlayerID, game); err != nil {
			return false, err
		}
	}
	return true, nil
}

// aggregate recomputes statistics over the full stored dataset, filtered to
// the requested mode and teammate, and persists the rollup.
func (s *FetchService) aggregate(ctx context.Context, params FetchParams, fetchedCount int) (*Summary, error) {
	summary := &Summary{GamesFetched: fetchedCount}

	switch params.GameType {
	case domain.GameTypeTeamDuels:
		games, err := s.games.ListTeam(ctx, params.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored team games: %w", err)
		}
		games = FilterTeamGames(games, params.Mode, params.TeammateID)
		summary.TotalGames = len(games)
		report := s.engine.Team(games)
		s.fillUsernames(ctx, report)
		summary.Team = report

		if _, err := s.statsStore.AppendRollup(ctx, teamOverallRow(params.Scope, report), contributionRows(report), countryRows(report.Countries)); err != nil {
			return nil, fmt.Errorf("failed to persist stats rollup: %w", err)
		}

	default:
		games, err := s.games.ListSolo(ctx, params.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored solo games: %w", err)
		}
		games = FilterSoloGames(games, params.Mode)
		summary.TotalGames = len(games)
		report := s.engine.Solo(games)
		summary.Solo = report

		if _, err := s.statsStore.AppendRollup(ctx, soloOverallRow(params.Scope, report), nil, countryRows(report.Countries)); err != nil {
			return nil, fmt.Errorf("failed to persist stats rollup: %w", err)
		}
	}

	return summary, nil
}

func (s *FetchService) fetchFeedPage(ctx context.Context, source GameSource, token string) (*api.FeedPage, error) {
	var page *api.FeedPage
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		page, err = source.ListFeedPage(ctx, token)
		return err
	})
	return page, err
}

func (s *FetchService) fetchDuel(ctx context.Context, source GameSource, gameID string) (*api.DuelPayload, error) {
	var payload *api.DuelPayload
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		payload, err = source.GetDuel(ctx, gameID)
		return err
	})
	return payload, err
}

// withRetry runs one upstream call with the shared retry policy: rate
// limits back off exponentially up to a bounded attempt count, a transport
// failure gets a single immediate retry, everything else surfaces as is.
func (s *FetchService) withRetry(ctx context.Context, call func(context.Context) error) error {
	transportRetried := false
	backoff := retry.WithMaxRetries(constants.RateLimitMaxRetry, retry.NewExponential(constants.RateLimitBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, api.ErrRateLimited) {
			s.logger.Debug().Msg("rate limited by upstream, backing off")
			return retry.RetryableError(err)
		}
		if errors.Is(err, api.ErrTransport) && !transportRetried {
			transportRetried = true
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *FetchService) mark(ctx context.Context, params FetchParams, gameID string) {
	err := s.fetched.InsertIfAbsent(ctx, domain.FetchedGame{
		GameID:   gameID,
		PlayerID: params.PlayerID,
		GameType: params.GameType,
	})
	if err != nil {
		// Worst case the next run re-fetches the game; dedup is an
		// optimization, not a correctness requirement.
		s.logger.Warn().Err(err).Str("game_id", gameID).Msg("failed to record fetched-game marker")
	}
}

// recordUsernames remembers the display names the payload carries so
// contribution lines can show names instead of raw IDs.
func (s *FetchService) recordUsernames(ctx context.Context, payload *api.DuelPayload) {
	for _, team := range payload.Teams {
		for _, p := range team.Players {
			if p.Nick == "" {
				continue
			}
			if err := s.usernames.Set(ctx, p.PlayerID, p.Nick); err != nil {
				s.logger.Warn().Err(err).Str("player_id", p.PlayerID).Msg("failed to store username")
			}
		}
	}
}

func (s *FetchService) fillUsernames(ctx context.Context, report *stats.TeamReport) {
	for i := range report.Players {
		name, err := s.usernames.Get(ctx, report.Players[i].PlayerID)
		if err != nil {
			s.logger.Warn().Err(err).Str("player_id", report.Players[i].PlayerID).Msg("failed to look up username")
			continue
		}
		report.Players[i].Username = name
	}
}

// FilterTeamGames applies the mode and teammate filters the query scope
// asks for. Filtering happens over the merged stored dataset, never at
// fetch time, so one download serves every scope.
func FilterTeamGames(games []domain.TeamGame, mode domain.Mode, teammateID string) []domain.TeamGame {
	out := make([]domain.TeamGame, 0, len(games))
	for _, g := range games {
		if !modeMatches(mode, g.IsCompetitive) {
			continue
		}
		if teammateID != "" {
			if _, ok := g.Players[teammateID]; !ok {
				continue
			}
		}
		out = append(out, g)
	}
	return out
}

func FilterSoloGames(games []domain.SoloGame, mode domain.Mode) []domain.SoloGame {
	out := make([]domain.SoloGame, 0, len(games))
	for _, g := range games {
		if modeMatches(mode, g.IsCompetitive) {
			out = append(out, g)
		}
	}
	return out
}

func modeMatches(mode domain.Mode, isCompetitive bool) bool {
	switch mode {
	case domain.ModeCompetitive:
		return isCompetitive
	case domain.ModeCasual:
		return !isCompetitive
	default:
		return true
	}
}

func feedGameMode(t domain.GameType) string {
	if t == domain.GameTypeTeamDuels {
		return "TeamDuels"
	}
	return "Duels"
}

func isMalformedPayload(err error) bool {
	return errors.Is(err, api.ErrMalformedPayload)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func teamOverallRow(scope Scope, report *stats.TeamReport) domain.OverallStats {
	return domain.OverallStats{
		PlayerID:         scope.PlayerID,
		GameType:         scope.GameType,
		Mode:             scope.Mode,
		TeammateID:       scope.TeammateID,
		TotalGames:       report.Overall.TotalGames,
		WinPercentage:    report.Overall.WinPercentage,
		AvgRoundsPerGame: report.Overall.AvgRoundsPerGame,
		MultiMerchant:    report.Overall.MultiMerchant,
		ReverseMerchant:  report.Overall.ReverseMerchant,
	}
}

func soloOverallRow(scope Scope, report *stats.SoloReport) domain.OverallStats {
	return domain.OverallStats{
		PlayerID:         scope.PlayerID,
		GameType:         scope.GameType,
		Mode:             scope.Mode,
		TeammateID:       scope.TeammateID,
		TotalGames:       report.Overall.TotalGames,
		WinPercentage:    report.Overall.WinPercentage,
		AvgRoundsPerGame: report.Overall.AvgRoundsPerGame,
		AvgScore:         report.Overall.AvgScore,
		Total5Ks:         report.Overall.Total5Ks,
		AvgGuessTime:     report.Overall.AvgGuessTime,
		MultiMerchant:    report.Overall.MultiMerchant,
		ReverseMerchant:  report.Overall.ReverseMerchant,
	}
}

func contributionRows(report *stats.TeamReport) []domain.PlayerContribution {
	out := make([]domain.PlayerContribution, 0, len(report.Players))
	for _, p := range report.Players {
		out = append(out, domain.PlayerContribution{
			PlayerID:            p.PlayerID,
			Username:            p.Username,
			ContributionPercent: p.ContributionPercent,
			AvgIndividualScore:  p.AvgIndividualScore,
			Total5Ks:            p.Total5Ks,
			AvgGuessTime:        p.AvgGuessTime,
			GamesPlayed:         p.GamesPlayed,
		})
	}
	return out
}

func countryRows(entries []stats.CountryEntry) []domain.CountryStats {
	out := make([]domain.CountryStats, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.CountryStats{
			CountryCode:   e.Code,
			Rounds:        e.Rounds,
			AvgScore:      e.AvgScore,
			AvgDistanceKm: e.AvgDistanceKm,
			FiveKRate:     e.FiveKRate,
			AvgScoreDiff:  e.AvgScoreDiff,
			HitRate:       e.HitRate,
			WinRate:       e.WinRate,
		})
	}
	return out
}
