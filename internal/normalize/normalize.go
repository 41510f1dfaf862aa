// Package normalize converts raw duel payloads into canonical SoloGame and
// TeamGame records from the acting player's perspective.
package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/api"
	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
	"github.com/keshavt3/Geoguessr-dashboard/internal/geocode"
	"github.com/keshavt3/Geoguessr-dashboard/internal/score"
)

// ErrPlayerNotInGame signals that the supplied player ID appears on no
// roster of a fetched game: the ID is wrong, not the game. Distinct from
// cardinality skips, which are presumed non-standard game variants.
var ErrPlayerNotInGame = errors.New("normalize: player not found in game rosters")

type Normalizer struct {
	geo    geocode.Geocoder
	logger zerolog.Logger
}

func New(geo geocode.Geocoder, logger zerolog.Logger) *Normalizer {
	return &Normalizer{geo: geo, logger: logger}
}

// Team normalizes a 2v2 duel. Returns (nil, nil) when the game should be
// skipped: non-2x2 cardinality, or a teammateID filter the acting player's
// team does not satisfy.
func (n *Normalizer) Team(payload *api.DuelPayload, playerID string, isCompetitive bool, teammateID string) (*domain.TeamGame, error) {
	myTeam, enemyTeam, err := splitTeams(payload, playerID)
	if err != nil {
		return nil, err
	}

	if len(payload.Teams) != 2 || len(myTeam.Players) != 2 || len(enemyTeam.Players) != 2 {
		n.logger.Debug().Str("game_id", payload.GameID).Msg("skipping game with non-2v2 cardinality")
		return nil, nil
	}

	if teammateID != "" && !teamHasPlayer(myTeam, teammateID) {
		return nil, nil
	}

	rounds := roundsByNumber(payload)
	countries := n.resolveCountries(payload)
	enemyBest := bestEnemyScores(enemyTeam)

	type roundAcc struct {
		distance  float64
		scoreSum  int
		health    int
		countries map[string]struct{}
	}
	accs := make(map[int]*roundAcc)
	acc := func(rn int) *roundAcc {
		a, ok := accs[rn]
		if !ok {
			a = &roundAcc{countries: make(map[string]struct{})}
			accs[rn] = a
		}
		return a
	}

	players := make(map[string][]domain.Guess, 2)
	stats := domain.TeamStats{}
	enemyTotal := 0

	for _, p := range enemyTeam.Players {
		for _, g := range p.Guesses {
			enemyTotal += guessScore(g)
		}
	}

	for _, p := range myTeam.Players {
		guesses := make([]domain.Guess, 0, len(p.Guesses))
		for _, g := range p.Guesses {
			guess := n.buildGuess(g, rounds[g.RoundNumber], countries[g.RoundNumber])
			guesses = append(guesses, guess)

			stats.TotalDistance += guess.Distance
			stats.TotalScore += guess.Score
			stats.TotalRounds++

			a := acc(g.RoundNumber)
			a.distance += guess.Distance
			a.scoreSum += guess.Score
			if guess.Country != "" {
				a.countries[guess.Country] = struct{}{}
			}
		}
		players[p.PlayerID] = guesses
	}

	for _, rr := range myTeam.RoundResults {
		if rr.HealthBefore == nil || rr.HealthAfter == nil {
			continue
		}
		delta := *rr.HealthAfter - *rr.HealthBefore
		stats.TotalHealthDelta += delta
		acc(rr.RoundNumber).health = delta
	}

	stats.ScoreDiff = stats.TotalScore - enemyTotal

	results := make([]domain.TeamRoundResult, 0, len(accs))
	for rn, a := range accs {
		cs := make([]string, 0, len(a.countries))
		for c := range a.countries {
			cs = append(cs, c)
		}
		sort.Strings(cs)
		results = append(results, domain.TeamRoundResult{
			RoundNumber:    rn,
			TotalDistance:  a.distance,
			TotalScore:     a.scoreSum,
			HealthDelta:    a.health,
			Countries:      cs,
			EnemyBestScore: enemyBest[rn],
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RoundNumber < results[j].RoundNumber })

	return &domain.TeamGame{
		GameID:        payload.GameID,
		IsCompetitive: isCompetitive,
		TeamID:        myTeam.ID,
		Players:       players,
		RoundResults:  results,
		TeamStats:     stats,
	}, nil
}

// Solo normalizes a 1v1 duel. Returns (nil, nil) when the game is not a
// standard two-team, one-player-per-team duel.
func (n *Normalizer) Solo(payload *api.DuelPayload, playerID string, isCompetitive bool) (*domain.SoloGame, error) {
	myTeam, enemyTeam, err := splitTeams(payload, playerID)
	if err != nil {
		return nil, err
	}

	if len(payload.Teams) != 2 || len(myTeam.Players) != 1 || len(enemyTeam.Players) != 1 {
		n.logger.Debug().Str("game_id", payload.GameID).Msg("skipping game with non-1v1 cardinality")
		return nil, nil
	}

	rounds := roundsByNumber(payload)
	countries := n.resolveCountries(payload)
	enemyScores := make(map[int]int)
	for _, g := range enemyTeam.Players[0].Guesses {
		s := guessScore(g)
		if s > enemyScores[g.RoundNumber] {
			enemyScores[g.RoundNumber] = s
		}
	}

	guesses := make([]domain.Guess, 0, len(myTeam.Players[0].Guesses))
	totalScore := 0
	roundSeen := make(map[int]bool)
	for _, g := range myTeam.Players[0].Guesses {
		guess := n.buildGuess(g, rounds[g.RoundNumber], countries[g.RoundNumber])
		guesses = append(guesses, guess)
		totalScore += guess.Score
		roundSeen[g.RoundNumber] = true
	}

	healths := make(map[int]int)
	for _, rr := range myTeam.RoundResults {
		roundSeen[rr.RoundNumber] = true
		if rr.HealthBefore != nil && rr.HealthAfter != nil {
			healths[rr.RoundNumber] = *rr.HealthAfter - *rr.HealthBefore
		}
	}

	results := make([]domain.SoloRoundResult, 0, len(roundSeen))
	for rn := range roundSeen {
		results = append(results, domain.SoloRoundResult{
			RoundNumber: rn,
			EnemyScore:  enemyScores[rn],
			HealthDelta: healths[rn],
			Country:     countries[rn],
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RoundNumber < results[j].RoundNumber })

	return &domain.SoloGame{
		GameID:        payload.GameID,
		IsCompetitive: isCompetitive,
		TotalScore:    totalScore,
		Guesses:       guesses,
		RoundResults:  results,
	}, nil
}

func (n *Normalizer) buildGuess(g api.DuelGuess, round *api.DuelRound, country string) domain.Guess {
	guess := domain.Guess{
		RoundNumber: g.RoundNumber,
		Distance:    g.Distance,
		Score:       guessScore(g),
		Lat:         g.Lat,
		Lng:         g.Lng,
		Country:     country,
	}

	if round != nil {
		guess.ActualLat = round.Panorama.Lat
		guess.ActualLng = round.Panorama.Lng
		if secs, ok := elapsedSeconds(round.StartTime, g.Created); ok {
			guess.Seconds = &secs
		}
	}

	return guess
}

// resolveCountries maps each round number to its panorama's lowercase
// country code, reverse-geocoding the panorama coordinate when the payload
// omits the code. Geocoder failures leave the country unset rather than
// failing normalization.
func (n *Normalizer) resolveCountries(payload *api.DuelPayload) map[int]string {
	out := make(map[int]string, len(payload.Rounds))
	for _, r := range payload.Rounds {
		if cc := strings.ToLower(r.Panorama.CountryCode); cc != "" {
			out[r.RoundNumber] = cc
			continue
		}
		cc, err := n.geo.CountryCode(r.Panorama.Lat, r.Panorama.Lng)
		if err != nil {
			n.logger.Debug().
				Err(err).
				Str("game_id", payload.GameID).
				Int("round", r.RoundNumber).
				Msg("could not geocode panorama, leaving country unset")
			continue
		}
		out[r.RoundNumber] = cc
	}
	return out
}

func splitTeams(payload *api.DuelPayload, playerID string) (mine, enemy *api.DuelTeam, err error) {
	var myIdx = -1
	for i := range payload.Teams {
		if teamHasPlayer(&payload.Teams[i], playerID) {
			myIdx = i
			break
		}
	}
	if myIdx == -1 {
		return nil, nil, fmt.Errorf("%w: %s in game %s", ErrPlayerNotInGame, playerID, payload.GameID)
	}

	mine = &payload.Teams[myIdx]
	for i := range payload.Teams {
		if i != myIdx {
			enemy = &payload.Teams[i]
			break
		}
	}
	if enemy == nil {
		// Single-team record; caught by the cardinality check.
		enemy = &api.DuelTeam{}
	}
	return mine, enemy, nil
}

func teamHasPlayer(team *api.DuelTeam, playerID string) bool {
	for _, p := range team.Players {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

func bestEnemyScores(enemy *api.DuelTeam) map[int]int {
	best := make(map[int]int)
	for _, p := range enemy.Players {
		for _, g := range p.Guesses {
			if s := guessScore(g); s > best[g.RoundNumber] {
				best[g.RoundNumber] = s
			}
		}
	}
	return best
}

func guessScore(g api.DuelGuess) int {
	if g.Score != nil {
		return *g.Score
	}
	return score.Calculate(g.Distance)
}

func roundsByNumber(payload *api.DuelPayload) map[int]*api.DuelRound {
	out := make(map[int]*api.DuelRound, len(payload.Rounds))
	for i := range payload.Rounds {
		out[payload.Rounds[i].RoundNumber] = &payload.Rounds[i]
	}
	return out
}

func elapsedSeconds(start, end string) (float64, bool) {
	st, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return 0, false
	}
	et, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return 0, false
	}
	return et.Sub(st).Seconds(), true
}
