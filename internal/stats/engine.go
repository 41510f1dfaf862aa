// Package stats folds normalized game lists into multi-level statistics
// reports: overall summary, per-player contributions, and per-country
// breakdowns.
//
// The fold runs in three passes. Pass one accumulates everything computable
// from the games alone, queueing the coordinate behind each round's winning
// guess. Pass two resolves the distinct queued coordinates in one batch
// geocode call and credits country hit rates; batching bounds geocoding
// cost to the number of unique locations rather than the number of rounds.
// Pass three turns sums into rates, with empty denominators yielding zero.
package stats

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/constants"
	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
	"github.com/keshavt3/Geoguessr-dashboard/internal/geocode"
)

type Engine struct {
	geo    geocode.Geocoder
	logger zerolog.Logger
}

func NewEngine(geo geocode.Geocoder, logger zerolog.Logger) *Engine {
	return &Engine{geo: geo, logger: logger}
}

type countryAcc struct {
	code           string
	rounds         int
	scoreSum       int
	distSum        float64
	fiveKs         int
	scoreDiffSum   int
	wins           int
	totalGuesses   int
	correctGuesses int
	players        map[string]*countryPlayerAcc
}

type countryPlayerAcc struct {
	scoreSum int
	distSum  float64
	rounds   int
	fiveKs   int
}

type playerAcc struct {
	contrib  int
	rounds   int
	scoreSum int
	distSum  float64
	fiveKs   int
	timeSum  float64
	timeN    int
	games    int
}

// hitQueue defers hit-rate geocoding until the whole dataset has been
// folded, keyed by distinct coordinate.
type hitQueue struct {
	order []geocode.Coord
	refs  map[geocode.Coord][]*countryAcc
}

func newHitQueue() *hitQueue {
	return &hitQueue{refs: make(map[geocode.Coord][]*countryAcc)}
}

func (q *hitQueue) add(coord geocode.Coord, acc *countryAcc) {
	if _, seen := q.refs[coord]; !seen {
		q.order = append(q.order, coord)
	}
	q.refs[coord] = append(q.refs[coord], acc)
}

// resolve geocodes every distinct queued coordinate and credits each
// referencing country bucket. Geocoder failure is absorbed: the affected
// hit rates stay zero rather than failing the aggregation.
func (q *hitQueue) resolve(geo geocode.Geocoder, logger zerolog.Logger) {
	if len(q.order) == 0 {
		return
	}

	codes, err := geo.BatchCountryCode(q.order)
	if err != nil {
		logger.Warn().Err(err).Int("coords", len(q.order)).Msg("batch geocode failed, hit rates unavailable")
		return
	}

	for i, coord := range q.order {
		guessed := codes[i]
		for _, acc := range q.refs[coord] {
			acc.totalGuesses++
			if guessed != "" && strings.EqualFold(guessed, acc.code) {
				acc.correctGuesses++
			}
		}
	}
}

// Team folds a list of normalized team games. The input is trusted to be
// well-formed; validation happens at normalization time.
func (e *Engine) Team(games []domain.TeamGame) *TeamReport {
	var (
		totalGames    int
		totalWins     int
		totalRounds   int
		multiMerchant int
		reverseMerch  int
	)

	players := make(map[string]*playerAcc)
	countries := make(map[string]*countryAcc)
	queue := newHitQueue()

	player := func(id string) *playerAcc {
		a, ok := players[id]
		if !ok {
			a = &playerAcc{}
			players[id] = a
		}
		return a
	}

	for i := range games {
		g := &games[i]
		if len(g.Players) != 2 {
			e.logger.Warn().Str("game_id", g.GameID).Int("players", len(g.Players)).Msg("ignoring malformed team game in aggregation input")
			continue
		}

		totalGames++

		won := g.TeamStats.TotalHealthDelta > -constants.StartingHealth
		if won {
			totalWins++
		}
		if sd := g.TeamStats.ScoreDiff; !won && sd > 0 {
			multiMerchant++
		} else if won && sd < 0 {
			reverseMerch++
		}

		ids := make([]string, 0, 2)
		for id := range g.Players {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		p1, p2 := ids[0], ids[1]
		pa1, pa2 := player(p1), player(p2)
		pa1.games++
		pa2.games++

		guesses1 := guessesByRound(g.Players[p1])
		guesses2 := guessesByRound(g.Players[p2])
		results := teamResultsByRound(g.RoundResults)

		maxRound := 0
		for _, rr := range g.RoundResults {
			if rr.RoundNumber > maxRound {
				maxRound = rr.RoundNumber
			}
		}
		totalRounds += maxRound

		for rn := 1; rn <= maxRound; rn++ {
			g1, ok1 := guesses1[rn]
			g2, ok2 := guesses2[rn]

			// A missing guess counts as a maximal-distance, zero-score
			// round so both players cover the same round span.
			score1, dist1 := missingGuess()
			score2, dist2 := missingGuess()
			if ok1 {
				score1, dist1 = g1.Score, g1.Distance
			}
			if ok2 {
				score2, dist2 = g2.Score, g2.Distance
			}

			teamScore := max(score1, score2)
			teamDist := min(dist1, dist2)

			pa1.scoreSum += score1
			pa1.distSum += dist1
			pa1.rounds++
			pa2.scoreSum += score2
			pa2.distSum += dist2
			pa2.rounds++

			if ok1 && g1.Seconds != nil {
				pa1.timeSum += *g1.Seconds
				pa1.timeN++
			}
			if ok2 && g2.Seconds != nil {
				pa2.timeSum += *g2.Seconds
				pa2.timeN++
			}

			// Strictly closer guess wins the round's contribution; ties
			// credit neither player.
			if dist1 < dist2 {
				pa1.contrib++
			} else if dist2 < dist1 {
				pa2.contrib++
			}

			country := ""
			if ok1 && g1.Country != "" {
				country = g1.Country
			} else if ok2 && g2.Country != "" {
				country = g2.Country
			}
			if country == "" {
				continue
			}
			country = strings.ToLower(country)

			acc := getCountry(countries, country, true)
			acc.rounds++
			acc.scoreSum += teamScore
			acc.distSum += teamDist
			if teamScore == constants.MaxRoundScore {
				acc.fiveKs++
			}

			cp1 := getCountryPlayer(acc, p1)
			cp1.scoreSum += score1
			cp1.distSum += dist1
			cp1.rounds++
			cp2 := getCountryPlayer(acc, p2)
			cp2.scoreSum += score2
			cp2.distSum += dist2
			cp2.rounds++

			if score1 == constants.MaxRoundScore {
				cp1.fiveKs++
				pa1.fiveKs++
			}
			if score2 == constants.MaxRoundScore {
				cp2.fiveKs++
				pa2.fiveKs++
			}

			enemyBest := 0
			if rr, ok := results[rn]; ok {
				enemyBest = rr.EnemyBestScore
			}
			diff := teamScore - enemyBest
			acc.scoreDiffSum += diff
			if diff > 0 {
				acc.wins++
			}

			// Queue the coordinate of the round's better guess for the
			// batched hit-rate resolution.
			if winner, ok := winningGuess(g1, ok1, score1, g2, ok2, score2); ok {
				queue.add(geocode.Coord{Lat: winner.Lat, Lng: winner.Lng}, acc)
			}
		}
	}

	queue.resolve(e.geo, e.logger)

	entries := finalizeCountries(countries, true)
	top, bottom := extremes(entries)

	report := &TeamReport{
		Overall: Overall{
			TotalGames:       totalGames,
			WinPercentage:    ratio(float64(totalWins), float64(totalGames)),
			AvgRoundsPerGame: ratio(float64(totalRounds), float64(totalGames)),
			MultiMerchant:    multiMerchant,
			ReverseMerchant:  reverseMerch,
		},
		Countries: entries,
		Top10:     top,
		Bottom10:  bottom,
	}

	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		pa := players[id]
		report.Players = append(report.Players, PlayerLine{
			PlayerID:            id,
			ContributionPercent: ratio(float64(pa.contrib), float64(pa.rounds)),
			AvgIndividualScore:  ratio(float64(pa.scoreSum), float64(pa.rounds)),
			Total5Ks:            pa.fiveKs,
			AvgGuessTime:        ratio(pa.timeSum, float64(pa.timeN)),
			GamesPlayed:         pa.games,
		})
	}

	return report
}

// Solo folds a list of normalized solo games.
func (e *Engine) Solo(games []domain.SoloGame) *SoloReport {
	var (
		totalGames    int
		totalWins     int
		totalRounds   int
		multiMerchant int
		reverseMerch  int
		scoreSum      int
		timeSum       float64
		timeN         int
		fiveKs        int
	)

	countries := make(map[string]*countryAcc)
	queue := newHitQueue()

	for i := range games {
		g := &games[i]
		totalGames++

		healthTotal := 0
		enemyTotal := 0
		maxRound := 0
		for _, rr := range g.RoundResults {
			healthTotal += rr.HealthDelta
			enemyTotal += rr.EnemyScore
			if rr.RoundNumber > maxRound {
				maxRound = rr.RoundNumber
			}
		}

		won := healthTotal > -constants.StartingHealth
		if won {
			totalWins++
		}
		if sd := g.TotalScore - enemyTotal; !won && sd > 0 {
			multiMerchant++
		} else if won && sd < 0 {
			reverseMerch++
		}

		totalRounds += maxRound

		guesses := guessesByRound(g.Guesses)
		results := soloResultsByRound(g.RoundResults)

		for rn := 1; rn <= maxRound; rn++ {
			guess, ok := guesses[rn]
			rs, haveResult := results[rn]

			roundScore, dist := missingGuess()
			if ok {
				roundScore, dist = guess.Score, guess.Distance
				if guess.Seconds != nil {
					timeSum += *guess.Seconds
					timeN++
				}
			}

			scoreSum += roundScore
			if roundScore == constants.MaxRoundScore {
				fiveKs++
			}

			country := ""
			if ok && guess.Country != "" {
				country = guess.Country
			} else if haveResult && rs.Country != "" {
				country = rs.Country
			}
			if country == "" {
				continue
			}
			country = strings.ToLower(country)

			acc := getCountry(countries, country, false)
			acc.rounds++
			acc.scoreSum += roundScore
			acc.distSum += dist
			if roundScore == constants.MaxRoundScore {
				acc.fiveKs++
			}

			enemyScore := 0
			if haveResult {
				enemyScore = rs.EnemyScore
			}
			diff := roundScore - enemyScore
			acc.scoreDiffSum += diff
			if diff > 0 {
				acc.wins++
			}

			if ok {
				queue.add(geocode.Coord{Lat: guess.Lat, Lng: guess.Lng}, acc)
			}
		}
	}

	queue.resolve(e.geo, e.logger)

	entries := finalizeCountries(countries, false)
	top, bottom := extremes(entries)

	return &SoloReport{
		Overall: SoloOverall{
			Overall: Overall{
				TotalGames:       totalGames,
				WinPercentage:    ratio(float64(totalWins), float64(totalGames)),
				AvgRoundsPerGame: ratio(float64(totalRounds), float64(totalGames)),
				MultiMerchant:    multiMerchant,
				ReverseMerchant:  reverseMerch,
			},
			AvgScore:     ratio(float64(scoreSum), float64(totalRounds)),
			Total5Ks:     fiveKs,
			AvgGuessTime: ratio(timeSum, float64(timeN)),
		},
		Countries: entries,
		Top10:     top,
		Bottom10:  bottom,
	}
}

func getCountry(m map[string]*countryAcc, code string, withPlayers bool) *countryAcc {
	acc, ok := m[code]
	if !ok {
		acc = &countryAcc{code: code}
		if withPlayers {
			acc.players = make(map[string]*countryPlayerAcc)
		}
		m[code] = acc
	}
	return acc
}

func getCountryPlayer(acc *countryAcc, playerID string) *countryPlayerAcc {
	cp, ok := acc.players[playerID]
	if !ok {
		cp = &countryPlayerAcc{}
		acc.players[playerID] = cp
	}
	return cp
}

func finalizeCountries(countries map[string]*countryAcc, withPlayers bool) []CountryEntry {
	entries := make([]CountryEntry, 0, len(countries))
	for _, acc := range countries {
		entry := CountryEntry{
			Code:          acc.code,
			Rounds:        acc.rounds,
			AvgScore:      ratio(float64(acc.scoreSum), float64(acc.rounds)),
			AvgDistanceKm: ratio(acc.distSum, float64(acc.rounds)) / 1000,
			FiveKRate:     ratio(float64(acc.fiveKs), float64(acc.rounds)),
			AvgScoreDiff:  ratio(float64(acc.scoreDiffSum), float64(acc.rounds)),
			HitRate:       ratio(float64(acc.correctGuesses), float64(acc.totalGuesses)),
			WinRate:       ratio(float64(acc.wins), float64(acc.rounds)),
		}
		if withPlayers {
			entry.Players = make(map[string]CountryPlayerLine, len(acc.players))
			for id, cp := range acc.players {
				entry.Players[id] = CountryPlayerLine{
					AvgScore:      ratio(float64(cp.scoreSum), float64(cp.rounds)),
					AvgDistanceKm: ratio(cp.distSum, float64(cp.rounds)) / 1000,
					FiveKRate:     ratio(float64(cp.fiveKs), float64(cp.rounds)),
				}
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AvgScoreDiff != entries[j].AvgScoreDiff {
			return entries[i].AvgScoreDiff > entries[j].AvgScoreDiff
		}
		return entries[i].Code < entries[j].Code
	})

	return entries
}

// extremes returns the best and worst ends of the sorted country sequence,
// filtered to countries with a meaningful sample. With few qualifying
// countries the two views may overlap.
func extremes(sorted []CountryEntry) (top, bottom []CountryEntry) {
	var eligible []CountryEntry
	for _, e := range sorted {
		if e.Rounds >= constants.MinCountryRounds {
			eligible = append(eligible, e)
		}
	}

	n := len(eligible)
	topN := min(constants.TopCountryCount, n)
	top = eligible[:topN]
	bottom = eligible[n-min(constants.TopCountryCount, n):]
	return top, bottom
}

// ratio divides with the engine-wide convention that an empty denominator
// yields zero, never NaN.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func missingGuess() (score int, distance float64) {
	return 0, constants.WorldMapDiagonalMeters
}

func winningGuess(g1 domain.Guess, ok1 bool, score1 int, g2 domain.Guess, ok2 bool, score2 int) (domain.Guess, bool) {
	if score1 > score2 {
		if ok1 {
			return g1, true
		}
		if ok2 {
			return g2, true
		}
	} else {
		if ok2 {
			return g2, true
		}
		if ok1 {
			return g1, true
		}
	}
	return domain.Guess{}, false
}

func guessesByRound(guesses []domain.Guess) map[int]domain.Guess {
	out := make(map[int]domain.Guess, len(guesses))
	for _, g := range guesses {
		if _, exists := out[g.RoundNumber]; !exists {
			out[g.RoundNumber] = g
		}
	}
	return out
}

func teamResultsByRound(results []domain.TeamRoundResult) map[int]domain.TeamRoundResult {
	out := make(map[int]domain.TeamRoundResult, len(results))
	for _, rr := range results {
		out[rr.RoundNumber] = rr
	}
	return out
}

func soloResultsByRound(results []domain.SoloRoundResult) map[int]domain.SoloRoundResult {
	out := make(map[int]domain.SoloRoundResult, len(results))
	for _, rr := range results {
		out[rr.RoundNumber] = rr
	}
	return out
}
