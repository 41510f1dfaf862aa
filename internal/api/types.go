package api

import "encoding/json"

type FeedPage struct {
	Entries         []FeedEntry `json:"entries"`
	PaginationToken string      `json:"paginationToken"`
}

// FeedEntry payloads arrive as raw JSON; game entries carry a JSON string
// that itself holds either one feed item or a list of them.
type FeedEntry struct {
	Payload json.RawMessage `json:"payload"`
}

type feedItem struct {
	GameMode string           `json:"gameMode"`
	GameID   string           `json:"gameId"`
	Payload  *feedItemPayload `json:"payload"`
}

type feedItemPayload struct {
	GameMode            string `json:"gameMode"`
	GameID              string `json:"gameId"`
	CompetitiveGameMode string `json:"competitiveGameMode"`
}

// FeedCandidate is one game referenced by the feed.
type FeedCandidate struct {
	GameID        string
	GameMode      string
	IsCompetitive bool
}

// Candidates extracts the games a feed page references. Entries whose
// payload is not a JSON string, or items missing a game ID or mode, are
// skipped; the feed mixes game activity with other event kinds.
func (p *FeedPage) Candidates() []FeedCandidate {
	var out []FeedCandidate
	for _, entry := range p.Entries {
		var raw string
		if err := json.Unmarshal(entry.Payload, &raw); err != nil {
			continue
		}

		items, err := parseFeedItems(raw)
		if err != nil {
			continue
		}

		for _, item := range items {
			gameMode := item.GameMode
			gameID := item.GameID
			competitive := ""
			if item.Payload != nil {
				if gameMode == "" {
					gameMode = item.Payload.GameMode
				}
				if gameID == "" {
					gameID = item.Payload.GameID
				}
				competitive = item.Payload.CompetitiveGameMode
			}
			if gameID == "" || gameMode == "" {
				continue
			}
			out = append(out, FeedCandidate{
				GameID:        gameID,
				GameMode:      gameMode,
				IsCompetitive: competitive != "" && competitive != "None",
			})
		}
	}
	return out
}

func parseFeedItems(raw string) ([]feedItem, error) {
	var list []feedItem
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}
	var single feedItem
	if err := json.Unmarshal([]byte(raw), &single); err != nil {
		return nil, err
	}
	return []feedItem{single}, nil
}

// DuelPayload is the game server's duel record. Every field the normalizer
// reads is declared here; absent fields decode to zero values or nil
// pointers and are presence-checked at the point of use.
type DuelPayload struct {
	GameID string      `json:"gameId"`
	Teams  []DuelTeam  `json:"teams"`
	Rounds []DuelRound `json:"rounds"`
}

type DuelTeam struct {
	ID           string            `json:"id"`
	Players      []DuelPlayer      `json:"players"`
	RoundResults []DuelRoundResult `json:"roundResults"`
}

type DuelPlayer struct {
	PlayerID string      `json:"playerId"`
	Nick     string      `json:"nick"`
	Guesses  []DuelGuess `json:"guesses"`
}

type DuelGuess struct {
	RoundNumber int     `json:"roundNumber"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Distance    float64 `json:"distance"`
	Score       *int    `json:"score"`
	Created     string  `json:"created"`
}

type DuelRoundResult struct {
	RoundNumber  int  `json:"roundNumber"`
	HealthBefore *int `json:"healthBefore"`
	HealthAfter  *int `json:"healthAfter"`
}

type DuelRound struct {
	RoundNumber int          `json:"roundNumber"`
	StartTime   string       `json:"startTime"`
	Panorama    DuelPanorama `json:"panorama"`
}

type DuelPanorama struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CountryCode string  `json:"countryCode"`
}
