// Package server exposes the dashboard's HTTP API: three JSON query
// endpoints over the stored statistics and one server-sent-events endpoint
// that streams the progress of a fetch run.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/keshavt3/Geoguessr-dashboard/internal/api"
	"github.com/keshavt3/Geoguessr-dashboard/internal/domain"
	"github.com/keshavt3/Geoguessr-dashboard/internal/normalize"
	"github.com/keshavt3/Geoguessr-dashboard/internal/service"
)

type DashboardServer struct {
	fetchSvc *service.FetchService
	statsSvc *service.StatsService
	logger   zerolog.Logger
}

func NewDashboardServer(fetchSvc *service.FetchService, statsSvc *service.StatsService, logger zerolog.Logger) *DashboardServer {
	return &DashboardServer{fetchSvc: fetchSvc, statsSvc: statsSvc, logger: logger}
}

func (s *DashboardServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stats/", s.handleStats)
	mux.HandleFunc("GET /api/v1/countries/", s.handleCountries)
	mux.HandleFunc("GET /api/v1/countries/{code}/", s.handleCountryDetail)
	mux.HandleFunc("POST /api/v1/fetch/", s.handleFetch)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *DashboardServer) handleStats(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	overview, err := s.statsSvc.Overview(r.Context(), scope)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *DashboardServer) handleCountries(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	sortKey := domain.SortKey(r.URL.Query().Get("sort"))
	if sortKey == "" {
		sortKey = domain.SortScoreDiff
	}
	if !sortKey.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sort key %q", sortKey))
		return
	}

	entries, err := s.statsSvc.Countries(r.Context(), scope, sortKey)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *DashboardServer) handleCountryDetail(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	code := r.PathValue("code")
	if code == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing country code"))
		return
	}

	detail, err := s.statsSvc.Detail(r.Context(), scope, code)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

type fetchRequest struct {
	PlayerID   string `json:"playerId"`
	NCFA       string `json:"ncfa"`
	GameType   string `json:"gameType"`
	Mode       string `json:"mode"`
	TeammateID string `json:"teammate"`
}

// handleFetch runs a fetch and streams its progress as server-sent events.
// Parameter problems are rejected as plain 400 JSON before the stream
// starts; once streaming, the run always ends with exactly one terminal
// event, either done or error.
func (s *DashboardServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	params, err := fetchParams(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(event service.ProgressEvent) {
		s.writeEvent(w, flusher, event)
	}

	summary, err := s.fetchSvc.Run(r.Context(), params, emit)
	if err != nil {
		s.logger.Error().Err(err).Str("player_id", params.PlayerID).Msg("fetch run failed")
		s.writeEvent(w, flusher, service.ProgressEvent{Phase: "error", Message: userMessage(err)})
		return
	}

	s.writeTerminal(w, flusher, summary)
}

type doneEvent struct {
	Phase string `json:"phase"`
	*service.Summary
}

func (s *DashboardServer) writeTerminal(w http.ResponseWriter, flusher http.Flusher, summary *service.Summary) {
	s.writeEventPayload(w, flusher, doneEvent{Phase: "done", Summary: summary})
}

func (s *DashboardServer) writeEvent(w http.ResponseWriter, flusher http.Flusher, event service.ProgressEvent) {
	s.writeEventPayload(w, flusher, event)
}

func (s *DashboardServer) writeEventPayload(w http.ResponseWriter, flusher http.Flusher, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode progress event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (s *DashboardServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *DashboardServer) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()}); encErr != nil {
		s.logger.Error().Err(encErr).Msg("failed to encode error response")
	}
}

func (s *DashboardServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNoStats):
		s.writeError(w, http.StatusNotFound, errors.New("no statistics computed for this scope yet, run a fetch first"))
	default:
		s.logger.Error().Err(err).Msg("query failed")
		s.writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

// userMessage maps run failures to messages safe and useful to show an end
// user; anything unexpected stays generic.
func userMessage(err error) string {
	switch {
	case errors.Is(err, api.ErrAuthentication):
		return "authentication failed, check your _ncfa cookie"
	case errors.Is(err, normalize.ErrPlayerNotInGame):
		return "player ID not found in fetched games, check the player ID"
	default:
		return "fetch failed, see server logs"
	}
}

func scopeFromQuery(r *http.Request) (service.Scope, error) {
	q := r.URL.Query()

	scope := service.Scope{
		PlayerID:   q.Get("playerId"),
		GameType:   domain.GameType(q.Get("gameType")),
		Mode:       domain.Mode(q.Get("mode")),
		TeammateID: q.Get("teammate"),
	}
	if scope.Mode == "" {
		scope.Mode = domain.ModeAll
	}

	return scope, validateScope(scope)
}

func fetchParams(req fetchRequest) (service.FetchParams, error) {
	params := service.FetchParams{
		Scope: service.Scope{
			PlayerID:   req.PlayerID,
			GameType:   domain.GameType(req.GameType),
			Mode:       domain.Mode(req.Mode),
			TeammateID: req.TeammateID,
		},
		NCFA: req.NCFA,
	}
	if params.Mode == "" {
		params.Mode = domain.ModeAll
	}
	if params.NCFA == "" {
		return params, errors.New("missing ncfa cookie value")
	}
	return params, validateScope(params.Scope)
}

func validateScope(scope service.Scope) error {
	if scope.PlayerID == "" {
		return errors.New("missing playerId")
	}
	if !scope.GameType.Valid() {
		return fmt.Errorf("invalid gameType %q, want duels or team_duels", scope.GameType)
	}
	if !scope.Mode.Valid() {
		return fmt.Errorf("invalid mode %q, want all, competitive or casual", scope.Mode)
	}
	if scope.TeammateID != "" && scope.GameType != domain.GameTypeTeamDuels {
		return errors.New("teammate filter requires gameType team_duels")
	}
	return nil
}
