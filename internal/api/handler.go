// Package api exposes the settlement engine over HTTP: game setup,
// submissions, turn status, market views, reports and a WebSocket stream
// of settled months.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/demographics"
	"github.com/bikesim/market-engine/internal/economy"
	"github.com/bikesim/market-engine/internal/factors"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/report"
	"github.com/bikesim/market-engine/internal/store"
	"github.com/bikesim/market-engine/internal/turn"
)

// Handler serves the engine's HTTP API.
type Handler struct {
	turns   *turn.Orchestrator
	store   store.Store
	reports *report.Service
	hub     *WSHub // optional
}

// NewHandler creates a handler. Pass nil for hub if WebSocket streaming is
// not needed.
func NewHandler(turns *turn.Orchestrator, reports *report.Service, hub *WSHub) *Handler {
	return &Handler{
		turns:   turns,
		store:   turns.Store(),
		reports: reports,
		hub:     hub,
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Get("/games", h.ListGames)
	r.Post("/games", h.CreateGame)
	r.Route("/games/{gameID}", func(r chi.Router) {
		r.Get("/", h.GetGame)
		r.Get("/status", h.GetStatus)
		r.Post("/settle", h.Settle)

		r.Get("/participants", h.ListParticipants)
		r.Post("/participants", h.Join)
		r.Put("/participants/{participantID}/submission", h.Submit)
		r.Get("/participants/{participantID}/report", h.GetReport)

		r.Get("/economy", h.GetEconomy)
		r.Get("/forecast", h.GetForecast)
		r.Get("/factors", h.GetFactors)
		r.Get("/demographics", h.GetDemographics)
		r.Get("/clearing", h.GetClearing)
		r.Get("/clearing/{line}/history", h.GetClearingHistory)
		r.Get("/events", h.ListEvents)
	})
}

// --- Request/Response types ---

// CreateGameRequest is the JSON body for game creation. TurnDeadline is a
// Go duration string such as "10m"; empty means no deadline.
type CreateGameRequest struct {
	turn.GameConfig
	TurnDeadline string `json:"turn_deadline"`
}

// EconomyResponse is the market state of the current month.
type EconomyResponse struct {
	Month            int                     `json:"month"`
	Year             int                     `json:"year"`
	Economy          model.EconomicCondition `json:"economy"`
	Strength         float64                 `json:"strength"`
	DemandMultiplier float64                 `json:"demand_multiplier"`
	LineImpact       map[string]float64      `json:"line_impact"`
}

// DemographicsResponse is the population of the current month with
// readable observations.
type DemographicsResponse struct {
	Demographics model.Demographics `json:"demographics"`
	Insights     []string           `json:"insights"`
}

// --- Games ---

// CreateGame handles POST /api/v1/games.
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg := req.GameConfig
	if req.TurnDeadline != "" {
		d, err := time.ParseDuration(req.TurnDeadline)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid turn_deadline %q", req.TurnDeadline), http.StatusBadRequest)
			return
		}
		cfg.TurnDeadline = d
	}

	g, err := h.turns.CreateGame(r.Context(), cfg)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// ListGames handles GET /api/v1/games.
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.store.ListGames(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if games == nil {
		games = []model.Game{}
	}
	writeJSON(w, http.StatusOK, games)
}

// GetGame handles GET /api/v1/games/{gameID}.
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetStatus handles GET /api/v1/games/{gameID}/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.turns.Status(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Settle handles POST /api/v1/games/{gameID}/settle. It runs the same check
// as the scheduler tick; a month that is not ready reports why.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	out, err := h.turns.ProcessIfReady(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !out.Settled {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// --- Participants ---

// ListParticipants handles GET /api/v1/games/{gameID}/participants.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if _, err := h.store.GetGame(r.Context(), gameID); err != nil {
		fail(w, r, err)
		return
	}
	ps, err := h.store.ListParticipants(r.Context(), gameID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if ps == nil {
		ps = []model.Participant{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// Join handles POST /api/v1/games/{gameID}/participants.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req turn.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	p, err := h.turns.Join(r.Context(), chi.URLParam(r, "gameID"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Submit handles PUT /api/v1/games/{gameID}/participants/{participantID}/submission.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rec, err := h.turns.Submit(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "participantID"), sub)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetReport handles GET /api/v1/games/{gameID}/participants/{participantID}/report.
// Without month and year it reports the last settled month.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	pid := chi.URLParam(r, "participantID")
	if _, err := h.store.GetParticipant(r.Context(), g.ID, pid); err != nil {
		fail(w, r, err)
		return
	}
	month, year, err := settledMonth(r, g)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rep, err := h.reports.Get(r.Context(), g.ID, pid, month, year)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Market views ---

// GetEconomy handles GET /api/v1/games/{gameID}/economy.
func (h *Handler) GetEconomy(w http.ResponseWriter, r *http.Request) {
	g, state, ok := h.currentState(w, r)
	if !ok {
		return
	}
	impact := make(map[string]float64, len(g.ProductLines))
	for _, l := range g.ProductLines {
		impact[l.ID] = economy.ImpactMultiplier(state.Economy, catalog.Classify(l.Name))
	}
	writeJSON(w, http.StatusOK, EconomyResponse{
		Month:            g.Month,
		Year:             g.Year,
		Economy:          state.Economy,
		Strength:         state.Economy.Strength(),
		DemandMultiplier: state.Economy.DemandMultiplier(),
		LineImpact:       impact,
	})
}

// GetForecast handles GET /api/v1/games/{gameID}/forecast?months=3.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	months := 3
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 24 {
			writeError(w, "months must be between 1 and 24", http.StatusBadRequest)
			return
		}
		months = n
	}
	_, state, ok := h.currentState(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, economy.ForecastAhead(state.Economy, months))
}

// GetFactors handles GET /api/v1/games/{gameID}/factors.
func (h *Handler) GetFactors(w http.ResponseWriter, r *http.Request) {
	_, state, ok := h.currentState(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"factors": state.Factors,
		"summary": factors.Summarize(state.Factors),
	})
}

// GetDemographics handles GET /api/v1/games/{gameID}/demographics.
func (h *Handler) GetDemographics(w http.ResponseWriter, r *http.Request) {
	_, state, ok := h.currentState(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, DemographicsResponse{
		Demographics: state.Demographics,
		Insights:     demographics.Insights(state.Demographics),
	})
}

// GetClearing handles GET /api/v1/games/{gameID}/clearing. Without month and
// year it returns the last settled month.
func (h *Handler) GetClearing(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	month, year, err := settledMonth(r, g)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	results, err := h.store.ListClearingResults(r.Context(), g.ID, month, year)
	if err != nil {
		fail(w, r, err)
		return
	}
	if results == nil {
		results = []model.ClearingResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// GetClearingHistory handles GET /api/v1/games/{gameID}/clearing/{line}/history.
func (h *Handler) GetClearingHistory(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	line := chi.URLParam(r, "line")
	known := false
	for _, l := range g.ProductLines {
		known = known || l.ID == line
	}
	if !known {
		writeError(w, fmt.Sprintf("unknown product line %q", line), http.StatusNotFound)
		return
	}
	results, err := h.store.ClearingHistory(r.Context(), g.ID, line, queryLimit(r, 12))
	if err != nil {
		fail(w, r, err)
		return
	}
	if results == nil {
		results = []model.ClearingResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// ListEvents handles GET /api/v1/games/{gameID}/events?limit=50.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if _, err := h.store.GetGame(r.Context(), gameID); err != nil {
		fail(w, r, err)
		return
	}
	events, err := h.store.ListEvents(r.Context(), gameID, queryLimit(r, 50))
	if err != nil {
		fail(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Helpers ---

func (h *Handler) currentState(w http.ResponseWriter, r *http.Request) (*model.Game, *model.MarketState, bool) {
	g, err := h.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		fail(w, r, err)
		return nil, nil, false
	}
	state, err := h.store.GetMarketState(r.Context(), g.ID, g.Month, g.Year)
	if err != nil {
		fail(w, r, err)
		return nil, nil, false
	}
	return g, state, true
}

// settledMonth reads month and year from the query, defaulting to the month
// before the game's current one. A completed game's current month is its
// last settled month.
func settledMonth(r *http.Request, g *model.Game) (int, int, error) {
	q := r.URL.Query()
	if q.Get("month") == "" && q.Get("year") == "" {
		if g.Status == model.StatusCompleted {
			return g.Month, g.Year, nil
		}
		if g.Month == 1 {
			return 12, g.Year - 1, nil
		}
		return g.Month - 1, g.Year, nil
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month %q", q.Get("month"))
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year %q", q.Get("year"))
	}
	return month, year, nil
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
