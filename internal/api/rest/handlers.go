package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/export"
	"github.com/fortuna/jstats/internal/listing"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/reconciliation"
	"github.com/fortuna/jstats/internal/store"
	"github.com/fortuna/jstats/internal/store/repository"
)

// TableReader loads the newest stored table of a collection.
type TableReader interface {
	Latest(ctx context.Context, season int, league catalog.League, team string) (*reconciliation.Table, *store.CollectionRun, error)
}

// CollectionService queues and reports collection jobs.
type CollectionService interface {
	Enqueue(ctx context.Context, req collector.Request) (*collector.Job, error)
	GetJob(ctx context.Context, jobID string) (*collector.Job, error)
	GetStatus(ctx context.Context) (*collector.StatusSummary, error)
}

// HealthFunc reports the health of one dependency.
type HealthFunc func(ctx context.Context) error

// Handler contains dependencies for HTTP handlers
type Handler struct {
	catalog       *catalog.Catalog
	teams         listing.TeamEnumerator
	tables        TableReader
	collections   CollectionService
	checks        map[string]HealthFunc
	defaultSeason int
	version       string
	logger        *logging.Logger
}

// HandlerConfig wires a Handler. Tables, Collections and Teams may be nil;
// the matching routes then answer 503.
type HandlerConfig struct {
	Catalog       *catalog.Catalog
	Teams         listing.TeamEnumerator
	Tables        TableReader
	Collections   CollectionService
	Checks        map[string]HealthFunc
	DefaultSeason int
	Version       string
	Logger        *logging.Logger
}

// NewHandler creates a new handler
func NewHandler(cfg HandlerConfig) *Handler {
	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	season := cfg.DefaultSeason
	if season == 0 {
		season = time.Now().Year()
	}
	return &Handler{
		catalog:       cat,
		teams:         cfg.Teams,
		tables:        cfg.Tables,
		collections:   cfg.Collections,
		checks:        cfg.Checks,
		defaultSeason: season,
		version:       version,
		logger:        logging.OrDefault(cfg.Logger),
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":  state,
		"service": "jstats",
		"version": h.version,
		"checks":  checks,
	})
}

// GetCatalog handles GET /api/v1/catalog
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bootstrap":       h.catalog.Bootstrap(),
		"identity_labels": h.catalog.IdentityLabels(),
		"categories":      h.catalog.Categories(),
		"header":          h.catalog.Header(),
	})
}

// GetTeams handles GET /api/v1/teams?season=2025&league=j1
func (h *Handler) GetTeams(w http.ResponseWriter, r *http.Request) {
	if h.teams == nil {
		respondError(w, http.StatusServiceUnavailable, "Team enumeration is not configured", nil)
		return
	}

	season, league, ok := h.seasonAndLeague(w, r.URL.Query().Get("season"), r.URL.Query().Get("league"))
	if !ok {
		return
	}

	teams, err := h.teams.Teams(r.Context(), season, league)
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to enumerate teams", err)
		return
	}
	if teams == nil {
		teams = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"season": season,
		"league": league,
		"teams":  teams,
	})
}

// GetTable handles GET /api/v1/tables/{season}/{league}/{team}. With
// ?format=csv the table is returned as the same BOM-prefixed CSV the
// collector writes.
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	if h.tables == nil {
		respondError(w, http.StatusServiceUnavailable, "Table storage is not configured", nil)
		return
	}

	vars := mux.Vars(r)
	season, league, ok := h.seasonAndLeague(w, vars["season"], vars["league"])
	if !ok {
		return
	}
	team := strings.ToLower(strings.TrimSpace(vars["team"]))

	table, run, err := h.tables.Latest(r.Context(), season, league, team)
	if errors.Is(err, repository.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, "No stored table for this collection", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load table", err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(team, season, string(league))+`"`)
		if err := export.WriteCSV(w, table); err != nil {
			h.logger.Warn("csv response failed", "error", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run":     run,
		"columns": table.Columns,
		"header":  table.Header,
		"rows":    table.Records(),
	})
}

type apiCollectionRequest struct {
	Season int    `json:"season"`
	League string `json:"league"`
	Team   string `json:"team"`
}

// HandleCollectionRequest handles POST /api/v1/collections
func (h *Handler) HandleCollectionRequest(w http.ResponseWriter, r *http.Request) {
	if h.collections == nil {
		respondError(w, http.StatusServiceUnavailable, "Collection service is not configured", nil)
		return
	}

	var req apiCollectionRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Season == 0 {
		req.Season = h.defaultSeason
	}

	job, err := h.collections.Enqueue(r.Context(), collector.Request{
		Season: req.Season,
		League: req.League,
		Team:   req.Team,
	})
	if errors.Is(err, collector.ErrInvalidSpec) {
		respondError(w, http.StatusBadRequest, "Invalid collection request", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue collection job", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{"job": job})
}

// HandleCollectionStatus handles GET /api/v1/collections/status
func (h *Handler) HandleCollectionStatus(w http.ResponseWriter, r *http.Request) {
	if h.collections == nil {
		respondError(w, http.StatusServiceUnavailable, "Collection service is not configured", nil)
		return
	}

	summary, err := h.collections.GetStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch status", err)
		return
	}

	respondJSON(w, http.StatusOK, buildStatusPayload(summary))
}

// GetCollection handles GET /api/v1/collections/{jobID}
func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	if h.collections == nil {
		respondError(w, http.StatusServiceUnavailable, "Collection service is not configured", nil)
		return
	}

	job, err := h.collections.GetJob(r.Context(), mux.Vars(r)["jobID"])
	if errors.Is(err, collector.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "Collection job not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch collection job", err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func buildStatusPayload(summary *collector.StatusSummary) map[string]interface{} {
	response := map[string]interface{}{
		"status":  "idle",
		"message": "No active jobs",
	}

	if summary.ActiveJob != nil {
		response["status"] = summary.ActiveJob.Status
		response["message"] = summary.ActiveJob.StatusMessage
		response["active_job"] = summary.ActiveJob
	}

	history := summary.History
	if history == nil {
		history = []*collector.Job{}
	}
	response["history"] = history
	return response
}

func (h *Handler) seasonAndLeague(w http.ResponseWriter, seasonStr, leagueStr string) (int, catalog.League, bool) {
	season := h.defaultSeason
	if seasonStr != "" {
		parsed, err := strconv.Atoi(seasonStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid season", err)
			return 0, "", false
		}
		season = parsed
	}

	if leagueStr == "" {
		leagueStr = string(catalog.J1)
	}
	league, err := catalog.ParseLeague(leagueStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid league", err)
		return 0, "", false
	}
	return season, league, true
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
