package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/fortuna/lheq/internal/cache"
	"github.com/fortuna/lheq/internal/divisions"
	"github.com/fortuna/lheq/internal/gamefile"
	"github.com/fortuna/lheq/internal/service"
	"github.com/fortuna/lheq/internal/stats"
	"github.com/fortuna/lheq/internal/store"
	"github.com/fortuna/lheq/internal/store/repository"
)

var (
	errInvalidDocument = errors.New("document is not valid JSON")
	validGameID        = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	webDir        string
	gamesDir      string
	indexPath     string
	tournamentIDs []int64
	files         *FileCache
	league        *service.LeagueService
	db            *store.Database
	standings     *repository.StandingsRepository
	cache         *cache.RedisCache
	logger        zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(opts Options) *Handler {
	h := &Handler{
		webDir:        opts.WebDir,
		gamesDir:      opts.GamesDir,
		indexPath:     opts.GamesIndexPath,
		tournamentIDs: opts.TournamentScheduleIDs,
		files:         opts.Files,
		db:            opts.DB,
		cache:         opts.Cache,
		logger:        opts.Logger,
	}
	if len(h.tournamentIDs) == 0 {
		h.tournamentIDs = gamefile.DefaultTournamentScheduleIDs
	}
	if h.files == nil {
		h.files = NewFileCache()
	}
	if h.db != nil {
		h.standings = repository.NewStandingsRepository(h.db)
	}
	h.league = service.NewLeagueService(fileSource{h})
	return h
}

// HealthCheck reports the service and its optional backends.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{}

	if h.db != nil {
		checks["database"] = "ok"
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.cache != nil {
		checks["redis"] = "ok"
		if err := h.cache.HealthCheck(r.Context()); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":  state,
		"service": "lheq",
		"checks":  checks,
	})
}

// GetTeams handles GET /api/v1/teams
func (h *Handler) GetTeams(w http.ResponseWriter, r *http.Request) {
	suffix, ok := variant(w, r)
	if !ok {
		return
	}

	teams, err := h.loadTeams(suffix)
	if err != nil {
		h.respondLoadError(w, "Failed to load teams", err)
		return
	}

	if div := r.URL.Query().Get("division"); div != "" {
		key := divisions.Normalize(div)
		filtered := make([]stats.TeamStats, 0, len(teams))
		for _, t := range teams {
			if divisions.Normalize(t.Division) == key {
				filtered = append(filtered, t)
			}
		}
		teams = filtered
	}

	respondJSON(w, http.StatusOK, teams)
}

// GetTeam handles GET /api/v1/teams/{teamID}
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	suffix, ok := variant(w, r)
	if !ok {
		return
	}
	teamID := stats.ID(mux.Vars(r)["teamID"])

	teams, err := h.loadTeams(suffix)
	if err != nil {
		h.respondLoadError(w, "Failed to load teams", err)
		return
	}

	for _, t := range teams {
		if t.ID == teamID {
			respondJSON(w, http.StatusOK, t)
			return
		}
	}
	respondError(w, http.StatusNotFound, "Team not found", nil)
}

// GetPlayers handles GET /api/v1/players
func (h *Handler) GetPlayers(w http.ResponseWriter, r *http.Request) {
	suffix, ok := variant(w, r)
	if !ok {
		return
	}

	players, err := h.loadPlayers(suffix)
	if err != nil {
		h.respondLoadError(w, "Failed to load players", err)
		return
	}

	if teamID := r.URL.Query().Get("team_id"); teamID != "" {
		filtered := make([]stats.PlayerStats, 0, len(players))
		for _, p := range players {
			if string(p.TeamID) == teamID {
				filtered = append(filtered, p)
			}
		}
		players = filtered
	}

	respondJSON(w, http.StatusOK, players)
}

// GetGames handles GET /api/v1/games
func (h *Handler) GetGames(w http.ResponseWriter, r *http.Request) {
	want := gamefile.GameType(r.URL.Query().Get("game_type"))
	switch want {
	case "", gamefile.GameTypeSeason, gamefile.GameTypeTournament:
	default:
		respondError(w, http.StatusBadRequest, "Invalid game_type (use season or tournament)", nil)
		return
	}

	data, err := h.files.Load(h.indexPath)
	if err != nil {
		h.respondLoadError(w, "Failed to load games index", err)
		return
	}
	index := gjson.ParseBytes(data)
	if !index.IsArray() {
		respondError(w, http.StatusInternalServerError, "Games index is not a list", nil)
		return
	}

	games := make([]json.RawMessage, 0)
	index.ForEach(func(_, el gjson.Result) bool {
		if want != "" && gamefile.TypeOf([]byte(el.Raw), h.tournamentIDs) != want {
			return true
		}
		games = append(games, json.RawMessage(el.Raw))
		return true
	})

	respondJSON(w, http.StatusOK, games)
}

// GetGame handles GET /api/v1/games/{gameID}
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameID"]
	if !validGameID.MatchString(gameID) {
		respondError(w, http.StatusBadRequest, "Invalid game ID", nil)
		return
	}

	data, err := h.files.Load(filepath.Join(h.gamesDir, gameID+".json"))
	if err != nil {
		h.respondLoadError(w, "Failed to load game", err)
		return
	}
	respondJSON(w, http.StatusOK, json.RawMessage(data))
}

// GetLastRun handles GET /api/v1/stats/last-run
func (h *Handler) GetLastRun(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		respondError(w, http.StatusServiceUnavailable, "Redis is not configured", nil)
		return
	}

	raw, err := h.cache.Get(r.Context(), cache.LastRunKey)
	if errors.Is(err, cache.ErrMiss) {
		respondError(w, http.StatusNotFound, "No statistics run recorded", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read last run", err)
		return
	}
	respondJSON(w, http.StatusOK, json.RawMessage(raw))
}

// GetStandings handles GET /api/v1/standings
func (h *Handler) GetStandings(w http.ResponseWriter, r *http.Request) {
	if h.standings == nil {
		respondError(w, http.StatusServiceUnavailable, "Database is not configured", nil)
		return
	}
	suffix, ok := variant(w, r)
	if !ok {
		return
	}

	teams, err := h.standings.ListTeams(r.Context(), suffix)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch standings", err)
		return
	}
	if teams == nil {
		teams = []store.TeamStanding{}
	}
	respondJSON(w, http.StatusOK, teams)
}

// GetTeamProfile handles GET /api/v1/teams/{teamID}/profile
func (h *Handler) GetTeamProfile(w http.ResponseWriter, r *http.Request) {
	suffix, ok := variant(w, r)
	if !ok {
		return
	}

	profile, err := h.league.GetTeamProfile(suffix, stats.ID(mux.Vars(r)["teamID"]))
	if errors.Is(err, service.ErrTeamNotFound) {
		respondError(w, http.StatusNotFound, "Team not found", nil)
		return
	}
	if err != nil {
		h.respondLoadError(w, "Failed to load team profile", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// GetDivisions handles GET /api/v1/divisions
func (h *Handler) GetDivisions(w http.ResponseWriter, r *http.Request) {
	suffix, ok := variant(w, r)
	if !ok {
		return
	}

	groups, err := h.league.GetDivisionStandings(suffix)
	if err != nil {
		h.respondLoadError(w, "Failed to load divisions", err)
		return
	}
	respondJSON(w, http.StatusOK, groups)
}

// GetLeaders handles GET /api/v1/leaders?category=&limit=&min_games=
func (h *Handler) GetLeaders(w http.ResponseWriter, r *http.Request) {
	suffix, ok := variant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	category, err := service.ParseCategory(q.Get("category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category", err)
		return
	}
	limit, err := intParam(q.Get("limit"), 10)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	minGames, err := intParam(q.Get("min_games"), 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid min_games", err)
		return
	}

	leaders, err := h.league.GetLeaders(service.LeadersQuery{
		Suffix:   suffix,
		Category: category,
		Limit:    limit,
		MinGames: minGames,
	})
	if err != nil {
		h.respondLoadError(w, "Failed to load leaders", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"leaders":  leaders,
	})
}

func (h *Handler) loadTeams(suffix string) ([]stats.TeamStats, error) {
	var teams []stats.TeamStats
	if err := h.loadJSON(stats.TeamsPath(h.webDir, suffix), &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (h *Handler) loadJSON(path string, v interface{}) error {
	data, err := h.files.Load(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (h *Handler) loadPlayers(suffix string) ([]stats.PlayerStats, error) {
	var players []stats.PlayerStats
	if err := h.loadJSON(stats.PlayersPath(h.webDir, suffix), &players); err != nil {
		return nil, err
	}
	return players, nil
}

// fileSource serves the league service from the file cache.
type fileSource struct{ h *Handler }

func (s fileSource) Teams(suffix string) ([]stats.TeamStats, error)     { return s.h.loadTeams(suffix) }
func (s fileSource) Players(suffix string) ([]stats.PlayerStats, error) { return s.h.loadPlayers(suffix) }

func (h *Handler) respondLoadError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, os.ErrNotExist) {
		respondError(w, http.StatusNotFound, message, nil)
		return
	}
	h.logger.Error().Err(err).Msg(message)
	respondError(w, http.StatusInternalServerError, message, err)
}

// variant maps ?season_only= to a file suffix.
func variant(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("season_only")
	if raw == "" {
		return "", true
	}
	seasonOnly, err := strconv.ParseBool(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid season_only value", err)
		return "", false
	}
	if seasonOnly {
		return "_season", true
	}
	return "", true
}

// intParam parses a non-negative integer query value.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
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
