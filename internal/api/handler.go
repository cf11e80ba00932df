package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gamedex/gamedex-server/internal/auth"
	"github.com/gamedex/gamedex-server/internal/httputil"
	"github.com/gamedex/gamedex-server/internal/provider"
	"github.com/gamedex/gamedex-server/internal/recommend"
	"github.com/gamedex/gamedex-server/internal/telemetry"
	"github.com/gamedex/gamedex-server/internal/types"
)

// LibraryStore is the owned-game persistence the recommendation endpoints
// fall back to when a request body carries no games.
type LibraryStore interface {
	ListByDevice(ctx context.Context, deviceID string) ([]types.OwnedGame, error)
	ReplaceLibrary(ctx context.Context, deviceID string, games []types.OwnedGame) (int, error)
}

// Handler holds dependencies for the device-facing HTTP handlers.
type Handler struct {
	svc     *recommend.Service
	library LibraryStore
	metrics *telemetry.Metrics
}

func NewHandler(svc *recommend.Service, library LibraryStore, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		svc:     svc,
		library: library,
		metrics: metrics,
	}
}

type suggestionsRequest struct {
	Query        string `json:"query"`
	Count        int    `json:"count"`
	ForceRefresh bool   `json:"force_refresh"`
}

// Suggestions handles POST /v1/suggestions
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req suggestionsRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}

	result, err := h.svc.SuggestGames(r.Context(), req.Query, req.Count, req.ForceRefresh)
	if err != nil {
		writeServiceError(w, reqID, err)
		return
	}

	writeJSON(w, reqID, result)
}

type recommendationsRequest struct {
	Games        []types.OwnedGame `json:"games,omitempty"`
	Count        int               `json:"count"`
	ForceRefresh bool              `json:"force_refresh"`
	Exclude      []string          `json:"exclude,omitempty"`
}

// Recommendations handles POST /v1/recommendations
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req recommendationsRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}

	games, ok := h.resolveGames(w, r, reqID, req.Games)
	if !ok {
		return
	}

	result, err := h.svc.LibraryRecommendations(r.Context(), games, req.Count, req.ForceRefresh, req.Exclude)
	if err != nil {
		writeServiceError(w, reqID, err)
		return
	}

	writeJSON(w, reqID, result)
}

type profileRequest struct {
	Games []types.OwnedGame `json:"games,omitempty"`
}

// ProfileInsights handles POST /v1/profile/insights
func (h *Handler) ProfileInsights(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req profileRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}

	games, ok := h.resolveGames(w, r, reqID, req.Games)
	if !ok {
		return
	}

	insights, err := h.svc.AnalyzeProfile(r.Context(), games)
	if err != nil {
		writeServiceError(w, reqID, err)
		return
	}

	writeJSON(w, reqID, insights)
}

// ProfileInsightsStream handles POST /v1/profile/insights/stream
func (h *Handler) ProfileInsightsStream(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req profileRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}

	games, ok := h.resolveGames(w, r, reqID, req.Games)
	if !ok {
		return
	}
	if len(games) == 0 {
		httputil.WriteBadRequestError(w, reqID, recommend.ErrEmptyLibrary.Error())
		return
	}

	h.streamInsights(w, reqID, h.svc.AnalyzeProfileStream(r.Context(), games))
}

// ExpandStudio handles GET /v1/studios/expand
func (h *Handler) ExpandStudio(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.WriteBadRequestError(w, reqID, "name query parameter is required")
		return
	}

	entry := h.svc.ExpandStudio(r.Context(), name)
	writeJSON(w, reqID, entry)
}

type expandBatchRequest struct {
	Names []string `json:"names"`
}

type expandBatchResponse struct {
	Expansions map[string]types.ExpansionEntry `json:"expansions"`
}

// ExpandStudios handles POST /v1/studios/expand
func (h *Handler) ExpandStudios(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req expandBatchRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if len(req.Names) == 0 {
		httputil.WriteBadRequestError(w, reqID, "names is required")
		return
	}

	expansions := h.svc.ExpandStudios(r.Context(), req.Names)
	writeJSON(w, reqID, expandBatchResponse{Expansions: expansions})
}

type searchResponse struct {
	Matches []types.StudioMatch `json:"matches"`
}

// SearchStudios handles GET /v1/studios/search
func (h *Handler) SearchStudios(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	q := r.URL.Query().Get("q")
	if q == "" {
		httputil.WriteBadRequestError(w, reqID, "q query parameter is required")
		return
	}

	publishers := boolParam(r, "publishers", true)
	developers := boolParam(r, "developers", true)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	matches := h.svc.SearchStudios(q, publishers, developers, limit)
	writeJSON(w, reqID, searchResponse{Matches: matches})
}

type libraryResponse struct {
	Games []types.OwnedGame `json:"games"`
	Count int               `json:"count"`
}

// GetLibrary handles GET /v1/library
func (h *Handler) GetLibrary(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	device, ok := auth.DeviceFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}
	if h.library == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Library storage is not configured")
		return
	}

	games, err := h.library.ListByDevice(r.Context(), device.DeviceID)
	if err != nil {
		slog.Error("library list failed", "error", err, "request_id", reqID, "device_id", device.DeviceID)
		httputil.WriteInternalError(w, reqID, "Failed to load library")
		return
	}

	writeJSON(w, reqID, libraryResponse{Games: games, Count: len(games)})
}

type replaceLibraryRequest struct {
	Games []types.OwnedGame `json:"games"`
}

type replaceLibraryResponse struct {
	Replaced int `json:"replaced"`
}

// ReplaceLibrary handles PUT /v1/library. Replacing the library invalidates
// every cached recommendation and profile.
func (h *Handler) ReplaceLibrary(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	device, ok := auth.DeviceFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}
	if h.library == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Library storage is not configured")
		return
	}

	var req replaceLibraryRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	for _, g := range req.Games {
		if g.Name == "" {
			httputil.WriteBadRequestError(w, reqID, "every game needs a name")
			return
		}
		if _, ok := types.ParseGameStatus(string(g.Status)); !ok {
			httputil.WriteBadRequestError(w, reqID, "unknown status "+string(g.Status)+" for game "+g.Name)
			return
		}
	}

	n, err := h.library.ReplaceLibrary(r.Context(), device.DeviceID, req.Games)
	if err != nil {
		slog.Error("library replace failed", "error", err, "request_id", reqID, "device_id", device.DeviceID)
		httputil.WriteInternalError(w, reqID, "Failed to replace library")
		return
	}

	h.svc.ClearCaches()
	writeJSON(w, reqID, replaceLibraryResponse{Replaced: n})
}

// ClearCache handles POST /v1/cache/clear
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	h.svc.ClearCaches()
	writeJSON(w, reqID, map[string]string{"status": "cleared"})
}

// resolveGames returns inline games when present, otherwise the device's
// stored library. A false return means the response was already written.
func (h *Handler) resolveGames(w http.ResponseWriter, r *http.Request, reqID string, inline []types.OwnedGame) ([]types.OwnedGame, bool) {
	if len(inline) > 0 {
		return inline, true
	}

	device, ok := auth.DeviceFromContext(r.Context())
	if !ok || h.library == nil {
		// The service rejects empty libraries with a proper error.
		return nil, true
	}

	games, err := h.library.ListByDevice(r.Context(), device.DeviceID)
	if err != nil {
		slog.Error("library fallback failed", "error", err, "request_id", reqID, "device_id", device.DeviceID)
		httputil.WriteInternalError(w, reqID, "Failed to load library")
		return nil, false
	}
	return games, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, reqID string, dest any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, dest); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, reqID string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", reqID)
	json.NewEncoder(w).Encode(payload)
}

func boolParam(r *http.Request, name string, fallback bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// writeServiceError maps recommendation-layer failures onto the API error
// envelope. Cancellation writes nothing: the client is already gone.
func writeServiceError(w http.ResponseWriter, reqID string, err error) {
	if errors.Is(err, recommend.ErrEmptyQuery) || errors.Is(err, recommend.ErrEmptyLibrary) {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}
	if provider.Canceled(err) {
		return
	}
	if pe, ok := provider.AsError(err); ok {
		slog.Warn("upstream failure reached client", "request_id", reqID,
			"provider", pe.Provider, "kind", string(pe.Kind))
		if pe.Kind == provider.KindRateLimited {
			httputil.WriteRateLimitError(w, reqID, "AI providers are rate limited. Try again shortly.")
			return
		}
		httputil.WriteUpstreamError(w, reqID, "AI providers are unavailable ("+string(pe.Kind)+")")
		return
	}
	slog.Error("unclassified failure", "error", err, "request_id", reqID)
	httputil.WriteInternalError(w, reqID, "Unexpected error")
}
