package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gamedex/gamedex-server/internal/auth"
	"github.com/gamedex/gamedex-server/internal/config"
	"github.com/gamedex/gamedex-server/internal/expansion"
	"github.com/gamedex/gamedex-server/internal/provider"
	"github.com/gamedex/gamedex-server/internal/ratelimit"
	"github.com/gamedex/gamedex-server/internal/recommend"
	"github.com/gamedex/gamedex-server/internal/types"
)

const testKey = "gdx-test-abcdefghijklmnopqrstuvwxyz012345"

const suggestionJSON = `{"games":[` +
	`{"name":"Coral Island","genre":"Simulation","reason":"Cozy farming with reefs"},` +
	`{"name":"Fae Farm","genre":"Simulation","reason":"Relaxed co-op farming"}],` +
	`"reasoning":"Both match the brief"}`

const profileJSON = `{"summary":"A completionist who favors long RPGs.",` +
	`"top_genres":["RPG"],"play_style":"completionist"}`

// fakeAI is an in-memory provider.Client scripted per call.
type fakeAI struct {
	name string

	mu          sync.Mutex
	calls       int
	streamCalls int
	prompts     []string

	respond func(call int, req provider.GenerateRequest) (string, error)
	stream  func(call int) (string, error)
}

func (f *fakeAI) Name() string { return f.name }

func (f *fakeAI) GenerateText(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResponse, error) {
	return f.generate(req)
}

func (f *fakeAI) GenerateJSON(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResponse, error) {
	return f.generate(req)
}

func (f *fakeAI) generate(req provider.GenerateRequest) (*provider.GenerateResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()

	text, err := f.respond(call, req)
	if err != nil {
		return nil, err
	}
	return &provider.GenerateResponse{
		Provider: f.name,
		Model:    req.Model,
		Text:     text,
		Usage:    provider.Usage{PromptTokens: 80, CompletionTokens: 40, TotalTokens: 120},
	}, nil
}

func (f *fakeAI) GenerateStream(ctx context.Context, req provider.GenerateRequest) (*provider.Stream, error) {
	f.mu.Lock()
	f.streamCalls++
	call := f.streamCalls
	f.mu.Unlock()

	body, err := f.stream(call)
	if err != nil {
		return nil, err
	}
	return provider.NewStream(f.name, req.Model, io.NopCloser(strings.NewReader(body)), decodeTestChunk), nil
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func decodeTestChunk(data []byte) (string, bool, error) {
	var c struct {
		Delta string `json:"delta"`
		Done  bool   `json:"done"`
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return "", false, err
	}
	return c.Delta, c.Done, nil
}

func sseBody(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		fmt.Fprintf(&b, "data: {\"delta\":%q}\n\n", d)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func respondWith(text string) func(int, provider.GenerateRequest) (string, error) {
	return func(int, provider.GenerateRequest) (string, error) { return text, nil }
}

func upstreamAuthErr(name string) func(int, provider.GenerateRequest) (string, error) {
	return func(int, provider.GenerateRequest) (string, error) {
		return "", &provider.Error{Kind: provider.KindAuthentication, Provider: name, Model: "m", Status: http.StatusUnauthorized, Message: "bad key"}
	}
}

func upstreamRateLimit(name string) func(int, provider.GenerateRequest) (string, error) {
	return func(int, provider.GenerateRequest) (string, error) {
		return "", &provider.Error{Kind: provider.KindRateLimited, Provider: name, Model: "m", Status: http.StatusTooManyRequests, Message: "quota"}
	}
}

// fakeLibrary is an in-memory LibraryStore.
type fakeLibrary struct {
	mu      sync.Mutex
	games   map[string][]types.OwnedGame
	listErr error
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{games: make(map[string][]types.OwnedGame)}
}

func (f *fakeLibrary) ListByDevice(ctx context.Context, deviceID string) ([]types.OwnedGame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.games[deviceID], nil
}

func (f *fakeLibrary) ReplaceLibrary(ctx context.Context, deviceID string, games []types.OwnedGame) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games[deviceID] = games
	return len(games), nil
}

// mockKeys is an in-memory auth.KeyStore holding one test device key.
type mockKeys struct {
	keys map[string]*auth.KeyMetadata
}

func (m *mockKeys) Lookup(ctx context.Context, keyHash string) (*auth.KeyMetadata, error) {
	meta, ok := m.keys[keyHash]
	if !ok {
		return nil, nil
	}
	return meta, nil
}

type stack struct {
	primary   *fakeAI
	secondary *fakeAI
	lib       *fakeLibrary
	router    chi.Router
}

func newStack(primary, secondary *fakeAI) *stack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch := recommend.NewOrchestrator(
		recommend.NewRepository(primary, []string{"gpt-4o-mini"}),
		recommend.NewRepository(secondary, []string{"gemini-flash"}),
		provider.NewBreakerSet(3, 50*time.Millisecond),
		1, 2*time.Millisecond, nil, logger,
	)
	resolver := expansion.NewResolver(nil, orch, nil, nil, logger)
	svc := recommend.NewService(orch, resolver, config.RecommendConfig{
		SuggestionTTL:     time.Minute,
		ProfileTTL:        time.Minute,
		CacheCapacity:     16,
		PrimaryRetries:    1,
		PrimaryRetryDelay: 2 * time.Millisecond,
	}, nil, logger)

	lib := newFakeLibrary()
	h := NewHandler(svc, lib, nil)

	keys := &mockKeys{keys: map[string]*auth.KeyMetadata{
		auth.HashKey(testKey): {
			ID:        "key-1",
			DeviceID:  "device-1",
			Name:      "Test Phone",
			Platform:  "android",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}}

	return &stack{
		primary:   primary,
		secondary: secondary,
		lib:       lib,
		router:    NewRouter(h, keys, ratelimit.NewLimiter(nil), ratelimit.NewSpendTracker(nil), config.RateLimitConfig{DefaultRPM: 1000}, nil, "test"),
	}
}

func (s *stack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func sampleGames() []types.OwnedGame {
	return []types.OwnedGame{
		{ID: "g1", Name: "Hades", Status: types.StatusCompleted, Rating: 9.5, HoursPlayed: 80},
		{ID: "g2", Name: "Celeste", Status: types.StatusPlaying, Rating: 9.0, HoursPlayed: 20},
	}
}

func TestSuggestions_EndToEnd(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/suggestions", map[string]any{"query": "cozy farming sims", "count": 2})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	result := decodeResponse[types.SuggestionResult](t, rec)
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
	if result.Items[0].Name != "Coral Island" {
		t.Errorf("unexpected first item: %+v", result.Items[0])
	}
	if secondary.callCount() != 0 {
		t.Errorf("secondary should not be called, got %d", secondary.callCount())
	}
}

func TestSuggestions_EmptyQuery(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/suggestions", map[string]any{"query": "   "})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if primary.callCount() != 0 {
		t.Errorf("no upstream call expected, got %d", primary.callCount())
	}
}

func TestSuggestions_MissingAuth(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	body, _ := json.Marshal(map[string]any{"query": "cozy farming sims"})
	req := httptest.NewRequest(http.MethodPost, "/v1/suggestions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSuggestions_BothProvidersDown(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: upstreamAuthErr("openai")}
	secondary := &fakeAI{name: "gemini", respond: upstreamAuthErr("gemini")}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/suggestions", map[string]any{"query": "cozy farming sims"})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &apiErr)
	if apiErr.Error.Code != "provider_failed" {
		t.Errorf("expected provider_failed, got %q", apiErr.Error.Code)
	}
}

func TestSuggestions_UpstreamRateLimited(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: upstreamRateLimit("openai")}
	secondary := &fakeAI{name: "gemini", respond: upstreamRateLimit("gemini")}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/suggestions", map[string]any{"query": "cozy farming sims"})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSuggestions_InvalidJSONBody(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/suggestions", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRecommendations_InlineGames(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/recommendations", map[string]any{
		"games": sampleGames(),
		"count": 2,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeResponse[types.SuggestionResult](t, rec)
	if len(result.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(result.Items))
	}
}

func TestRecommendations_FallsBackToStoredLibrary(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)
	s.lib.games["device-1"] = sampleGames()

	rec := s.do(t, http.MethodPost, "/v1/recommendations", map[string]any{"count": 2})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	s.primary.mu.Lock()
	prompt := s.primary.prompts[0]
	s.primary.mu.Unlock()
	if !strings.Contains(prompt, "Hades") {
		t.Errorf("prompt should carry the stored library, got: %s", prompt)
	}
}

func TestRecommendations_NoGamesAnywhere(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/recommendations", map[string]any{"count": 2})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if primary.callCount() != 0 {
		t.Errorf("no upstream call expected, got %d", primary.callCount())
	}
}

func TestProfileInsights_EndToEnd(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(profileJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(profileJSON)}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/profile/insights", map[string]any{"games": sampleGames()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	insights := decodeResponse[types.ProfileInsights](t, rec)
	if insights.Summary != "A completionist who favors long RPGs." {
		t.Errorf("unexpected summary: %q", insights.Summary)
	}
	if insights.Degraded {
		t.Error("well-formed analysis must not be degraded")
	}
}

func TestProfileInsightsStream_SSE(t *testing.T) {
	primary := &fakeAI{
		name: "openai",
		stream: func(int) (string, error) {
			return sseBody(`{"summary":"Loves roguelikes."`, `,"play_style":"explorer"}`), nil
		},
	}
	secondary := &fakeAI{name: "gemini", stream: func(int) (string, error) {
		return "", &provider.Error{Kind: provider.KindNetwork, Provider: "gemini", Model: "m", Message: "unused"}
	}}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodPost, "/v1/profile/insights/stream", map[string]any{"games": sampleGames()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "data: [DONE]") {
		t.Error("stream should end with a [DONE] marker")
	}

	snapshots := parseSSE(t, rec.Body.String())
	if len(snapshots) < 2 {
		t.Fatalf("expected at least 2 snapshots, got %d", len(snapshots))
	}
	last := snapshots[len(snapshots)-1]
	if !last.Complete {
		t.Fatal("last snapshot must be terminal")
	}
	if last.Insights == nil || last.Insights.Summary != "Loves roguelikes." {
		t.Errorf("unexpected terminal insights: %+v", last.Insights)
	}
	for _, p := range snapshots[:len(snapshots)-1] {
		if p.Complete {
			t.Error("only the last snapshot may be terminal")
		}
	}
}

func TestProfileInsightsStream_EmptyLibrary(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(profileJSON)},
		&fakeAI{name: "gemini", respond: respondWith(profileJSON)},
	)

	rec := s.do(t, http.MethodPost, "/v1/profile/insights/stream", map[string]any{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExpandStudio_StaticHit(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)

	rec := s.do(t, http.MethodGet, "/v1/studios/expand?name=Nintendo", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entry := decodeResponse[types.ExpansionEntry](t, rec)
	if entry.Parent != "Nintendo" {
		t.Errorf("expected parent Nintendo, got %q", entry.Parent)
	}
	if len(entry.Names) < 2 {
		t.Errorf("expected subsidiaries, got %v", entry.Names)
	}
	if primary.callCount() != 0 {
		t.Errorf("static expansion must not hit upstream, got %d calls", primary.callCount())
	}
}

func TestExpandStudio_MissingName(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	rec := s.do(t, http.MethodGet, "/v1/studios/expand", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExpandStudios_Batch(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	rec := s.do(t, http.MethodPost, "/v1/studios/expand", map[string]any{
		"names": []string{"Nintendo", "Valve"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[expandBatchResponse](t, rec)
	if len(resp.Expansions) != 2 {
		t.Fatalf("expected 2 expansions, got %d", len(resp.Expansions))
	}
	if resp.Expansions["Nintendo"].Parent != "Nintendo" {
		t.Errorf("missing Nintendo expansion: %+v", resp.Expansions)
	}
}

func TestExpandStudios_EmptyNames(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	rec := s.do(t, http.MethodPost, "/v1/studios/expand", map[string]any{"names": []string{}})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchStudios_Query(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	rec := s.do(t, http.MethodGet, "/v1/studios/search?q=ubisoft&limit=3", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse[searchResponse](t, rec)
	if len(resp.Matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if resp.Matches[0].Name != "Ubisoft" {
		t.Errorf("expected exact match first, got %q", resp.Matches[0].Name)
	}
	if len(resp.Matches) > 3 {
		t.Errorf("limit not honored, got %d matches", len(resp.Matches))
	}
}

func TestSearchStudios_MissingQuery(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	rec := s.do(t, http.MethodGet, "/v1/studios/search", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLibrary_GetAndReplace(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	rec := s.do(t, http.MethodGet, "/v1/library", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse[libraryResponse](t, rec)
	if resp.Count != 0 {
		t.Fatalf("expected empty library, got %d", resp.Count)
	}

	rec = s.do(t, http.MethodPut, "/v1/library", map[string]any{"games": sampleGames()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	replaced := decodeResponse[replaceLibraryResponse](t, rec)
	if replaced.Replaced != 2 {
		t.Fatalf("expected 2 replaced, got %d", replaced.Replaced)
	}

	rec = s.do(t, http.MethodGet, "/v1/library", nil)
	resp = decodeResponse[libraryResponse](t, rec)
	if resp.Count != 2 {
		t.Errorf("expected 2 games after replace, got %d", resp.Count)
	}
}

func TestReplaceLibrary_InvalidStatus(t *testing.T) {
	s := newStack(
		&fakeAI{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeAI{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	rec := s.do(t, http.MethodPut, "/v1/library", map[string]any{
		"games": []map[string]any{{"id": "g1", "name": "Hades", "status": "GRINDING"}},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReplaceLibrary_ClearsRecommendationCaches(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)

	body := map[string]any{"query": "cozy farming sims"}
	s.do(t, http.MethodPost, "/v1/suggestions", body)
	s.do(t, http.MethodPost, "/v1/suggestions", body)
	if primary.callCount() != 1 {
		t.Fatalf("expected cached second call, got %d upstream calls", primary.callCount())
	}

	rec := s.do(t, http.MethodPut, "/v1/library", map[string]any{"games": sampleGames()})
	if rec.Code != http.StatusOK {
		t.Fatalf("replace failed: %d", rec.Code)
	}

	s.do(t, http.MethodPost, "/v1/suggestions", body)
	if primary.callCount() != 2 {
		t.Errorf("library replace should clear caches, got %d upstream calls", primary.callCount())
	}
}

func TestClearCache_Endpoint(t *testing.T) {
	primary := &fakeAI{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeAI{name: "gemini", respond: respondWith(suggestionJSON)}
	s := newStack(primary, secondary)

	body := map[string]any{"query": "cozy farming sims"}
	s.do(t, http.MethodPost, "/v1/suggestions", body)

	rec := s.do(t, http.MethodPost, "/v1/cache/clear", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	s.do(t, http.MethodPost, "/v1/suggestions", body)
	if primary.callCount() != 2 {
		t.Errorf("expected fresh upstream call after clear, got %d", primary.callCount())
	}
}

func parseSSE(t *testing.T, body string) []types.StreamingProgress {
	t.Helper()
	var out []types.StreamingProgress
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var p types.StreamingProgress
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			t.Fatalf("bad snapshot %q: %v", data, err)
		}
		out = append(out, p)
	}
	return out
}
