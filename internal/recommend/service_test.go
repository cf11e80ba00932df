package recommend

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gamedex/gamedex-server/internal/config"
	"github.com/gamedex/gamedex-server/internal/expansion"
	"github.com/gamedex/gamedex-server/internal/provider"
	"github.com/gamedex/gamedex-server/internal/types"
)

func testRecommendConfig() config.RecommendConfig {
	return config.RecommendConfig{
		SuggestionTTL:     time.Minute,
		ProfileTTL:        time.Minute,
		CacheCapacity:     16,
		PrimaryRetries:    1,
		PrimaryRetryDelay: 2 * time.Millisecond,
	}
}

func testService(p, s provider.Client) *Service {
	o := testOrchestrator(p, s, 1)
	resolver := expansion.NewResolver(nil, o, nil, nil, testLogger())
	return NewService(o, resolver, testRecommendConfig(), nil, testLogger())
}

func suggestionsNamed(names ...string) string {
	items := make([]string, len(names))
	for i, n := range names {
		items[i] = fmt.Sprintf(`{"name":%q,"genre":"g","reason":"r"}`, n)
	}
	return `{"games":[` + strings.Join(items, ",") + `],"reasoning":"test"}`
}

func TestServiceSuggestGames_CachesByFingerprint(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(suggestionJSON)}
	secondary := &fakeClient{name: "gemini", respond: respondWith(suggestionJSON)}
	svc := testService(primary, secondary)

	first, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.FromCache {
		t.Error("first call must not be served from cache")
	}
	if primary.callCount() != 1 {
		t.Fatalf("expected one upstream call, got %d", primary.callCount())
	}

	second, err := svc.SuggestGames(context.Background(), "  COZY Farming Sims  ", 5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.FromCache {
		t.Error("identical query inside the TTL must be served from cache")
	}
	if !reflect.DeepEqual(first.Items, second.Items) {
		t.Errorf("cached payload differs: %+v vs %+v", first.Items, second.Items)
	}
	if primary.callCount() != 1 {
		t.Errorf("cache hit must not call upstream, saw %d calls", primary.callCount())
	}
	if secondary.callCount() != 0 {
		t.Errorf("secondary should never have been needed, saw %d calls", secondary.callCount())
	}
}

func TestServiceSuggestGames_CoalescesConcurrentCallers(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(suggestionJSON), delay: 50 * time.Millisecond}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(suggestionJSON)})

	const callers = 6
	results := make([]*types.SuggestionResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
		}(i)
	}
	wg.Wait()

	if primary.callCount() != 1 {
		t.Fatalf("expected exactly one upstream call for %d concurrent callers, got %d", callers, primary.callCount())
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if !reflect.DeepEqual(results[i].Items, results[0].Items) {
			t.Errorf("caller %d saw different payload", i)
		}
	}
}

func TestServiceSuggestGames_FailureCleansUpFlight(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: func(call int, req provider.GenerateRequest) (string, error) {
		if call == 1 {
			return "", authErr("openai", req.Model)
		}
		return suggestionJSON, nil
	}}
	secondary := &fakeClient{name: "gemini", respond: func(int, provider.GenerateRequest) (string, error) {
		return "", authErr("gemini", "model-b")
	}}
	svc := testService(primary, secondary)

	if _, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false); err == nil {
		t.Fatal("expected first call to fail")
	}

	result, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
	if err != nil {
		t.Fatalf("failed flight must not block later callers: %v", err)
	}
	if len(result.Items) == 0 {
		t.Fatal("expected suggestions on retry")
	}
	if primary.callCount() != 2 {
		t.Errorf("expected a fresh upstream attempt after the failed flight, saw %d calls", primary.callCount())
	}
}

func TestServiceSuggestGames_ForceRefreshBypassesReadNotWrite(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: func(call int, req provider.GenerateRequest) (string, error) {
		if call == 1 {
			return suggestionsNamed("Old Pick"), nil
		}
		return suggestionsNamed("New Pick"), nil
	}}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(suggestionJSON)})

	first, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Items[0].Name != "Old Pick" {
		t.Fatalf("unexpected first payload %+v", first.Items)
	}

	forced, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forced.FromCache {
		t.Error("forced refresh must not be served from cache")
	}
	if forced.Items[0].Name != "New Pick" {
		t.Errorf("forced refresh must hit upstream, got %+v", forced.Items)
	}
	if primary.callCount() != 2 {
		t.Fatalf("expected two upstream calls, got %d", primary.callCount())
	}

	cached, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cached.FromCache || cached.Items[0].Name != "New Pick" {
		t.Errorf("forced refresh must overwrite the cache entry, got %+v", cached)
	}
}

func TestServiceSuggestGames_FailedForceRefreshKeepsPriorEntry(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: func(call int, req provider.GenerateRequest) (string, error) {
		if call == 1 {
			return suggestionsNamed("Old Pick"), nil
		}
		return "", authErr("openai", req.Model)
	}}
	secondary := &fakeClient{name: "gemini", respond: func(int, provider.GenerateRequest) (string, error) {
		return "", authErr("gemini", "model-b")
	}}
	svc := testService(primary, secondary)

	if _, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false); err != nil {
		t.Fatalf("seed call failed: %v", err)
	}
	if _, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, true); err == nil {
		t.Fatal("expected forced refresh to fail")
	}

	after, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
	if err != nil {
		t.Fatalf("prior entry should still serve: %v", err)
	}
	if !after.FromCache || after.Items[0].Name != "Old Pick" {
		t.Errorf("failed forced refresh must leave the previous entry intact, got %+v", after)
	}
}

func TestServiceAnalyzeProfile_CachesInsights(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(profileJSON)}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(profileJSON)})

	first, err := svc.AnalyzeProfile(context.Background(), testLibrary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.FromCache || first.Degraded {
		t.Errorf("unexpected flags on fresh insights: %+v", first)
	}

	second, err := svc.AnalyzeProfile(context.Background(), testLibrary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.FromCache {
		t.Error("identical library must be served from cache")
	}
	if second.Summary != first.Summary {
		t.Errorf("cached summary differs: %q vs %q", second.Summary, first.Summary)
	}
	if primary.callCount() != 1 {
		t.Errorf("expected one upstream call, got %d", primary.callCount())
	}
}

func TestServiceAnalyzeProfile_DegradedNeverCached(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith("no JSON, just vibes")}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(profileJSON)})

	first, err := svc.AnalyzeProfile(context.Background(), testLibrary())
	if err != nil {
		t.Fatalf("degraded analysis must not error: %v", err)
	}
	if !first.Degraded {
		t.Fatal("expected degraded insights")
	}

	if _, err := svc.AnalyzeProfile(context.Background(), testLibrary()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.callCount() != 2 {
		t.Errorf("degraded result must not be cached; expected a fresh attempt, got %d calls", primary.callCount())
	}
}

func TestServiceLibraryRecommendations_FingerprintTracksLibrary(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(suggestionJSON)}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(suggestionJSON)})

	if _, err := svc.LibraryRecommendations(context.Background(), testLibrary(), 5, false, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.LibraryRecommendations(context.Background(), testLibrary(), 5, false, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.callCount() != 1 {
		t.Fatalf("unchanged library must be served from cache, got %d calls", primary.callCount())
	}

	changed := testLibrary()
	changed[0].Status = types.StatusCompleted
	if _, err := svc.LibraryRecommendations(context.Background(), changed, 5, false, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.callCount() != 2 {
		t.Errorf("library change must invalidate the fingerprint, got %d calls", primary.callCount())
	}
}

func TestServiceClearCaches(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(suggestionJSON)}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(suggestionJSON)})

	if _, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.ClearCaches()

	result, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FromCache {
		t.Error("cleared cache must not serve hits")
	}
	if primary.callCount() != 2 {
		t.Errorf("expected a fresh upstream call after clear, got %d", primary.callCount())
	}
}

func TestServiceSuggestGames_ValidatesInput(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(suggestionJSON)}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(suggestionJSON)})

	if _, err := svc.SuggestGames(context.Background(), "   ", 5, false); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := svc.LibraryRecommendations(context.Background(), nil, 5, false, nil); !errors.Is(err, ErrEmptyLibrary) {
		t.Errorf("expected ErrEmptyLibrary, got %v", err)
	}
	if _, err := svc.AnalyzeProfile(context.Background(), nil); !errors.Is(err, ErrEmptyLibrary) {
		t.Errorf("expected ErrEmptyLibrary, got %v", err)
	}
	if primary.callCount() != 0 {
		t.Errorf("validation failures must not reach upstream, saw %d calls", primary.callCount())
	}
}

func TestServiceSuggestGames_CountClampSharesFingerprint(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(suggestionJSON)}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(suggestionJSON)})

	if _, err := svc.SuggestGames(context.Background(), "cozy farming sims", 0, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(primary.prompts[0], "exactly 5") {
		t.Errorf("zero count must clamp to the default, prompt was %q", primary.prompts[0])
	}

	second, err := svc.SuggestGames(context.Background(), "cozy farming sims", 5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.FromCache {
		t.Error("clamped count and explicit default must share a fingerprint")
	}
	if primary.callCount() != 1 {
		t.Errorf("expected one upstream call, got %d", primary.callCount())
	}
}

func TestServiceAnalyzeProfileStream_EndToEnd(t *testing.T) {
	primary := &fakeClient{name: "openai", stream: func(int) (string, error) {
		return sseFor("{\"summary\":\"Replay-driven ", "roguelike fan.\",", "\"play_style\":\"die-and-retry\"}"), nil
	}}
	svc := testService(primary, &fakeClient{name: "gemini", stream: func(int) (string, error) {
		return sseFor("{\"summary\":\"secondary\"}"), nil
	}})

	var snaps []types.StreamingProgress
	for p := range svc.AnalyzeProfileStream(context.Background(), testLibrary()) {
		snaps = append(snaps, p)
	}

	if len(snaps) < 2 {
		t.Fatalf("expected partials plus terminal, got %d snapshots", len(snaps))
	}
	last := snaps[len(snaps)-1]
	if !last.Complete {
		t.Fatal("channel must end with a terminal snapshot")
	}
	if last.Insights == nil || last.Insights.PlayStyle != "die-and-retry" {
		t.Errorf("terminal snapshot missing insights: %+v", last.Insights)
	}
	for i := 1; i < len(snaps); i++ {
		if !strings.HasPrefix(snaps[i].PartialText, snaps[i-1].PartialText) {
			t.Errorf("snapshot %d does not extend snapshot %d", i, i-1)
		}
	}
	if primary.streamCallCount() != 1 {
		t.Errorf("expected one stream call, got %d", primary.streamCallCount())
	}
}

func TestServiceAnalyzeProfileStream_NotCachedOrCoalesced(t *testing.T) {
	primary := &fakeClient{name: "openai", stream: func(int) (string, error) {
		return sseFor("{\"summary\":\"fresh run\"}"), nil
	}}
	svc := testService(primary, &fakeClient{name: "gemini", stream: func(int) (string, error) {
		return sseFor("{\"summary\":\"secondary\"}"), nil
	}})

	for range svc.AnalyzeProfileStream(context.Background(), testLibrary()) {
	}
	for range svc.AnalyzeProfileStream(context.Background(), testLibrary()) {
	}
	if primary.streamCallCount() != 2 {
		t.Errorf("each streaming call must rerun the analysis, got %d stream calls", primary.streamCallCount())
	}
}

func TestServiceAnalyzeProfileStream_EmptyLibrary(t *testing.T) {
	svc := testService(
		&fakeClient{name: "openai", respond: respondWith(profileJSON)},
		&fakeClient{name: "gemini", respond: respondWith(profileJSON)},
	)

	var snaps []types.StreamingProgress
	for p := range svc.AnalyzeProfileStream(context.Background(), nil) {
		snaps = append(snaps, p)
	}
	if len(snaps) != 1 || !snaps[0].Complete || snaps[0].Error == "" {
		t.Fatalf("expected a single terminal error snapshot, got %+v", snaps)
	}
}

func TestServiceExpandStudio_NeverErrors(t *testing.T) {
	failing := func(int, provider.GenerateRequest) (string, error) {
		return "", authErr("x", "model")
	}
	primary := &fakeClient{name: "openai", respond: failing}
	secondary := &fakeClient{name: "gemini", respond: failing}
	svc := testService(primary, secondary)

	entry := svc.ExpandStudio(context.Background(), "Obscure Indie House")
	if entry.Parent != "Obscure Indie House" {
		t.Errorf("unexpected parent %q", entry.Parent)
	}
	if len(entry.Names) != 1 || entry.Names[0] != "Obscure Indie House" {
		t.Errorf("expected synthesized single-name entry, got %v", entry.Names)
	}
	if entry.Slugs != "obscure-indie-house" {
		t.Errorf("unexpected slugs %q", entry.Slugs)
	}
}

func TestServiceExpandStudio_StaticBeforeUpstream(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(`{"names":["Should Not Be Used"]}`)}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(`{"names":["x"]}`)})

	entry := svc.ExpandStudio(context.Background(), "nintendo")
	if entry.Parent != "Nintendo" {
		t.Errorf("expected static entry, got %+v", entry)
	}
	if primary.callCount() != 0 {
		t.Errorf("static hit must not reach upstream, saw %d calls", primary.callCount())
	}
}

func TestServiceExpandStudios_Batch(t *testing.T) {
	primary := &fakeClient{name: "openai", respond: respondWith(`{"names":["Upstream Sub"]}`)}
	svc := testService(primary, &fakeClient{name: "gemini", respond: respondWith(`{"names":["x"]}`)})

	got := svc.ExpandStudios(context.Background(), []string{"Nintendo", "Obscure Indie House"})
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got["Nintendo"].Parent != "Nintendo" {
		t.Errorf("static parent wrong: %+v", got["Nintendo"])
	}
	if got["Obscure Indie House"].Names[0] != "Upstream Sub" {
		t.Errorf("upstream parent wrong: %+v", got["Obscure Indie House"])
	}
}

func TestServiceSearchStudios(t *testing.T) {
	svc := testService(
		&fakeClient{name: "openai", respond: respondWith(suggestionJSON)},
		&fakeClient{name: "gemini", respond: respondWith(suggestionJSON)},
	)

	matches := svc.SearchStudios("naughty", false, true, 5)
	if len(matches) == 0 || matches[0].Name != "Naughty Dog" {
		t.Errorf("expected Naughty Dog, got %v", matches)
	}
}
