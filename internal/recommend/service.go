package recommend

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gamedex/gamedex-server/internal/cache"
	"github.com/gamedex/gamedex-server/internal/config"
	"github.com/gamedex/gamedex-server/internal/expansion"
	"github.com/gamedex/gamedex-server/internal/provider"
	"github.com/gamedex/gamedex-server/internal/telemetry"
	"github.com/gamedex/gamedex-server/internal/types"
)

var (
	ErrEmptyQuery   = errors.New("query must not be empty")
	ErrEmptyLibrary = errors.New("library must not be empty")
)

const (
	defaultSuggestionCount = 5
	maxSuggestionCount     = 20
)

// Service is the facade the rest of the application talks to. It owns the
// response caches, the in-flight coalescers, the failover orchestrator, and
// the expansion resolver; callers hold a single *Service constructed at
// startup.
type Service struct {
	orch           *Orchestrator
	expansions     *expansion.Resolver
	suggestions    *cache.Cache[types.SuggestionResult]
	profiles       *cache.Cache[types.ProfileInsights]
	suggestFlights *cache.Coalescer[types.SuggestionResult]
	profileFlights *cache.Coalescer[types.ProfileInsights]
	metrics        *telemetry.Metrics
	logger         *slog.Logger
}

func NewService(orch *Orchestrator, expansions *expansion.Resolver, cfg config.RecommendConfig, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orch:           orch,
		expansions:     expansions,
		suggestions:    cache.New[types.SuggestionResult](cfg.CacheCapacity, cfg.SuggestionTTL),
		profiles:       cache.New[types.ProfileInsights](cfg.CacheCapacity, cfg.ProfileTTL),
		suggestFlights: cache.NewCoalescer[types.SuggestionResult](),
		profileFlights: cache.NewCoalescer[types.ProfileInsights](),
		metrics:        metrics,
		logger:         logger,
	}
}

// SuggestGames returns count games matching a free-form query. Identical
// queries inside the TTL window are served from cache; concurrent identical
// queries share one upstream call. forceRefresh bypasses the cache read but
// never the write, and a failed refresh leaves any previous entry intact.
func (s *Service) SuggestGames(ctx context.Context, query string, count int, forceRefresh bool) (*types.SuggestionResult, error) {
	if isBlank(query) {
		return nil, ErrEmptyQuery
	}
	count = clampCount(count)

	fp := suggestFingerprint(query, count)
	return s.cachedSuggestions(ctx, fp, forceRefresh, func(ctx context.Context) (*types.SuggestionResult, error) {
		return s.orch.SuggestGames(ctx, query, count)
	})
}

// LibraryRecommendations returns count games personalized to the owned-game
// list, excluding any names in exclude. Caching and coalescing follow the
// same rules as SuggestGames; the fingerprint covers the library contents,
// so edits to the library naturally miss the cache.
func (s *Service) LibraryRecommendations(ctx context.Context, games []types.OwnedGame, count int, forceRefresh bool, exclude []string) (*types.SuggestionResult, error) {
	if len(games) == 0 {
		return nil, ErrEmptyLibrary
	}
	count = clampCount(count)

	fp := libraryFingerprint(games, count, exclude)
	return s.cachedSuggestions(ctx, fp, forceRefresh, func(ctx context.Context) (*types.SuggestionResult, error) {
		return s.orch.LibraryRecommendations(ctx, games, count, exclude)
	})
}

func (s *Service) cachedSuggestions(ctx context.Context, fp string, forceRefresh bool, fetch func(ctx context.Context) (*types.SuggestionResult, error)) (*types.SuggestionResult, error) {
	if forceRefresh {
		s.metrics.RecordCacheEvent("suggestions", "bypass")
	} else if entry, ok := s.suggestions.Get(fp); ok {
		s.metrics.RecordCacheEvent("suggestions", "hit")
		out := entry.Value
		out.FromCache = true
		return &out, nil
	} else {
		s.metrics.RecordCacheEvent("suggestions", "miss")
	}

	result, joined, err := s.suggestFlights.Do(ctx, fp, func(ctx context.Context) (types.SuggestionResult, error) {
		res, err := fetch(ctx)
		if err != nil {
			return types.SuggestionResult{}, err
		}
		s.suggestions.Put(fp, *res)
		s.metrics.RecordCacheEvent("suggestions", "store")
		return *res, nil
	})
	if joined {
		s.metrics.RecordCoalescedJoin()
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AnalyzeProfile produces insights about the library. Results are cached by
// a fingerprint of the library contents. Degraded generic insights (from an
// unparseable model response) are returned but never cached, so the next
// caller gets a fresh attempt at a real analysis.
func (s *Service) AnalyzeProfile(ctx context.Context, games []types.OwnedGame) (*types.ProfileInsights, error) {
	if len(games) == 0 {
		return nil, ErrEmptyLibrary
	}

	fp := profileFingerprint(games)
	if entry, ok := s.profiles.Get(fp); ok {
		s.metrics.RecordCacheEvent("profiles", "hit")
		out := entry.Value
		out.FromCache = true
		return &out, nil
	}
	s.metrics.RecordCacheEvent("profiles", "miss")

	insights, joined, err := s.profileFlights.Do(ctx, fp, func(ctx context.Context) (types.ProfileInsights, error) {
		res, err := s.orch.AnalyzeProfile(ctx, games)
		if err != nil {
			return types.ProfileInsights{}, err
		}
		if !res.Degraded {
			s.profiles.Put(fp, *res)
			s.metrics.RecordCacheEvent("profiles", "store")
		}
		return *res, nil
	})
	if joined {
		s.metrics.RecordCoalescedJoin()
	}
	if err != nil {
		return nil, err
	}
	return &insights, nil
}

// AnalyzeProfileStream runs a streaming analysis and returns a channel of
// progress snapshots. The sequence is finite: it ends with one terminal
// snapshot (Complete=true) carrying either parsed insights or an error
// description, after which the channel closes. Streamed analyses are never
// cached and never coalesced; each call is an independent upstream run.
func (s *Service) AnalyzeProfileStream(ctx context.Context, games []types.OwnedGame) <-chan types.StreamingProgress {
	ch := make(chan types.StreamingProgress, 16)
	if len(games) == 0 {
		ch <- types.StreamingProgress{Complete: true, Error: ErrEmptyLibrary.Error()}
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		err := s.orch.StreamProfile(ctx, games, func(p types.StreamingProgress) {
			select {
			case ch <- p:
			case <-ctx.Done():
			}
		})
		if err != nil && provider.Canceled(err) {
			s.logger.Debug("profile stream canceled by caller")
		}
	}()
	return ch
}

// ExpandStudio resolves a parent studio into its subsidiaries. It never
// fails; see the resolver for tier semantics.
func (s *Service) ExpandStudio(ctx context.Context, parent string) types.ExpansionEntry {
	return s.expansions.Expand(ctx, parent)
}

// ExpandStudios expands several parents concurrently.
func (s *Service) ExpandStudios(ctx context.Context, parents []string) map[string]types.ExpansionEntry {
	return s.expansions.ExpandAll(ctx, parents)
}

// SearchStudios ranks static-table studios matching query.
func (s *Service) SearchStudios(query string, includePublishers, includeDevelopers bool, limit int) []types.StudioMatch {
	return expansion.SearchStudios(query, includePublishers, includeDevelopers, limit)
}

// ClearCaches synchronously drops every suggestion and profile entry. Called
// when the owned-game set changed in a way that invalidates prior answers.
func (s *Service) ClearCaches() {
	s.suggestions.Clear()
	s.profiles.Clear()
	s.metrics.RecordCacheEvent("suggestions", "clear")
	s.metrics.RecordCacheEvent("profiles", "clear")
	s.logger.Info("recommendation caches cleared")
}

func clampCount(count int) int {
	switch {
	case count <= 0:
		return defaultSuggestionCount
	case count > maxSuggestionCount:
		return maxSuggestionCount
	default:
		return count
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
