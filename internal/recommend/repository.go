package recommend

import (
	"context"
	"strings"

	"github.com/gamedex/gamedex-server/internal/extract"
	"github.com/gamedex/gamedex-server/internal/provider"
	"github.com/gamedex/gamedex-server/internal/types"
)

// Per-operation generation tuning. Suggestions want variety, expansion wants
// determinism.
const (
	suggestTemperature = 0.8
	suggestMaxTokens   = 1024

	libraryTemperature = 0.8
	libraryMaxTokens   = 1536

	profileTemperature = 0.6
	profileMaxTokens   = 1024

	expandTemperature = 0.2
	expandMaxTokens   = 256
)

// Repository binds one provider client to its model ladder and turns domain
// requests into prompt -> generate -> decode round trips. It holds no cache
// and no cross-provider logic; that is the orchestrator's job.
type Repository struct {
	client   provider.Client
	executor *provider.FallbackExecutor

	// Observe, when set, sees every successful upstream response. Wiring
	// uses it for token accounting and spend tracking.
	Observe func(ctx context.Context, resp *provider.GenerateResponse)

	// OnRetry mirrors the executor's per-model retry hook.
	OnRetry func(model string, kind provider.Kind)
}

func NewRepository(client provider.Client, models []string) *Repository {
	r := &Repository{
		client:   client,
		executor: provider.NewFallbackExecutor(models),
	}
	r.executor.OnRetry = func(model string, kind provider.Kind) {
		if r.OnRetry != nil {
			r.OnRetry(model, kind)
		}
	}
	return r
}

// Name reports the underlying provider's name.
func (r *Repository) Name() string { return r.client.Name() }

type suggestionPayload struct {
	Games []struct {
		Name   string `json:"name"`
		Genre  string `json:"genre"`
		Reason string `json:"reason"`
	} `json:"games"`
	Reasoning string `json:"reasoning"`
}

type profilePayload struct {
	Summary       string   `json:"summary"`
	TopGenres     []string `json:"top_genres"`
	PlayStyle     string   `json:"play_style"`
	SuggestedNext []string `json:"suggested_next"`
}

type expansionPayload struct {
	Names []string `json:"names"`
}

// SuggestGames asks the provider for count games matching a free-form query.
func (r *Repository) SuggestGames(ctx context.Context, query string, count int) (*types.SuggestionResult, error) {
	resp, err := r.generateJSON(ctx, suggestSystem, suggestPrompt(query, count), suggestTemperature, suggestMaxTokens)
	if err != nil {
		return nil, err
	}
	return r.decodeSuggestions(resp)
}

// LibraryRecommendations asks for count games personalized to the library.
func (r *Repository) LibraryRecommendations(ctx context.Context, games []types.OwnedGame, count int, exclude []string) (*types.SuggestionResult, error) {
	resp, err := r.generateJSON(ctx, suggestSystem, libraryPrompt(games, count, exclude), libraryTemperature, libraryMaxTokens)
	if err != nil {
		return nil, err
	}
	return r.decodeSuggestions(resp)
}

// AnalyzeProfile produces structured insights about the library. A response
// that cannot be parsed degrades to generic insights instead of failing;
// transport and provider failures still surface as errors.
func (r *Repository) AnalyzeProfile(ctx context.Context, games []types.OwnedGame) (*types.ProfileInsights, error) {
	resp, err := r.generateText(ctx, analystSystem, profilePrompt(games), profileTemperature, profileMaxTokens)
	if err != nil {
		return nil, err
	}
	insights := parseInsights(resp.Text)
	return &insights, nil
}

// ProfileStream runs a streaming library analysis, emitting one progress
// snapshot per received delta and a terminal snapshot carrying the parsed
// insights. A failure before the terminal snapshot is returned to the caller
// with nothing terminal emitted, so the caller can rerun elsewhere.
func (r *Repository) ProfileStream(ctx context.Context, games []types.OwnedGame, emit func(types.StreamingProgress)) error {
	req := provider.GenerateRequest{
		System:      analystSystem,
		Prompt:      profilePrompt(games),
		Temperature: profileTemperature,
		MaxTokens:   profileMaxTokens,
	}
	stream, err := r.executor.ExecuteStream(ctx, func(ctx context.Context, model string) (*provider.Stream, error) {
		req := req
		req.Model = model
		return r.client.GenerateStream(ctx, req)
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		_, err := stream.Recv()
		if err != nil {
			break
		}
		emit(types.StreamingProgress{PartialText: stream.Text()})
	}
	if stream.State() != provider.StreamComplete {
		return stream.Err()
	}

	insights := parseInsights(stream.Text())
	emit(types.StreamingProgress{
		PartialText: stream.Text(),
		Complete:    true,
		Insights:    &insights,
	})
	return nil
}

// ExpandStudio asks the provider for the subsidiary studios of parent.
func (r *Repository) ExpandStudio(ctx context.Context, parent string) ([]string, error) {
	resp, err := r.generateJSON(ctx, expandSystem, expandPrompt(parent), expandTemperature, expandMaxTokens)
	if err != nil {
		return nil, err
	}
	payload, err := extract.Decode[expansionPayload](resp.Text)
	if err != nil {
		return nil, &provider.Error{
			Kind:     provider.KindInvalidResponse,
			Provider: resp.Provider,
			Model:    resp.Model,
			Message:  err.Error(),
		}
	}
	names := make([]string, 0, len(payload.Names))
	for _, n := range payload.Names {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, &provider.Error{
			Kind:     provider.KindEmptyResponse,
			Provider: resp.Provider,
			Model:    resp.Model,
			Message:  "no studio names in response",
		}
	}
	return names, nil
}

func (r *Repository) decodeSuggestions(resp *provider.GenerateResponse) (*types.SuggestionResult, error) {
	payload, err := extract.Decode[suggestionPayload](resp.Text)
	if err != nil {
		return nil, &provider.Error{
			Kind:     provider.KindInvalidResponse,
			Provider: resp.Provider,
			Model:    resp.Model,
			Message:  err.Error(),
		}
	}
	if len(payload.Games) == 0 {
		return nil, &provider.Error{
			Kind:     provider.KindEmptyResponse,
			Provider: resp.Provider,
			Model:    resp.Model,
			Message:  "no suggestions in response",
		}
	}

	result := &types.SuggestionResult{
		Items:     make([]types.Suggestion, 0, len(payload.Games)),
		Reasoning: strings.TrimSpace(payload.Reasoning),
	}
	for _, g := range payload.Games {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			continue
		}
		result.Items = append(result.Items, types.Suggestion{
			Name:   name,
			Genre:  strings.TrimSpace(g.Genre),
			Reason: strings.TrimSpace(g.Reason),
		})
	}
	if len(result.Items) == 0 {
		return nil, &provider.Error{
			Kind:     provider.KindEmptyResponse,
			Provider: resp.Provider,
			Model:    resp.Model,
			Message:  "no usable suggestions in response",
		}
	}
	return result, nil
}

// parseInsights applies the degraded-default policy: unparseable analysis
// text yields generic insights, never an error.
func parseInsights(text string) types.ProfileInsights {
	payload, err := extract.Decode[profilePayload](text)
	if err != nil || strings.TrimSpace(payload.Summary) == "" {
		return types.GenericInsights()
	}
	return types.ProfileInsights{
		Summary:       strings.TrimSpace(payload.Summary),
		TopGenres:     payload.TopGenres,
		PlayStyle:     strings.TrimSpace(payload.PlayStyle),
		SuggestedNext: payload.SuggestedNext,
	}
}

func (r *Repository) generateJSON(ctx context.Context, system, prompt string, temp float64, maxTokens int) (*provider.GenerateResponse, error) {
	return r.executor.Execute(ctx, func(ctx context.Context, model string) (*provider.GenerateResponse, error) {
		resp, err := r.client.GenerateJSON(ctx, provider.GenerateRequest{
			Model:       model,
			System:      system,
			Prompt:      prompt,
			Temperature: temp,
			MaxTokens:   maxTokens,
		})
		r.observed(ctx, resp, err)
		return resp, err
	})
}

func (r *Repository) generateText(ctx context.Context, system, prompt string, temp float64, maxTokens int) (*provider.GenerateResponse, error) {
	return r.executor.Execute(ctx, func(ctx context.Context, model string) (*provider.GenerateResponse, error) {
		resp, err := r.client.GenerateText(ctx, provider.GenerateRequest{
			Model:       model,
			System:      system,
			Prompt:      prompt,
			Temperature: temp,
			MaxTokens:   maxTokens,
		})
		r.observed(ctx, resp, err)
		return resp, err
	})
}

func (r *Repository) observed(ctx context.Context, resp *provider.GenerateResponse, err error) {
	if err == nil && resp != nil && r.Observe != nil {
		r.Observe(ctx, resp)
	}
}
