package recommend

import (
	"context"
	"log/slog"
	"time"

	"github.com/gamedex/gamedex-server/internal/provider"
	"github.com/gamedex/gamedex-server/internal/telemetry"
	"github.com/gamedex/gamedex-server/internal/types"
)

// Orchestrator runs every operation against the primary repository first and
// fails over to the secondary. Rate-limit failures earn the primary a small
// number of delayed retries before failover; every other failure goes to the
// secondary immediately. Secondary failures propagate, there is no third
// tier. Cancellation always propagates untouched.
type Orchestrator struct {
	primary   *Repository
	secondary *Repository
	breakers  *provider.BreakerSet
	retries   int
	delay     time.Duration
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

func NewOrchestrator(primary, secondary *Repository, breakers *provider.BreakerSet, retries int, delay time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		primary:   primary,
		secondary: secondary,
		breakers:  breakers,
		retries:   retries,
		delay:     delay,
		metrics:   metrics,
		logger:    logger,
	}
}

func (o *Orchestrator) SuggestGames(ctx context.Context, query string, count int) (*types.SuggestionResult, error) {
	return failover(ctx, o, "suggest", func(ctx context.Context, r *Repository) (*types.SuggestionResult, error) {
		return r.SuggestGames(ctx, query, count)
	})
}

func (o *Orchestrator) LibraryRecommendations(ctx context.Context, games []types.OwnedGame, count int, exclude []string) (*types.SuggestionResult, error) {
	return failover(ctx, o, "library", func(ctx context.Context, r *Repository) (*types.SuggestionResult, error) {
		return r.LibraryRecommendations(ctx, games, count, exclude)
	})
}

func (o *Orchestrator) AnalyzeProfile(ctx context.Context, games []types.OwnedGame) (*types.ProfileInsights, error) {
	return failover(ctx, o, "profile", func(ctx context.Context, r *Repository) (*types.ProfileInsights, error) {
		return r.AnalyzeProfile(ctx, games)
	})
}

func (o *Orchestrator) ExpandStudio(ctx context.Context, parent string) ([]string, error) {
	return failover(ctx, o, "expand", func(ctx context.Context, r *Repository) ([]string, error) {
		return r.ExpandStudio(ctx, parent)
	})
}

// StreamProfile streams the analysis through emit. A primary failure at any
// point, including mid-stream, discards whatever partial text was emitted
// and reruns the secondary stream from the beginning; snapshots carry the
// full accumulated text, so consumers self-correct. When both providers
// fail, the terminal snapshot carries the error description.
func (o *Orchestrator) StreamProfile(ctx context.Context, games []types.OwnedGame, emit func(types.StreamingProgress)) error {
	primaryName := o.primary.Name()
	if o.breakers.Allow(primaryName) {
		err := o.primary.ProfileStream(ctx, games, emit)
		if err == nil {
			o.breakers.RecordSuccess(primaryName)
			o.metrics.RecordUpstream(primaryName, "profile_stream", "success")
			return nil
		}
		if provider.Canceled(err) {
			return err
		}
		o.breakers.RecordFailure(primaryName)
		o.metrics.RecordUpstream(primaryName, "profile_stream", outcomeOf(err))
		o.logger.Warn("primary stream failed, rerunning on secondary",
			"provider", primaryName, "error", err)
	} else {
		o.logger.Warn("primary circuit open, streaming from secondary", "provider", primaryName)
		o.metrics.RecordUpstream(primaryName, "profile_stream", "circuit_open")
	}

	o.metrics.RecordFailover("profile_stream")
	secondaryName := o.secondary.Name()
	err := o.secondary.ProfileStream(ctx, games, emit)
	if err != nil {
		if provider.Canceled(err) {
			return err
		}
		o.breakers.RecordFailure(secondaryName)
		o.metrics.RecordUpstream(secondaryName, "profile_stream", outcomeOf(err))
		emit(types.StreamingProgress{Complete: true, Error: err.Error()})
		return err
	}
	o.breakers.RecordSuccess(secondaryName)
	o.metrics.RecordUpstream(secondaryName, "profile_stream", "success")
	return nil
}

// failover is the shared primary-then-secondary ladder. It is a package
// function because methods cannot take type parameters.
func failover[T any](ctx context.Context, o *Orchestrator, op string, fn func(ctx context.Context, r *Repository) (T, error)) (T, error) {
	var zero T

	primaryName := o.primary.Name()
	if o.breakers.Allow(primaryName) {
		var lastErr error
		for attempt := 0; ; attempt++ {
			out, err := fn(ctx, o.primary)
			if err == nil {
				o.breakers.RecordSuccess(primaryName)
				o.metrics.RecordUpstream(primaryName, op, "success")
				return out, nil
			}
			if provider.Canceled(err) {
				return zero, err
			}
			o.breakers.RecordFailure(primaryName)
			o.metrics.RecordUpstream(primaryName, op, outcomeOf(err))
			lastErr = err

			pe, ok := provider.AsError(err)
			if !ok || pe.Kind != provider.KindRateLimited || attempt >= o.retries {
				break
			}
			o.logger.Warn("primary rate limited, retrying",
				"op", op, "provider", primaryName, "attempt", attempt+1, "delay", o.delay)
			timer := time.NewTimer(o.delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}
		o.logger.Warn("primary provider failed, failing over",
			"op", op, "provider", primaryName, "error", lastErr)
	} else {
		o.logger.Warn("primary circuit open, using secondary", "op", op, "provider", primaryName)
		o.metrics.RecordUpstream(primaryName, op, "circuit_open")
	}

	o.metrics.RecordFailover(op)
	secondaryName := o.secondary.Name()
	out, err := fn(ctx, o.secondary)
	if err != nil {
		if provider.Canceled(err) {
			return zero, err
		}
		o.breakers.RecordFailure(secondaryName)
		o.metrics.RecordUpstream(secondaryName, op, outcomeOf(err))
		return zero, err
	}
	o.breakers.RecordSuccess(secondaryName)
	o.metrics.RecordUpstream(secondaryName, op, "success")
	return out, nil
}

func outcomeOf(err error) string {
	if pe, ok := provider.AsError(err); ok {
		return string(pe.Kind)
	}
	return "error"
}
