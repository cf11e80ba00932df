package expansion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gamedex/gamedex-server/internal/cache"
	"github.com/gamedex/gamedex-server/internal/telemetry"
	"github.com/gamedex/gamedex-server/internal/types"
)

// Upstream is the LLM-backed expansion query, satisfied by the recommend
// orchestrator.
type Upstream interface {
	ExpandStudio(ctx context.Context, parent string) ([]string, error)
}

// PersistentTier is the durable middle tier, satisfied by *Store.
type PersistentTier interface {
	Get(ctx context.Context, normalized string) (types.ExpansionEntry, bool)
	Put(ctx context.Context, normalized string, entry types.ExpansionEntry)
}

// Resolver walks the three expansion tiers in order: static table,
// persistent store, upstream query. A static hit never descends. Upstream
// calls for the same parent are coalesced, and a successful upstream result
// is written back into the store. Resolution never fails: when everything
// else is exhausted a minimal entry is synthesized from the input.
type Resolver struct {
	store    PersistentTier
	upstream Upstream
	flights  *cache.Coalescer[types.ExpansionEntry]
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewResolver(store PersistentTier, upstream Upstream, flights *cache.Coalescer[types.ExpansionEntry], metrics *telemetry.Metrics, logger *slog.Logger) *Resolver {
	if store == nil {
		store = (*Store)(nil)
	}
	if flights == nil {
		flights = cache.NewCoalescer[types.ExpansionEntry]()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		upstream: upstream,
		flights:  flights,
		metrics:  metrics,
		logger:   logger,
	}
}

// Expand resolves parent into its subsidiaries.
func (r *Resolver) Expand(ctx context.Context, parent string) types.ExpansionEntry {
	norm := normalizeName(parent)
	if norm == "" {
		return synthesize(parent)
	}

	if entry, ok := staticLookup(norm); ok {
		r.metrics.RecordExpansion("static")
		return entry
	}
	if entry, ok := r.store.Get(ctx, norm); ok {
		r.metrics.RecordExpansion("cache")
		return entry
	}

	entry, joined, err := r.flights.Do(ctx, "expand|"+norm, func(ctx context.Context) (types.ExpansionEntry, error) {
		names, err := r.upstream.ExpandStudio(ctx, parent)
		if err != nil {
			return types.ExpansionEntry{}, err
		}
		entry := buildEntry(parent, names)
		r.store.Put(ctx, norm, entry)
		return entry, nil
	})
	if joined {
		r.metrics.RecordCoalescedJoin()
	}
	if err != nil {
		r.metrics.RecordExpansion("synthesized")
		r.logger.Warn("studio expansion failed, synthesizing fallback", "parent", parent, "error", err)
		return synthesize(parent)
	}
	r.metrics.RecordExpansion("upstream")
	return entry
}

// ExpandAll expands every parent concurrently and joins the results, keyed
// by the original input strings.
func (r *Resolver) ExpandAll(ctx context.Context, parents []string) map[string]types.ExpansionEntry {
	out := make(map[string]types.ExpansionEntry, len(parents))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range parents {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			entry := r.Expand(ctx, p)
			mu.Lock()
			out[p] = entry
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return out
}

// synthesize builds the fallback entry used when no tier can answer: the
// parent alone, slugged.
func synthesize(parent string) types.ExpansionEntry {
	return types.ExpansionEntry{
		Parent: parent,
		Names:  []string{parent},
		Slugs:  slugify(parent),
	}
}
