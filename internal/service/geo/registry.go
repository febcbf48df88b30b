// internal/service/geo/registry.go

package geo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"latent/internal/domain/geo"
)

// AnchorRegistryConfig contains configuration for the anchor registry
type AnchorRegistryConfig struct {
	TilePrecision int
	CacheTTL      time.Duration
	Limit         int
}

// AnchorRegistry fans anchor lookups out to every registered source and
// caches merged batches by tile
type AnchorRegistry struct {
	sources []geo.AnchorSource
	cache   geo.AnchorCache
	config  AnchorRegistryConfig
	logger  *zap.Logger
	group   singleflight.Group
	now     func() time.Time
	mu      sync.RWMutex
}

// NewAnchorRegistry creates a new registry. cache may be nil.
func NewAnchorRegistry(cache geo.AnchorCache, config AnchorRegistryConfig, logger *zap.Logger) *AnchorRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnchorRegistry{
		sources: []geo.AnchorSource{},
		cache:   cache,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// AddSource adds a source to the registry
func (r *AnchorRegistry) AddSource(source geo.AnchorSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = append(r.sources, source)
}

// Sources returns all registered sources
func (r *AnchorRegistry) Sources() []geo.AnchorSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]geo.AnchorSource, len(r.sources))
	copy(sources, r.sources)

	return sources
}

// Name implements geo.AnchorSource
func (r *AnchorRegistry) Name() string {
	return "registry"
}

// NearbyAnchors returns anchors near position sorted by distance from it
func (r *AnchorRegistry) NearbyAnchors(ctx context.Context, position geo.Position, radiusMeters float64) ([]geo.Anchor, error) {
	key := fmt.Sprintf("%s@%d", TileKey(position.Coordinates(), r.config.TilePrecision), int64(radiusMeters))

	if cached, ok := r.lookupCache(ctx, key); ok {
		return r.relativeTo(position, cached), nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		anchors, err := r.fetch(ctx, position, radiusMeters)
		if err != nil {
			return nil, err
		}
		r.storeCache(ctx, key, anchors)
		return anchors, nil
	})
	if err != nil {
		return nil, err
	}

	return r.relativeTo(position, v.([]geo.Anchor)), nil
}

// fetch queries every source concurrently and merges the results
func (r *AnchorRegistry) fetch(ctx context.Context, position geo.Position, radiusMeters float64) ([]geo.Anchor, error) {
	sources := r.Sources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("no anchor sources registered")
	}

	results := make([][]geo.Anchor, len(sources))
	g, gctx := errgroup.WithContext(ctx)

	for i, source := range sources {
		i, src := i, source
		g.Go(func() error {
			anchors, err := src.NearbyAnchors(gctx, position, radiusMeters)
			if err != nil {
				return fmt.Errorf("error from source %s: %w", src.Name(), err)
			}
			results[i] = anchors
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var merged []geo.Anchor
	for _, batch := range results {
		for _, a := range batch {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			merged = append(merged, a)
		}
	}

	return merged, nil
}

// relativeTo copies anchors, recomputes their distance from position, sorts
// them nearest first and applies the configured limit
func (r *AnchorRegistry) relativeTo(position geo.Position, anchors []geo.Anchor) []geo.Anchor {
	out := make([]geo.Anchor, len(anchors))
	copy(out, anchors)

	origin := position.Coordinates()
	for i := range out {
		out[i].DistanceMeters = Distance(origin, out[i].Coordinates())
	}

	SortByDistance(out)

	if r.config.Limit > 0 && len(out) > r.config.Limit {
		out = out[:r.config.Limit]
	}
	return out
}

func (r *AnchorRegistry) lookupCache(ctx context.Context, key string) ([]geo.Anchor, bool) {
	if r.cache == nil {
		return nil, false
	}

	batch, ok, err := r.cache.GetAnchors(ctx, key)
	if err != nil {
		r.logger.Warn("Anchor cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok || batch == nil {
		return nil, false
	}
	if r.config.CacheTTL > 0 && r.now().Sub(batch.FetchedAt) > r.config.CacheTTL {
		r.logger.Debug("Anchor cache entry expired", zap.String("key", key))
		return nil, false
	}

	return batch.Anchors, true
}

func (r *AnchorRegistry) storeCache(ctx context.Context, key string, anchors []geo.Anchor) {
	if r.cache == nil {
		return
	}

	batch := geo.CachedAnchors{Anchors: anchors, FetchedAt: r.now()}
	if err := r.cache.PutAnchors(ctx, key, batch); err != nil {
		r.logger.Warn("Anchor cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// SortByDistance orders anchors nearest first, keeping input order for ties
func SortByDistance(anchors []geo.Anchor) {
	sort.SliceStable(anchors, func(i, j int) bool {
		return anchors[i].DistanceMeters < anchors[j].DistanceMeters
	})
}
