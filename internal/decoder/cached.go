package decoder

import (
	"context"
	"os"
	"time"

	"github.com/entripy63/mix.4st.uk/internal/cache"
)

// Cached memoises successful probes so one run never probes a file twice.
// Entries are keyed on path and remember the size and modification time they
// were probed at, so a rewritten file is probed again.
type Cached struct {
	Gateway
	probes *cache.MemoryCache
}

type cachedProbe struct {
	size    int64
	modTime time.Time
	probe   Probe
}

// NewCached wraps gw with a probe cache holding results for ttl
func NewCached(gw Gateway, ttl time.Duration) *Cached {
	return &Cached{
		Gateway: gw,
		probes:  cache.NewMemoryCache(ttl, ttl),
	}
}

// Probe returns a cached result when the file is unchanged
func (c *Cached) Probe(ctx context.Context, path string) (Probe, error) {
	info, err := os.Stat(path)
	if err != nil {
		return c.Gateway.Probe(ctx, path)
	}

	if v, ok := c.probes.Get(path); ok {
		entry := v.(cachedProbe)
		if entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
			return entry.probe.clone(), nil
		}
		c.probes.Delete(path)
	}

	probe, err := c.Gateway.Probe(ctx, path)
	if err != nil {
		return probe, err
	}
	c.probes.Set(path, cachedProbe{size: info.Size(), modTime: info.ModTime(), probe: probe.clone()})
	return probe, nil
}

// Close releases the cache sweeper
func (c *Cached) Close() {
	c.probes.Close()
}
