package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aiovoice/recall/internal/observe"
)

// DefaultBaseToolkits are always loaded into the catalog regardless of what
// the account has connected.
var DefaultBaseToolkits = []string{"COMPOSIO_SEARCH", "COMPOSIO"}

// knownServices are multi-word service prefixes recognized when grouping
// slugs for display; anything else groups by its first word.
var knownServices = []string{
	"MICROSOFT_TEAMS",
	"COMPOSIO_SEARCH",
	"ONE_DRIVE",
}

// maxPages bounds pagination per toolkit against a server that never
// returns an empty cursor.
const maxPages = 50

// Catalog is the process-lifetime index of canonical slugs. Built once from
// the remote marketplace; membership only grows afterwards, through remote
// search discoveries.
type Catalog struct {
	obs    *observe.Observer
	client CatalogClient
	base   []string

	mu    sync.RWMutex
	built bool
	slugs map[string]struct{}
}

// NewCatalog builds an empty catalog over the marketplace client.
func NewCatalog(client CatalogClient, obs *observe.Observer) *Catalog {
	if obs == nil {
		obs = observe.Nop()
	}
	return &Catalog{
		obs:    obs,
		client: client,
		base:   append([]string{}, DefaultBaseToolkits...),
		slugs:  make(map[string]struct{}),
	}
}

// AddBaseToolkits extends the always-loaded toolkit set, typically from
// configuration. Call before Build.
func (c *Catalog) AddBaseToolkits(names ...string) {
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n != "" {
			c.base = append(c.base, n)
		}
	}
}

// Built reports whether a build completed.
func (c *Catalog) Built() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.built
}

// Build loads the slug index: the connected toolkits unioned with the base
// toolkits, each paged through the marketplace API. Idempotent once it has
// succeeded for at least one toolkit; individual toolkit failures are
// skipped and logged.
func (c *Catalog) Build(ctx context.Context) error {
	c.mu.RLock()
	done := c.built
	c.mu.RUnlock()
	if done {
		return nil
	}
	if c.client == nil {
		return errors.New("no catalog client configured")
	}

	ctx, span := c.obs.StartSpan(ctx, "catalog.build")
	defer span.End()

	connected, err := c.client.ConnectedToolkits(ctx)
	if err != nil {
		c.obs.Log().Warn().Err(err).Msg("connected toolkits unavailable, loading base toolkits only")
	}

	seen := make(map[string]bool)
	var toolkits []string
	for _, t := range append(append([]string{}, c.base...), connected...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		toolkits = append(toolkits, t)
	}

	loaded := 0
	var failed []string
	found := make(map[string]struct{})
	for _, toolkit := range toolkits {
		slugs, err := c.loadToolkit(ctx, toolkit)
		if err != nil {
			c.obs.Log().Warn().Str("toolkit", toolkit).Err(err).Msg("toolkit load failed, skipping")
			failed = append(failed, toolkit)
			continue
		}
		for _, s := range slugs {
			found[strings.ToUpper(s)] = struct{}{}
		}
		loaded++
	}

	if loaded == 0 {
		return fmt.Errorf("catalog build failed for all %d toolkits", len(toolkits))
	}

	c.mu.Lock()
	for s := range found {
		c.slugs[s] = struct{}{}
	}
	c.built = true
	total := len(c.slugs)
	c.mu.Unlock()

	c.obs.Log().Info().
		Int("slugs", total).
		Int("toolkits", loaded).
		Int("failed", len(failed)).
		Msg("tool catalog built")
	return nil
}

func (c *Catalog) loadToolkit(ctx context.Context, toolkit string) ([]string, error) {
	var all []string
	cursor := ""
	for page := 0; page < maxPages; page++ {
		slugs, next, err := c.client.ToolkitActions(ctx, toolkit, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, slugs...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
	return all, nil
}

// Add records a slug discovered after the build. Membership never shrinks.
func (c *Catalog) Add(slug string) {
	slug = strings.ToUpper(strings.TrimSpace(slug))
	if slug == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slugs[slug] = struct{}{}
}

// Contains reports exact membership.
func (c *Catalog) Contains(slug string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.slugs[slug]
	return ok
}

// Len reports the number of known slugs.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slugs)
}

// Slugs returns a sorted copy of the index.
func (c *Catalog) Slugs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.slugs))
	for s := range c.slugs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Groups partitions the slugs by inferred service prefix for display.
func (c *Catalog) Groups() map[string][]string {
	groups := make(map[string][]string)
	for _, s := range c.Slugs() {
		svc := serviceOf(s)
		groups[svc] = append(groups[svc], s)
	}
	return groups
}

func serviceOf(slug string) string {
	for _, svc := range knownServices {
		if strings.HasPrefix(slug, svc+"_") {
			return svc
		}
	}
	if i := strings.Index(slug, "_"); i > 0 {
		return slug[:i]
	}
	return slug
}
