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

// Tier identifies which resolution step produced a match.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierSuffix
	TierPrefix
	TierWordSet
	TierSubstring
	TierOverlap
	TierRemote
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierSuffix:
		return "suffix"
	case TierPrefix:
		return "prefix"
	case TierWordSet:
		return "word-set"
	case TierSubstring:
		return "substring"
	case TierOverlap:
		return "word-overlap"
	case TierRemote:
		return "remote"
	default:
		return "none"
	}
}

// Result is a resolved slug. Trusted results came from an exact-grade tier
// or were confirmed by remote search; untrusted ones are local fuzzy guesses
// the remote catalog could not verify, and callers decide whether to confirm
// with the user before executing.
type Result struct {
	Slug    string
	Tier    Tier
	Trusted bool
}

// ErrDoNotRetry marks a slug the circuit breaker has retired. The error
// text is phrased for a language-model caller.
var ErrDoNotRetry = errors.New("do not retry")

// ErrNotFound means no tier produced a candidate.
var ErrNotFound = errors.New("no matching tool")

type doNotRetryError struct {
	slug string
}

func (e *doNotRetryError) Error() string {
	return fmt.Sprintf("Tool '%s' does not exist, do not retry", e.slug)
}

func (e *doNotRetryError) Is(target error) bool { return target == ErrDoNotRetry }

// prefixExpansions maps abbreviated service prefixes an LLM tends to emit
// onto the canonical ones. An expansion counts only when it lands on an
// exact catalog member.
var prefixExpansions = map[string]string{
	"TEAMS_":  "MICROSOFT_TEAMS_",
	"DRIVE_":  "GOOGLEDRIVE_",
	"GDRIVE_": "GOOGLEDRIVE_",
	"SEARCH_": "COMPOSIO_SEARCH_",
}

// breakerThreshold is the failure count at which a slug is retired.
const breakerThreshold = 2

// Resolver maps loose tool identifiers to canonical slugs. Tiers 1-3
// (exact, unique suffix, prefix expansion) are trusted as-is; tiers 4-6
// (word-set containment, substring, word overlap) are fuzzy and always
// trigger a remote verification search, whose hit overrides the local
// guess. Safe for concurrent use.
type Resolver struct {
	obs     *observe.Observer
	catalog *Catalog
	client  CatalogClient

	mu       sync.Mutex
	failures map[string]int
}

// NewResolver builds a resolver over the catalog. client runs verification
// searches and may be nil, in which case fuzzy matches stay unverified.
func NewResolver(catalog *Catalog, client CatalogClient, obs *observe.Observer) *Resolver {
	if obs == nil {
		obs = observe.Nop()
	}
	return &Resolver{
		obs:      obs,
		catalog:  catalog,
		client:   client,
		failures: make(map[string]int),
	}
}

// Resolve maps input to a canonical slug. A slug the breaker has retired
// short-circuits with ErrDoNotRetry before any resolution work.
func (r *Resolver) Resolve(ctx context.Context, input string) (Result, error) {
	slug := normalize(input)
	if slug == "" {
		return Result{}, errors.New("empty tool identifier")
	}

	if r.tripped(slug) {
		return Result{}, &doNotRetryError{slug: slug}
	}

	ctx, span := r.obs.StartSpan(ctx, "resolve")
	defer span.End()

	if !r.catalog.Built() {
		if err := r.catalog.Build(ctx); err != nil {
			r.obs.Log().Warn().Err(err).Msg("catalog build failed, resolving against known slugs")
		}
	}

	// tier 1: exact
	if r.catalog.Contains(slug) {
		return Result{Slug: slug, Tier: TierExact, Trusted: true}, nil
	}

	slugs := r.catalog.Slugs()

	// tier 2: unique suffix
	var suffixMatches []string
	for _, s := range slugs {
		if strings.HasSuffix(s, slug) {
			suffixMatches = append(suffixMatches, s)
		}
	}
	if len(suffixMatches) == 1 {
		return Result{Slug: suffixMatches[0], Tier: TierSuffix, Trusted: true}, nil
	}

	// tier 3: known prefix expansion onto an exact member
	for _, abbr := range sortedKeys(prefixExpansions) {
		if !strings.HasPrefix(slug, abbr) {
			continue
		}
		candidate := prefixExpansions[abbr] + strings.TrimPrefix(slug, abbr)
		if r.catalog.Contains(candidate) {
			return Result{Slug: candidate, Tier: TierPrefix, Trusted: true}, nil
		}
	}

	// tiers 4-6 are fuzzy; any guess needs remote confirmation
	guess, tier := fuzzyMatch(slug, slugs)

	if remote := r.verifyRemote(ctx, slug); remote != "" {
		r.catalog.Add(remote)
		r.obs.Log().Debug().
			Str("input", slug).
			Str("resolved", remote).
			Msg("remote search resolved tool")
		return Result{Slug: remote, Tier: TierRemote, Trusted: true}, nil
	}

	if guess != "" {
		r.obs.Log().Debug().
			Str("input", slug).
			Str("guess", guess).
			Str("tier", tier.String()).
			Msg("unverified tool guess")
		return Result{Slug: guess, Tier: tier, Trusted: false}, nil
	}

	count := r.recordFailure(slug)
	r.obs.Log().Warn().
		Str("input", slug).
		Int("failures", count).
		Msg("tool resolution failed")
	return Result{}, fmt.Errorf("%w for %q", ErrNotFound, input)
}

// ReportFailure feeds an execution failure back into the breaker. The
// dispatcher calls this when a resolved tool errors out remotely.
func (r *Resolver) ReportFailure(slug string) {
	r.recordFailure(normalize(slug))
}

// ReportSuccess resets the slug's failure count.
func (r *Resolver) ReportSuccess(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, normalize(slug))
}

func (r *Resolver) tripped(slug string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[slug] >= breakerThreshold
}

func (r *Resolver) recordFailure(slug string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[slug]++
	return r.failures[slug]
}

// verifyRemote free-text searches the catalog for the input's words and
// returns the best hit, or "" when the search misses or is unavailable.
func (r *Resolver) verifyRemote(ctx context.Context, slug string) string {
	if r.client == nil {
		return ""
	}
	query := strings.ToLower(strings.Join(words(slug), " "))
	found, err := r.client.SearchActions(ctx, query)
	if err != nil {
		r.obs.Log().Debug().Err(err).Msg("catalog search unavailable")
		return ""
	}
	if len(found) == 0 {
		return ""
	}
	return strings.ToUpper(found[0])
}

// fuzzyMatch runs tiers 4-6 and returns the best local guess with its tier,
// or "" when nothing plausible exists.
func fuzzyMatch(slug string, slugs []string) (string, Tier) {
	inputWords := words(slug)

	// tier 4: every input word appears in the candidate; fewest extra words
	// wins, ties break lexicographically
	best := ""
	bestExtra := -1
	for _, s := range slugs {
		cw := wordSet(s)
		if !containsAll(cw, inputWords) {
			continue
		}
		extra := len(cw) - len(inputWords)
		if best == "" || extra < bestExtra || (extra == bestExtra && s < best) {
			best, bestExtra = s, extra
		}
	}
	if best != "" {
		return best, TierWordSet
	}

	// tier 5: literal substring; unique match or the shortest of several
	var subs []string
	for _, s := range slugs {
		if strings.Contains(s, slug) {
			subs = append(subs, s)
		}
	}
	if len(subs) > 0 {
		sort.Slice(subs, func(i, j int) bool {
			if len(subs[i]) != len(subs[j]) {
				return len(subs[i]) < len(subs[j])
			}
			return subs[i] < subs[j]
		})
		return subs[0], TierSubstring
	}

	// tier 6: at least two overlapping words, most overlap wins
	best = ""
	bestOverlap := 0
	for _, s := range slugs {
		n := overlap(wordSet(s), inputWords)
		if n > bestOverlap || (n == bestOverlap && n > 0 && best != "" && s < best) {
			best, bestOverlap = s, n
		}
	}
	if bestOverlap >= 2 {
		return best, TierOverlap
	}

	return "", TierNone
}

func normalize(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

func words(slug string) []string {
	var out []string
	for _, w := range strings.Split(slug, "_") {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func wordSet(slug string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range words(slug) {
		set[w] = true
	}
	return set
}

func containsAll(set map[string]bool, ws []string) bool {
	for _, w := range ws {
		if !set[w] {
			return false
		}
	}
	return true
}

func overlap(set map[string]bool, ws []string) int {
	n := 0
	for _, w := range ws {
		if set[w] {
			n++
		}
	}
	return n
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
