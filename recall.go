// Package recall is the memory and context engine for a voice agent: session
// short-term memory, TTL context caches, a persistent hybrid-search memory
// store, markdown journal files, automatic fact capture, a tool-slug resolver
// with a failure breaker, and a bounded background pool for tool calls.
//
// The Engine is the single entry point. Its operations never return errors to
// the caller: a broken subsystem logs, degrades and yields zero values, so the
// conversation loop keeps speaking no matter what fails underneath.
package recall

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aiovoice/recall/internal/cache"
	"github.com/aiovoice/recall/internal/capture"
	"github.com/aiovoice/recall/internal/dispatch"
	"github.com/aiovoice/recall/internal/embed"
	"github.com/aiovoice/recall/internal/journal"
	"github.com/aiovoice/recall/internal/memstore"
	"github.com/aiovoice/recall/internal/observe"
	"github.com/aiovoice/recall/internal/resolve"
	"github.com/aiovoice/recall/internal/session"
)

// ToolExecutor runs a resolved action against whatever transport the host
// application uses. Wire one in with SetExecutor before Start; without it,
// submitted tool calls fail with a speakable message.
type ToolExecutor interface {
	Execute(ctx context.Context, slug string, args map[string]any) (string, error)
}

type noExecutor struct{}

func (noExecutor) Execute(context.Context, string, map[string]any) (string, error) {
	return "", errors.New("no tool executor configured")
}

// Engine owns every memory subsystem and exposes the flat operation surface
// the voice pipeline calls. Construct with New, wire an executor, Start, and
// Close on shutdown. All methods are safe for concurrent use.
type Engine struct {
	cfg Config
	obs *observe.Observer

	caches   *cache.Manager
	sessions *session.Memory
	embedder *embed.Lazy
	store    *memstore.Store
	catalog  *resolve.Catalog
	resolver *resolve.Resolver
	bus      *dispatch.Bus
	journal  *journal.Writer
	capture  *capture.Capturer

	mu       sync.Mutex
	executor ToolExecutor
	pool     *dispatch.Pool
	started  bool
	closed   bool
}

// New wires the engine from configuration. No goroutines run and no files
// are touched until Start.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var obs *observe.Observer
	if cfg.JSONLogs {
		obs = observe.NewJSON(os.Stderr, cfg.Verbose)
	} else {
		obs = observe.New(os.Stderr, cfg.Verbose)
	}

	e := &Engine{
		cfg:      cfg,
		obs:      obs,
		caches:   cache.NewManager(obs),
		sessions: session.New(obs),
		bus:      dispatch.NewBus(),
		journal:  journal.New(cfg.JournalDir, obs),
		capture:  capture.New(obs),
		executor: noExecutor{},
	}
	e.caches.SetSweepInterval(time.Duration(cfg.SweepInterval))
	e.caches.SetOnSweep(func(removed int) {
		e.bus.PublishWithData(dispatch.EventSweepCompleted, "", map[string]interface{}{
			"removed": removed,
		})
	})

	var vectors memstore.Embedder
	if cfg.Embedder.Provider != ProviderOff {
		e.embedder = embed.New(embed.Config{
			Provider: cfg.Embedder.Provider,
			Model:    cfg.Embedder.Model,
			Dims:     cfg.Embedder.Dims,
			BaseURL:  cfg.Embedder.BaseURL,
			APIKey:   cfg.Embedder.APIKey,
		}, obs)
		vectors = e.embedder
	} else {
		obs.Log().Info().Msg("embeddings disabled, memory search is keyword-only")
	}
	e.store = memstore.New(cfg.Dir, vectors, obs)

	var client resolve.CatalogClient
	if cfg.Catalog.APIKey != "" {
		httpClient, err := resolve.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.APIKey)
		if err != nil {
			return nil, fmt.Errorf("catalog client: %w", err)
		}
		client = httpClient
	} else {
		obs.Log().Info().Msg("no catalog key configured, tool resolution is local-only")
	}
	e.catalog = resolve.NewCatalog(client, obs)
	e.catalog.AddBaseToolkits(cfg.Catalog.BaseToolkits...)
	e.resolver = resolve.NewResolver(e.catalog, client, obs)

	return e, nil
}

// SetExecutor wires the host's tool transport. Must be called before Start;
// later calls are ignored.
func (e *Engine) SetExecutor(x ToolExecutor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || x == nil {
		return
	}
	e.executor = x
}

// Start initializes persistence and launches the background goroutines: the
// cache sweeper, the tool worker pool, and a catalog prewarm when a remote
// catalog is configured. A failing store is logged and skipped; the engine
// runs degraded rather than refusing to start.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	executor := e.executor
	e.pool = dispatch.NewPool(e.resolver, executorAdapter{executor}, e.bus, e.cfg.Workers, e.obs)
	pool := e.pool
	e.mu.Unlock()

	if err := e.store.Init(ctx); err != nil {
		e.obs.Log().Warn().Err(err).Msg("memory store unavailable, running without persistence")
	}
	if err := e.journal.EnsureFiles(); err != nil {
		e.obs.Log().Warn().Err(err).Msg("journal directory unavailable")
	}

	e.caches.Start(ctx)
	pool.Start(ctx)

	if e.cfg.Catalog.APIKey != "" {
		go func() {
			if err := e.catalog.Build(ctx); err != nil {
				e.obs.Log().Warn().Err(err).Msg("catalog prewarm failed")
			}
		}()
	}

	e.obs.Log().Info().
		Str("dir", e.cfg.Dir).
		Int("workers", e.cfg.Workers).
		Msg("recall engine started")
}

// Close stops the background goroutines and releases the store and embedder.
// Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pool := e.pool
	e.mu.Unlock()

	if pool != nil {
		pool.Stop()
	}
	e.caches.Stop()
	if err := e.store.Close(); err != nil {
		e.obs.Log().Warn().Err(err).Msg("store close failed")
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			e.obs.Log().Warn().Err(err).Msg("embedder close failed")
		}
	}
	e.obs.Log().Info().Msg("recall engine closed")
	_ = e.obs.Close()
}

// executorAdapter narrows the public ToolExecutor to the pool's interface.
type executorAdapter struct {
	x ToolExecutor
}

func (a executorAdapter) Execute(ctx context.Context, slug string, args map[string]interface{}) (string, error) {
	return a.x.Execute(ctx, slug, args)
}

// StartSession loads the journal context for a new conversation and warms
// the session cache. The returned string is ready to inject into the agent's
// system context; it is empty only if the journal directory is unusable.
func (e *Engine) StartSession(ctx context.Context, sessionID string) string {
	_, span := e.obs.StartSpan(ctx, "StartSession")
	defer span.End()

	if err := e.journal.EnsureFiles(); err != nil {
		e.obs.Log().Warn().Str("session", sessionID).Err(err).Msg("journal unavailable at session start")
	}
	memoryContext := e.journal.LoadContext(e.cfg.ContextTokens)

	e.caches.SetSessionContext(sessionID, map[string]any{
		"session_id": sessionID,
		"started_at": time.Now(),
	})

	e.obs.Log().Info().
		Str("session", sessionID).
		Int("context_chars", len(memoryContext)).
		Msg("session started")
	return memoryContext
}

// ObserveUtterance scans one user utterance for memory-worthy facts. Matches
// queue silently and persist when the session ends.
func (e *Engine) ObserveUtterance(sessionID, text string) {
	captured, ok := e.capture.Scan(sessionID, text)
	if !ok {
		return
	}
	e.bus.PublishWithData(dispatch.EventMemoryCaptured, sessionID, map[string]interface{}{
		"text": captured,
	})
}

// RegisterTool binds a tool name to a session-memory category. Tools not
// registered here classify as "general"; call at startup for any tool names
// beyond the built-in set.
func (e *Engine) RegisterTool(tool, category string) {
	cat, _ := session.ParseCategory(category)
	e.sessions.RegisterTool(tool, cat)
}

// StoreToolResult records a tool outcome in session memory. An empty
// Category is classified from the tool name.
func (e *Engine) StoreToolResult(sessionID string, res ToolResult) {
	var cat session.Category
	if res.Category != "" {
		cat, _ = session.ParseCategory(res.Category)
	}
	e.sessions.Store(sessionID, session.Entry{
		ToolName:      res.ToolName,
		Category:      cat,
		Operation:     res.Operation,
		Data:          res.Data,
		Summary:       res.Summary,
		Timestamp:     res.Timestamp,
		SuggestedUses: res.SuggestedUses,
		Metadata:      res.Metadata,
	})
}

// RecallByCategory returns the most recent result in a category.
func (e *Engine) RecallByCategory(sessionID, category string) (ToolResult, bool) {
	cat, _ := session.ParseCategory(category)
	entry, ok := e.sessions.ByCategory(sessionID, cat)
	if !ok {
		return ToolResult{}, false
	}
	return entryToResult(entry), true
}

// RecallByTool returns the most recent result for a tool's category,
// optionally narrowed to one operation.
func (e *Engine) RecallByTool(sessionID, tool, operation string) (ToolResult, bool) {
	entry, ok := e.sessions.ByTool(sessionID, tool, operation)
	if !ok {
		return ToolResult{}, false
	}
	return entryToResult(entry), true
}

// RecallMostRecent returns the newest result across all categories.
func (e *Engine) RecallMostRecent(sessionID string) (ToolResult, bool) {
	entry, ok := e.sessions.MostRecent(sessionID)
	if !ok {
		return ToolResult{}, false
	}
	return entryToResult(entry), true
}

// RecallHistory returns the session's results oldest-first; limit > 0 keeps
// only the newest limit entries.
func (e *Engine) RecallHistory(sessionID string, limit int) []ToolResult {
	entries := e.sessions.History(sessionID, limit)
	out := make([]ToolResult, len(entries))
	for i, entry := range entries {
		out[i] = entryToResult(entry)
	}
	return out
}

// MemorySummary renders the voice-friendly digest of session memory.
func (e *Engine) MemorySummary(sessionID string) string {
	return e.sessions.Summary(sessionID)
}

// SessionStats reports session memory counts.
func (e *Engine) SessionStats(sessionID string) SessionStats {
	s := e.sessions.Stats(sessionID)
	stats := SessionStats{
		TotalEntries:     s.TotalEntries,
		ActiveCategories: s.ActiveCategories,
	}
	for _, cat := range s.Categories {
		stats.Categories = append(stats.Categories, string(cat))
	}
	return stats
}

// CacheToolCall appends one call to the session's cached tool history.
// Reports false when no history list is cached yet.
func (e *Engine) CacheToolCall(sessionID string, call map[string]any) bool {
	return e.caches.AppendToolCall(sessionID, call)
}

// CachedToolHistory returns the session's cached tool-call history.
func (e *Engine) CachedToolHistory(sessionID, tool string) ([]map[string]any, bool) {
	return e.caches.ToolHistory(sessionID, tool)
}

// SetCachedToolHistory caches a tool-call history list for the session.
func (e *Engine) SetCachedToolHistory(sessionID, tool string, history []map[string]any) {
	e.caches.SetToolHistory(sessionID, tool, history)
}

// SetSessionContext caches a session's context map.
func (e *Engine) SetSessionContext(sessionID string, ctx map[string]any) {
	e.caches.SetSessionContext(sessionID, ctx)
}

// SessionContext returns the session's cached context map.
func (e *Engine) SessionContext(sessionID string) (map[string]any, bool) {
	return e.caches.SessionContext(sessionID)
}

// SetQueryResult caches an expensive query result under key.
func (e *Engine) SetQueryResult(key string, result any) {
	e.caches.SetQueryResult(key, result)
}

// QueryResult returns the cached result under key.
func (e *Engine) QueryResult(key string) (any, bool) {
	return e.caches.QueryResult(key)
}

// CacheStats reports per-cache statistics keyed by cache role.
func (e *Engine) CacheStats() map[string]CacheStats {
	out := make(map[string]CacheStats)
	for role, s := range e.caches.AllStats() {
		out[role] = CacheStats{
			Name:      s.Name,
			Size:      s.Size,
			MaxSize:   s.MaxSize,
			Hits:      s.Hits,
			Misses:    s.Misses,
			Evictions: s.Evictions,
			HitRate:   s.HitRate,
		}
	}
	return out
}

// Remember stores a fact in the persistent memory store and returns its id.
// Rejected, duplicate or failed writes log and return an empty id.
func (e *Engine) Remember(ctx context.Context, text, category string, importance float64) string {
	ctx, span := e.obs.StartSpan(ctx, "Remember")
	defer span.End()

	id, err := e.store.Remember(ctx, memstore.Entry{
		Text:       text,
		Category:   category,
		Importance: importance,
		Source:     memstore.SourceExplicit,
	})
	if err != nil {
		e.obs.Log().Debug().Err(err).Msg("remember rejected")
		return ""
	}
	return id
}

// SearchMemories runs hybrid search over the persistent store. Failures
// return nil.
func (e *Engine) SearchMemories(ctx context.Context, query string, topK int, category string) []MemorySearchResult {
	ctx, span := e.obs.StartSpan(ctx, "SearchMemories")
	defer span.End()

	hits, err := e.store.Search(ctx, query, topK, category)
	if err != nil {
		e.obs.Log().Debug().Err(err).Msg("memory search unavailable")
		return nil
	}
	out := make([]MemorySearchResult, len(hits))
	for i, h := range hits {
		out[i] = MemorySearchResult{
			ID:        h.ID,
			Text:      h.TextSafe,
			Category:  h.Category,
			Score:     h.Score,
			CreatedAt: h.CreatedAt,
		}
	}
	return out
}

// MemoryStoreStats describes the persistent store.
func (e *Engine) MemoryStoreStats(ctx context.Context) MemoryStoreStats {
	s := e.store.Stats(ctx)
	return MemoryStoreStats{
		Available:  s.Available,
		Total:      s.Total,
		Embedded:   s.Embedded,
		ByCategory: s.ByCategory,
		Path:       s.Path,
	}
}

// SetConfigValue persists a setting in the store's config table; secret
// values are encrypted at rest. Reports whether the write succeeded.
func (e *Engine) SetConfigValue(ctx context.Context, key, value string, secret bool) bool {
	if err := e.store.SetConfig(ctx, key, value, secret); err != nil {
		e.obs.Log().Warn().Str("key", key).Err(err).Msg("setting write failed")
		return false
	}
	return true
}

// ConfigValue reads a setting, decrypting secrets transparently. Reports
// false when the key is missing or the store is unavailable.
func (e *Engine) ConfigValue(ctx context.Context, key string) (string, bool) {
	value, found, err := e.store.GetConfig(ctx, key)
	if err != nil {
		e.obs.Log().Warn().Str("key", key).Err(err).Msg("setting read failed")
		return "", false
	}
	return value, found
}

// ListConfigValues returns every setting with secrets masked for display.
func (e *Engine) ListConfigValues(ctx context.Context) map[string]string {
	values, err := e.store.ListConfig(ctx)
	if err != nil {
		e.obs.Log().Debug().Err(err).Msg("settings unavailable")
		return nil
	}
	return values
}

// DeleteConfigValue removes a setting. Reports whether the delete ran;
// removing an absent key still reports true.
func (e *Engine) DeleteConfigValue(ctx context.Context, key string) bool {
	if err := e.store.DeleteConfig(ctx, key); err != nil {
		e.obs.Log().Warn().Str("key", key).Err(err).Msg("setting delete failed")
		return false
	}
	return true
}

// AppendSessionLog writes a session block to today's journal log without
// going through EndSession. Reports whether the write succeeded.
func (e *Engine) AppendSessionLog(sessionID, summary string) bool {
	if err := e.journal.EnsureFiles(); err != nil {
		e.obs.Log().Warn().Err(err).Msg("journal unavailable")
		return false
	}
	if err := e.journal.AppendSessionLog(sessionID, summary, nil); err != nil {
		e.obs.Log().Warn().Err(err).Msg("session log append failed")
		return false
	}
	return true
}

// SessionLogFiles lists the journal's session log file names, oldest first.
func (e *Engine) SessionLogFiles() []string {
	names, err := e.journal.ListSessionLogs()
	if err != nil {
		e.obs.Log().Debug().Err(err).Msg("session logs unavailable")
		return nil
	}
	return names
}

// JournalDir returns the directory holding MEMORY.md, USER.md and the
// session logs.
func (e *Engine) JournalDir() string {
	return e.journal.Root()
}

// ResolveTool maps a loose tool identifier to a canonical slug. A false
// return means nothing resolved (including breaker-retired slugs).
func (e *Engine) ResolveTool(ctx context.Context, input string) (ToolResolution, bool) {
	res, err := e.resolver.Resolve(ctx, input)
	if err != nil {
		e.obs.Log().Debug().Str("input", input).Err(err).Msg("tool resolution failed")
		return ToolResolution{Input: input}, false
	}
	return ToolResolution{
		Input:   input,
		Slug:    res.Slug,
		Tier:    res.Tier.String(),
		Trusted: res.Trusted,
	}, true
}

// ReportToolFailure feeds an execution failure into the resolver's breaker.
func (e *Engine) ReportToolFailure(slug string) {
	e.resolver.ReportFailure(slug)
}

// ReportToolSuccess resets the slug's breaker state.
func (e *Engine) ReportToolSuccess(slug string) {
	e.resolver.ReportSuccess(slug)
}

// SubmitToolCall queues a tool call on the background pool and returns its
// task id. Reports false before Start, after Close, or when the queue is
// full.
func (e *Engine) SubmitToolCall(ctx context.Context, call ToolCall) (string, bool) {
	_, span := e.obs.StartSpan(ctx, "SubmitToolCall")
	defer span.End()

	e.mu.Lock()
	pool := e.pool
	e.mu.Unlock()
	if pool == nil {
		e.obs.Log().Warn().Str("tool", call.Tool).Msg("tool call submitted before engine start")
		return "", false
	}

	task := dispatch.Task{
		SessionID: call.SessionID,
		Slug:      call.Tool,
		Args:      call.Args,
		Timeout:   call.Timeout,
	}
	if cb := call.OnResult; cb != nil {
		task.Callback = func(r dispatch.Result) {
			cb(ToolCallResult{
				TaskID:    r.TaskID,
				Tool:      r.Slug,
				SessionID: r.SessionID,
				Status:    string(r.Status),
				Output:    r.Output,
				Error:     r.Err,
				Duration:  r.Duration,
			})
		}
	}

	id, err := pool.Submit(task)
	if err != nil {
		e.obs.Log().Warn().Str("tool", call.Tool).Err(err).Msg("tool call rejected")
		return "", false
	}
	return id, true
}

// Subscribe registers a handler for engine events. An empty eventType
// subscribes to everything. Handlers run synchronously on the publishing
// goroutine and must not block.
func (e *Engine) Subscribe(eventType string, handler func(Event)) {
	wrap := func(ev dispatch.Event) {
		handler(Event{
			Type:      string(ev.Type),
			Timestamp: ev.Timestamp,
			SessionID: ev.SessionID,
			Data:      ev.Data,
		})
	}
	if eventType == "" {
		e.bus.SubscribeAll(wrap)
		return
	}
	e.bus.Subscribe(dispatch.EventType(eventType), wrap)
}

// EndSession flushes captured facts to the persistent store, appends the
// session's journal log, clears session memory and invalidates the session's
// caches. The report carries what happened for the host's logs.
func (e *Engine) EndSession(ctx context.Context, sessionID string) SessionCloseReport {
	ctx, span := e.obs.StartSpan(ctx, "EndSession")
	defer span.End()

	report := SessionCloseReport{SessionID: sessionID}

	pending := e.capture.Pending(sessionID)
	report.FactsCaptured = len(pending)
	facts := make([]string, 0, len(pending))
	for _, f := range pending {
		facts = append(facts, f.Text)
	}
	report.FactsStored = e.capture.Flush(ctx, sessionID, e.store)

	summary := e.sessions.Summary(sessionID)
	if err := e.journal.AppendSessionLog(sessionID, summary, facts); err != nil {
		e.obs.Log().Warn().Str("session", sessionID).Err(err).Msg("session log append failed")
	} else {
		report.JournalAppended = true
	}

	report.EntriesCleared = e.sessions.Clear(sessionID)
	report.CachesInvalidated = e.caches.InvalidateSession(sessionID)

	e.bus.PublishWithData(dispatch.EventSessionCleared, sessionID, map[string]interface{}{
		"entries_cleared":    report.EntriesCleared,
		"caches_invalidated": report.CachesInvalidated,
		"facts_stored":       report.FactsStored,
	})

	e.obs.Log().Info().
		Str("session", sessionID).
		Int("cleared", report.EntriesCleared).
		Int("facts_stored", report.FactsStored).
		Msg("session ended")
	return report
}

func entryToResult(entry session.Entry) ToolResult {
	return ToolResult{
		ToolName:      entry.ToolName,
		Category:      string(entry.Category),
		Operation:     entry.Operation,
		Data:          entry.Data,
		Summary:       entry.Summary,
		Timestamp:     entry.Timestamp,
		SuggestedUses: entry.SuggestedUses,
		Metadata:      entry.Metadata,
	}
}
