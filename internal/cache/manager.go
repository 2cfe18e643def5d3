package cache

import (
	"context"
	"sync"
	"time"

	"github.com/aiovoice/recall/internal/observe"
)

// Capacities and TTLs for the four named caches. Session context changes
// slowly, per-call tool history is volatile, global context is near-static,
// and query results should default to freshness.
const (
	sessionTTL  = 5 * time.Minute
	sessionSize = 500

	toolTTL  = 2 * time.Minute
	toolSize = 200

	globalTTL  = 10 * time.Minute
	globalSize = 100

	queryTTL  = time.Minute
	querySize = 500
)

// DefaultSweepInterval is how often the expiry sweep wakes.
const DefaultSweepInterval = time.Minute

// Manager owns the four named caches and the periodic expiry sweep. The
// engine constructs exactly one Manager and threads it through by reference;
// there is no package-level instance.
type Manager struct {
	obs *observe.Observer

	session *Cache
	tools   *Cache
	global  *Cache
	query   *Cache

	sweepEvery time.Duration
	onSweep    func(removed int)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds the four caches with their fixed capacities and TTLs.
func NewManager(obs *observe.Observer) *Manager {
	if obs == nil {
		obs = observe.Nop()
	}
	return &Manager{
		obs:        obs,
		session:    New("session_context", sessionSize, sessionTTL),
		tools:      New("tool_history", toolSize, toolTTL),
		global:     New("global_context", globalSize, globalTTL),
		query:      New("query_results", querySize, queryTTL),
		sweepEvery: DefaultSweepInterval,
	}
}

// SetSweepInterval overrides the sweep cadence. Call before Start.
func (m *Manager) SetSweepInterval(d time.Duration) {
	if d > 0 {
		m.sweepEvery = d
	}
}

// SetOnSweep registers a hook invoked after each periodic sweep that removed
// at least one entry. Call before Start.
func (m *Manager) SetOnSweep(fn func(removed int)) {
	m.onSweep = fn
}

// Start launches the supervised sweep goroutine. Idempotent.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.sweepLoop(ctx, m.done)
	m.obs.Log().Info().Msg("context cache manager started")
}

// Stop cancels the sweep and waits for it to exit. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.obs.Log().Info().Msg("context cache manager stopped")
}

func (m *Manager) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 && m.onSweep != nil {
				m.onSweep(n)
			}
		}
	}
}

// Sweep removes expired entries from all four caches and returns the total
// removed. Called by the background loop; exposed for diagnostics.
func (m *Manager) Sweep() int {
	sessionCleaned := m.session.CleanupExpired()
	toolCleaned := m.tools.CleanupExpired()
	globalCleaned := m.global.CleanupExpired()
	queryCleaned := m.query.CleanupExpired()

	total := sessionCleaned + toolCleaned + globalCleaned + queryCleaned
	if total > 0 {
		m.obs.Log().Debug().
			Int("session", sessionCleaned).
			Int("tool", toolCleaned).
			Int("global", globalCleaned).
			Int("query", queryCleaned).
			Int("total", total).
			Msg("cache sweep removed expired entries")
	}
	return total
}

func sessionKey(sessionID string) string { return "session:" + sessionID }

// toolKey addresses tool history at three scopes: all sessions ("tools"),
// one session ("tools:<sid>"), or one tool within a session
// ("tools:<sid>:<tool>").
func toolKey(sessionID, tool string) string {
	key := "tools"
	if sessionID != "" {
		key += ":" + sessionID
	}
	if tool != "" {
		key += ":" + tool
	}
	return key
}

func globalKey(key string) string { return "global:" + key }
func queryKey(key string) string  { return "query:" + key }

// SessionContext returns the cached context map for a session.
func (m *Manager) SessionContext(sessionID string) (map[string]any, bool) {
	v, ok := m.session.Get(sessionKey(sessionID))
	if !ok {
		return nil, false
	}
	ctx, ok := v.(map[string]any)
	return ctx, ok
}

// SetSessionContext caches a session's context map.
func (m *Manager) SetSessionContext(sessionID string, ctx map[string]any) {
	m.session.Set(sessionKey(sessionID), ctx)
}

// ToolHistory returns cached tool-call history. sessionID and tool may be
// empty to address the broader scopes.
func (m *Manager) ToolHistory(sessionID, tool string) ([]map[string]any, bool) {
	v, ok := m.tools.Get(toolKey(sessionID, tool))
	if !ok {
		return nil, false
	}
	history, ok := v.([]map[string]any)
	return history, ok
}

// SetToolHistory caches a tool-call history list.
func (m *Manager) SetToolHistory(sessionID, tool string, history []map[string]any) {
	m.tools.Set(toolKey(sessionID, tool), history)
}

// AppendToolCall appends one call to a session's cached history. The append
// only happens when a history list is already cached; a miss is a silent
// no-op and the method reports false.
func (m *Manager) AppendToolCall(sessionID string, call map[string]any) bool {
	key := toolKey(sessionID, "")
	v, ok := m.tools.Get(key)
	if !ok {
		return false
	}
	history, ok := v.([]map[string]any)
	if !ok {
		return false
	}
	m.tools.Set(key, append(history, call))
	return true
}

// GlobalContext returns cross-session context cached under key.
func (m *Manager) GlobalContext(key string) (map[string]any, bool) {
	v, ok := m.global.Get(globalKey(key))
	if !ok {
		return nil, false
	}
	ctx, ok := v.(map[string]any)
	return ctx, ok
}

// SetGlobalContext caches cross-session context under key.
func (m *Manager) SetGlobalContext(key string, ctx map[string]any) {
	m.global.Set(globalKey(key), ctx)
}

// QueryResult returns a cached query result.
func (m *Manager) QueryResult(queryKeyPart string) (any, bool) {
	return m.query.Get(queryKey(queryKeyPart))
}

// SetQueryResult caches a query result.
func (m *Manager) SetQueryResult(queryKeyPart string, result any) {
	m.query.Set(queryKey(queryKeyPart), result)
}

// InvalidateSession removes a session's entries from every cache that keys
// by session id: the session-context key, the session's tool-history keys,
// and the session's query results. Global context is not session-scoped and
// is left alone. Returns the number of entries removed.
func (m *Manager) InvalidateSession(sessionID string) int {
	removed := 0
	if m.session.Invalidate(sessionKey(sessionID)) {
		removed++
	}
	if m.tools.Invalidate(toolKey(sessionID, "")) {
		removed++
	}
	removed += m.tools.InvalidatePrefix("tools:" + sessionID + ":")
	removed += m.query.InvalidatePrefix("query:" + sessionID + ":")
	return removed
}

// AllStats returns per-cache statistics keyed by cache role.
func (m *Manager) AllStats() map[string]Stats {
	return map[string]Stats{
		"session": m.session.Stats(),
		"tool":    m.tools.Stats(),
		"global":  m.global.Stats(),
		"query":   m.query.Stats(),
	}
}
