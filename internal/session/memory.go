// Package session implements session-scoped short-term memory for tool
// results. Unlike the context caches, nothing here expires on a TTL: entries
// persist for the whole conversation and are destroyed only by Clear, so
// recalled data stays valid for however long the call runs. History is
// unbounded for the life of a session; hosts running very long sessions
// should Clear on disconnect, which is also when the engine does it.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aiovoice/recall/internal/observe"
)

// Category organizes tool results for cross-tool recall.
type Category string

const (
	CategoryDrive    Category = "drive"
	CategoryEmail    Category = "email"
	CategoryDatabase Category = "database"
	CategoryVector   Category = "vector"
	CategoryContext  Category = "context"
	CategoryGeneral  Category = "general"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryDrive,
	CategoryEmail,
	CategoryDatabase,
	CategoryVector,
	CategoryContext,
	CategoryGeneral,
}

// ParseCategory maps a string onto a Category, reporting whether it named a
// known one. Unknown strings fall back to CategoryGeneral.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return CategoryGeneral, false
}

// Entry is one stored tool result. Entries are immutable once stored;
// recalls return copies. Data is an opaque reference callers must treat as
// read-only.
type Entry struct {
	ToolName      string
	Category      Category
	Operation     string
	Data          any
	Summary       string
	Timestamp     time.Time
	SuggestedUses []string
	Metadata      map[string]string
}

// Age reports how long ago the entry was stored.
func (e Entry) Age() time.Duration {
	return time.Since(e.Timestamp)
}

// Stats reports a session's memory counts for diagnostics.
type Stats struct {
	TotalEntries     int
	ActiveCategories int
	Categories       []Category
}

// defaultTools is the built-in tool → category registration table.
var defaultTools = map[string]Category{
	"search_documents":     CategoryDrive,
	"get_document":         CategoryDrive,
	"list_drive_files":     CategoryDrive,
	"recall_drive_data":    CategoryDrive,
	"google_drive_tool":    CategoryDrive,
	"google_drive_search":  CategoryDrive,
	"google_drive_get":     CategoryDrive,
	"google_drive_list":    CategoryDrive,
	"drive_file_retrieval": CategoryDrive,
	"drive_file_listing":   CategoryDrive,

	"send_email": CategoryEmail,
	"email_tool": CategoryEmail,

	"database_query_tool": CategoryDatabase,
	"query_database":      CategoryDatabase,

	"vector_database_tool": CategoryVector,
	"vector_store_async":   CategoryVector,
	"store_knowledge":      CategoryVector,

	"session_history_tool": CategoryContext,
	"query_context":        CategoryContext,
	"get_session_summary":  CategoryContext,
}

// Memory holds, per session, the most recent entry for each category plus
// the full chronological history. A single mutex guards all state because
// concurrent tool workers within one session write simultaneously. The
// engine constructs exactly one Memory and shares it by reference.
type Memory struct {
	obs *observe.Observer

	mu      sync.Mutex
	tools   map[string]Category           // lowercased tool name → category
	slots   map[string]map[Category]Entry // session → category → most recent
	history map[string][]Entry            // session → chronological entries
}

// New builds a Memory seeded with the default tool registrations.
func New(obs *observe.Observer) *Memory {
	if obs == nil {
		obs = observe.Nop()
	}
	m := &Memory{
		obs:     obs,
		tools:   make(map[string]Category, len(defaultTools)),
		slots:   make(map[string]map[Category]Entry),
		history: make(map[string][]Entry),
	}
	for tool, cat := range defaultTools {
		m.tools[tool] = cat
	}
	return m
}

// RegisterTool binds a tool name to a category. Names are matched
// case-insensitively; hosts register their tool set at startup, including
// any renamed variants of the defaults.
func (m *Memory) RegisterTool(tool string, cat Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[strings.ToLower(tool)] = cat
}

// Classify resolves a tool name to its category by exact registration
// lookup. Unregistered names classify as CategoryGeneral; there is no fuzzy
// matching.
func (m *Memory) Classify(tool string) Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classify(tool)
}

// classify requires the lock to be held.
func (m *Memory) classify(tool string) Category {
	if cat, ok := m.tools[strings.ToLower(tool)]; ok {
		return cat
	}
	return CategoryGeneral
}

// Store records a tool result: the session's per-category slot is
// overwritten (most recent wins) and the entry is appended to history. A
// zero Category is classified from ToolName, a zero Timestamp is stamped
// now, and empty SuggestedUses get the category defaults.
func (m *Memory) Store(sessionID string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Category == "" {
		e.Category = m.classify(e.ToolName)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if len(e.SuggestedUses) == 0 {
		e.SuggestedUses = SuggestedUses(e.Category)
	}

	if _, ok := m.slots[sessionID]; !ok {
		m.slots[sessionID] = make(map[Category]Entry)
		m.history[sessionID] = nil
	}
	m.slots[sessionID][e.Category] = e
	m.history[sessionID] = append(m.history[sessionID], e)

	m.obs.Log().Debug().
		Str("session", sessionID).
		Str("tool", e.ToolName).
		Str("operation", e.Operation).
		Str("category", string(e.Category)).
		Msg("stored tool result")
}

// ByCategory returns the most recent entry for the category.
func (m *Memory) ByCategory(sessionID string, cat Category) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.slots[sessionID][cat]
	return e, ok
}

// ByTool returns the most recent entry for the tool's category, optionally
// filtered by operation. When the slot holds a different operation, history
// is scanned newest-first for the category+operation pair; when the slot is
// empty there is nothing to fall back to.
func (m *Memory) ByTool(sessionID, tool, operation string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cat := m.classify(tool)
	e, ok := m.slots[sessionID][cat]
	if !ok {
		return Entry{}, false
	}

	if operation != "" && e.Operation != operation {
		history := m.history[sessionID]
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Category == cat && history[i].Operation == operation {
				return history[i], true
			}
		}
		return Entry{}, false
	}
	return e, true
}

// AllCategories returns a copy of every per-category slot for the session.
func (m *Memory) AllCategories(sessionID string) map[Category]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Category]Entry, len(m.slots[sessionID]))
	for cat, e := range m.slots[sessionID] {
		out[cat] = e
	}
	return out
}

// MostRecent returns the newest entry across all categories.
func (m *Memory) MostRecent(sessionID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.history[sessionID]
	if len(history) == 0 {
		return Entry{}, false
	}
	return history[len(history)-1], true
}

// History returns the session's chronological entries; limit > 0 keeps only
// the newest limit entries. The returned slice is a copy.
func (m *Memory) History(sessionID string, limit int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.history[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Entry, len(history))
	copy(out, history)
	return out
}

// Summary renders the voice-friendly one-line digest of everything held for
// the session, categories in fixed display order.
func (m *Memory) Summary(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := m.slots[sessionID]
	if len(slots) == 0 {
		return "No data in session memory"
	}

	var parts []string
	for _, cat := range Categories {
		e, ok := slots[cat]
		if !ok {
			continue
		}
		age := time.Since(e.Timestamp)
		var ageStr string
		if age < time.Minute {
			ageStr = fmt.Sprintf("%ds ago", int(age.Seconds()))
		} else {
			ageStr = fmt.Sprintf("%dm ago", int(age.Minutes()))
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", cat, e.Summary, ageStr))
	}
	return "In memory: " + strings.Join(parts, "; ")
}

// SuggestedUses returns follow-up suggestions for data in a category.
func SuggestedUses(cat Category) []string {
	switch cat {
	case CategoryDrive:
		return []string{"email_summary", "vector_store", "reference", "analysis"}
	case CategoryEmail:
		return []string{"reference", "follow_up"}
	case CategoryDatabase:
		return []string{"email_report", "vector_store", "analysis"}
	case CategoryVector:
		return []string{"reference", "further_search"}
	default:
		return []string{"reference"}
	}
}

// Clear removes all state for the session and returns the number of history
// entries dropped. This is the only destruction path; there is no TTL.
func (m *Memory) Clear(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.history[sessionID])
	delete(m.slots, sessionID)
	delete(m.history, sessionID)

	m.obs.Log().Info().
		Str("session", sessionID).
		Int("removed", count).
		Msg("cleared session memory")
	return count
}

// Stats reports entry and category counts for the session.
func (m *Memory) Stats(sessionID string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := m.slots[sessionID]
	s := Stats{
		TotalEntries:     len(m.history[sessionID]),
		ActiveCategories: len(slots),
	}
	for _, cat := range Categories {
		if _, ok := slots[cat]; ok {
			s.Categories = append(s.Categories, cat)
		}
	}
	return s
}
