package recall

import (
	"time"
)

// Event types delivered to Subscribe handlers.
const (
	EventTaskQueued     = "task.queued"
	EventTaskStarted    = "task.started"
	EventTaskCompleted  = "task.completed"
	EventTaskFailed     = "task.failed"
	EventSessionCleared = "session.cleared"
	EventMemoryCaptured = "memory.captured"
	EventSweepCompleted = "sweep.completed"
)

// Event is a broadcast engine occurrence. Handlers run synchronously on the
// publishing goroutine and must not block.
type Event struct {
	Type      string
	Timestamp time.Time
	SessionID string
	Data      map[string]interface{}
}

// ToolResult is a tool outcome handed to the engine for session recall.
// Category is optional; an empty one is classified from ToolName.
type ToolResult struct {
	ToolName      string
	Category      string
	Operation     string
	Data          any
	Summary       string
	Timestamp     time.Time
	SuggestedUses []string
	Metadata      map[string]string
}

// SessionStats summarizes a session's short-term memory.
type SessionStats struct {
	TotalEntries     int
	ActiveCategories int
	Categories       []string
}

// MemorySearchResult is one hit from the persistent store. Text is
// HTML-entity escaped; the raw stored form is never returned.
type MemorySearchResult struct {
	ID        string
	Text      string
	Category  string
	Score     float64
	CreatedAt time.Time
}

// MemoryStoreStats describes the persistent store.
type MemoryStoreStats struct {
	Available  bool
	Total      int
	Embedded   int
	ByCategory map[string]int
	Path       string
}

// CacheStats describes one named cache.
type CacheStats struct {
	Name      string
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// ToolResolution is a resolved tool identifier. Untrusted resolutions are
// fuzzy guesses the remote catalog could not confirm; callers decide whether
// to double-check with the user before acting on one.
type ToolResolution struct {
	Input   string
	Slug    string
	Tier    string
	Trusted bool
}

// ToolCall is a request to run a tool on the background pool.
type ToolCall struct {
	SessionID string
	Tool      string
	Args      map[string]any
	Timeout   time.Duration

	// OnResult, when set, runs on the worker goroutine after the call
	// finishes. Keep it fast.
	OnResult func(ToolCallResult)
}

// ToolCallResult is the outcome of a pooled tool call. Failed calls carry a
// speakable Output ("I was not able to run X...") alongside the raw Error.
type ToolCallResult struct {
	TaskID    string
	Tool      string
	SessionID string
	Status    string
	Output    string
	Error     string
	Duration  time.Duration
}

// SessionCloseReport recounts what EndSession did.
type SessionCloseReport struct {
	SessionID         string
	FactsCaptured     int
	FactsStored       int
	EntriesCleared    int
	CachesInvalidated int
	JournalAppended   bool
}
