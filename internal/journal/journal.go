// Package journal persists free-text context across sessions: MEMORY.md
// and USER.md under a configurable root directory, plus dated session logs
// appended under sessions/. Files are created from starter templates on
// first run, loaded at session start for prompt injection, and only ever
// appended to afterwards.
//
// Every write path is checked against a glob allowlist, so the journal
// cannot be steered into writing outside its own files.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aiovoice/recall/internal/observe"
)

const (
	// MemoryFile holds long-term facts, preferences and decisions.
	MemoryFile = "MEMORY.md"
	// UserFile holds the learned user profile.
	UserFile = "USER.md"

	sessionsDir = "sessions"

	// DefaultMaxTokens bounds LoadContext output when the caller passes no
	// budget. Tokens are estimated at 4 chars each.
	DefaultMaxTokens = 500
)

// writeAllowlist is the complete set of paths, relative to the journal
// root, that this package may write.
var writeAllowlist = []string{
	"MEMORY.md",
	"USER.md",
	"sessions/*.md",
}

var memoryTemplate = `# MEMORY.md — Assistant Long-Term Memory

<!-- Facts, preferences, and decisions that persist across sessions.
The assistant reads this file at the start of every session. -->

## User Preferences
<!-- Add preferences as they are learned, e.g.:
- Prefers concise summaries under 3 bullet points
- Uses formal tone for external emails
-->

## Key Facts
<!-- Persistent facts about projects, people, and context -->

## Decisions
<!-- Important decisions made with the assistant's help -->
`

var userTemplate = `# USER.md — User Profile

<!-- The assistant learns about the user over time.
This file is read at every session start. -->

## Identity
- Name: (not yet learned)
- Preferred address: (not yet learned)
- Timezone: (not yet learned)

## Work Context
<!-- Projects, roles, organizations the user works with -->

## Communication Style
<!-- Email tone, verbosity, formality -->

## Ongoing Priorities
<!-- What the user is currently focused on -->
`

// Writer owns the journal directory. Safe for concurrent use; appends are
// serialized by one lock.
type Writer struct {
	obs  *observe.Observer
	root string
	mu   sync.Mutex
}

// New builds a writer rooted at dir. Call EnsureFiles before the first
// session.
func New(dir string, obs *observe.Observer) *Writer {
	if obs == nil {
		obs = observe.Nop()
	}
	return &Writer{obs: obs, root: dir}
}

// Root returns the journal directory.
func (w *Writer) Root() string {
	return w.root
}

// EnsureFiles creates the journal directory, the sessions subdirectory and
// the two context files from their starter templates. Existing files are
// left untouched; safe to call repeatedly.
func (w *Writer) EnsureFiles() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(w.root, sessionsDir), 0750); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	for _, f := range []struct {
		name     string
		template string
	}{
		{MemoryFile, memoryTemplate},
		{UserFile, userTemplate},
	} {
		path := filepath.Join(w.root, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := w.write(f.name, []byte(f.template)); err != nil {
			return err
		}
		w.obs.Log().Info().Str("file", f.name).Msg("created journal file")
	}
	return nil
}

// LoadContext returns MEMORY.md and USER.md formatted for system-prompt
// injection, capped at roughly maxTokens (4 chars per token) with a
// truncation marker. Files still holding only their starter template
// contribute a short pointer instead of the template body. Returns "" when
// neither file has anything to offer.
func (w *Writer) LoadContext(maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxChars := maxTokens * 4

	var parts []string
	for _, f := range []struct {
		name  string
		label string
	}{
		{MemoryFile, "Long-Term Memory"},
		{UserFile, "User Profile"},
	} {
		content, err := os.ReadFile(filepath.Join(w.root, f.name))
		if err != nil {
			if !os.IsNotExist(err) {
				w.obs.Log().Warn().Str("file", f.name).Err(err).Msg("failed to load journal file")
			}
			continue
		}
		text := strings.TrimSpace(string(content))
		if text == "" {
			continue
		}
		if templateOnly(text) {
			parts = append(parts, fmt.Sprintf("### %s\n(nothing recorded yet)", f.label))
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s", f.label, text))
	}

	if len(parts) == 0 {
		return ""
	}

	combined := strings.Join(parts, "\n\n")
	if runes := []rune(combined); len(runes) > maxChars {
		combined = string(runes[:maxChars]) + "\n\n[Memory truncated — full content in " + w.root + "]"
	}
	return combined
}

// AppendSessionLog appends a session block to today's log file, creating it
// on first write. The sessionID is for logging only; blocks are grouped by
// date, not by session.
func (w *Writer) AppendSessionLog(sessionID, summary string, facts []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	rel := sessionsDir + "/" + now.Format("2006-01-02") + ".md"

	lines := []string{"", "## Session — " + now.Format("15:04") + " UTC", "", strings.TrimSpace(summary)}
	if len(facts) > 0 {
		lines = append(lines, "", "**Captured facts:**")
		for _, fact := range facts {
			lines = append(lines, "- "+fact)
		}
	}
	lines = append(lines, "")

	if err := w.append(rel, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		return err
	}
	w.obs.Log().Info().
		Str("session", sessionID).
		Str("file", rel).
		Int("facts", len(facts)).
		Msg("session log written")
	return nil
}

// ListSessionLogs returns the session log file names, oldest first.
func (w *Writer) ListSessionLogs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.root, sessionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *Writer) write(rel string, data []byte) error {
	if !allowedPath(rel) {
		return fmt.Errorf("journal write not allowed: %s", rel)
	}
	return os.WriteFile(filepath.Join(w.root, rel), data, 0600)
}

func (w *Writer) append(rel string, data []byte) error {
	if !allowedPath(rel) {
		return fmt.Errorf("journal write not allowed: %s", rel)
	}
	f, err := os.OpenFile(filepath.Join(w.root, rel), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write session log: %w", err)
	}
	return nil
}

// allowedPath checks a root-relative path against the write allowlist.
func allowedPath(rel string) bool {
	for _, pattern := range writeAllowlist {
		match, err := doublestar.Match(pattern, rel)
		if err == nil && match {
			return true
		}
	}
	return false
}

// templateOnly reports whether content is still just a starter template:
// nothing but headings, comment blocks and unfilled placeholders.
func templateOnly(content string) bool {
	inComment := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if inComment {
			if strings.Contains(trimmed, "-->") {
				inComment = false
			}
			continue
		}
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#"):
		case strings.HasPrefix(trimmed, "<!--"):
			if !strings.Contains(trimmed, "-->") {
				inComment = true
			}
		case strings.Contains(trimmed, "(not yet learned)"):
		default:
			return false
		}
	}
	return true
}
