// Package capture watches user utterances for memory-worthy statements
// ("remember that...", "I prefer...") and queues them per session. The
// queue is flushed into the persistent store once, at session end, so a
// mid-call disk stall never delays the conversation.
package capture

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/aiovoice/recall/internal/memstore"
	"github.com/aiovoice/recall/internal/observe"
)

const (
	// minFactLen filters out utterances too short to be a useful fact.
	minFactLen = 15
	// maxFactLen truncates runaway utterances before queueing.
	maxFactLen = 500
)

// triggerPattern marks an utterance as memory-worthy. Word boundaries sit
// inside each branch so punctuation triggers like "important:" still fire
// when followed by a space.
var triggerPattern = regexp.MustCompile(`(?i)\b(` +
	`remember\s+(?:this|that)\b|` +
	`I\s+prefer\b|` +
	`I\s+always\b|` +
	`I\s+never\b|` +
	`important\s*[:,]|` +
	`note\s*[:,]|` +
	`my\s+\w+\s+is\b|` +
	`I'?m\s+using\b|` +
	`I\s+use\b|` +
	`I\s+work\s+(?:at|for)\b|` +
	`don'?t\s+forget\b|` +
	`keep\s+in\s+mind\b|` +
	`for\s+future\s+reference\b` +
	`)`)

// Fact is one queued memory candidate.
type Fact struct {
	Text     string
	Category string
}

// Sink receives flushed facts. memstore.Store satisfies it.
type Sink interface {
	Remember(ctx context.Context, entry memstore.Entry) (string, error)
}

// Capturer holds the per-session pending queues. Safe for concurrent use.
type Capturer struct {
	obs *observe.Observer

	mu      sync.Mutex
	pending map[string][]Fact
	seen    map[string]map[string]struct{}
}

// New builds an empty capturer.
func New(obs *observe.Observer) *Capturer {
	if obs == nil {
		obs = observe.Nop()
	}
	return &Capturer{
		obs:     obs,
		pending: make(map[string][]Fact),
		seen:    make(map[string]map[string]struct{}),
	}
}

// Scan checks an utterance for trigger patterns and queues the whole
// trimmed utterance as a fact when one fires. Repeats of a fact already
// queued for the session are ignored, compared case-insensitively. Returns
// the queued fact and whether anything was captured.
func (c *Capturer) Scan(sessionID, utterance string) (string, bool) {
	text := strings.TrimSpace(utterance)
	if utf8.RuneCountInString(text) < minFactLen {
		return "", false
	}
	if !triggerPattern.MatchString(text) {
		return "", false
	}

	fact := text
	if runes := []rune(fact); len(runes) > maxFactLen {
		fact = strings.TrimSpace(string(runes[:maxFactLen])) + "…"
	}
	key := strings.ToLower(fact)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[sessionID] == nil {
		c.seen[sessionID] = make(map[string]struct{})
	}
	if _, dup := c.seen[sessionID][key]; dup {
		return "", false
	}
	c.seen[sessionID][key] = struct{}{}
	c.pending[sessionID] = append(c.pending[sessionID], Fact{Text: fact, Category: "general"})

	c.obs.Log().Debug().
		Str("session", sessionID).
		Str("fact", preview(fact)).
		Msg("fact captured")
	return fact, true
}

// Pending returns a copy of the session's queued facts.
func (c *Capturer) Pending(sessionID string) []Fact {
	c.mu.Lock()
	defer c.mu.Unlock()
	facts := c.pending[sessionID]
	if len(facts) == 0 {
		return nil
	}
	out := make([]Fact, len(facts))
	copy(out, facts)
	return out
}

// Flush drains the session's queue into the sink with source "auto" and
// returns how many facts were stored. Rejections (duplicates, injection,
// unavailable store) are logged and skipped; the queue is cleared either
// way.
func (c *Capturer) Flush(ctx context.Context, sessionID string, sink Sink) int {
	c.mu.Lock()
	facts := c.pending[sessionID]
	delete(c.pending, sessionID)
	delete(c.seen, sessionID)
	c.mu.Unlock()

	if len(facts) == 0 {
		return 0
	}

	stored := 0
	for _, f := range facts {
		_, err := sink.Remember(ctx, memstore.Entry{
			Text:     f.Text,
			Category: f.Category,
			Source:   memstore.SourceAuto,
		})
		if err != nil {
			c.obs.Log().Debug().
				Str("session", sessionID).
				Err(err).
				Msg("captured fact not stored")
			continue
		}
		stored++
	}

	c.obs.Log().Info().
		Str("session", sessionID).
		Int("captured", len(facts)).
		Int("stored", stored).
		Msg("capture queue flushed")
	return stored
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= 60 {
		return s
	}
	return string(runes[:60]) + "..."
}
