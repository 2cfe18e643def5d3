package cache

import (
	"context"
	"testing"
	"time"

	"github.com/aiovoice/recall/internal/observe"
)

func TestManager_SessionContext(t *testing.T) {
	m := NewManager(observe.Nop())

	if _, ok := m.SessionContext("s1"); ok {
		t.Error("expected miss before set")
	}

	m.SetSessionContext("s1", map[string]any{"user": "ada"})
	ctx, ok := m.SessionContext("s1")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if ctx["user"] != "ada" {
		t.Errorf("expected user 'ada', got %v", ctx["user"])
	}
}

func TestManager_ToolHistoryScopes(t *testing.T) {
	m := NewManager(observe.Nop())

	m.SetToolHistory("s1", "send_email", []map[string]any{{"op": "send"}})

	if _, ok := m.ToolHistory("s1", "send_email"); !ok {
		t.Error("expected hit for session+tool scope")
	}
	if _, ok := m.ToolHistory("s1", ""); ok {
		t.Error("expected miss for session scope: different key")
	}
}

func TestManager_AppendToolCall(t *testing.T) {
	m := NewManager(observe.Nop())

	// No cached history: append is a silent no-op.
	if m.AppendToolCall("s1", map[string]any{"tool": "x"}) {
		t.Error("expected append to report false without cached history")
	}

	m.SetToolHistory("s1", "", []map[string]any{{"tool": "a"}})
	if !m.AppendToolCall("s1", map[string]any{"tool": "b"}) {
		t.Fatal("expected append to succeed with cached history")
	}

	history, ok := m.ToolHistory("s1", "")
	if !ok {
		t.Fatal("expected history after append")
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(history))
	}
	if history[1]["tool"] != "b" {
		t.Errorf("expected appended call last, got %v", history[1])
	}
}

func TestManager_QueryAndGlobal(t *testing.T) {
	m := NewManager(observe.Nop())

	m.SetQueryResult("s1:weather", "sunny")
	v, ok := m.QueryResult("s1:weather")
	if !ok || v.(string) != "sunny" {
		t.Errorf("expected cached query result 'sunny', got %v (%v)", v, ok)
	}

	m.SetGlobalContext("default", map[string]any{"org": "acme"})
	g, ok := m.GlobalContext("default")
	if !ok || g["org"] != "acme" {
		t.Errorf("expected global context with org 'acme', got %v (%v)", g, ok)
	}
}

func TestManager_InvalidateSession(t *testing.T) {
	m := NewManager(observe.Nop())

	m.SetSessionContext("s1", map[string]any{"a": 1})
	m.SetToolHistory("s1", "", []map[string]any{{"tool": "a"}})
	m.SetToolHistory("s1", "send_email", []map[string]any{{"tool": "a"}})
	m.SetQueryResult("s1:q", "r")
	m.SetGlobalContext("default", map[string]any{"org": "acme"})

	m.SetSessionContext("s2", map[string]any{"b": 2})

	removed := m.InvalidateSession("s1")
	if removed != 4 {
		t.Errorf("expected 4 entries removed, got %d", removed)
	}

	if _, ok := m.SessionContext("s1"); ok {
		t.Error("expected session context gone")
	}
	if _, ok := m.ToolHistory("s1", ""); ok {
		t.Error("expected session tool history gone")
	}
	if _, ok := m.ToolHistory("s1", "send_email"); ok {
		t.Error("expected per-tool history gone")
	}
	if _, ok := m.QueryResult("s1:q"); ok {
		t.Error("expected session query result gone")
	}

	// Other sessions and global context are untouched.
	if _, ok := m.SessionContext("s2"); !ok {
		t.Error("expected other session to survive")
	}
	if _, ok := m.GlobalContext("default"); !ok {
		t.Error("expected global context to survive")
	}
}

func TestManager_Sweep(t *testing.T) {
	m := NewManager(observe.Nop())

	m.session.SetTTL("session:old", map[string]any{}, time.Nanosecond)
	m.query.SetTTL("query:old", "r", time.Nanosecond)
	m.SetSessionContext("fresh", map[string]any{})

	time.Sleep(5 * time.Millisecond)

	if total := m.Sweep(); total != 2 {
		t.Errorf("expected sweep to remove 2, got %d", total)
	}
	if _, ok := m.SessionContext("fresh"); !ok {
		t.Error("expected fresh entry to survive sweep")
	}
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(observe.Nop())
	m.SetSweepInterval(10 * time.Millisecond)

	m.query.SetTTL("query:doomed", "r", time.Nanosecond)

	m.Start(context.Background())
	m.Start(context.Background()) // idempotent

	time.Sleep(60 * time.Millisecond)

	if m.query.Len() != 0 {
		t.Error("expected background sweep to remove expired entry")
	}

	m.Stop()
	m.Stop() // idempotent
}

func TestManager_AllStats(t *testing.T) {
	m := NewManager(observe.Nop())

	m.SetSessionContext("s1", map[string]any{})
	m.SessionContext("s1")

	stats := m.AllStats()
	for _, role := range []string{"session", "tool", "global", "query"} {
		if _, ok := stats[role]; !ok {
			t.Errorf("expected stats for %q cache", role)
		}
	}
	if stats["session"].Hits != 1 {
		t.Errorf("expected 1 session hit, got %d", stats["session"].Hits)
	}
	if stats["session"].MaxSize != 500 {
		t.Errorf("expected session max size 500, got %d", stats["session"].MaxSize)
	}
}
