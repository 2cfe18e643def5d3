package recall

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "recall-engine-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := DefaultConfig()
	cfg.Dir = tmpDir
	cfg.JournalDir = ""
	cfg.Embedder.Provider = "mock"

	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng, tmpDir
}

func TestEngineSessionScenario(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	eng.Start(ctx)

	eng.StartSession(ctx, "call-1")

	eng.StoreToolResult("call-1", ToolResult{
		ToolName: "search_documents",
		Summary:  "found 3 quarterly reports",
		Data:     []string{"q1.pdf", "q2.pdf", "q3.pdf"},
	})
	eng.StoreToolResult("call-1", ToolResult{
		ToolName: "send_email",
		Summary:  "sent summary to finance",
	})
	eng.StoreToolResult("call-1", ToolResult{
		ToolName: "database_query_tool",
		Summary:  "42 open invoices",
	})

	summary := eng.MemorySummary("call-1")
	for _, want := range []string{"drive:", "email:", "database:"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Expected summary to mention %q, got '%s'", want, summary)
		}
	}

	if res, ok := eng.RecallByCategory("call-1", "drive"); !ok || res.Summary != "found 3 quarterly reports" {
		t.Errorf("Expected drive recall, got ok=%v res=%+v", ok, res)
	}
	if res, ok := eng.RecallByTool("call-1", "send_email", ""); !ok || res.Summary != "sent summary to finance" {
		t.Errorf("Expected email recall by tool, got ok=%v res=%+v", ok, res)
	}
	if res, ok := eng.RecallMostRecent("call-1"); !ok || res.ToolName != "database_query_tool" {
		t.Errorf("Expected database as most recent, got ok=%v res=%+v", ok, res)
	}
	if history := eng.RecallHistory("call-1", 0); len(history) != 3 {
		t.Errorf("Expected 3 history entries, got %d", len(history))
	}

	stats := eng.SessionStats("call-1")
	if stats.TotalEntries != 3 || stats.ActiveCategories != 3 {
		t.Errorf("Expected 3/3 stats, got %+v", stats)
	}

	report := eng.EndSession(ctx, "call-1")
	if report.EntriesCleared != 3 {
		t.Errorf("Expected 3 entries cleared, got %d", report.EntriesCleared)
	}
	if !report.JournalAppended {
		t.Error("Expected session log to be appended")
	}
	if _, ok := eng.RecallMostRecent("call-1"); ok {
		t.Error("Expected empty session memory after EndSession")
	}
}

func TestEngineRegisterTool(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.StoreToolResult("call-1", ToolResult{ToolName: "crm_lookup", Summary: "2 accounts"})
	if res, ok := eng.RecallByCategory("call-1", "general"); !ok || res.ToolName != "crm_lookup" {
		t.Fatalf("Expected unregistered tool under general, got ok=%v res=%+v", ok, res)
	}

	eng.RegisterTool("crm_lookup", "database")
	eng.StoreToolResult("call-1", ToolResult{ToolName: "crm_lookup", Summary: "3 accounts"})
	if res, ok := eng.RecallByCategory("call-1", "database"); !ok || res.Summary != "3 accounts" {
		t.Errorf("Expected registered tool under database, got ok=%v res=%+v", ok, res)
	}
}

func TestEngineCaptureFlow(t *testing.T) {
	eng, tmpDir := newTestEngine(t)
	ctx := context.Background()
	eng.Start(ctx)
	eng.StartSession(ctx, "call-2")

	var captured []Event
	eng.Subscribe(EventMemoryCaptured, func(ev Event) {
		captured = append(captured, ev)
	})

	eng.ObserveUtterance("call-2", "Remember this: the demo starts at noon on Friday")
	eng.ObserveUtterance("call-2", "what is the weather like")

	if len(captured) != 1 {
		t.Fatalf("Expected 1 capture event, got %d", len(captured))
	}
	if captured[0].SessionID != "call-2" {
		t.Errorf("Expected session call-2 on event, got '%s'", captured[0].SessionID)
	}

	report := eng.EndSession(ctx, "call-2")
	if report.FactsCaptured != 1 {
		t.Errorf("Expected 1 fact captured, got %d", report.FactsCaptured)
	}
	if report.FactsStored != 1 {
		t.Errorf("Expected 1 fact stored, got %d", report.FactsStored)
	}

	logPath := filepath.Join(tmpDir, "sessions", time.Now().UTC().Format("2006-01-02")+".md")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read session log: %v", err)
	}
	if !strings.Contains(string(data), "Captured facts:") {
		t.Error("Expected captured facts section in session log")
	}
	if !strings.Contains(string(data), "demo starts at noon") {
		t.Error("Expected the fact text in session log")
	}
}

func TestEngineStartSessionLoadsJournalContext(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	eng.Start(ctx)

	memoryContext := eng.StartSession(ctx, "call-3")
	if !strings.Contains(memoryContext, "(nothing recorded yet)") {
		t.Errorf("Expected fresh-journal pointer in context, got '%s'", memoryContext)
	}

	if _, ok := eng.SessionContext("call-3"); !ok {
		t.Error("Expected session context to be warmed")
	}
}

func TestEngineRememberAndSearch(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	eng.Start(ctx)

	fact := "The staging database password rotates every Monday"
	id := eng.Remember(ctx, fact, "work", 0.8)
	if id == "" {
		t.Fatal("Expected non-empty memory id")
	}

	// The mock embedder maps identical text onto identical vectors, so the
	// stored sentence itself is the strongest possible query.
	results := eng.SearchMemories(ctx, fact, 3, "")
	if len(results) == 0 {
		t.Fatal("Expected at least one search hit")
	}
	if !strings.Contains(results[0].Text, "staging database password") {
		t.Errorf("Expected hit text to contain the fact, got '%s'", results[0].Text)
	}
	if results[0].Score < 0.7 {
		t.Errorf("Expected a dominant vector score, got %f", results[0].Score)
	}

	stats := eng.MemoryStoreStats(ctx)
	if !stats.Available {
		t.Error("Expected store to be available")
	}
	if stats.Total != 1 {
		t.Errorf("Expected 1 stored memory, got %d", stats.Total)
	}
}

func TestEngineCacheOperations(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.SetSessionContext("call-4", map[string]any{"topic": "budget"})
	if ctxMap, ok := eng.SessionContext("call-4"); !ok || ctxMap["topic"] != "budget" {
		t.Errorf("Expected cached session context, got ok=%v map=%v", ok, ctxMap)
	}

	eng.SetCachedToolHistory("call-4", "", []map[string]any{{"tool": "send_email"}})
	if !eng.CacheToolCall("call-4", map[string]any{"tool": "search_documents"}) {
		t.Error("Expected append to cached history to succeed")
	}
	history, ok := eng.CachedToolHistory("call-4", "")
	if !ok || len(history) != 2 {
		t.Errorf("Expected 2 cached calls, got ok=%v len=%d", ok, len(history))
	}

	eng.SetQueryResult("call-4:openinvoices", 42)
	if v, ok := eng.QueryResult("call-4:openinvoices"); !ok || v != 42 {
		t.Errorf("Expected cached query result 42, got ok=%v v=%v", ok, v)
	}

	stats := eng.CacheStats()
	if len(stats) != 4 {
		t.Errorf("Expected 4 cache roles, got %d", len(stats))
	}
	if stats["session"].Size != 1 {
		t.Errorf("Expected 1 session cache entry, got %d", stats["session"].Size)
	}
}

func TestEngineResolveToolWithoutCatalog(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// No catalog key is configured, so nothing can resolve.
	if res, ok := eng.ResolveTool(ctx, "frobnicate_widget"); ok {
		t.Errorf("Expected resolution failure, got %+v", res)
	}

	eng.ReportToolFailure("GMAIL_SEND_EMAIL")
	eng.ReportToolSuccess("GMAIL_SEND_EMAIL")
}

func TestEngineSubmitToolCall(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, ok := eng.SubmitToolCall(ctx, ToolCall{SessionID: "s", Tool: "send_email"}); ok {
		t.Error("Expected submit to fail before Start")
	}

	eng.Start(ctx)

	results := make(chan ToolCallResult, 1)
	id, ok := eng.SubmitToolCall(ctx, ToolCall{
		SessionID: "call-5",
		Tool:      "send_email",
		OnResult:  func(r ToolCallResult) { results <- r },
	})
	if !ok || id == "" {
		t.Fatalf("Expected successful submit, got ok=%v id='%s'", ok, id)
	}

	select {
	case r := <-results:
		// Without a catalog the slug cannot resolve; the caller still gets a
		// speakable outcome rather than an error.
		if r.Status != "failed" {
			t.Errorf("Expected failed status, got '%s'", r.Status)
		}
		if !strings.Contains(r.Output, "do not retry") {
			t.Errorf("Expected speakable failure, got '%s'", r.Output)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for tool result")
	}
}

func TestEngineSessionClearedEvent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	eng.Start(ctx)
	eng.StartSession(ctx, "call-6")

	var events []Event
	eng.Subscribe("", func(ev Event) {
		if ev.Type == EventSessionCleared {
			events = append(events, ev)
		}
	})

	eng.StoreToolResult("call-6", ToolResult{ToolName: "send_email", Summary: "done"})
	eng.EndSession(ctx, "call-6")

	if len(events) != 1 {
		t.Fatalf("Expected 1 session.cleared event, got %d", len(events))
	}
	if events[0].Data["entries_cleared"] != 1 {
		t.Errorf("Expected 1 entry cleared in event data, got %v", events[0].Data["entries_cleared"])
	}
}

func TestEngineCloseIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Start(context.Background())
	eng.Close()
	eng.Close()

	if _, ok := eng.SubmitToolCall(context.Background(), ToolCall{Tool: "x"}); ok {
		t.Error("Expected submit to fail after Close")
	}
}
