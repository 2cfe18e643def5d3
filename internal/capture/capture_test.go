package capture

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/aiovoice/recall/internal/memstore"
)

type fakeSink struct {
	mu      sync.Mutex
	entries []memstore.Entry
	failFor string
}

func (f *fakeSink) Remember(ctx context.Context, entry memstore.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && strings.Contains(entry.Text, f.failFor) {
		return "", memstore.ErrDuplicate
	}
	f.entries = append(f.entries, entry)
	return "mem-1", nil
}

func TestCapturer_ScanTriggers(t *testing.T) {
	captured := []string{
		"Remember that my anniversary is in June",
		"I prefer short answers in the morning",
		"I always take the train on Fridays",
		"I never schedule calls before 10am",
		"Important: the deadline moved to Friday",
		"Note: the wifi password changed yesterday",
		"My manager is Priya by the way",
		"I'm using the staging environment today",
		"I use vim keybindings everywhere",
		"I work at the downtown office mostly",
		"Don't forget the invoices are due",
		"Keep in mind that parking is limited",
		"For future reference the gate code is 4412",
	}
	ignored := []string{
		"What's the weather like today?",
		"Can you read me the last email",
		"Tell me a joke about penguins",
	}

	c := New(nil)
	for _, utterance := range captured {
		if _, ok := c.Scan("sess-1", utterance); !ok {
			t.Errorf("Expected capture for '%s'", utterance)
		}
	}
	for _, utterance := range ignored {
		if _, ok := c.Scan("sess-1", utterance); ok {
			t.Errorf("Expected no capture for '%s'", utterance)
		}
	}

	if got := len(c.Pending("sess-1")); got != len(captured) {
		t.Errorf("Expected %d pending facts, got %d", len(captured), got)
	}
}

func TestCapturer_ScanTooShort(t *testing.T) {
	c := New(nil)
	// carries a trigger but is under the minimum length
	if _, ok := c.Scan("sess-1", "I prefer tea"); ok {
		t.Error("Expected short utterance to be skipped")
	}
}

func TestCapturer_ScanTruncates(t *testing.T) {
	c := New(nil)
	fact, ok := c.Scan("sess-1", "Important: "+strings.Repeat("a", 600))
	if !ok {
		t.Fatal("Expected capture")
	}
	runes := []rune(fact)
	if len(runes) != 501 {
		t.Errorf("Expected 501 runes after truncation, got %d", len(runes))
	}
	if runes[len(runes)-1] != '…' {
		t.Error("Expected ellipsis suffix")
	}
}

func TestCapturer_DedupWithinSession(t *testing.T) {
	c := New(nil)

	if _, ok := c.Scan("sess-1", "I prefer window seats on flights"); !ok {
		t.Fatal("Expected first capture")
	}
	if _, ok := c.Scan("sess-1", "I prefer window seats on flights"); ok {
		t.Error("Expected repeat to be ignored")
	}
	if _, ok := c.Scan("sess-1", "I PREFER WINDOW SEATS ON FLIGHTS"); ok {
		t.Error("Expected case-insensitive repeat to be ignored")
	}

	// a different session keeps its own dedup scope
	if _, ok := c.Scan("sess-2", "I prefer window seats on flights"); !ok {
		t.Error("Expected capture in a fresh session")
	}

	if got := len(c.Pending("sess-1")); got != 1 {
		t.Errorf("Expected 1 pending fact, got %d", got)
	}
}

func TestCapturer_PendingReturnsCopy(t *testing.T) {
	c := New(nil)
	c.Scan("sess-1", "I always bike to work in summer")

	facts := c.Pending("sess-1")
	if len(facts) != 1 {
		t.Fatalf("Expected 1 fact, got %d", len(facts))
	}
	facts[0].Text = "tampered"

	again := c.Pending("sess-1")
	if again[0].Text != "I always bike to work in summer" {
		t.Error("Expected Pending to return a copy")
	}

	if got := c.Pending("sess-other"); got != nil {
		t.Errorf("Expected nil for unknown session, got %v", got)
	}
}

func TestCapturer_Flush(t *testing.T) {
	c := New(nil)
	c.Scan("sess-1", "I prefer morning meetings before 11")
	c.Scan("sess-1", "My dentist is Dr. Okafor downtown")
	c.Scan("sess-1", "Keep in mind the garage closes at 8pm")

	sink := &fakeSink{failFor: "garage"}
	stored := c.Flush(context.Background(), "sess-1", sink)
	if stored != 2 {
		t.Errorf("Expected 2 stored, got %d", stored)
	}
	if len(sink.entries) != 2 {
		t.Fatalf("Expected 2 sink entries, got %d", len(sink.entries))
	}
	for _, e := range sink.entries {
		if e.Source != memstore.SourceAuto {
			t.Errorf("Expected auto source, got '%s'", e.Source)
		}
		if e.Category != "general" {
			t.Errorf("Expected general category, got '%s'", e.Category)
		}
	}

	// queue and dedup state are cleared by the flush
	if got := c.Pending("sess-1"); got != nil {
		t.Errorf("Expected empty queue after flush, got %v", got)
	}
	if got := c.Flush(context.Background(), "sess-1", sink); got != 0 {
		t.Errorf("Expected 0 on second flush, got %d", got)
	}
	if _, ok := c.Scan("sess-1", "I prefer morning meetings before 11"); !ok {
		t.Error("Expected fact capturable again after flush")
	}
}
