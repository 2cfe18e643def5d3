package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPClient_ConnectedToolkits(t *testing.T) {
	var gotKey, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"toolkit_slug":"gmail"},{"toolkit_slug":"googledrive"},{"toolkit_slug":"gmail"}]}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, "test-key")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	toolkits, err := client.ConnectedToolkits(context.Background())
	if err != nil {
		t.Fatalf("ConnectedToolkits failed: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("Expected 'test-key' header, got '%s'", gotKey)
	}
	if gotPath != "/connected_accounts" {
		t.Errorf("Expected '/connected_accounts', got '%s'", gotPath)
	}
	if len(toolkits) != 2 {
		t.Fatalf("Expected 2 toolkits after dedup, got %d", len(toolkits))
	}
	if toolkits[0] != "GMAIL" || toolkits[1] != "GOOGLEDRIVE" {
		t.Errorf("Expected [GMAIL GOOGLEDRIVE], got %v", toolkits)
	}
}

func TestHTTPClient_ToolkitActions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions" {
			t.Errorf("Expected '/actions', got '%s'", r.URL.Path)
		}
		if got := r.URL.Query().Get("toolkit_slug"); got != "GMAIL" {
			t.Errorf("Expected toolkit_slug 'GMAIL', got '%s'", got)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("Expected limit '20', got '%s'", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"items":[{"slug":"gmail_send_email"}],"next_cursor":"page2"}`))
			return
		}
		w.Write([]byte(`{"items":[{"slug":"gmail_fetch_emails"}],"next_cursor":""}`))
	}))
	defer server.Close()

	client, _ := NewHTTPClient(server.URL, "test-key")

	slugs, next, err := client.ToolkitActions(context.Background(), "GMAIL", "")
	if err != nil {
		t.Fatalf("ToolkitActions failed: %v", err)
	}
	if len(slugs) != 1 || slugs[0] != "GMAIL_SEND_EMAIL" {
		t.Errorf("Expected [GMAIL_SEND_EMAIL], got %v", slugs)
	}
	if next != "page2" {
		t.Errorf("Expected cursor 'page2', got '%s'", next)
	}

	slugs, next, err = client.ToolkitActions(context.Background(), "GMAIL", next)
	if err != nil {
		t.Fatalf("ToolkitActions page 2 failed: %v", err)
	}
	if len(slugs) != 1 || slugs[0] != "GMAIL_FETCH_EMAILS" {
		t.Errorf("Expected [GMAIL_FETCH_EMAILS], got %v", slugs)
	}
	if next != "" {
		t.Errorf("Expected empty final cursor, got '%s'", next)
	}
}

func TestHTTPClient_SearchActions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions/search" {
			t.Errorf("Expected '/actions/search', got '%s'", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "send email" {
			t.Errorf("Expected query 'send email', got '%s'", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"slug":"GMAIL_SEND_EMAIL"},{"slug":"outlook_send_email"}]}`))
	}))
	defer server.Close()

	client, _ := NewHTTPClient(server.URL, "test-key")

	slugs, err := client.SearchActions(context.Background(), "send email")
	if err != nil {
		t.Fatalf("SearchActions failed: %v", err)
	}
	if len(slugs) != 2 {
		t.Fatalf("Expected 2 slugs, got %d", len(slugs))
	}
	if slugs[1] != "OUTLOOK_SEND_EMAIL" {
		t.Errorf("Expected uppercased 'OUTLOOK_SEND_EMAIL', got '%s'", slugs[1])
	}
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	client, _ := NewHTTPClient(server.URL, "test-key")

	_, err := client.SearchActions(context.Background(), "anything")
	if err == nil {
		t.Fatal("Expected error on 500 response")
	}
	if !strings.Contains(err.Error(), "catalog api error") {
		t.Errorf("Expected catalog api error, got '%v'", err)
	}
}

func TestNewHTTPClient(t *testing.T) {
	if _, err := NewHTTPClient("", ""); err == nil {
		t.Error("Expected error for empty API key")
	}

	client, err := NewHTTPClient("http://example.com/", "key")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.baseURL != "http://example.com" {
		t.Errorf("Expected trailing slash trimmed, got '%s'", client.baseURL)
	}

	client, _ = NewHTTPClient("", "key")
	if client.baseURL != defaultBaseURL {
		t.Errorf("Expected default base URL, got '%s'", client.baseURL)
	}
}
