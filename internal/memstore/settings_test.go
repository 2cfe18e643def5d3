package memstore

import (
	"context"
	"testing"

	"github.com/aiovoice/recall/internal/credential"
)

func TestStore_ConfigRoundtrip(t *testing.T) {
	s, cleanup := newTestStore(t, nil)
	defer cleanup()
	ctx := context.Background()

	if err := s.SetConfig(ctx, "embed.provider", "ollama", false); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	val, found, err := s.GetConfig(ctx, "embed.provider")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if !found || val != "ollama" {
		t.Errorf("Expected 'ollama', got %q (found=%v)", val, found)
	}

	// overwrite
	if err := s.SetConfig(ctx, "embed.provider", "openai", false); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	val, _, _ = s.GetConfig(ctx, "embed.provider")
	if val != "openai" {
		t.Errorf("Expected overwrite to 'openai', got %q", val)
	}

	if _, found, err := s.GetConfig(ctx, "unknown"); err != nil || found {
		t.Errorf("Expected missing key, got found=%v err=%v", found, err)
	}
}

func TestStore_ConfigSecret(t *testing.T) {
	s, cleanup := newTestStore(t, nil)
	defer cleanup()
	ctx := context.Background()

	const key = "openai.api_key"
	const secret = "sk-test-1234567890abcdef"

	if err := s.SetConfig(ctx, key, secret, true); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	// at rest the value is encrypted
	var stored string
	if err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&stored); err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if !credential.IsEncrypted(stored) {
		t.Errorf("Expected encrypted value at rest, got %q", stored)
	}
	if stored == secret {
		t.Error("Expected ciphertext to differ from the secret")
	}

	// reads decrypt transparently
	val, found, err := s.GetConfig(ctx, key)
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if !found || val != secret {
		t.Errorf("Expected decrypted secret back, got %q", val)
	}
}

func TestStore_ListConfigMasksSecrets(t *testing.T) {
	s, cleanup := newTestStore(t, nil)
	defer cleanup()
	ctx := context.Background()

	if err := s.SetConfig(ctx, "journal.dir", "/data/memory", false); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := s.SetConfig(ctx, "gemini.api_key", "AIzaSy-very-secret-value", true); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	listing, err := s.ListConfig(ctx)
	if err != nil {
		t.Fatalf("ListConfig failed: %v", err)
	}
	if listing["journal.dir"] != "/data/memory" {
		t.Errorf("Expected plain value listed, got %q", listing["journal.dir"])
	}
	masked := listing["gemini.api_key"]
	if masked == "" || masked == "AIzaSy-very-secret-value" {
		t.Errorf("Expected masked secret, got %q", masked)
	}
}

func TestStore_DeleteConfig(t *testing.T) {
	s, cleanup := newTestStore(t, nil)
	defer cleanup()
	ctx := context.Background()

	if err := s.SetConfig(ctx, "k", "v", false); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := s.DeleteConfig(ctx, "k"); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}
	if _, found, _ := s.GetConfig(ctx, "k"); found {
		t.Error("Expected key to be gone after delete")
	}

	// deleting a missing key is not an error
	if err := s.DeleteConfig(ctx, "k"); err != nil {
		t.Errorf("DeleteConfig on missing key failed: %v", err)
	}
}
