package activitypub

import (
	"path/filepath"
	"testing"

	"github.com/deemkeen/fedistore/db"
	"github.com/deemkeen/fedistore/domain"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	return database
}

func TestSetupGeneratesKeypair(t *testing.T) {
	database := setupTestDB(t)

	actor := domain.Object{
		"id":                "https://example.com/u/alice",
		"type":              "Person",
		"preferredUsername": "alice",
	}
	if err := Setup(database, actor); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	stored, err := database.GetObject("https://example.com/u/alice", true)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected the actor to be stored")
	}
	if stored.PrivateKey() == "" {
		t.Error("Expected a generated private key in metadata")
	}
	if _, err := ParsePrivateKey(stored.PrivateKey()); err != nil {
		t.Errorf("Generated private key doesn't parse: %v", err)
	}
}

func TestSetupKeepsExistingKey(t *testing.T) {
	database := setupTestDB(t)

	actor := domain.Object{
		"id":   "https://example.com/u/alice",
		"type": "Person",
		domain.MetaKey: map[string]any{
			"privateKey": "EXISTING",
		},
	}
	if err := Setup(database, actor); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	stored, err := database.GetObject("https://example.com/u/alice", true)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if stored.PrivateKey() != "EXISTING" {
		t.Errorf("Expected the existing key to survive, got %q", stored.PrivateKey())
	}
}

func TestSetupNilActorIsNoop(t *testing.T) {
	database := setupTestDB(t)

	if err := Setup(database, nil); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	count, err := database.GetUserCount()
	if err != nil {
		t.Fatalf("GetUserCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty store, got %d objects", count)
	}
}
