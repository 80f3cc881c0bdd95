package db

import (
	"testing"
	"time"

	"github.com/deemkeen/fedistore/domain"
)

func testActor(id string) domain.Object {
	return domain.Object{
		"id":                id,
		"type":              "Person",
		"preferredUsername": "alice",
		domain.MetaKey: map[string]any{
			"privateKey": "PEM PRIVATE",
		},
	}
}

func TestSaveAndGetObjectStripsMeta(t *testing.T) {
	db := setupTestDB(t)

	actor := testActor("https://example.com/u/alice")
	if err := db.SaveObject(actor); err != nil {
		t.Fatalf("SaveObject failed: %v", err)
	}

	got, err := db.GetObject(actor.ID(), false)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected object, got nil")
	}
	if got.Meta() != nil {
		t.Error("Expected _meta to be stripped by default")
	}
	if got["preferredUsername"] != "alice" {
		t.Errorf("Expected preferredUsername 'alice', got %v", got["preferredUsername"])
	}

	withMeta, err := db.GetObject(actor.ID(), true)
	if err != nil {
		t.Fatalf("GetObject with meta failed: %v", err)
	}
	if withMeta.PrivateKey() != "PEM PRIVATE" {
		t.Errorf("Expected private key in meta, got %q", withMeta.PrivateKey())
	}
}

func TestGetObjectNotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetObject("https://example.com/u/nobody", false)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing object, got %v", got)
	}
}

func TestSaveObjectIsIdempotentUpsert(t *testing.T) {
	db := setupTestDB(t)

	actor := testActor("https://example.com/u/alice")
	if err := db.SaveObject(actor); err != nil {
		t.Fatalf("First SaveObject failed: %v", err)
	}
	actor["name"] = "Alice"
	if err := db.SaveObject(actor); err != nil {
		t.Fatalf("Second SaveObject failed: %v", err)
	}

	got, err := db.GetObject(actor.ID(), false)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if got["name"] != "Alice" {
		t.Errorf("Expected updated name, got %v", got["name"])
	}

	var count int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM objects`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row after double save, got %d", count)
	}
}

func TestGetManyObjects(t *testing.T) {
	db := setupTestDB(t)

	empty, err := db.GetManyObjects(nil, false)
	if err != nil {
		t.Fatalf("GetManyObjects on empty ids failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no objects for empty id list, got %d", len(empty))
	}

	ids := []string{"https://example.com/u/a", "https://example.com/u/b"}
	for _, id := range ids {
		if err := db.SaveObject(domain.Object{"id": id, "type": "Person"}); err != nil {
			t.Fatalf("SaveObject failed: %v", err)
		}
	}

	got, err := db.GetManyObjects(append(ids, "https://example.com/u/missing"), false)
	if err != nil {
		t.Fatalf("GetManyObjects failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 objects, got %d", len(got))
	}
}

func TestGetObjectsByFieldOrdersNewestFirst(t *testing.T) {
	db := setupTestDB(t)

	actor := "https://example.com/u/alice"
	for i, id := range []string{"n1", "n2", "n3"} {
		note := domain.Object{
			"id":           "https://example.com/notes/" + id,
			"type":         "Note",
			"attributedTo": actor,
			"content":      id,
		}
		if err := db.SaveObject(note); err != nil {
			t.Fatalf("SaveObject %d failed: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := db.SaveObject(domain.Object{"id": "https://example.com/u/other", "attributedTo": "someone-else"}); err != nil {
		t.Fatalf("SaveObject failed: %v", err)
	}

	notes, err := db.GetObjectsByField("attributedTo", actor)
	if err != nil {
		t.Fatalf("GetObjectsByField failed: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("Expected 3 notes, got %d", len(notes))
	}
	if notes[0]["content"] != "n3" || notes[2]["content"] != "n1" {
		t.Errorf("Expected newest-first order, got %v, %v, %v",
			notes[0]["content"], notes[1]["content"], notes[2]["content"])
	}
}

func TestUpdateObjectMergePatchWithNullDelete(t *testing.T) {
	db := setupTestDB(t)

	actor := testActor("https://example.com/u/alice")
	actor["summary"] = "old summary"
	if err := db.SaveObject(actor); err != nil {
		t.Fatalf("SaveObject failed: %v", err)
	}

	patch := domain.Object{
		"id":      actor.ID(),
		"name":    "Alice",
		"summary": nil, // null means delete, not set-to-null
	}
	updated, err := db.UpdateObject(patch, actor.ID(), false)
	if err != nil {
		t.Fatalf("UpdateObject failed: %v", err)
	}

	if updated["name"] != "Alice" {
		t.Errorf("Expected patched name, got %v", updated["name"])
	}
	if _, ok := updated["summary"]; ok {
		t.Error("Expected summary to be deleted by null patch")
	}
	// Untouched fields survive a merge patch.
	if updated["preferredUsername"] != "alice" {
		t.Errorf("Expected preferredUsername to survive, got %v", updated["preferredUsername"])
	}
	if updated.PrivateKey() != "PEM PRIVATE" {
		t.Error("Expected meta to survive a merge patch")
	}
}

func TestUpdateObjectFullReplace(t *testing.T) {
	db := setupTestDB(t)

	actor := testActor("https://example.com/u/alice")
	if err := db.SaveObject(actor); err != nil {
		t.Fatalf("SaveObject failed: %v", err)
	}

	replacement := domain.Object{"id": actor.ID(), "type": "Person", "name": "Alice"}
	updated, err := db.UpdateObject(replacement, actor.ID(), true)
	if err != nil {
		t.Fatalf("UpdateObject failed: %v", err)
	}
	if _, ok := updated["preferredUsername"]; ok {
		t.Error("Expected full replace to drop old fields")
	}

	got, err := db.GetObject(actor.ID(), true)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if _, ok := got["preferredUsername"]; ok {
		t.Error("Expected stored row to be fully replaced")
	}
}

func TestUpdateObjectMissingRowFails(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.UpdateObject(domain.Object{"id": "https://example.com/u/ghost", "name": "x"}, "", false)
	if err == nil {
		t.Error("Expected error updating a missing object")
	}
}

func TestUpdateObjectPropagatesToEmbeddedCopies(t *testing.T) {
	db := setupTestDB(t)

	note := domain.Object{
		"id":      "https://example.com/notes/1",
		"type":    "Note",
		"content": "original",
	}
	if err := db.SaveObject(note); err != nil {
		t.Fatalf("SaveObject failed: %v", err)
	}

	embedding := domain.Activity{
		"id":     "https://example.com/activities/1",
		"type":   "Create",
		"actor":  "https://example.com/u/alice",
		"object": map[string]any{"id": note.ID(), "type": "Note", "content": "original"},
	}
	other := domain.Activity{
		"id":     "https://example.com/activities/2",
		"type":   "Create",
		"actor":  "https://example.com/u/bob",
		"object": map[string]any{"id": "https://example.com/notes/2", "type": "Note", "content": "unrelated"},
	}
	for _, activity := range []domain.Activity{embedding, other} {
		if _, err := db.SaveActivity(activity); err != nil {
			t.Fatalf("SaveActivity failed: %v", err)
		}
	}

	patch := domain.Object{"id": note.ID(), "content": "edited"}
	if _, err := db.UpdateObject(patch, "", false); err != nil {
		t.Fatalf("UpdateObject failed: %v", err)
	}

	got, err := db.GetActivity(embedding.ID(), false)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	embedded, ok := got["object"].(map[string]any)
	if !ok {
		t.Fatalf("Expected embedded object, got %T", got["object"])
	}
	if embedded["content"] != "edited" {
		t.Errorf("Expected embedded copy to be updated, got %v", embedded["content"])
	}

	untouched, err := db.GetActivity(other.ID(), false)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	unrelated := untouched["object"].(map[string]any)
	if unrelated["content"] != "unrelated" {
		t.Errorf("Expected unrelated activity to stay unchanged, got %v", unrelated["content"])
	}
}

func TestKeyRotationReachesPendingDeliveries(t *testing.T) {
	db := setupTestDB(t)

	actorId := "https://example.com/u/alice"
	actor := testActor(actorId)
	if err := db.SaveObject(actor); err != nil {
		t.Fatalf("SaveObject failed: %v", err)
	}

	ok, err := db.DeliveryEnqueue(actorId, `{"type":"Create"}`,
		[]string{"https://remote.example/inbox"}, "OLD KEY")
	if err != nil || !ok {
		t.Fatalf("DeliveryEnqueue failed: ok=%v err=%v", ok, err)
	}

	patch := domain.Object{
		"id":           actorId,
		domain.MetaKey: map[string]any{"privateKey": "NEW KEY"},
	}
	if _, err := db.UpdateObject(patch, actorId, false); err != nil {
		t.Fatalf("UpdateObject failed: %v", err)
	}

	delivery, _, err := db.DeliveryDequeue()
	if err != nil {
		t.Fatalf("DeliveryDequeue failed: %v", err)
	}
	if delivery == nil {
		t.Fatal("Expected a delivery")
	}
	if delivery.SigningKey != "NEW KEY" {
		t.Errorf("Expected rotated signing key, got %q", delivery.SigningKey)
	}
}

func TestGetUserCount(t *testing.T) {
	db := setupTestDB(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := db.SaveObject(domain.Object{"id": "https://example.com/u/" + id}); err != nil {
			t.Fatalf("SaveObject failed: %v", err)
		}
	}

	count, err := db.GetUserCount()
	if err != nil {
		t.Fatalf("GetUserCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 objects, got %d", count)
	}
}
