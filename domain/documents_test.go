package domain

import (
	"reflect"
	"testing"
)

func TestActorsScalarAndList(t *testing.T) {
	tests := []struct {
		name     string
		actor    any
		expected []string
	}{
		{
			name:     "bare string",
			actor:    "https://example.com/u/alice",
			expected: []string{"https://example.com/u/alice"},
		},
		{
			name:     "embedded actor object",
			actor:    map[string]any{"id": "https://example.com/u/alice", "type": "Person"},
			expected: []string{"https://example.com/u/alice"},
		},
		{
			name: "mixed list",
			actor: []any{
				"https://example.com/u/alice",
				map[string]any{"id": "https://example.com/u/bob"},
			},
			expected: []string{"https://example.com/u/alice", "https://example.com/u/bob"},
		},
		{
			name:     "absent",
			actor:    nil,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Activity{"id": "https://example.com/a/1"}
			if tt.actor != nil {
				a["actor"] = tt.actor
			}
			if got := a.Actors(); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestEmbeddedObjectsSkipsBareReferences(t *testing.T) {
	a := Activity{
		"object": []any{
			"https://example.com/n/1",
			map[string]any{"id": "https://example.com/n/2", "type": "Note"},
		},
	}

	objects := a.EmbeddedObjects()
	if len(objects) != 1 {
		t.Fatalf("Expected 1 embedded object, got %d", len(objects))
	}
	if objects[0].ID() != "https://example.com/n/2" {
		t.Errorf("Unexpected embedded object %v", objects[0])
	}

	// ObjectIDs sees both forms.
	ids := a.ObjectIDs()
	expected := []string{"https://example.com/n/1", "https://example.com/n/2"}
	if !reflect.DeepEqual(ids, expected) {
		t.Errorf("Expected %v, got %v", expected, ids)
	}
}

func TestObjectTypesDeduplicates(t *testing.T) {
	a := Activity{
		"object": []any{
			map[string]any{"id": "https://example.com/n/1", "type": "Note"},
			map[string]any{"id": "https://example.com/n/2", "type": "Note"},
			map[string]any{"id": "https://example.com/u/x", "type": "Person"},
		},
	}

	types := a.ObjectTypes()
	if !reflect.DeepEqual(types, []string{"Note", "Person"}) {
		t.Errorf("Expected [Note Person], got %v", types)
	}
}

func TestCollectionsNormalizesScalar(t *testing.T) {
	scalar := Activity{MetaKey: map[string]any{"collection": "https://example.com/u/alice/followers"}}
	if got := scalar.Collections(); !reflect.DeepEqual(got, []string{"https://example.com/u/alice/followers"}) {
		t.Errorf("Expected scalar to normalize to a list, got %v", got)
	}

	set := Activity{MetaKey: map[string]any{"collection": []any{"c1", "c2"}}}
	if got := set.Collections(); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Errorf("Expected [c1 c2], got %v", got)
	}

	none := Activity{}
	if got := none.Collections(); got != nil {
		t.Errorf("Expected nil for missing meta, got %v", got)
	}
}

func TestWithoutMetaLeavesOriginalIntact(t *testing.T) {
	o := Object{
		"id":    "https://example.com/u/alice",
		"type":  "Person",
		MetaKey: map[string]any{"privateKey": "PEM"},
	}

	stripped := o.WithoutMeta()
	if _, ok := stripped[MetaKey]; ok {
		t.Error("Expected meta to be removed from the copy")
	}
	if o.PrivateKey() != "PEM" {
		t.Error("Expected the original to keep its meta")
	}
}

func TestCloneCopiesMetaMap(t *testing.T) {
	a := Activity{
		"id":    "https://example.com/a/1",
		MetaKey: map[string]any{"collection": "c1"},
	}

	c := a.Clone()
	c.EnsureMeta()["collection"] = "c2"

	if a.Meta()["collection"] != "c1" {
		t.Errorf("Expected original meta untouched, got %v", a.Meta())
	}
}

func TestEnsureMetaCreatesMap(t *testing.T) {
	a := Activity{"id": "https://example.com/a/1"}
	meta := a.EnsureMeta()
	meta["collection"] = "c1"

	if a.Meta()["collection"] != "c1" {
		t.Error("Expected EnsureMeta to install the map on the activity")
	}

	// A second call returns the same map.
	if len(a.EnsureMeta()) != 1 {
		t.Error("Expected EnsureMeta to reuse the existing map")
	}
}
