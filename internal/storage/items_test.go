package storage

import (
	"testing"
	"time"

	"github.com/sakif/wikistore/internal/model"
)

func TestUpsertItem_AppendsNew(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	items := []model.Item{{ID: "a"}}

	items = UpsertItem(items, model.Item{ID: "b"}, now)

	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[1].ID != "b" {
		t.Errorf("appended item ID = %q, want %q", items[1].ID, "b")
	}
	if !items[1].CreatedAt.Equal(now) || !items[1].UpdatedAt.Equal(now) {
		t.Errorf("new item timestamps = %v/%v, want both %v",
			items[1].CreatedAt, items[1].UpdatedAt, now)
	}
}

func TestUpsertItem_ReplacesInPlace(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(48 * time.Hour)
	items := []model.Item{
		{ID: "a", CreatedAt: created, UpdatedAt: created},
		{ID: "b", CreatedAt: created, UpdatedAt: created},
	}

	items = UpsertItem(items, model.Item{ID: "a", Fields: map[string]any{"v": 2}}, now)

	if len(items) != 2 {
		t.Fatalf("upsert of existing ID changed length: %d", len(items))
	}
	// Position is preserved — the replaced item stays where it was.
	if items[0].ID != "a" {
		t.Errorf("items[0].ID = %q, want %q (position must be stable)", items[0].ID, "a")
	}
	if items[0].Fields["v"] != 2 {
		t.Errorf("Fields not replaced: %v", items[0].Fields)
	}
	// CreatedAt survives the update, UpdatedAt moves.
	if !items[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want original %v", items[0].CreatedAt, created)
	}
	if !items[0].UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", items[0].UpdatedAt, now)
	}
}

func TestUpsertItem_ClientTimestampsIgnored(t *testing.T) {
	// A client can send whatever updatedAt it likes; the server clock wins.
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	lie := now.Add(1000 * time.Hour)

	items := UpsertItem(nil, model.Item{ID: "a", UpdatedAt: lie}, now)

	if !items[0].UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want server time %v", items[0].UpdatedAt, now)
	}
}

func TestUpsertItem_DoesNotAliasCaller(t *testing.T) {
	now := time.Now()
	incoming := model.Item{ID: "a", Fields: map[string]any{"k": "v"}}

	items := UpsertItem(nil, incoming, now)
	incoming.Fields["k"] = "mutated-after-save"

	if items[0].Fields["k"] != "v" {
		t.Error("stored item shares the caller's Fields map")
	}
}

func TestCloneItems(t *testing.T) {
	items := []model.Item{
		{ID: "a", Fields: map[string]any{"k": 1}},
		{ID: "b", Fields: map[string]any{"k": 2}},
	}

	cloned := CloneItems(items)
	cloned[0].Fields["k"] = 99

	if items[0].Fields["k"] != 1 {
		t.Error("mutating the clone changed the source slice")
	}
	if len(cloned) != 2 {
		t.Errorf("len = %d, want 2", len(cloned))
	}
}
