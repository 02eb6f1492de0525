package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestItemMarshal_Flat(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	it := Item{
		ID:        "g-42",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
		Fields: map[string]any{
			"title": "Boss guide",
			"views": float64(7),
		},
	}

	data, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("re-parsing marshalled item: %v", err)
	}

	// Everything lives at the top level — no nested "fields" object.
	if _, ok := flat["Fields"]; ok {
		t.Error("marshalled item has a nested Fields key, expected flat layout")
	}
	if flat["id"] != "g-42" {
		t.Errorf("id = %v, want %q", flat["id"], "g-42")
	}
	if flat["title"] != "Boss guide" {
		t.Errorf("title = %v, want %q", flat["title"], "Boss guide")
	}
	if flat["createdAt"] != "2025-03-01T10:00:00Z" {
		t.Errorf("createdAt = %v, want RFC3339 UTC string", flat["createdAt"])
	}
}

func TestItemMarshal_ZeroTimestampsOmitted(t *testing.T) {
	it := Item{ID: "x", Fields: map[string]any{"a": "b"}}

	data, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("re-parsing: %v", err)
	}
	if _, ok := flat["createdAt"]; ok {
		t.Error("zero CreatedAt should be omitted from JSON")
	}
	if _, ok := flat["updatedAt"]; ok {
		t.Error("zero UpdatedAt should be omitted from JSON")
	}
}

func TestItemUnmarshal_SplitsReservedKeys(t *testing.T) {
	raw := `{"id":"w-1","name":"Greatsword","damage":120,"createdAt":"2025-01-02T03:04:05Z","updatedAt":"2025-01-03T00:00:00Z"}`

	var it Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if it.ID != "w-1" {
		t.Errorf("ID = %q, want %q", it.ID, "w-1")
	}
	if it.CreatedAt.IsZero() || it.UpdatedAt.IsZero() {
		t.Error("timestamps should be parsed, not zero")
	}

	// Reserved keys must not leak into Fields.
	for _, reserved := range []string{"id", "createdAt", "updatedAt"} {
		if _, ok := it.Fields[reserved]; ok {
			t.Errorf("reserved key %q leaked into Fields", reserved)
		}
	}
	if it.Fields["name"] != "Greatsword" {
		t.Errorf("Fields[name] = %v, want %q", it.Fields["name"], "Greatsword")
	}
}

func TestItemUnmarshal_MissingTimestampsAreZero(t *testing.T) {
	var it Item
	if err := json.Unmarshal([]byte(`{"id":"a","x":1}`), &it); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !it.CreatedAt.IsZero() || !it.UpdatedAt.IsZero() {
		t.Error("missing timestamps should unmarshal as zero times")
	}
}

func TestItemUnmarshal_BadTypes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"numeric id", `{"id":123}`},
		{"numeric createdAt", `{"id":"a","createdAt":42}`},
		{"malformed createdAt", `{"id":"a","createdAt":"not-a-time"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var it Item
			if err := json.Unmarshal([]byte(tt.raw), &it); err == nil {
				t.Errorf("Unmarshal(%s) should have failed", tt.raw)
			}
		})
	}
}

func TestItemRoundTrip(t *testing.T) {
	raw := `{"id":"v-9","title":"Speedrun","tags":["pb","glitchless"],"createdAt":"2025-06-01T00:00:00Z"}`

	var it Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	out, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got, want map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("re-parsing output: %v", err)
	}
	if err := json.Unmarshal([]byte(raw), &want); err != nil {
		t.Fatalf("re-parsing input: %v", err)
	}
	if len(got) != len(want) {
		t.Errorf("round trip changed key count: got %d keys, want %d", len(got), len(want))
	}
	if got["title"] != want["title"] || got["id"] != want["id"] {
		t.Errorf("round trip changed values: got %v, want %v", got, want)
	}
}

func TestItemClone_IndependentFields(t *testing.T) {
	original := Item{ID: "c-1", Fields: map[string]any{"k": "v"}}

	clone := original.Clone()
	clone.Fields["k"] = "changed"
	clone.Fields["new"] = true

	if original.Fields["k"] != "v" {
		t.Error("mutating the clone's Fields changed the original")
	}
	if _, ok := original.Fields["new"]; ok {
		t.Error("adding to the clone's Fields leaked into the original")
	}
}

func TestPublicItemMarshal_AddsOwner(t *testing.T) {
	p := PublicItem{
		Item:     Item{ID: "g-1", Fields: map[string]any{"title": "Guide"}},
		UserID:   "user-7",
		Username: "octocat",
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("re-parsing: %v", err)
	}
	if flat["userId"] != "user-7" {
		t.Errorf("userId = %v, want %q", flat["userId"], "user-7")
	}
	if flat["username"] != "octocat" {
		t.Errorf("username = %v, want %q", flat["username"], "octocat")
	}
	if flat["id"] != "g-1" || flat["title"] != "Guide" {
		t.Errorf("item fields missing from public marshal: %v", flat)
	}
}

func TestVerificationCodeExpired(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	code := VerificationCode{ExpiresAt: now.Add(10 * time.Minute)}

	if code.Expired(now) {
		t.Error("code should not be expired before ExpiresAt")
	}
	if !code.Expired(now.Add(11 * time.Minute)) {
		t.Error("code should be expired after ExpiresAt")
	}
	// Exactly at the boundary the code is still valid.
	if code.Expired(code.ExpiresAt) {
		t.Error("code should still be valid at exactly ExpiresAt")
	}
}
