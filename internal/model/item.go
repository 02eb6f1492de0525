// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data — similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved field names inside the flat JSON representation of an Item.
// Everything else goes into Fields untouched.
const (
	fieldID        = "id"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// Item is a user-owned wiki record: an arbitrary JSON object with a
// mandatory "id" that is unique within its (contentType, userID) scope.
//
// The wiki stores many content shapes (video guides, streamer listings,
// display names) and the storage layer must not care which one it is
// handling. So instead of one struct per content type, Item keeps the
// identifying fields first-class and everything else in Fields.
//
// On the wire an Item is FLAT — id, createdAt, updatedAt and the free-form
// fields all live in one JSON object:
//
//	{"id":"g-42","title":"Boss guide","url":"...","createdAt":"...","updatedAt":"..."}
//
// The custom MarshalJSON/UnmarshalJSON below implement that flattening.
type Item struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Fields    map[string]any
}

// MarshalJSON flattens the item into a single JSON object.
// Zero timestamps are omitted so a client-submitted item round-trips
// without growing empty "createdAt"/"updatedAt" keys.
func (it Item) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(it.Fields)+3)
	for k, v := range it.Fields {
		flat[k] = v
	}
	flat[fieldID] = it.ID
	if !it.CreatedAt.IsZero() {
		flat[fieldCreatedAt] = it.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !it.UpdatedAt.IsZero() {
		flat[fieldUpdatedAt] = it.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flat JSON object back into ID, timestamps and Fields.
func (it *Item) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	if raw, ok := flat[fieldID]; ok {
		id, ok := raw.(string)
		if !ok {
			return fmt.Errorf("model: item %q must be a string", fieldID)
		}
		it.ID = id
		delete(flat, fieldID)
	}

	var err error
	if it.CreatedAt, err = popTime(flat, fieldCreatedAt); err != nil {
		return err
	}
	if it.UpdatedAt, err = popTime(flat, fieldUpdatedAt); err != nil {
		return err
	}

	it.Fields = flat
	return nil
}

// popTime removes key from flat and parses it as an RFC 3339 timestamp.
// A missing key is fine (zero time); a present but malformed value is not.
func popTime(flat map[string]any, key string) (time.Time, error) {
	raw, ok := flat[key]
	if !ok {
		return time.Time{}, nil
	}
	delete(flat, key)

	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("model: item %q must be a string timestamp", key)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("model: parsing item %q: %w", key, err)
	}
	return t, nil
}

// Clone returns a deep-enough copy: the Fields map is copied so callers
// can't mutate stored state through a returned item. Nested values are
// shared, which is safe because the storage layer never mutates them.
func (it Item) Clone() Item {
	out := it
	if it.Fields != nil {
		out.Fields = make(map[string]any, len(it.Fields))
		for k, v := range it.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// PublicItem is an Item annotated with its owner, as returned by the
// public (all-users) aggregate read. The owner fields are inferred from
// the storage location (issue labels/title or KV key), not from the item
// body itself.
type PublicItem struct {
	Item
	UserID   string
	Username string
}

// MarshalJSON flattens like Item and adds the owner annotation keys.
func (p PublicItem) MarshalJSON() ([]byte, error) {
	data, err := p.Item.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	flat["userId"] = p.UserID
	flat["username"] = p.Username
	return json.Marshal(flat)
}

// Submission is an entity-scoped contribution: one user's item attached to
// a shared entity (a weapon page, a build target) rather than to the
// submitting user's own record set. Uniqueness is per (EntityID, UserID,
// Item.ID).
type Submission struct {
	EntityID  string    `json:"entityId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Item      Item      `json:"item"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VerificationCode is an ephemeral secret tied to a hashed email address.
// The raw email is never stored — only its SHA-256 hex digest — so a leak
// of the backing store does not leak addresses.
type VerificationCode struct {
	EmailHash string    `json:"emailHash"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the code is past its expiry at the given instant.
func (v VerificationCode) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
