package storage

import (
	"time"

	"github.com/sakif/wikistore/internal/model"
)

// UpsertItem replaces the element of items matching item.ID, or appends
// item if no element matches. Every backend funnels saves through this so
// timestamp semantics are identical everywhere: CreatedAt is stamped on
// first save and survives updates, UpdatedAt always moves to now.
func UpsertItem(items []model.Item, item model.Item, now time.Time) []model.Item {
	item = item.Clone()
	item.UpdatedAt = now
	for i, existing := range items {
		if existing.ID == item.ID {
			item.CreatedAt = existing.CreatedAt
			if item.CreatedAt.IsZero() {
				item.CreatedAt = now
			}
			items[i] = item
			return items
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	return append(items, item)
}

// CloneItems copies a slice of items so callers can't mutate shared state.
func CloneItems(items []model.Item) []model.Item {
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
