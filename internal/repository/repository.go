// Package repository defines the persistence interfaces for relational data.
//
// Wiki CONTENT lives behind storage.Adapter (GitHub issues, KV, SQLite).
// This package covers the one thing that is always relational regardless of
// the content backend: the user account cache populated from GitHub OAuth.
package repository

import (
	"context"

	"github.com/sakif/wikistore/internal/model"
)

// UserRepository persists user accounts. Implemented by the sqlite package;
// services depend on this interface so tests can substitute a mock.
type UserRepository interface {
	// Upsert inserts a new user or updates the profile of an existing one,
	// matched by GitHub ID. On return user.ID is populated.
	Upsert(ctx context.Context, user *model.User) error

	// GetUserByID returns the user with the internal ID, or
	// apperror.ErrNotFound.
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}
