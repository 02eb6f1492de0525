// Package storage defines the adapter contract every wiki storage backend
// must satisfy.
//
// WHY AN ADAPTER INTERFACE?
// The wiki's "database" is whatever backend the operator points it at: a
// GitHub repository's issue tracker (githubstore), Cloudflare Workers KV
// (cloudflarekv), a local SQLite file (sqlitekv), or a migrating composite
// of two of those (migrate). The service layer programs against this
// interface and never imports a concrete backend, so swapping backends —
// including a live migration between two of them — is a wiring change in
// main.go, not an application change.
//
// CONTRACT RULES (uniform across backends):
//   - "Not found" on reads is NOT an error: Load returns an empty slice,
//     GetVerificationCode returns nil. Only genuine backend failures and
//     validation problems produce errors.
//   - Save requires item.ID and upserts by it; the full post-save array is
//     returned so callers never need a follow-up read.
//   - Delete of a missing item IS an error (apperror.ErrNotFound) — the
//     caller asked to remove something specific that isn't there.
//   - All methods either succeed or return an error; there are no
//     partial-success results.
package storage

import (
	"context"
	"time"

	"github.com/sakif/wikistore/internal/model"
)

// TransformFunc rewrites a user's item array during a schema-version
// migration. It must return the new array; returning an error aborts the
// migration with the old data left in place.
type TransformFunc func(items []model.Item) ([]model.Item, error)

// Adapter is the capability set of a wiki storage backend.
type Adapter interface {
	// Load returns the items a user stored under a content type.
	// Missing data is an empty slice, not an error.
	Load(ctx context.Context, contentType, userID string) ([]model.Item, error)

	// Save upserts item (matched by item.ID) into the user's array for the
	// content type and returns the full updated array. item.ID is required.
	Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error)

	// Delete removes the item with the given ID and returns the remaining
	// array. Deleting an unknown ID returns apperror.ErrNotFound.
	Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error)

	// LoadPublic aggregates every user's items for a content type into one
	// flat list annotated with the owning user.
	LoadPublic(ctx context.Context, contentType string) ([]model.PublicItem, error)

	// LoadSubmissions returns all users' submissions attached to a shared
	// entity (a weapon page, a build target, ...).
	LoadSubmissions(ctx context.Context, entityID string) ([]model.Submission, error)

	// SaveSubmission upserts one user's submission on a shared entity,
	// keyed by (entityID, userID, item.ID).
	SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error)

	// GetVersion reports the current schema version for a content type.
	// Backends with no recorded version report 1.
	GetVersion(ctx context.Context, contentType string) (int, error)

	// MigrateVersion moves one user's data for a content type from one
	// version-labelled location to another, rewriting it with transform.
	MigrateVersion(ctx context.Context, contentType, userID string, fromVersion, toVersion int, transform TransformFunc) error

	// StoreVerificationCode stores an ephemeral secret keyed by an email
	// hash, valid until expiresAt.
	StoreVerificationCode(ctx context.Context, emailHash, code string, expiresAt time.Time) error

	// GetVerificationCode returns the stored code, or nil if absent. An
	// expired code is treated as absent and proactively deleted.
	GetVerificationCode(ctx context.Context, emailHash string) (*model.VerificationCode, error)

	// DeleteVerificationCode removes a stored code. Removing an absent
	// code is a no-op.
	DeleteVerificationCode(ctx context.Context, emailHash string) error

	// HealthCheck probes the backend with a cheap real request.
	HealthCheck(ctx context.Context) error
}
