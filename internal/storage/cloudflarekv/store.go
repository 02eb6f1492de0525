// Package cloudflarekv implements the storage adapter against Cloudflare
// Workers KV.
//
// KEY LAYOUT (the KV analogue of githubstore's label schema):
//
//	content:<type>:<userID>  — envelope{username, version, items}
//	grid:<entityID>          — []Submission
//	verify:<emailHash>       — VerificationCode (native expiration_ttl)
//	version:<type>           — current schema version as decimal text
//
// KV is last-write-wins with no conditional writes, and this adapter adds
// no locking on top: the save and delete paths are plain read-modify-write,
// the same class of race githubstore's key guard mitigates in-process. An
// accepted trade-off — KV is the migration TARGET precisely because its
// reads are fast and its consistency story, while weak, is at least honest.
package cloudflarekv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/storage"
)

var _ storage.Adapter = (*Store)(nil)

const (
	contentKeyPrefix = "content:"
	gridKeyPrefix    = "grid:"
	verifyKeyPrefix  = "verify:"
	versionKeyPrefix = "version:"
)

// envelope is the stored value for a content key. Items alone would do for
// Load, but LoadPublic needs the owner's username and MigrateVersion needs
// the written version, and a KV key can't carry labels.
type envelope struct {
	Username string       `json:"username"`
	Version  int          `json:"version"`
	Items    []model.Item `json:"items"`
}

// Store is the Workers-KV-backed storage adapter.
type Store struct {
	kv     KV
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store over any KV implementation (the REST client in
// production, an in-memory fake in tests).
func New(kv KV, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logger, now: time.Now}
}

func contentKey(contentType, userID string) string {
	return contentKeyPrefix + contentType + ":" + userID
}

func gridKey(entityID string) string {
	return gridKeyPrefix + entityID
}

func verifyKey(emailHash string) string {
	return verifyKeyPrefix + emailHash
}

func versionKey(contentType string) string {
	return versionKeyPrefix + contentType
}

// Load returns the user's item array for a content type.
func (s *Store) Load(ctx context.Context, contentType, userID string) ([]model.Item, error) {
	env, found, err := s.getEnvelope(ctx, contentKey(contentType, userID))
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to load %s for user %s: %w", contentType, userID, err)
	}
	if !found {
		return []model.Item{}, nil
	}
	return env.Items, nil
}

// Save upserts by item ID. Read-modify-write without concurrency control;
// concurrent savers of the same key are last-write-wins.
func (s *Store) Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error) {
	if item.ID == "" {
		return nil, apperror.ValidationFailed("id", "item id is required")
	}

	key := contentKey(contentType, userID)
	env, found, err := s.getEnvelope(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to save %s for user %s: %w", contentType, userID, err)
	}
	if !found {
		version, err := s.GetVersion(ctx, contentType)
		if err != nil {
			return nil, fmt.Errorf("cloudflarekv: failed to save %s for user %s: %w", contentType, userID, err)
		}
		env = envelope{Version: version}
	}
	env.Username = username
	env.Items = storage.UpsertItem(env.Items, item, s.now())

	if err := s.putEnvelope(ctx, key, env); err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to save %s for user %s: %w", contentType, userID, err)
	}
	return env.Items, nil
}

// Delete removes an item; removing the last one deletes the key entirely.
func (s *Store) Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error) {
	key := contentKey(contentType, userID)
	env, found, err := s.getEnvelope(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to delete %s for user %s: %w", contentType, userID, err)
	}

	idx := -1
	if found {
		for i, it := range env.Items {
			if it.ID == itemID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil, apperror.NotFound("Item", itemID)
	}
	env.Items = append(env.Items[:idx], env.Items[idx+1:]...)

	if len(env.Items) == 0 {
		if err := s.kv.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("cloudflarekv: failed to delete %s for user %s: %w", contentType, userID, err)
		}
		return []model.Item{}, nil
	}

	if err := s.putEnvelope(ctx, key, env); err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to delete %s for user %s: %w", contentType, userID, err)
	}
	return env.Items, nil
}

// LoadPublic lists every content key for the type and flattens the arrays.
func (s *Store) LoadPublic(ctx context.Context, contentType string) ([]model.PublicItem, error) {
	prefix := contentKeyPrefix + contentType + ":"
	keys, err := s.kv.ListKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to load public %s: %w", contentType, err)
	}

	public := make([]model.PublicItem, 0, len(keys))
	for _, key := range keys {
		userID := strings.TrimPrefix(key, prefix)
		env, found, err := s.getEnvelope(ctx, key)
		if err != nil {
			s.logger.Warn("skipping unreadable content key",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !found {
			continue // deleted between list and get
		}
		for _, it := range env.Items {
			public = append(public, model.PublicItem{Item: it, UserID: userID, Username: env.Username})
		}
	}
	return public, nil
}

// GetVersion reads the stored schema version for a content type; 1 if none
// was ever recorded.
func (s *Store) GetVersion(ctx context.Context, contentType string) (int, error) {
	value, found, err := s.kv.Get(ctx, versionKey(contentType))
	if err != nil {
		return 0, fmt.Errorf("cloudflarekv: failed to get version for %s: %w", contentType, err)
	}
	if !found {
		return 1, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(value)))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("cloudflarekv: malformed version value for %s: %q", contentType, value)
	}
	return v, nil
}

// MigrateVersion rewrites a user's items with transform and stamps the new
// version. KV has no version-labelled locations — the key stays the same —
// so "move" degenerates to an in-place rewrite plus updating the recorded
// envelope version and the type's version key.
func (s *Store) MigrateVersion(ctx context.Context, contentType, userID string, fromVersion, toVersion int, transform storage.TransformFunc) error {
	if fromVersion == toVersion {
		return apperror.ValidationFailed("version", "fromVersion and toVersion must differ")
	}

	key := contentKey(contentType, userID)
	env, found, err := s.getEnvelope(ctx, key)
	if err != nil {
		return fmt.Errorf("cloudflarekv: failed to migrate %s for user %s: %w", contentType, userID, err)
	}
	if !found {
		return nil
	}

	migrated, err := transform(env.Items)
	if err != nil {
		return fmt.Errorf("cloudflarekv: transform for %s user %s: %w", contentType, userID, err)
	}
	env.Items = migrated
	env.Version = toVersion

	if err := s.putEnvelope(ctx, key, env); err != nil {
		return fmt.Errorf("cloudflarekv: failed to migrate %s for user %s: %w", contentType, userID, err)
	}
	if err := s.kv.Put(ctx, versionKey(contentType), []byte(strconv.Itoa(toVersion)), 0); err != nil {
		return fmt.Errorf("cloudflarekv: failed to migrate %s for user %s: %w", contentType, userID, err)
	}
	return nil
}

// LoadSubmissions returns all submissions attached to an entity.
func (s *Store) LoadSubmissions(ctx context.Context, entityID string) ([]model.Submission, error) {
	subs, _, err := s.getSubmissions(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to load submissions for entity %s: %w", entityID, err)
	}
	return subs, nil
}

// SaveSubmission upserts one user's submission keyed by (userID, item.ID).
func (s *Store) SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error) {
	if item.ID == "" {
		return nil, apperror.ValidationFailed("id", "item id is required")
	}

	subs, _, err := s.getSubmissions(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to save submission for entity %s: %w", entityID, err)
	}

	now := s.now()
	sub := model.Submission{
		EntityID:  entityID,
		UserID:    userID,
		Username:  username,
		Item:      item.Clone(),
		UpdatedAt: now,
	}
	sub.Item.UpdatedAt = now

	replaced := false
	for i, existing := range subs {
		if existing.UserID == userID && existing.Item.ID == item.ID {
			if sub.Item.CreatedAt.IsZero() {
				sub.Item.CreatedAt = existing.Item.CreatedAt
			}
			subs[i] = sub
			replaced = true
			break
		}
	}
	if sub.Item.CreatedAt.IsZero() {
		sub.Item.CreatedAt = now
	}
	if !replaced {
		subs = append(subs, sub)
	}

	data, err := json.Marshal(subs)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to save submission for entity %s: %w", entityID, err)
	}
	if err := s.kv.Put(ctx, gridKey(entityID), data, 0); err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to save submission for entity %s: %w", entityID, err)
	}
	return subs, nil
}

// StoreVerificationCode writes the code with native TTL. The payload also
// carries ExpiresAt: KV's minimum TTL is 60s and purging is lazy, so reads
// double-check expiry themselves.
func (s *Store) StoreVerificationCode(ctx context.Context, emailHash, code string, expiresAt time.Time) error {
	data, err := json.Marshal(model.VerificationCode{
		EmailHash: emailHash,
		Code:      code,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("cloudflarekv: failed to store verification code: %w", err)
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return apperror.ValidationFailed("expiresAt", "expiry must be in the future")
	}
	if err := s.kv.Put(ctx, verifyKey(emailHash), data, ttl); err != nil {
		return fmt.Errorf("cloudflarekv: failed to store verification code: %w", err)
	}
	return nil
}

// GetVerificationCode returns the stored code, nil when absent or expired.
// An expired-but-not-yet-purged code is deleted on sight.
func (s *Store) GetVerificationCode(ctx context.Context, emailHash string) (*model.VerificationCode, error) {
	value, found, err := s.kv.Get(ctx, verifyKey(emailHash))
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to get verification code: %w", err)
	}
	if !found {
		return nil, nil
	}

	var vc model.VerificationCode
	if err := json.Unmarshal(value, &vc); err != nil {
		return nil, fmt.Errorf("cloudflarekv: failed to get verification code: %w", err)
	}
	if vc.Expired(s.now()) {
		if err := s.kv.Delete(ctx, verifyKey(emailHash)); err != nil {
			s.logger.Warn("failed to delete expired verification code",
				slog.String("error", err.Error()))
		}
		return nil, nil
	}
	return &vc, nil
}

// DeleteVerificationCode removes the code; absent codes are a no-op.
func (s *Store) DeleteVerificationCode(ctx context.Context, emailHash string) error {
	if err := s.kv.Delete(ctx, verifyKey(emailHash)); err != nil {
		return fmt.Errorf("cloudflarekv: failed to delete verification code: %w", err)
	}
	return nil
}

// HealthCheck issues a cheap listing against the namespace.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.kv.ListKeys(ctx, versionKeyPrefix); err != nil {
		return apperror.Unavailable("cloudflare-kv", err)
	}
	return nil
}

// --- internals ---

func (s *Store) getEnvelope(ctx context.Context, key string) (envelope, bool, error) {
	value, found, err := s.kv.Get(ctx, key)
	if err != nil || !found {
		return envelope{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return envelope{}, false, fmt.Errorf("parsing value for %s: %w", key, err)
	}
	return env, true, nil
}

func (s *Store) putEnvelope(ctx context.Context, key string, env envelope) error {
	if env.Items == nil {
		env.Items = []model.Item{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding value for %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, data, 0)
}

func (s *Store) getSubmissions(ctx context.Context, entityID string) ([]model.Submission, bool, error) {
	value, found, err := s.kv.Get(ctx, gridKey(entityID))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return []model.Submission{}, false, nil
	}
	var subs []model.Submission
	if err := json.Unmarshal(value, &subs); err != nil {
		return nil, false, fmt.Errorf("parsing submissions for %s: %w", entityID, err)
	}
	return subs, true, nil
}
