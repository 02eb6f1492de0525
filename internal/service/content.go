// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Storage (data layer)     → reads/writes the backend (GitHub/KV/SQLite)
//
// Services accept primitives and models, never *http.Request, and return
// domain errors (apperror), never HTTP status codes. The handlers translate
// in both directions. Services program against storage.Adapter — they never
// know (or care) whether the "database" is an issue tracker.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/storage"
)

// Validation constants.
const (
	// MaxItemBytes caps one item's JSON encoding. GitHub issue bodies top out
	// at 65536 characters and an issue holds a user's whole array, so items
	// must stay well under the container limit.
	MaxItemBytes = 16 * 1024

	MaxIDLength = 64
)

// typePattern is the shape of a content type or entity ID: a lowercase slug.
// Content types become GitHub labels and KV key segments, so the alphabet is
// deliberately narrow.
var typePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,49}$`)

// ContentService handles business logic for user-owned wiki content and
// entity-scoped submissions.
type ContentService struct {
	store  storage.Adapter
	types  map[string]struct{}
	logger *slog.Logger
}

// NewContentService creates a ContentService. allowedTypes is the content
// type whitelist from configuration; empty means any well-formed slug is
// accepted (useful in development).
func NewContentService(store storage.Adapter, allowedTypes []string, logger *slog.Logger) *ContentService {
	types := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		types[t] = struct{}{}
	}
	return &ContentService{store: store, types: types, logger: logger}
}

// List returns the caller's own items for a content type.
func (s *ContentService) List(ctx context.Context, contentType, userID string) ([]model.Item, error) {
	if err := s.checkType(contentType); err != nil {
		return nil, err
	}
	items, err := s.store.Load(ctx, contentType, userID)
	if err != nil {
		s.logger.Error("failed to load content",
			slog.String("contentType", contentType),
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("loading %s: %w", contentType, err)
	}
	return items, nil
}

// Save validates and upserts one item for the caller, returning the full
// updated array.
func (s *ContentService) Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error) {
	if err := s.checkType(contentType); err != nil {
		return nil, err
	}
	if err := checkItem(item); err != nil {
		return nil, err
	}

	items, err := s.store.Save(ctx, contentType, username, userID, item)
	if err != nil {
		s.logger.Error("failed to save content",
			slog.String("contentType", contentType),
			slog.String("userID", userID),
			slog.String("itemID", item.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving %s: %w", contentType, err)
	}

	s.logger.Info("content saved",
		slog.String("contentType", contentType),
		slog.String("userID", userID),
		slog.String("itemID", item.ID),
	)
	return items, nil
}

// Delete removes one of the caller's items. Deleting an unknown item ID
// propagates the backend's NotFound error.
func (s *ContentService) Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error) {
	if err := s.checkType(contentType); err != nil {
		return nil, err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, apperror.ValidationFailed("id", "item ID is required")
	}

	items, err := s.store.Delete(ctx, contentType, username, userID, itemID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("content deleted",
		slog.String("contentType", contentType),
		slog.String("userID", userID),
		slog.String("itemID", itemID),
	)
	return items, nil
}

// Public returns every user's items for a content type. No auth required —
// this is the wiki's public face.
func (s *ContentService) Public(ctx context.Context, contentType string) ([]model.PublicItem, error) {
	if err := s.checkType(contentType); err != nil {
		return nil, err
	}
	items, err := s.store.LoadPublic(ctx, contentType)
	if err != nil {
		s.logger.Error("failed to load public content",
			slog.String("contentType", contentType),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("loading public %s: %w", contentType, err)
	}
	return items, nil
}

// Submissions returns all users' submissions attached to an entity.
func (s *ContentService) Submissions(ctx context.Context, entityID string) ([]model.Submission, error) {
	if err := checkEntityID(entityID); err != nil {
		return nil, err
	}
	subs, err := s.store.LoadSubmissions(ctx, entityID)
	if err != nil {
		s.logger.Error("failed to load submissions",
			slog.String("entityID", entityID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("loading submissions for %s: %w", entityID, err)
	}
	return subs, nil
}

// SaveSubmission validates and upserts the caller's submission on an entity.
func (s *ContentService) SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error) {
	if err := checkEntityID(entityID); err != nil {
		return nil, err
	}
	if err := checkItem(item); err != nil {
		return nil, err
	}

	subs, err := s.store.SaveSubmission(ctx, username, userID, entityID, item)
	if err != nil {
		s.logger.Error("failed to save submission",
			slog.String("entityID", entityID),
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving submission for %s: %w", entityID, err)
	}

	s.logger.Info("submission saved",
		slog.String("entityID", entityID),
		slog.String("userID", userID),
		slog.String("itemID", item.ID),
	)
	return subs, nil
}

// MigrateType rewrites every listed user's data for a content type from one
// schema version to the next. Operator-driven; not exposed over HTTP.
func (s *ContentService) MigrateType(ctx context.Context, contentType string, userIDs []string, fromVersion, toVersion int, transform storage.TransformFunc) error {
	if err := s.checkType(contentType); err != nil {
		return err
	}
	for _, userID := range userIDs {
		if err := s.store.MigrateVersion(ctx, contentType, userID, fromVersion, toVersion, transform); err != nil {
			return fmt.Errorf("migrating %s for user %s: %w", contentType, userID, err)
		}
		s.logger.Info("migrated user data",
			slog.String("contentType", contentType),
			slog.String("userID", userID),
			slog.Int("toVersion", toVersion),
		)
	}
	return nil
}

func (s *ContentService) checkType(contentType string) error {
	if !typePattern.MatchString(contentType) {
		return apperror.ValidationFailed("type", "content type must be a lowercase slug (a-z, 0-9, hyphens)")
	}
	if len(s.types) > 0 {
		if _, ok := s.types[contentType]; !ok {
			return apperror.ValidationFailed("type", fmt.Sprintf("unknown content type %q", contentType))
		}
	}
	return nil
}

func checkEntityID(entityID string) error {
	if !typePattern.MatchString(entityID) {
		return apperror.ValidationFailed("entityId", "entity ID must be a lowercase slug (a-z, 0-9, hyphens)")
	}
	return nil
}

func checkItem(item model.Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return apperror.ValidationFailed("id", "item id is required")
	}
	if len(item.ID) > MaxIDLength {
		return apperror.ValidationFailed("id",
			fmt.Sprintf("item id must be %d characters or less", MaxIDLength))
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return apperror.ValidationFailed("item", "item is not serializable")
	}
	if len(encoded) > MaxItemBytes {
		return apperror.ValidationFailed("item",
			fmt.Sprintf("item must encode to %d bytes or less", MaxItemBytes))
	}
	return nil
}
