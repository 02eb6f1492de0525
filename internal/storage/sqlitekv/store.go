package sqlitekv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/storage"
)

var _ storage.Adapter = (*Store)(nil)

// Load returns the user's items for a content type, in insertion order.
func (s *Store) Load(ctx context.Context, contentType, userID string) ([]model.Item, error) {
	items, err := s.loadItems(ctx, s.conn, contentType, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to load %s for user %s: %w", contentType, userID, err)
	}
	return items, nil
}

// Save upserts one item inside a transaction. The whole post-save array is
// re-read and returned, matching the other backends.
func (s *Store) Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error) {
	if item.ID == "" {
		return nil, apperror.ValidationFailed("id", "item id is required")
	}

	var items []model.Item
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadItems(ctx, tx, contentType, userID)
		if err != nil {
			return err
		}
		updated := storage.UpsertItem(current, item, s.now())
		if err := s.rewriteItems(ctx, tx, contentType, userID, username, updated); err != nil {
			return err
		}
		items = updated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to save %s for user %s: %w", contentType, userID, err)
	}
	return items, nil
}

// Delete removes one item; deleting an unknown ID is an error.
func (s *Store) Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error) {
	var items []model.Item
	var notFound *apperror.AppError

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadItems(ctx, tx, contentType, userID)
		if err != nil {
			return err
		}
		idx := -1
		for i, it := range current {
			if it.ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			notFound = apperror.NotFound("Item", itemID)
			return nil // commit the no-op; the sentinel is returned below
		}
		updated := append(current[:idx], current[idx+1:]...)
		if err := s.rewriteItems(ctx, tx, contentType, userID, username, updated); err != nil {
			return err
		}
		items = updated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to delete %s for user %s: %w", contentType, userID, err)
	}
	if notFound != nil {
		return nil, notFound
	}
	return items, nil
}

// LoadPublic flattens every user's items for a content type into one list.
func (s *Store) LoadPublic(ctx context.Context, contentType string) ([]model.PublicItem, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id, username, body
		 FROM content
		 WHERE content_type = ?
		 ORDER BY user_id, position`,
		contentType,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to load public %s: %w", contentType, err)
	}
	defer rows.Close()

	public := []model.PublicItem{}
	for rows.Next() {
		var userID, username, body string
		if err := rows.Scan(&userID, &username, &body); err != nil {
			return nil, fmt.Errorf("sqlitekv: scanning public %s row: %w", contentType, err)
		}
		var it model.Item
		if err := json.Unmarshal([]byte(body), &it); err != nil {
			return nil, fmt.Errorf("sqlitekv: parsing public %s row: %w", contentType, err)
		}
		public = append(public, model.PublicItem{Item: it, UserID: userID, Username: username})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitekv: iterating public %s rows: %w", contentType, err)
	}
	return public, nil
}

// GetVersion reads the recorded schema version for a content type, 1 when
// nothing was ever recorded.
func (s *Store) GetVersion(ctx context.Context, contentType string) (int, error) {
	version, err := getVersion(ctx, s.conn, contentType)
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: failed to get version for %s: %w", contentType, err)
	}
	return version, nil
}

func getVersion(ctx context.Context, q querier, contentType string) (int, error) {
	var version int
	err := q.QueryRowContext(ctx,
		`SELECT version FROM versions WHERE content_type = ?`,
		contentType,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// MigrateVersion rewrites one user's rows at fromVersion with transform and
// stamps them toVersion, all in one transaction. The type's recorded version
// is bumped alongside; with per-user migrations that means the last migrated
// user settles the recorded version, same as the KV backend.
func (s *Store) MigrateVersion(ctx context.Context, contentType, userID string, fromVersion, toVersion int, transform storage.TransformFunc) error {
	if fromVersion == toVersion {
		return apperror.ValidationFailed("version", "fromVersion and toVersion must differ")
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		items, username, found, err := s.loadItemsAtVersion(ctx, tx, contentType, userID, fromVersion)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		migrated, err := transform(items)
		if err != nil {
			return fmt.Errorf("transform: %w", err)
		}
		if err := s.rewriteItemsAtVersion(ctx, tx, contentType, userID, username, migrated, toVersion); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO versions (content_type, version) VALUES (?, ?)
			 ON CONFLICT(content_type) DO UPDATE SET version = excluded.version`,
			contentType, toVersion,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlitekv: failed to migrate %s for user %s: %w", contentType, userID, err)
	}
	return nil
}

// LoadSubmissions returns all submissions attached to an entity.
func (s *Store) LoadSubmissions(ctx context.Context, entityID string) ([]model.Submission, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id, username, body, updated_at
		 FROM submissions
		 WHERE entity_id = ?
		 ORDER BY updated_at, user_id, item_id`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to load submissions for entity %s: %w", entityID, err)
	}
	defer rows.Close()

	subs := []model.Submission{}
	for rows.Next() {
		var userID, username, body string
		var updatedAt time.Time
		if err := rows.Scan(&userID, &username, &body, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlitekv: scanning submission row: %w", err)
		}
		var it model.Item
		if err := json.Unmarshal([]byte(body), &it); err != nil {
			return nil, fmt.Errorf("sqlitekv: parsing submission row: %w", err)
		}
		subs = append(subs, model.Submission{
			EntityID:  entityID,
			UserID:    userID,
			Username:  username,
			Item:      it,
			UpdatedAt: updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitekv: iterating submission rows: %w", err)
	}
	return subs, nil
}

// SaveSubmission upserts one user's submission keyed by (userID, item.ID)
// and returns the full submission list for the entity.
func (s *Store) SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error) {
	if item.ID == "" {
		return nil, apperror.ValidationFailed("id", "item id is required")
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		it := item.Clone()
		it.UpdatedAt = now

		// Preserve the original CreatedAt when replacing an earlier
		// submission from the same user.
		var prevBody string
		err := tx.QueryRowContext(ctx,
			`SELECT body FROM submissions
			 WHERE entity_id = ? AND user_id = ? AND item_id = ?`,
			entityID, userID, it.ID,
		).Scan(&prevBody)
		switch {
		case err == sql.ErrNoRows:
			// first submission for this key
		case err != nil:
			return err
		default:
			var prev model.Item
			if jsonErr := json.Unmarshal([]byte(prevBody), &prev); jsonErr == nil && it.CreatedAt.IsZero() {
				it.CreatedAt = prev.CreatedAt
			}
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}

		body, err := json.Marshal(it)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO submissions (entity_id, user_id, item_id, username, body, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(entity_id, user_id, item_id)
			 DO UPDATE SET username = excluded.username, body = excluded.body, updated_at = excluded.updated_at`,
			entityID, userID, it.ID, username, string(body), now,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to save submission for entity %s: %w", entityID, err)
	}
	return s.LoadSubmissions(ctx, entityID)
}

// StoreVerificationCode stores a code until expiresAt, replacing any earlier
// code for the same email hash.
func (s *Store) StoreVerificationCode(ctx context.Context, emailHash, code string, expiresAt time.Time) error {
	if !expiresAt.After(s.now()) {
		return apperror.ValidationFailed("expiresAt", "expiry must be in the future")
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO verification_codes (email_hash, code, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(email_hash) DO UPDATE SET code = excluded.code, expires_at = excluded.expires_at`,
		emailHash, code, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlitekv: failed to store verification code: %w", err)
	}
	return nil
}

// GetVerificationCode returns the stored code, nil when absent or expired.
// Expired rows are deleted on sight.
func (s *Store) GetVerificationCode(ctx context.Context, emailHash string) (*model.VerificationCode, error) {
	var vc model.VerificationCode
	err := s.conn.QueryRowContext(ctx,
		`SELECT email_hash, code, expires_at FROM verification_codes WHERE email_hash = ?`,
		emailHash,
	).Scan(&vc.EmailHash, &vc.Code, &vc.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to get verification code: %w", err)
	}
	if vc.Expired(s.now()) {
		if err := s.DeleteVerificationCode(ctx, emailHash); err != nil {
			s.logger.Warn("failed to delete expired verification code",
				"error", err.Error())
		}
		return nil, nil
	}
	return &vc, nil
}

// DeleteVerificationCode removes a code; absent codes are a no-op.
func (s *Store) DeleteVerificationCode(ctx context.Context, emailHash string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE email_hash = ?`, emailHash)
	if err != nil {
		return fmt.Errorf("sqlitekv: failed to delete verification code: %w", err)
	}
	return nil
}

// HealthCheck pings the pool.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return apperror.Unavailable("sqlite", err)
	}
	return nil
}

// --- internals ---

// querier is the subset of sql.DB and sql.Tx the read helpers need, so they
// can run both inside and outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) loadItems(ctx context.Context, q querier, contentType, userID string) ([]model.Item, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT body FROM content
		 WHERE content_type = ? AND user_id = ?
		 ORDER BY position`,
		contentType, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var it model.Item
		if err := json.Unmarshal([]byte(body), &it); err != nil {
			return nil, fmt.Errorf("parsing item row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) loadItemsAtVersion(ctx context.Context, q querier, contentType, userID string, version int) ([]model.Item, string, bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT username, body FROM content
		 WHERE content_type = ? AND user_id = ? AND version = ?
		 ORDER BY position`,
		contentType, userID, version,
	)
	if err != nil {
		return nil, "", false, err
	}
	defer rows.Close()

	items := []model.Item{}
	username := ""
	for rows.Next() {
		var body string
		if err := rows.Scan(&username, &body); err != nil {
			return nil, "", false, err
		}
		var it model.Item
		if err := json.Unmarshal([]byte(body), &it); err != nil {
			return nil, "", false, fmt.Errorf("parsing item row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, "", false, err
	}
	return items, username, len(items) > 0, nil
}

// rewriteItems replaces the user's whole row set for a content type. Doing
// it as delete-and-reinsert keeps position a dense 0..n-1 range, so insertion
// order survives any combination of upserts and deletes.
func (s *Store) rewriteItems(ctx context.Context, tx *sql.Tx, contentType, userID, username string, items []model.Item) error {
	// The version read goes through the SAME transaction. Reading it via
	// s.conn would demand a second pooled connection while tx holds the
	// first — a deadlock with the single-connection pool below, and a
	// brand-new empty database under ":memory:".
	version, err := getVersion(ctx, tx, contentType)
	if err != nil {
		return err
	}
	return s.rewriteItemsAtVersion(ctx, tx, contentType, userID, username, items, version)
}

func (s *Store) rewriteItemsAtVersion(ctx context.Context, tx *sql.Tx, contentType, userID, username string, items []model.Item, version int) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM content WHERE content_type = ? AND user_id = ?`,
		contentType, userID,
	); err != nil {
		return err
	}
	for i, it := range items {
		body, err := json.Marshal(it)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO content (content_type, user_id, item_id, username, version, position, body)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			contentType, userID, it.ID, username, version, i, string(body),
		); err != nil {
			return err
		}
	}
	return nil
}
