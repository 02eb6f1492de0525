// Package migrate composes two storage adapters into one, for moving a live
// wiki from a source backend to a target backend without downtime.
//
// THE STRANGLER-FIG PLAY:
//  1. Deploy with Mode read-through. Writes land on the TARGET (and are
//     mirrored to the source best-effort); reads try the target first and
//     fall back to the source, copying forward what they find. Traffic
//     gradually "strangles" the source as hot data migrates itself.
//  2. Backfill cold data out of band if you care about it.
//  3. Flip to Mode cutover. The source is never touched again; unplug it.
//
// The composite is itself a storage.Adapter, so the service layer cannot
// tell it apart from a plain backend.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/storage"
)

var _ storage.Adapter = (*Adapter)(nil)

// Mode selects how much the composite still leans on the source backend.
type Mode string

const (
	// ModeReadThrough reads target-first with source fallback and
	// copy-forward; writes go to the target and are mirrored to the source.
	ModeReadThrough Mode = "read-through"

	// ModeCutover uses the target exclusively.
	ModeCutover Mode = "cutover"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReadThrough, ModeCutover:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("migrate: unknown mode %q (want %q or %q)", s, ModeReadThrough, ModeCutover)
	}
}

// Adapter glues a source and target backend together under one Mode.
type Adapter struct {
	source storage.Adapter
	target storage.Adapter
	logger *slog.Logger

	mu   sync.RWMutex
	mode Mode
}

// New builds the composite. mode is the starting mode; flip it later with
// SetMode (e.g. from an operator endpoint).
func New(source, target storage.Adapter, mode Mode, logger *slog.Logger) *Adapter {
	return &Adapter{source: source, target: target, mode: mode, logger: logger}
}

// Mode reports the current mode.
func (a *Adapter) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// SetMode switches modes at runtime. Cutover is expected to be one-way, but
// nothing here enforces that — switching back to read-through is how you
// abort a migration.
func (a *Adapter) SetMode(mode Mode) {
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	a.logger.Info("migration mode changed", slog.String("mode", string(mode)))
}

func (a *Adapter) readThrough() bool {
	return a.Mode() == ModeReadThrough
}

// Load reads the target; in read-through mode an empty target result falls
// back to the source, and anything found there is copied forward so the next
// read is served by the target alone.
func (a *Adapter) Load(ctx context.Context, contentType, userID string) ([]model.Item, error) {
	items, err := a.target.Load(ctx, contentType, userID)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 || !a.readThrough() {
		return items, nil
	}

	items, err = a.source.Load(ctx, contentType, userID)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		a.copyForward(ctx, contentType, userID, items)
	}
	return items, nil
}

// copyForward writes source items into the target, best-effort. Failures are
// logged, never surfaced: the read already succeeded.
//
// Username is unknown on the read path, so the copy stores it empty; the
// user's next save fills it in.
func (a *Adapter) copyForward(ctx context.Context, contentType, userID string, items []model.Item) {
	for _, it := range items {
		if _, err := a.target.Save(ctx, contentType, "", userID, it); err != nil {
			a.logger.Warn("copy-forward to target failed",
				slog.String("contentType", contentType),
				slog.String("userID", userID),
				slog.String("itemID", it.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	a.logger.Info("copied user data forward to target",
		slog.String("contentType", contentType),
		slog.String("userID", userID),
		slog.Int("items", len(items)),
	)
}

// Save writes the target first — the target's answer is THE answer — then
// mirrors to the source best-effort so an aborted migration loses nothing.
func (a *Adapter) Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error) {
	items, err := a.target.Save(ctx, contentType, username, userID, item)
	if err != nil {
		return nil, err
	}
	if a.readThrough() {
		if _, err := a.source.Save(ctx, contentType, username, userID, item); err != nil {
			a.logger.Warn("mirror save to source failed",
				slog.String("contentType", contentType),
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return items, nil
}

// Delete removes from the target; the source mirror tolerates "not found"
// (the item may never have been mirrored).
func (a *Adapter) Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error) {
	items, err := a.target.Delete(ctx, contentType, username, userID, itemID)
	if err != nil {
		return nil, err
	}
	if a.readThrough() {
		if _, err := a.source.Delete(ctx, contentType, username, userID, itemID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
			a.logger.Warn("mirror delete to source failed",
				slog.String("contentType", contentType),
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return items, nil
}

// LoadPublic merges both backends in read-through mode, target winning per
// (userID, itemID) — a migrated copy shadows its source original.
func (a *Adapter) LoadPublic(ctx context.Context, contentType string) ([]model.PublicItem, error) {
	fromTarget, err := a.target.LoadPublic(ctx, contentType)
	if err != nil {
		return nil, err
	}
	if !a.readThrough() {
		return fromTarget, nil
	}

	fromSource, err := a.source.LoadPublic(ctx, contentType)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(fromTarget))
	for _, p := range fromTarget {
		seen[p.UserID+"\x00"+p.ID] = struct{}{}
	}
	merged := fromTarget
	for _, p := range fromSource {
		if _, dup := seen[p.UserID+"\x00"+p.ID]; !dup {
			merged = append(merged, p)
		}
	}
	return merged, nil
}

// LoadSubmissions reads target-first with source fallback; submissions found
// only on the source are copied forward.
func (a *Adapter) LoadSubmissions(ctx context.Context, entityID string) ([]model.Submission, error) {
	subs, err := a.target.LoadSubmissions(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if len(subs) > 0 || !a.readThrough() {
		return subs, nil
	}

	subs, err = a.source.LoadSubmissions(ctx, entityID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if _, err := a.target.SaveSubmission(ctx, sub.Username, sub.UserID, entityID, sub.Item); err != nil {
			a.logger.Warn("copy-forward of submission failed",
				slog.String("entityID", entityID),
				slog.String("userID", sub.UserID),
				slog.String("error", err.Error()),
			)
			break
		}
	}
	return subs, nil
}

// SaveSubmission writes the target first, mirroring to the source in
// read-through mode.
func (a *Adapter) SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error) {
	subs, err := a.target.SaveSubmission(ctx, username, userID, entityID, item)
	if err != nil {
		return nil, err
	}
	if a.readThrough() {
		if _, err := a.source.SaveSubmission(ctx, username, userID, entityID, item); err != nil {
			a.logger.Warn("mirror submission to source failed",
				slog.String("entityID", entityID),
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return subs, nil
}

// GetVersion always answers from the target; the target's schema version is
// the one new writes use.
func (a *Adapter) GetVersion(ctx context.Context, contentType string) (int, error) {
	return a.target.GetVersion(ctx, contentType)
}

// MigrateVersion runs the schema migration on the target only. Source data
// still at the old version gets transformed when it is copied forward — the
// caller's transform is expected to be idempotent for that reason.
func (a *Adapter) MigrateVersion(ctx context.Context, contentType, userID string, fromVersion, toVersion int, transform storage.TransformFunc) error {
	return a.target.MigrateVersion(ctx, contentType, userID, fromVersion, toVersion, transform)
}

// StoreVerificationCode writes to the target only. Codes are ephemeral —
// mirroring a 15-minute secret to a backend being decommissioned buys
// nothing.
func (a *Adapter) StoreVerificationCode(ctx context.Context, emailHash, code string, expiresAt time.Time) error {
	return a.target.StoreVerificationCode(ctx, emailHash, code, expiresAt)
}

// GetVerificationCode checks the target, then (read-through) the source, so
// a code issued minutes before the composite was deployed still verifies.
func (a *Adapter) GetVerificationCode(ctx context.Context, emailHash string) (*model.VerificationCode, error) {
	vc, err := a.target.GetVerificationCode(ctx, emailHash)
	if err != nil {
		return nil, err
	}
	if vc != nil || !a.readThrough() {
		return vc, nil
	}
	return a.source.GetVerificationCode(ctx, emailHash)
}

// DeleteVerificationCode deletes from both backends in read-through mode so
// a consumed code cannot be replayed against the source copy.
func (a *Adapter) DeleteVerificationCode(ctx context.Context, emailHash string) error {
	if err := a.target.DeleteVerificationCode(ctx, emailHash); err != nil {
		return err
	}
	if a.readThrough() {
		if err := a.source.DeleteVerificationCode(ctx, emailHash); err != nil {
			a.logger.Warn("deleting verification code from source failed",
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// HealthCheck requires a healthy target. A sick source in read-through mode
// is logged but not fatal: reads degrade to target-only, writes lose their
// mirror, and the migration is the thing at risk — not the wiki.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if err := a.target.HealthCheck(ctx); err != nil {
		return err
	}
	if a.readThrough() {
		if err := a.source.HealthCheck(ctx); err != nil {
			a.logger.Warn("source backend unhealthy during migration",
				slog.String("error", err.Error()))
		}
	}
	return nil
}
