package storage

import (
	"context"
	"time"

	"github.com/sakif/wikistore/internal/model"
)

// Observer receives one event per adapter call. The metrics package
// implements it with Prometheus counters; the interface lives here so this
// package stays free of any metrics dependency.
type Observer interface {
	ObserveStorageOp(backend, operation string, duration time.Duration, err error)
}

var _ Adapter = (*instrumented)(nil)

// instrumented decorates an Adapter, reporting every call to an Observer.
type instrumented struct {
	next    Adapter
	backend string
	obs     Observer
}

// Instrument wraps an adapter so every operation is observed. backend is the
// label value ("github", "cloudflare-kv", "sqlite", "migrate").
func Instrument(next Adapter, backend string, obs Observer) Adapter {
	return &instrumented{next: next, backend: backend, obs: obs}
}

func (i *instrumented) Load(ctx context.Context, contentType, userID string) ([]model.Item, error) {
	start := time.Now()
	items, err := i.next.Load(ctx, contentType, userID)
	i.obs.ObserveStorageOp(i.backend, "load", time.Since(start), err)
	return items, err
}

func (i *instrumented) Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error) {
	start := time.Now()
	items, err := i.next.Save(ctx, contentType, username, userID, item)
	i.obs.ObserveStorageOp(i.backend, "save", time.Since(start), err)
	return items, err
}

func (i *instrumented) Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error) {
	start := time.Now()
	items, err := i.next.Delete(ctx, contentType, username, userID, itemID)
	i.obs.ObserveStorageOp(i.backend, "delete", time.Since(start), err)
	return items, err
}

func (i *instrumented) LoadPublic(ctx context.Context, contentType string) ([]model.PublicItem, error) {
	start := time.Now()
	items, err := i.next.LoadPublic(ctx, contentType)
	i.obs.ObserveStorageOp(i.backend, "load_public", time.Since(start), err)
	return items, err
}

func (i *instrumented) LoadSubmissions(ctx context.Context, entityID string) ([]model.Submission, error) {
	start := time.Now()
	subs, err := i.next.LoadSubmissions(ctx, entityID)
	i.obs.ObserveStorageOp(i.backend, "load_submissions", time.Since(start), err)
	return subs, err
}

func (i *instrumented) SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error) {
	start := time.Now()
	subs, err := i.next.SaveSubmission(ctx, username, userID, entityID, item)
	i.obs.ObserveStorageOp(i.backend, "save_submission", time.Since(start), err)
	return subs, err
}

func (i *instrumented) GetVersion(ctx context.Context, contentType string) (int, error) {
	start := time.Now()
	version, err := i.next.GetVersion(ctx, contentType)
	i.obs.ObserveStorageOp(i.backend, "get_version", time.Since(start), err)
	return version, err
}

func (i *instrumented) MigrateVersion(ctx context.Context, contentType, userID string, fromVersion, toVersion int, transform TransformFunc) error {
	start := time.Now()
	err := i.next.MigrateVersion(ctx, contentType, userID, fromVersion, toVersion, transform)
	i.obs.ObserveStorageOp(i.backend, "migrate_version", time.Since(start), err)
	return err
}

func (i *instrumented) StoreVerificationCode(ctx context.Context, emailHash, code string, expiresAt time.Time) error {
	start := time.Now()
	err := i.next.StoreVerificationCode(ctx, emailHash, code, expiresAt)
	i.obs.ObserveStorageOp(i.backend, "store_verification_code", time.Since(start), err)
	return err
}

func (i *instrumented) GetVerificationCode(ctx context.Context, emailHash string) (*model.VerificationCode, error) {
	start := time.Now()
	vc, err := i.next.GetVerificationCode(ctx, emailHash)
	i.obs.ObserveStorageOp(i.backend, "get_verification_code", time.Since(start), err)
	return vc, err
}

func (i *instrumented) DeleteVerificationCode(ctx context.Context, emailHash string) error {
	start := time.Now()
	err := i.next.DeleteVerificationCode(ctx, emailHash)
	i.obs.ObserveStorageOp(i.backend, "delete_verification_code", time.Since(start), err)
	return err
}

func (i *instrumented) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := i.next.HealthCheck(ctx)
	i.obs.ObserveStorageOp(i.backend, "health_check", time.Since(start), err)
	return err
}
