package migrate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/storage"
)

// spyStore is an in-memory storage.Adapter that counts calls per method, so
// tests can assert not just WHAT the composite returns but WHICH backend it
// touched.
type spyStore struct {
	mu    sync.Mutex
	items map[string][]model.Item // key: contentType + "/" + userID
	subs  map[string][]model.Submission
	codes map[string]model.VerificationCode
	calls map[string]int

	healthErr error
}

func newSpyStore() *spyStore {
	return &spyStore{
		items: make(map[string][]model.Item),
		subs:  make(map[string][]model.Submission),
		codes: make(map[string]model.VerificationCode),
		calls: make(map[string]int),
	}
}

func (s *spyStore) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *spyStore) record(method string) {
	s.calls[method]++
}

func itemsKey(contentType, userID string) string {
	return contentType + "/" + userID
}

func (s *spyStore) Load(ctx context.Context, contentType, userID string) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Load")
	return storage.CloneItems(s.items[itemsKey(contentType, userID)]), nil
}

func (s *spyStore) Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Save")
	key := itemsKey(contentType, userID)
	s.items[key] = storage.UpsertItem(s.items[key], item, time.Now())
	return storage.CloneItems(s.items[key]), nil
}

func (s *spyStore) Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Delete")
	key := itemsKey(contentType, userID)
	for i, it := range s.items[key] {
		if it.ID == itemID {
			s.items[key] = append(s.items[key][:i], s.items[key][i+1:]...)
			return storage.CloneItems(s.items[key]), nil
		}
	}
	return nil, apperror.NotFound("Item", itemID)
}

func (s *spyStore) LoadPublic(ctx context.Context, contentType string) ([]model.PublicItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("LoadPublic")
	var public []model.PublicItem
	for key, items := range s.items {
		if len(key) < len(contentType)+1 || key[:len(contentType)+1] != contentType+"/" {
			continue
		}
		userID := key[len(contentType)+1:]
		for _, it := range items {
			public = append(public, model.PublicItem{Item: it, UserID: userID, Username: userID})
		}
	}
	return public, nil
}

func (s *spyStore) LoadSubmissions(ctx context.Context, entityID string) ([]model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("LoadSubmissions")
	return append([]model.Submission{}, s.subs[entityID]...), nil
}

func (s *spyStore) SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SaveSubmission")
	sub := model.Submission{EntityID: entityID, UserID: userID, Username: username, Item: item, UpdatedAt: time.Now()}
	for i, existing := range s.subs[entityID] {
		if existing.UserID == userID && existing.Item.ID == item.ID {
			s.subs[entityID][i] = sub
			return append([]model.Submission{}, s.subs[entityID]...), nil
		}
	}
	s.subs[entityID] = append(s.subs[entityID], sub)
	return append([]model.Submission{}, s.subs[entityID]...), nil
}

func (s *spyStore) GetVersion(ctx context.Context, contentType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetVersion")
	return 1, nil
}

func (s *spyStore) MigrateVersion(ctx context.Context, contentType, userID string, fromVersion, toVersion int, transform storage.TransformFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("MigrateVersion")
	return nil
}

func (s *spyStore) StoreVerificationCode(ctx context.Context, emailHash, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StoreVerificationCode")
	s.codes[emailHash] = model.VerificationCode{EmailHash: emailHash, Code: code, ExpiresAt: expiresAt}
	return nil
}

func (s *spyStore) GetVerificationCode(ctx context.Context, emailHash string) (*model.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetVerificationCode")
	vc, ok := s.codes[emailHash]
	if !ok {
		return nil, nil
	}
	return &vc, nil
}

func (s *spyStore) DeleteVerificationCode(ctx context.Context, emailHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteVerificationCode")
	delete(s.codes, emailHash)
	return nil
}

func (s *spyStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("HealthCheck")
	return s.healthErr
}

func newTestAdapter(t *testing.T, mode Mode) (*Adapter, *spyStore, *spyStore) {
	t.Helper()
	source := newSpyStore()
	target := newSpyStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(source, target, mode, logger), source, target
}

// =========================================================================
// MODE
// =========================================================================

func TestParseMode(t *testing.T) {
	if _, err := ParseMode("read-through"); err != nil {
		t.Errorf("ParseMode(read-through) error = %v", err)
	}
	if _, err := ParseMode("cutover"); err != nil {
		t.Errorf("ParseMode(cutover) error = %v", err)
	}
	if _, err := ParseMode("yolo"); err == nil {
		t.Error("ParseMode(yolo) should fail")
	}
}

func TestSetMode_FlipsAtRuntime(t *testing.T) {
	a, source, _ := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	a.SetMode(ModeCutover)
	if a.Mode() != ModeCutover {
		t.Fatalf("Mode() = %q, want cutover", a.Mode())
	}

	a.Load(ctx, "guides", "user-1")
	if source.count("Load") != 0 {
		t.Error("cutover mode should never read the source")
	}
}

// =========================================================================
// READ-THROUGH
// =========================================================================

func TestLoad_ReadThroughFallsBackAndCopiesForward(t *testing.T) {
	a, source, target := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	source.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "g-1"})
	source.calls = map[string]int{} // reset setup counts

	items, err := a.Load(ctx, "guides", "user-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "g-1" {
		t.Fatalf("Load() = %v, want the source's item", items)
	}
	if source.count("Load") != 1 {
		t.Error("empty target should have fallen back to the source")
	}

	// The item is now on the target; the next read never touches the source.
	items, _ = a.Load(ctx, "guides", "user-1")
	if len(items) != 1 {
		t.Fatalf("second Load() = %v", items)
	}
	if source.count("Load") != 1 {
		t.Errorf("source reads = %d, want 1 (copy-forward should have stuck)", source.count("Load"))
	}
	if target.count("Save") == 0 {
		t.Error("copy-forward never wrote to the target")
	}
}

func TestLoad_TargetDataShadowsSource(t *testing.T) {
	a, source, target := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	source.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "stale"})
	target.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "fresh"})

	items, err := a.Load(ctx, "guides", "user-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "fresh" {
		t.Errorf("Load() = %v, want only the target's data", items)
	}
}

func TestSave_ReadThroughMirrorsToSource(t *testing.T) {
	a, source, target := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	if _, err := a.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "g-1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if target.count("Save") != 1 {
		t.Error("Save() must write the target")
	}
	if source.count("Save") != 1 {
		t.Error("read-through Save() must mirror to the source")
	}
}

func TestDelete_ReadThroughToleratesUnmirroredItem(t *testing.T) {
	a, _, target := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	// The item exists only on the target (never mirrored to the source).
	target.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "g-1"})

	if _, err := a.Delete(ctx, "guides", "octocat", "user-1", "g-1"); err != nil {
		t.Fatalf("Delete() should tolerate a missing source copy: %v", err)
	}
}

func TestLoadPublic_MergesWithTargetWinning(t *testing.T) {
	a, source, target := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	// user-1/g-1 exists on both sides (migrated); user-2/g-2 only on source.
	source.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "g-1", Fields: map[string]any{"from": "source"}})
	target.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "g-1", Fields: map[string]any{"from": "target"}})
	source.Save(ctx, "guides", "other", "user-2", model.Item{ID: "g-2"})

	public, err := a.LoadPublic(ctx, "guides")
	if err != nil {
		t.Fatalf("LoadPublic() error = %v", err)
	}
	if len(public) != 2 {
		t.Fatalf("LoadPublic() = %d items, want 2 (duplicate deduped)", len(public))
	}
	for _, p := range public {
		if p.ID == "g-1" && p.Fields["from"] != "target" {
			t.Errorf("duplicate resolved to %v, want the target copy", p.Fields["from"])
		}
	}
}

func TestLoadSubmissions_ReadThroughCopiesForward(t *testing.T) {
	a, source, target := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	source.SaveSubmission(ctx, "alice", "user-a", "weapon-axe", model.Item{ID: "build-1"})

	subs, err := a.LoadSubmissions(ctx, "weapon-axe")
	if err != nil {
		t.Fatalf("LoadSubmissions() error = %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("LoadSubmissions() = %v, want the source's submission", subs)
	}
	if target.count("SaveSubmission") != 1 {
		t.Error("submission found on the source should be copied forward")
	}
}

func TestGetVerificationCode_FallsBackToSource(t *testing.T) {
	a, source, _ := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	// Code issued before the composite was deployed — only on the source.
	source.StoreVerificationCode(ctx, "hash-1", "123456", time.Now().Add(15*time.Minute))

	vc, err := a.GetVerificationCode(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetVerificationCode() error = %v", err)
	}
	if vc == nil || vc.Code != "123456" {
		t.Errorf("GetVerificationCode() = %+v, want the source's code", vc)
	}
}

func TestDeleteVerificationCode_RemovesFromBothSides(t *testing.T) {
	a, source, target := newTestAdapter(t, ModeReadThrough)
	ctx := context.Background()

	source.StoreVerificationCode(ctx, "hash-1", "123456", time.Now().Add(15*time.Minute))
	target.StoreVerificationCode(ctx, "hash-1", "123456", time.Now().Add(15*time.Minute))

	if err := a.DeleteVerificationCode(ctx, "hash-1"); err != nil {
		t.Fatalf("DeleteVerificationCode() error = %v", err)
	}

	// Neither copy may survive — a consumed code must not be replayable.
	if vc, _ := source.GetVerificationCode(ctx, "hash-1"); vc != nil {
		t.Error("code still present on the source after delete")
	}
	if vc, _ := target.GetVerificationCode(ctx, "hash-1"); vc != nil {
		t.Error("code still present on the target after delete")
	}
}

// =========================================================================
// CUTOVER
// =========================================================================

func TestCutover_NeverTouchesSource(t *testing.T) {
	a, source, _ := newTestAdapter(t, ModeCutover)
	ctx := context.Background()

	source.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "only-on-source"})
	source.StoreVerificationCode(ctx, "hash-1", "123456", time.Now().Add(15*time.Minute))
	source.calls = map[string]int{}

	a.Load(ctx, "guides", "user-1")
	a.Save(ctx, "guides", "octocat", "user-1", model.Item{ID: "g-1"})
	a.Delete(ctx, "guides", "octocat", "user-1", "g-1")
	a.LoadPublic(ctx, "guides")
	a.LoadSubmissions(ctx, "weapon-axe")
	a.SaveSubmission(ctx, "alice", "user-a", "weapon-axe", model.Item{ID: "b-1"})
	a.GetVersion(ctx, "guides")
	a.StoreVerificationCode(ctx, "hash-2", "654321", time.Now().Add(15*time.Minute))
	a.GetVerificationCode(ctx, "hash-1")
	a.DeleteVerificationCode(ctx, "hash-2")
	a.HealthCheck(ctx)

	if len(source.calls) != 0 {
		t.Errorf("cutover mode touched the source: %v", source.calls)
	}
}

// =========================================================================
// HEALTH
// =========================================================================

func TestHealthCheck_SickTargetFails(t *testing.T) {
	a, _, target := newTestAdapter(t, ModeReadThrough)
	target.healthErr = apperror.Unavailable("target", errors.New("down"))

	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("HealthCheck() should fail when the target is down")
	}
}

func TestHealthCheck_SickSourceIsTolerated(t *testing.T) {
	a, source, _ := newTestAdapter(t, ModeReadThrough)
	source.healthErr = apperror.Unavailable("source", errors.New("down"))

	if err := a.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() with sick source should pass: %v", err)
	}
}
