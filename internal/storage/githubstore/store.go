// Package githubstore implements the storage adapter on top of a GitHub
// repository's issue tracker.
//
// DATA LAYOUT:
// One open issue per (contentType, userID, version); the issue body is a
// JSON array of items. Labels are the index: the content type, a
// user-id:<id> label, and a data-version:<n> label identify the issue; the
// title names the owner for human readers. Entity submissions live as one
// comment per (entityID, userID, itemID) on a shared container issue, and
// email verification codes as comments on a single locked issue whose body
// embeds an index map (see verification.go).
//
// GitHub Issues were never designed as a transactional store. Everything
// here is best-effort: per-key write serialization and a short read-back
// cache absorb the worst of the API's eventual consistency inside one
// process, and nothing protects against a second process writing
// concurrently. See guard.go for the exact guarantees.
package githubstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/storage"
)

// COMPILE-TIME INTERFACE CHECK:
// verifies that *Store implements storage.Adapter; a missing method is a
// build error here instead of a surprise at the composition root.
var _ storage.Adapter = (*Store)(nil)

// defaultGraceWindow is how long a completed write's result stays readable
// from the in-process cache, papering over GitHub's read-after-write lag.
const defaultGraceWindow = 2 * time.Second

// issuePageSize is GitHub's maximum page size for issue listings. Listings
// paginate past it, so a wiki with more than 100 users per content type
// still aggregates completely.
const issuePageSize = 100

// Config holds everything the adapter needs to reach its data repository.
type Config struct {
	Token string // bot token with repo write scope
	Owner string // repository owner, e.g. "examplewiki"
	Repo  string // repository name, e.g. "wiki-data"

	// Versions maps content types to their current schema version.
	// Types not listed are version 1. This is runtime configuration, not
	// stored state — bumping it is how an operator activates a migration.
	Versions map[string]int

	// GraceWindow overrides the read-back cache duration. Zero means the
	// default (~2s).
	GraceWindow time.Duration
}

// Store is the GitHub-issue-backed storage adapter.
type Store struct {
	issues issuesAPI
	owner  string
	repo   string

	versions map[string]int
	guard    *keyGuard
	logger   *slog.Logger

	// verifyIssue caches the well-known verification issue's number once
	// discovered or created. Guarded by the verification key guard.
	verifyIssue int

	// now is swapped out in tests to control grace-window expiry.
	now func() time.Time
}

// New creates a Store talking to the real GitHub API.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Store {
	return newWithClient(newIssuesClient(ctx, cfg.Token), cfg, logger)
}

// newWithClient is the injection point for tests.
func newWithClient(issues issuesAPI, cfg Config, logger *slog.Logger) *Store {
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = defaultGraceWindow
	}
	return &Store{
		issues:   issues,
		owner:    cfg.Owner,
		repo:     cfg.Repo,
		versions: cfg.Versions,
		guard:    newKeyGuard(grace),
		logger:   logger,
		now:      time.Now,
	}
}

// Close releases the per-instance guard state. The adapter must not be
// used afterwards.
func (s *Store) Close() {
	s.guard.Close()
}

// Load returns the user's item array for a content type.
func (s *Store) Load(ctx context.Context, contentType, userID string) ([]model.Item, error) {
	key := saveKey(contentType, userID)
	if set, ok := s.guard.cached(key, s.now()); ok {
		return set.items, nil
	}

	issue, err := s.findUserIssue(ctx, contentType, userID)
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to load %s for user %s: %w", contentType, userID, err)
	}
	if issue == nil {
		return []model.Item{}, nil
	}
	items, err := parseItems(issue.GetBody())
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to load %s for user %s: %w", contentType, userID, err)
	}
	return items, nil
}

// Save upserts item by ID into the user's array and returns the updated
// array. Saves for the same (contentType, userID) are serialized through
// the key guard; see guard.go for what that does and does not protect.
func (s *Store) Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error) {
	if item.ID == "" {
		return nil, apperror.ValidationFailed("id", "item id is required")
	}

	key := saveKey(contentType, userID)
	s.guard.lock(key)

	items, issueNumber, err := s.currentItems(ctx, contentType, userID)
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return nil, fmt.Errorf("githubstore: failed to save %s for user %s: %w", contentType, userID, err)
	}

	items = storage.UpsertItem(items, item, s.now())

	newNumber, err := s.writeItems(ctx, contentType, username, userID, issueNumber, items)
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return nil, fmt.Errorf("githubstore: failed to save %s for user %s: %w", contentType, userID, err)
	}

	s.guard.unlock(key, &cachedSet{issue: newNumber, items: storage.CloneItems(items)}, s.now())
	return items, nil
}

// Delete removes one item by ID. Removing the last item closes the issue
// so the (contentType, userID) slot is empty again.
func (s *Store) Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error) {
	key := saveKey(contentType, userID)
	s.guard.lock(key)

	items, issueNumber, err := s.currentItems(ctx, contentType, userID)
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return nil, fmt.Errorf("githubstore: failed to delete %s for user %s: %w", contentType, userID, err)
	}

	idx := -1
	for i, it := range items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.guard.unlock(key, nil, s.now())
		return nil, apperror.NotFound("Item", itemID)
	}
	items = append(items[:idx], items[idx+1:]...)

	if len(items) == 0 && issueNumber != 0 {
		// Close rather than leave an empty open issue behind. The next
		// save creates a fresh one.
		closed := "closed"
		body := "[]"
		_, _, err = s.issues.Edit(ctx, s.owner, s.repo, issueNumber, &github.IssueRequest{
			State: &closed,
			Body:  &body,
		})
		if err != nil {
			s.guard.unlock(key, nil, s.now())
			return nil, fmt.Errorf("githubstore: failed to delete %s for user %s: %w", contentType, userID, err)
		}
		s.guard.unlock(key, &cachedSet{issue: 0, items: nil}, s.now())
		return []model.Item{}, nil
	}

	newNumber, err := s.writeItems(ctx, contentType, username, userID, issueNumber, items)
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return nil, fmt.Errorf("githubstore: failed to delete %s for user %s: %w", contentType, userID, err)
	}

	s.guard.unlock(key, &cachedSet{issue: newNumber, items: storage.CloneItems(items)}, s.now())
	return items, nil
}

// LoadPublic aggregates every user's items for a content type, annotated
// with the owner inferred from issue labels and title. The listing
// paginates, so more than 100 users' issues aggregate completely.
func (s *Store) LoadPublic(ctx context.Context, contentType string) ([]model.PublicItem, error) {
	issues, err := s.listIssuesByLabels(ctx, []string{contentType, versionLabel(s.version(contentType))})
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to load public %s: %w", contentType, err)
	}

	public := make([]model.PublicItem, 0, len(issues))
	for _, issue := range issues {
		userID, ok := labelValue(issue, userIDLabelPrefix)
		if !ok {
			continue // not a per-user content issue
		}
		items, err := parseItems(issue.GetBody())
		if err != nil {
			s.logger.Warn("skipping unparsable content issue",
				slog.Int("issue", issue.GetNumber()),
				slog.String("contentType", contentType),
				slog.String("error", err.Error()),
			)
			continue
		}
		username := usernameFromTitle(issue.GetTitle())
		for _, it := range items {
			public = append(public, model.PublicItem{Item: it, UserID: userID, Username: username})
		}
	}
	return public, nil
}

// GetVersion reports the configured schema version for a content type.
func (s *Store) GetVersion(_ context.Context, contentType string) (int, error) {
	return s.version(contentType), nil
}

// MigrateVersion rewrites one user's data with transform and moves it from
// the fromVersion-labelled issue to a new toVersion-labelled one, closing
// the old issue. A user with no stored data is a no-op.
func (s *Store) MigrateVersion(ctx context.Context, contentType, userID string, fromVersion, toVersion int, transform storage.TransformFunc) error {
	if fromVersion == toVersion {
		return apperror.ValidationFailed("version", "fromVersion and toVersion must differ")
	}

	key := saveKey(contentType, userID)
	s.guard.lock(key)

	issue, err := s.findUserIssueAtVersion(ctx, contentType, userID, fromVersion)
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return fmt.Errorf("githubstore: failed to migrate %s for user %s: %w", contentType, userID, err)
	}
	if issue == nil {
		s.guard.unlock(key, nil, s.now())
		return nil
	}

	items, err := parseItems(issue.GetBody())
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return fmt.Errorf("githubstore: failed to migrate %s for user %s: %w", contentType, userID, err)
	}

	migrated, err := transform(items)
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return fmt.Errorf("githubstore: transform for %s user %s: %w", contentType, userID, err)
	}

	username := usernameFromTitle(issue.GetTitle())
	body, err := marshalItems(migrated)
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return fmt.Errorf("githubstore: failed to migrate %s for user %s: %w", contentType, userID, err)
	}

	title := contentTitle(contentType, username)
	labels := []string{contentType, userIDLabel(userID), versionLabel(toVersion)}
	created, _, err := s.issues.Create(ctx, s.owner, s.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		s.guard.unlock(key, nil, s.now())
		return fmt.Errorf("githubstore: failed to migrate %s for user %s: %w", contentType, userID, err)
	}

	// Close the old location only after the new one exists. If this close
	// fails we end up with data in both places, which Load resolves in
	// favour of the current version — recoverable, unlike the reverse
	// ordering which could lose data.
	closed := "closed"
	if _, _, err := s.issues.Edit(ctx, s.owner, s.repo, issue.GetNumber(), &github.IssueRequest{State: &closed}); err != nil {
		s.logger.Warn("migrated issue left open at old version",
			slog.Int("issue", issue.GetNumber()),
			slog.String("contentType", contentType),
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}

	s.guard.unlock(key, &cachedSet{issue: created.GetNumber(), items: storage.CloneItems(migrated)}, s.now())
	return nil
}

// HealthCheck issues the cheapest possible authenticated read.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, _, err := s.issues.ListByRepo(ctx, s.owner, s.repo, &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return apperror.Unavailable("github", err)
	}
	return nil
}

// --- internals ---

func saveKey(contentType, userID string) string {
	return contentType + ":" + userID
}

func contentTitle(contentType, username string) string {
	return fmt.Sprintf("[Wiki] %s for %s", contentType, username)
}

// usernameFromTitle recovers the owner's username from a content issue
// title. Returns "" for titles not produced by contentTitle.
func usernameFromTitle(title string) string {
	idx := strings.LastIndex(title, " for ")
	if idx < 0 {
		return ""
	}
	return title[idx+len(" for "):]
}

func (s *Store) version(contentType string) int {
	if v, ok := s.versions[contentType]; ok && v > 0 {
		return v
	}
	return 1
}

// currentItems returns the freshest view of a user's array: the grace
// cache if a write just happened here, otherwise the issue body.
// The caller must hold the key guard.
func (s *Store) currentItems(ctx context.Context, contentType, userID string) ([]model.Item, int, error) {
	if set, ok := s.guard.cached(saveKey(contentType, userID), s.now()); ok {
		return set.items, set.issue, nil
	}
	issue, err := s.findUserIssue(ctx, contentType, userID)
	if err != nil {
		return nil, 0, err
	}
	if issue == nil {
		return []model.Item{}, 0, nil
	}
	items, err := parseItems(issue.GetBody())
	if err != nil {
		return nil, 0, err
	}
	return items, issue.GetNumber(), nil
}

// findUserIssue locates the user's open issue for a content type at the
// current version, falling back to a versionless query for data written
// before version labels existed.
func (s *Store) findUserIssue(ctx context.Context, contentType, userID string) (*github.Issue, error) {
	return s.findUserIssueAtVersion(ctx, contentType, userID, s.version(contentType))
}

func (s *Store) findUserIssueAtVersion(ctx context.Context, contentType, userID string, version int) (*github.Issue, error) {
	issue, err := s.scanForUser(ctx, []string{contentType, versionLabel(version)}, userID)
	if err != nil || issue != nil {
		return issue, err
	}
	// Legacy fallback: data written before version labels existed carries
	// only the content type label.
	return s.scanForUser(ctx, []string{contentType}, userID)
}

// scanForUser lists issues matching the given labels and returns the first
// one also carrying the user's label. Label filters are conjunctive on
// GitHub's side; the user label is matched client-side so one query serves
// every user.
func (s *Store) scanForUser(ctx context.Context, labels []string, userID string) (*github.Issue, error) {
	want := userIDLabel(userID)
	issues, err := s.listIssuesByLabels(ctx, labels)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		if issueHasLabel(issue, want) {
			return issue, nil
		}
	}
	return nil, nil
}

// listIssuesByLabels returns ALL open issues carrying the labels, following
// pagination to the end.
func (s *Store) listIssuesByLabels(ctx context.Context, labels []string) ([]*github.Issue, error) {
	var all []*github.Issue
	opts := &github.IssueListByRepoOptions{
		Labels:      labels,
		State:       "open",
		ListOptions: github.ListOptions{PerPage: issuePageSize},
	}
	for {
		page, resp, err := s.issues.ListByRepo(ctx, s.owner, s.repo, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// writeItems persists the array, creating the issue on first save.
// Returns the issue number written to.
func (s *Store) writeItems(ctx context.Context, contentType, username, userID string, issueNumber int, items []model.Item) (int, error) {
	body, err := marshalItems(items)
	if err != nil {
		return 0, err
	}

	if issueNumber == 0 {
		title := contentTitle(contentType, username)
		labels := []string{contentType, userIDLabel(userID), versionLabel(s.version(contentType))}
		created, _, err := s.issues.Create(ctx, s.owner, s.repo, &github.IssueRequest{
			Title:  &title,
			Body:   &body,
			Labels: &labels,
		})
		if err != nil {
			return 0, err
		}
		return created.GetNumber(), nil
	}

	_, _, err = s.issues.Edit(ctx, s.owner, s.repo, issueNumber, &github.IssueRequest{Body: &body})
	if err != nil {
		return 0, err
	}
	return issueNumber, nil
}

func parseItems(body string) ([]model.Item, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return []model.Item{}, nil
	}
	var items []model.Item
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("parsing issue body: %w", err)
	}
	return items, nil
}

func marshalItems(items []model.Item) (string, error) {
	if items == nil {
		items = []model.Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding issue body: %w", err)
	}
	return string(data), nil
}

// isNotFound reports whether a go-github error is a plain 404.
func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
