package githubstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v66/github"
	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/model"
)

// Entity-scoped submissions: one container issue per entity (found via its
// entity-id label), one comment per (userID, itemID). The container is
// created lazily on the first submission; creation and the scan-then-write
// upsert are serialized through the key guard so two first submissions
// don't spawn duplicate containers in this process.

func entityGuardKey(entityID string) string {
	return "entity:" + entityID
}

func submissionsTitle(entityID string) string {
	return fmt.Sprintf("[Submissions] %s", entityID)
}

// LoadSubmissions returns every user's submissions attached to an entity.
// An entity nobody has submitted to yet yields an empty slice.
func (s *Store) LoadSubmissions(ctx context.Context, entityID string) ([]model.Submission, error) {
	issue, err := s.findEntityIssue(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to load submissions for entity %s: %w", entityID, err)
	}
	if issue == nil {
		return []model.Submission{}, nil
	}

	comments, err := s.listAllComments(ctx, issue.GetNumber())
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to load submissions for entity %s: %w", entityID, err)
	}

	subs := make([]model.Submission, 0, len(comments))
	for _, c := range comments {
		sub, err := parseSubmission(c.GetBody())
		if err != nil {
			// Somebody commented on the container issue by hand. Skip it.
			s.logger.Warn("skipping unparsable submission comment",
				slog.String("entityID", entityID),
				slog.Int64("commentID", c.GetID()),
			)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// SaveSubmission upserts one user's submission on a shared entity, keyed
// by (entityID, userID, item.ID), and returns the full submission list.
func (s *Store) SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error) {
	if item.ID == "" {
		return nil, apperror.ValidationFailed("id", "item id is required")
	}

	key := entityGuardKey(entityID)
	s.guard.lock(key)
	defer s.guard.unlock(key, nil, s.now())

	issue, err := s.findEntityIssue(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to save submission for entity %s: %w", entityID, err)
	}
	if issue == nil {
		issue, err = s.createEntityIssue(ctx, entityID)
		if err != nil {
			return nil, fmt.Errorf("githubstore: failed to save submission for entity %s: %w", entityID, err)
		}
	}

	comments, err := s.listAllComments(ctx, issue.GetNumber())
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to save submission for entity %s: %w", entityID, err)
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

	// Scan existing comments to decide update-vs-create.
	subs := make([]model.Submission, 0, len(comments)+1)
	var existingCommentID int64
	for _, c := range comments {
		parsed, err := parseSubmission(c.GetBody())
		if err != nil {
			continue
		}
		if parsed.UserID == userID && parsed.Item.ID == item.ID {
			existingCommentID = c.GetID()
			if sub.Item.CreatedAt.IsZero() {
				sub.Item.CreatedAt = parsed.Item.CreatedAt
			}
			continue // replaced by the new version below
		}
		subs = append(subs, parsed)
	}
	if sub.Item.CreatedAt.IsZero() {
		sub.Item.CreatedAt = now
	}

	body, err := marshalSubmission(sub)
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to save submission for entity %s: %w", entityID, err)
	}

	if existingCommentID != 0 {
		_, _, err = s.issues.EditComment(ctx, s.owner, s.repo, existingCommentID, &github.IssueComment{Body: &body})
	} else {
		_, _, err = s.issues.CreateComment(ctx, s.owner, s.repo, issue.GetNumber(), &github.IssueComment{Body: &body})
	}
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to save submission for entity %s: %w", entityID, err)
	}

	return append(subs, sub), nil
}

func (s *Store) findEntityIssue(ctx context.Context, entityID string) (*github.Issue, error) {
	issues, err := s.listIssuesByLabels(ctx, []string{submissionsLabel, entityIDLabel(entityID)})
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, nil
	}
	return issues[0], nil
}

func (s *Store) createEntityIssue(ctx context.Context, entityID string) (*github.Issue, error) {
	title := submissionsTitle(entityID)
	body := "Community submissions for this entity. Each comment below is one submission, managed by the wiki server."
	labels := []string{submissionsLabel, entityIDLabel(entityID)}
	issue, _, err := s.issues.Create(ctx, s.owner, s.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	return issue, err
}

// listAllComments follows pagination so containers with many submissions
// load completely.
func (s *Store) listAllComments(ctx context.Context, issueNumber int) ([]*github.IssueComment, error) {
	var all []*github.IssueComment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: issuePageSize},
	}
	for {
		page, resp, err := s.issues.ListComments(ctx, s.owner, s.repo, issueNumber, opts)
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

func parseSubmission(body string) (model.Submission, error) {
	var sub model.Submission
	if err := json.Unmarshal([]byte(body), &sub); err != nil {
		return model.Submission{}, fmt.Errorf("parsing submission comment: %w", err)
	}
	if sub.UserID == "" || sub.Item.ID == "" {
		return model.Submission{}, fmt.Errorf("submission comment missing userId or item id")
	}
	return sub, nil
}

func marshalSubmission(sub model.Submission) (string, error) {
	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding submission comment: %w", err)
	}
	return string(data), nil
}
