package githubstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/sakif/wikistore/internal/model"
)

// Email verification codes live on ONE well-known locked issue:
//
//   - the issue body embeds an index — a fenced ```json code block holding
//     a JSON object mapping emailHash → commentID
//   - each comment holds one code payload (hash, code, expiry) as JSON
//
// The fenced-block embedding is a stable data format: existing wikis have
// issues written exactly this way, so the block must be located and
// replaced without reformatting the surrounding body text.
//
// All index operations are read-modify-write on the issue body and are
// serialized through the key guard (verifyGuardKey) within this process.

const (
	verificationIssueTitle = "[Email Verification]"
	verifyGuardKey         = "verification"
)

const verificationIssueBody = `# Email Verification Codes

This issue is managed by the wiki server — do not edit it by hand.
The fenced JSON block below is the index mapping email hashes to the
comment holding each code.

` + "```json\n{}\n```\n"

// indexBlockPattern locates the fenced JSON index inside the issue body.
// Deliberately narrow: the first ```json block wins, and the body template
// above guarantees there is exactly one.
var indexBlockPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// StoreVerificationCode writes a code comment and records it in the index.
// Storing a second code for the same hash overwrites the first.
func (s *Store) StoreVerificationCode(ctx context.Context, emailHash, code string, expiresAt time.Time) error {
	s.guard.lock(verifyGuardKey)
	defer s.guard.unlock(verifyGuardKey, nil, s.now())

	number, body, index, err := s.verificationIndex(ctx)
	if err != nil {
		return fmt.Errorf("githubstore: failed to store verification code: %w", err)
	}

	payload, err := json.MarshalIndent(model.VerificationCode{
		EmailHash: emailHash,
		Code:      code,
		ExpiresAt: expiresAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("githubstore: failed to store verification code: %w", err)
	}
	text := string(payload)

	if commentID, ok := index[emailHash]; ok {
		_, _, err := s.issues.EditComment(ctx, s.owner, s.repo, commentID, &github.IssueComment{Body: &text})
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return fmt.Errorf("githubstore: failed to store verification code: %w", err)
		}
		// Indexed comment vanished (manual cleanup); fall through and
		// recreate it.
	}

	comment, _, err := s.issues.CreateComment(ctx, s.owner, s.repo, number, &github.IssueComment{Body: &text})
	if err != nil {
		return fmt.Errorf("githubstore: failed to store verification code: %w", err)
	}

	index[emailHash] = comment.GetID()
	if err := s.writeVerificationIndex(ctx, number, body, index); err != nil {
		return fmt.Errorf("githubstore: failed to store verification code: %w", err)
	}
	return nil
}

// GetVerificationCode looks a code up by email hash. Absent codes return
// (nil, nil); expired codes are deleted on sight and also return nil.
func (s *Store) GetVerificationCode(ctx context.Context, emailHash string) (*model.VerificationCode, error) {
	s.guard.lock(verifyGuardKey)
	defer s.guard.unlock(verifyGuardKey, nil, s.now())

	number, body, index, err := s.verificationIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("githubstore: failed to get verification code: %w", err)
	}

	commentID, ok := index[emailHash]
	if !ok {
		return nil, nil
	}

	comment, _, err := s.issues.GetComment(ctx, s.owner, s.repo, commentID)
	if err != nil {
		if isNotFound(err) {
			// Stale index entry; drop it.
			delete(index, emailHash)
			if werr := s.writeVerificationIndex(ctx, number, body, index); werr != nil {
				s.logger.Warn("failed to prune stale verification index entry",
					slog.String("error", werr.Error()))
			}
			return nil, nil
		}
		return nil, fmt.Errorf("githubstore: failed to get verification code: %w", err)
	}

	var vc model.VerificationCode
	if err := json.Unmarshal([]byte(comment.GetBody()), &vc); err != nil {
		return nil, fmt.Errorf("githubstore: failed to get verification code: %w", err)
	}

	if vc.Expired(s.now()) {
		if err := s.removeVerificationEntry(ctx, number, body, index, emailHash, commentID); err != nil {
			s.logger.Warn("failed to delete expired verification code",
				slog.String("error", err.Error()))
		}
		return nil, nil
	}

	return &vc, nil
}

// DeleteVerificationCode removes the code comment and its index entry.
// Deleting an absent code is a no-op.
func (s *Store) DeleteVerificationCode(ctx context.Context, emailHash string) error {
	s.guard.lock(verifyGuardKey)
	defer s.guard.unlock(verifyGuardKey, nil, s.now())

	number, body, index, err := s.verificationIndex(ctx)
	if err != nil {
		return fmt.Errorf("githubstore: failed to delete verification code: %w", err)
	}

	commentID, ok := index[emailHash]
	if !ok {
		return nil
	}
	if err := s.removeVerificationEntry(ctx, number, body, index, emailHash, commentID); err != nil {
		return fmt.Errorf("githubstore: failed to delete verification code: %w", err)
	}
	return nil
}

// --- internals (caller must hold the verification guard) ---

// ensureVerificationIssue finds or creates+locks the well-known issue and
// caches its number for the life of the adapter.
func (s *Store) ensureVerificationIssue(ctx context.Context) (int, error) {
	if s.verifyIssue != 0 {
		return s.verifyIssue, nil
	}

	issues, err := s.listIssuesByLabels(ctx, []string{verificationLabel})
	if err != nil {
		return 0, err
	}
	if len(issues) > 0 {
		s.verifyIssue = issues[0].GetNumber()
		return s.verifyIssue, nil
	}

	title := verificationIssueTitle
	body := verificationIssueBody
	labels := []string{verificationLabel}
	issue, _, err := s.issues.Create(ctx, s.owner, s.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		return 0, err
	}

	// Lock so passers-by can't comment garbage between our code comments.
	// The bot token still can.
	if _, err := s.issues.Lock(ctx, s.owner, s.repo, issue.GetNumber(), nil); err != nil {
		s.logger.Warn("failed to lock verification issue",
			slog.Int("issue", issue.GetNumber()),
			slog.String("error", err.Error()),
		)
	}

	s.verifyIssue = issue.GetNumber()
	return s.verifyIssue, nil
}

// verificationIndex loads the issue body and parses the embedded index.
func (s *Store) verificationIndex(ctx context.Context) (number int, body string, index map[string]int64, err error) {
	number, err = s.ensureVerificationIssue(ctx)
	if err != nil {
		return 0, "", nil, err
	}
	issue, _, err := s.issues.Get(ctx, s.owner, s.repo, number)
	if err != nil {
		return 0, "", nil, err
	}
	body = issue.GetBody()
	index, err = parseVerificationIndex(body)
	if err != nil {
		return 0, "", nil, err
	}
	return number, body, index, nil
}

func (s *Store) writeVerificationIndex(ctx context.Context, number int, body string, index map[string]int64) error {
	newBody, err := replaceVerificationIndex(body, index)
	if err != nil {
		return err
	}
	_, _, err = s.issues.Edit(ctx, s.owner, s.repo, number, &github.IssueRequest{Body: &newBody})
	return err
}

func (s *Store) removeVerificationEntry(ctx context.Context, number int, body string, index map[string]int64, emailHash string, commentID int64) error {
	if _, err := s.issues.DeleteComment(ctx, s.owner, s.repo, commentID); err != nil && !isNotFound(err) {
		return err
	}
	delete(index, emailHash)
	return s.writeVerificationIndex(ctx, number, body, index)
}

func parseVerificationIndex(body string) (map[string]int64, error) {
	m := indexBlockPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("verification issue body has no index block")
	}
	index := make(map[string]int64)
	if err := json.Unmarshal([]byte(m[1]), &index); err != nil {
		return nil, fmt.Errorf("parsing verification index: %w", err)
	}
	return index, nil
}

// replaceVerificationIndex splices a re-encoded index into the body,
// leaving all surrounding text byte-for-byte intact.
func replaceVerificationIndex(body string, index map[string]int64) (string, error) {
	loc := indexBlockPattern.FindStringIndex(body)
	if loc == nil {
		return "", fmt.Errorf("verification issue body has no index block")
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding verification index: %w", err)
	}
	return body[:loc[0]] + "```json\n" + string(data) + "\n```" + body[loc[1]:], nil
}
