package githubstore

import (
	"strconv"
	"strings"

	"github.com/google/go-github/v66/github"
)

// Label vocabulary. Labels are the only secondary index GitHub Issues give
// us, so this naming scheme IS the schema: changing a prefix orphans every
// issue written with the old one.
//
//	<contentType>        — which kind of wiki content the issue holds
//	user-id:<id>         — which user owns the issue
//	entity-id:<id>       — which shared entity a submissions issue belongs to
//	data-version:<n>     — schema version of the JSON array in the body
const (
	userIDLabelPrefix   = "user-id:"
	entityIDLabelPrefix = "entity-id:"
	versionLabelPrefix  = "data-version:"

	// submissionsLabel marks entity submission container issues so they
	// never collide with a content type label of the same name.
	submissionsLabel = "wiki-submissions"

	// verificationLabel marks the single locked issue holding email
	// verification codes.
	verificationLabel = "email-verification"

	// labelMaxLength is GitHub's hard limit on label names.
	labelMaxLength = 50
)

// truncateLabel keeps a generated label within GitHub's 50-character limit.
// Truncation can in principle collide two very long user IDs; GitHub user
// IDs are far shorter than 42 characters in practice, so the helper exists
// to avoid API rejections, not to build a perfect index.
func truncateLabel(name string) string {
	if len(name) <= labelMaxLength {
		return name
	}
	return name[:labelMaxLength]
}

func userIDLabel(userID string) string {
	return truncateLabel(userIDLabelPrefix + userID)
}

func entityIDLabel(entityID string) string {
	return truncateLabel(entityIDLabelPrefix + entityID)
}

func versionLabel(version int) string {
	return truncateLabel(versionLabelPrefix + strconv.Itoa(version))
}

// issueHasLabel reports whether the issue carries the exact label name.
func issueHasLabel(issue *github.Issue, name string) bool {
	for _, l := range issue.Labels {
		if l.GetName() == name {
			return true
		}
	}
	return false
}

// labelValue extracts the value part of the first label with the given
// prefix, e.g. labelValue(issue, "user-id:") → ("octocat", true).
func labelValue(issue *github.Issue, prefix string) (string, bool) {
	for _, l := range issue.Labels {
		if name := l.GetName(); strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix), true
		}
	}
	return "", false
}
