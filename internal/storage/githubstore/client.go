package githubstore

import (
	"context"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// issuesAPI is the slice of go-github's IssuesService this adapter calls.
//
// WHY AN INTERFACE AND NOT *github.Client?
// Same reason the service layer takes storage.Adapter instead of a concrete
// store: tests inject an in-memory fake GitHub (see store_test.go) and
// exercise the real adapter logic — label lookups, body rewriting, guard
// behaviour — without network access. go-github's IssuesService satisfies
// this interface as-is.
type issuesAPI interface {
	ListByRepo(ctx context.Context, owner, repo string, opts *github.IssueListByRepoOptions) ([]*github.Issue, *github.Response, error)
	Get(ctx context.Context, owner, repo string, number int) (*github.Issue, *github.Response, error)
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	Edit(ctx context.Context, owner, repo string, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	Lock(ctx context.Context, owner, repo string, number int, opts *github.LockIssueOptions) (*github.Response, error)
	ListComments(ctx context.Context, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error)
	GetComment(ctx context.Context, owner, repo string, commentID int64) (*github.IssueComment, *github.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	EditComment(ctx context.Context, owner, repo string, commentID int64, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	DeleteComment(ctx context.Context, owner, repo string, commentID int64) (*github.Response, error)
}

// newIssuesClient builds an authenticated go-github issues client.
// The token must belong to a bot account with write access to the wiki's
// data repository — every mutation below needs it.
func newIssuesClient(ctx context.Context, token string) issuesAPI {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, src)
	return github.NewClient(httpClient).Issues
}
