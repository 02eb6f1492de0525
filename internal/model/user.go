package model

import "time"

// User is a registered wiki account.
//
// GitHub OAuth is the identity provider, so the primary external identifier
// is the GitHub user ID (an integer). We still generate our own internal
// string ID (xid) so primary keys aren't tied to a third party's numbering
// scheme — and so storage labels stay stable if GitHub logins change.
//
// Email may be empty: GitHub only returns the primary email when the user
// has made it public. An empty string beats a nullable pointer here.
type User struct {
	ID        string    `json:"id"        db:"id"`
	GitHubID  int64     `json:"githubId"  db:"github_id"`  // GitHub's numeric user ID
	Login     string    `json:"login"     db:"login"`      // GitHub username
	Email     string    `json:"email"     db:"email"`      // primary public email (may be empty)
	AvatarURL string    `json:"avatarUrl" db:"avatar_url"` // profile picture URL
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
