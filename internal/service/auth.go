// Package service — authentication business logic.
//
// AuthService sits between the auth HTTP handlers and the user repository /
// token utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT)
//
// GitHub OAuth is the only identity provider — users never set a password
// here. The wiki's users already live on GitHub (the storage backend attributes
// their content by GitHub login), so a second credential would be noise.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/wikistore/internal/auth"
	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/repository"
)

// AuthService handles the authentication business logic.
type AuthService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	logger *slog.Logger
}

// NewAuthService creates an AuthService with its dependencies.
func NewAuthService(users repository.UserRepository, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, logger: logger}
}

// AuthResult bundles the user record and the issued JWT so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginOrRegisterGitHub handles the GitHub OAuth callback: upserts the user
// (create on first login, refresh the profile on later ones) and issues a
// session token carrying both the internal user ID and the GitHub login.
//
// It does NOT set cookies or read requests — HTTP stays in the handler.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user := &model.User{
		GitHubID:  ghUser.ID,
		Login:     ghUser.Login,
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}

	// GitHub IDs are stable and unique, so upserting on github_id is safe.
	// After this call user.ID is populated.
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
	)

	token, err := s.tokens.Generate(auth.Identity{UserID: user.ID, Login: user.Login})
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID returns the user for an internal ID. Used by /api/me after the
// middleware validates the session token.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// ValidateToken validates a JWT string and returns the identity it encodes.
// A thin delegation so callers need only the service package.
func (s *AuthService) ValidateToken(tokenStr string) (auth.Identity, error) {
	id, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("service/auth: %w", err)
	}
	return id, nil
}
