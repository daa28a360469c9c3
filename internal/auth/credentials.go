package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"gwi.com/review-autoreply/internal/store"
)

// TokenSaver persists a refreshed token for a user.
type TokenSaver interface {
	UpdateUserToken(ctx context.Context, userID int64, token *oauth2.Token) error
}

// Credentials builds a fresh token source for each user from the tokens
// stored at login. Refreshed tokens are written back to the store.
type Credentials struct {
	config *oauth2.Config
	saver  TokenSaver
}

func NewCredentials(config *oauth2.Config, saver TokenSaver) *Credentials {
	return &Credentials{config: config, saver: saver}
}

func (c *Credentials) TokenSource(ctx context.Context, user *store.User) oauth2.TokenSource {
	stored := &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		TokenType:    user.TokenType,
		Expiry:       user.TokenExpiry,
	}
	return &persistingTokenSource{
		ctx:    context.WithoutCancel(ctx),
		base:   c.config.TokenSource(ctx, stored),
		userID: user.ID,
		last:   user.AccessToken,
		saver:  c.saver,
	}
}

type persistingTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	userID int64
	saver  TokenSaver

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last {
		return token, nil
	}
	s.last = token.AccessToken
	// A failed save only costs another refresh next time.
	if err := s.saver.UpdateUserToken(s.ctx, s.userID, token); err != nil {
		log.Warn().Err(err).Int64("user_id", s.userID).Msg("Failed to persist refreshed token")
	} else {
		log.Debug().Int64("user_id", s.userID).Msg("Persisted refreshed token")
	}
	return token, nil
}
