package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"gwi.com/review-autoreply/internal/store"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("secret", 42, time.Hour)
	require.NoError(t, err)

	userID, err := ValidateJWT("secret", token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestValidateJWT_Rejects(t *testing.T) {
	valid, err := GenerateJWT("secret", 42, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateJWT("secret", 42, -time.Minute)
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ValidateJWT("other-secret", valid)
	assert.Error(t, err, "wrong secret")

	_, err = ValidateJWT("secret", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = ValidateJWT("secret", badSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateJWT("secret", "not-a-jwt")
	assert.Error(t, err)
}

func TestAuthCodeURL(t *testing.T) {
	p := NewGoogleProvider("client-id", "client-secret", "http://localhost/cb")

	raw := p.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), scopeBusinessManage)
	assert.Contains(t, q.Get("scope"), "userinfo.email")
}

func newOAuthServer(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"`+accessToken+`","token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600}`)
		case "/oauth2/v2/userinfo":
			assert.Equal(t, "Bearer "+accessToken, r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"g-1","name":"Ana Owner","email":"ana@example.com","picture":"https://example.com/a.png"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchangeAndFetchProfile(t *testing.T) {
	srv := newOAuthServer(t, "access-1")
	p := NewGoogleProvider("id", "secret", "http://localhost/cb",
		WithOAuthEndpoint(oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}),
		WithUserinfoEndpoint(srv.URL+"/"),
	)

	token, err := p.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken)

	profile, err := p.FetchProfile(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, store.Profile{
		ExternalUserID: "g-1",
		DisplayName:    "Ana Owner",
		Email:          "ana@example.com",
		AvatarURL:      "https://example.com/a.png",
	}, profile)
}

type recordingSaver struct {
	mu     sync.Mutex
	saved  []*oauth2.Token
	userID int64
}

func (r *recordingSaver) UpdateUserToken(_ context.Context, userID int64, token *oauth2.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userID = userID
	r.saved = append(r.saved, token)
	return nil
}

func TestCredentials_PersistsRefreshedToken(t *testing.T) {
	srv := newOAuthServer(t, "fresh-access")
	p := NewGoogleProvider("id", "secret", "http://localhost/cb",
		WithOAuthEndpoint(oauth2.Endpoint{TokenURL: srv.URL + "/token"}))
	saver := &recordingSaver{}
	creds := NewCredentials(p.OAuthConfig(), saver)

	user := &store.User{
		ID:           7,
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		TokenExpiry:  time.Now().Add(-time.Hour),
	}
	ts := creds.TokenSource(context.Background(), user)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token.AccessToken)

	_, err = ts.Token()
	require.NoError(t, err)

	require.Len(t, saver.saved, 1, "a token is persisted once per refresh")
	assert.Equal(t, int64(7), saver.userID)
	assert.Equal(t, "fresh-access", saver.saved[0].AccessToken)
}

func TestCredentials_ValidTokenIsNotRewritten(t *testing.T) {
	saver := &recordingSaver{}
	creds := NewCredentials(NewGoogleProvider("id", "secret", "").OAuthConfig(), saver)

	user := &store.User{ID: 1, AccessToken: "good", TokenType: "Bearer", TokenExpiry: time.Now().Add(time.Hour)}
	token, err := creds.TokenSource(context.Background(), user).Token()
	require.NoError(t, err)
	assert.Equal(t, "good", token.AccessToken)
	assert.Empty(t, saver.saved)
}

func TestCredentials_SourcesAreIndependentPerUser(t *testing.T) {
	creds := NewCredentials(NewGoogleProvider("id", "secret", "").OAuthConfig(), &recordingSaver{})
	future := time.Now().Add(time.Hour)

	a := creds.TokenSource(context.Background(), &store.User{ID: 1, AccessToken: "token-a", TokenExpiry: future})
	b := creds.TokenSource(context.Background(), &store.User{ID: 2, AccessToken: "token-b", TokenExpiry: future})

	ta, err := a.Token()
	require.NoError(t, err)
	tb, err := b.Token()
	require.NoError(t, err)
	assert.Equal(t, "token-a", ta.AccessToken)
	assert.Equal(t, "token-b", tb.AccessToken)
}
