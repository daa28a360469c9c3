package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"gwi.com/review-autoreply/internal/auth"
	"gwi.com/review-autoreply/internal/core"
	"gwi.com/review-autoreply/internal/store"
)

const testSecret = "test-secret"

type fakeAutomation struct {
	runErr      error
	saveErr     error
	locationErr error
	runUsers    []int64
	saved       []store.AutomationSetting
	bulkCalls   int
}

func (f *fakeAutomation) RunForUser(_ context.Context, userID int64) (*core.RunReport, error) {
	f.runUsers = append(f.runUsers, userID)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &core.RunReport{UserID: userID, Trigger: core.TriggerOnDemand, Actions: []core.ActionRecord{{ReviewName: "r1", Action: core.ActionNewReply}}}, nil
}

func (f *fakeAutomation) RunForAllEnabledUsers(context.Context) (*core.BulkSummary, error) {
	f.bulkCalls++
	return &core.BulkSummary{UsersProcessed: 3, Actions: 5}, nil
}

func (f *fakeAutomation) ListLocations(_ context.Context, userID int64) ([]core.Location, error) {
	if f.locationErr != nil {
		return nil, f.locationErr
	}
	return []core.Location{{ID: "accounts/1/locations/1", Title: "Main"}}, nil
}

func (f *fakeAutomation) GetSettings(context.Context, int64) ([]store.AutomationSetting, error) {
	return nil, nil
}

func (f *fakeAutomation) SaveSettingsAndRun(_ context.Context, userID int64, settings []store.AutomationSetting) (*core.RunReport, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = settings
	return &core.RunReport{UserID: userID, Trigger: core.TriggerSettings}, nil
}

type fakeOAuth struct {
	exchangeErr error
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh"}, nil
}

func (f *fakeOAuth) FetchProfile(context.Context, *oauth2.Token) (store.Profile, error) {
	return store.Profile{ExternalUserID: "g-1", DisplayName: "Ana"}, nil
}

type fakeUsers struct {
	token *oauth2.Token
}

func (f *fakeUsers) UpsertUserFromLogin(_ context.Context, profile store.Profile, token *oauth2.Token) (*store.User, error) {
	f.token = token
	return &store.User{ID: 9, ExternalUserID: profile.ExternalUserID, DisplayName: profile.DisplayName, AccessToken: token.AccessToken}, nil
}

type testEnv struct {
	automation *fakeAutomation
	oauth      *fakeOAuth
	users      *fakeUsers
	router     http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{automation: &fakeAutomation{}, oauth: &fakeOAuth{}, users: &fakeUsers{}}
	handler := NewAPIHandler(env.automation, env.oauth, env.users, HandlerConfig{
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
		CronSecret: "cron-secret",
	})
	env.router = NewRouter(handler)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sessionFor(t *testing.T, userID int64) string {
	t.Helper()
	token, err := auth.GenerateJWT(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	rec := newTestEnv().do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthenticatedRoutesRequireSession(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/automation/run", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/automation/run", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.automation.runUsers)
}

func TestRunAutomation_UsesSessionIdentity(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/automation/run?user_id=99", `{"user_id": 99}`, sessionFor(t, 5))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{5}, env.automation.runUsers)

	var report core.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(5), report.UserID)
	require.Len(t, report.Actions, 1)
}

func TestRunAutomation_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown user", core.ErrUserNotFound, http.StatusUnauthorized},
		{"overlapping run", core.ErrRunInProgress, http.StatusConflict},
		{"unexpected", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.automation.runErr = tt.err
			rec := env.do(t, http.MethodPost, "/api/automation/run", "", sessionFor(t, 1))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestSaveSettings(t *testing.T) {
	env := newTestEnv()
	body := `{"settings":[{"location_id":"accounts/1/locations/1","enabled":true,"tone":"warm","time_filter":"7days","reply_scope":"unreplied"}]}`

	rec := env.do(t, http.MethodPut, "/api/settings", body, sessionFor(t, 3))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.automation.saved, 1)
	assert.Equal(t, store.TimeFilter7Days, env.automation.saved[0].TimeFilter)
	assert.Contains(t, rec.Body.String(), `"trigger":"settings_saved"`)
}

func TestSaveSettings_ValidationAndUpstreamErrors(t *testing.T) {
	env := newTestEnv()
	env.automation.saveErr = &core.ValidationError{Problems: []string{"settings[0]: unknown time_filter \"3days\""}}

	rec := env.do(t, http.MethodPut, "/api/settings", `{"settings":[]}`, sessionFor(t, 3))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Problems, 1)

	rec = env.do(t, http.MethodPut, "/api/settings", `not json`, sessionFor(t, 3))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.automation.saveErr = &core.Error{Kind: core.ErrExternalFetch, Op: "list locations", Err: errors.New("503")}
	rec = env.do(t, http.MethodPut, "/api/settings", `{"settings":[]}`, sessionFor(t, 3))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSaveSettings_RunInProgressIsConflict(t *testing.T) {
	env := newTestEnv()
	env.automation.saveErr = core.ErrRunInProgress

	rec := env.do(t, http.MethodPut, "/api/settings", `{"settings":[]}`, sessionFor(t, 3))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, env.automation.saved)
}

func TestGetSettings_EmptyListIsArray(t *testing.T) {
	rec := newTestEnv().do(t, http.MethodGet, "/api/settings", "", sessionFor(t, 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListLocations(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/api/locations", "", sessionFor(t, 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"accounts/1/locations/1","title":"Main"}]`, rec.Body.String())

	env.automation.locationErr = &core.Error{Kind: core.ErrExternalFetch, Op: "list locations"}
	rec = env.do(t, http.MethodGet, "/api/locations", "", sessionFor(t, 1))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRunAll_RequiresCronSecret(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/automation/run-all", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/automation/run-all", "", sessionFor(t, 1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "user sessions cannot trigger bulk runs")
	assert.Zero(t, env.automation.bulkCalls)

	rec = env.do(t, http.MethodPost, "/api/automation/run-all", "", "cron-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.automation.bulkCalls)
	assert.Contains(t, rec.Body.String(), `"users_processed":3`)
}

func TestRunAll_SecretMustMatchExactly(t *testing.T) {
	env := newTestEnv()

	for _, bearer := range []string{"cron-secre", "cron-secret-and-more", "CRON-SECRET"} {
		rec := env.do(t, http.MethodPost, "/api/automation/run-all", "", bearer)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, bearer)
	}
	assert.Zero(t, env.automation.bulkCalls)
}

func TestRunAll_DisabledWithoutSecret(t *testing.T) {
	automation := &fakeAutomation{}
	router := NewRouter(NewAPIHandler(automation, &fakeOAuth{}, &fakeUsers{}, HandlerConfig{JWTSecret: testSecret}))

	req := httptest.NewRequest(http.MethodPost, "/api/automation/run-all", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, automation.bulkCalls)
}

func TestGoogleLoginAndCallback(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/auth/google/login", "", "")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	state := cookies[0].Value
	assert.Contains(t, rec.Header().Get("Location"), url.QueryEscape(state))

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: state})
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string          `json:"token"`
		User  json.RawMessage `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	userID, err := auth.ValidateJWT(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), userID)
	assert.NotContains(t, string(resp.User), "access-abc", "tokens never leave the server")
	assert.Equal(t, "access-abc", env.users.token.AccessToken)
}

func TestGoogleCallback_RejectsBadState(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "expected"})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/google/callback?code=abc&state=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing cookie")
	assert.Nil(t, env.users.token)
}

func TestGoogleCallback_ExchangeFailure(t *testing.T) {
	env := newTestEnv()
	env.oauth.exchangeErr = errors.New("invalid_grant")

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state=s", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "s"})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
