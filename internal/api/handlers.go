package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"gwi.com/review-autoreply/internal/auth"
	"gwi.com/review-autoreply/internal/core"
	"gwi.com/review-autoreply/internal/store"
)

const stateCookieName = "oauth_state"

type contextKey string

const userIDKey contextKey = "userID"

// Automation is the part of core.AutomationService the HTTP layer drives.
type Automation interface {
	RunForUser(ctx context.Context, userID int64) (*core.RunReport, error)
	RunForAllEnabledUsers(ctx context.Context) (*core.BulkSummary, error)
	ListLocations(ctx context.Context, userID int64) ([]core.Location, error)
	GetSettings(ctx context.Context, userID int64) ([]store.AutomationSetting, error)
	SaveSettingsAndRun(ctx context.Context, userID int64, settings []store.AutomationSetting) (*core.RunReport, error)
}

type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (store.Profile, error)
}

type UserRepository interface {
	UpsertUserFromLogin(ctx context.Context, profile store.Profile, token *oauth2.Token) (*store.User, error)
}

type HandlerConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
	CronSecret string
}

type APIHandler struct {
	automation Automation
	oauth      OAuthProvider
	users      UserRepository
	cfg        HandlerConfig
}

func NewAPIHandler(automation Automation, oauth OAuthProvider, users UserRepository, cfg HandlerConfig) *APIHandler {
	return &APIHandler{automation: automation, oauth: oauth, users: users, cfg: cfg}
}

// JWTAuthMiddleware binds the request to the session's user. Handlers never
// read a user id from the request itself.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(h.cfg.JWTSecret, tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CronAuthMiddleware guards the bulk endpoint with a shared secret.
func (h *APIHandler) CronAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.CronSecret == "" {
			http.Error(w, "Bulk runs are disabled", http.StatusForbidden)
			return
		}
		got := []byte(r.Header.Get("Authorization"))
		want := []byte("Bearer " + h.cfg.CronSecret)
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

func (h *APIHandler) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (h *APIHandler) GoogleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		http.Error(w, "State cookie not found", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	if r.URL.Query().Get("state") != stateCookie.Value {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("OAuth code exchange failed")
		http.Error(w, "Failed to exchange token", http.StatusBadGateway)
		return
	}
	profile, err := h.oauth.FetchProfile(ctx, token)
	if err != nil {
		log.Error().Err(err).Msg("Fetching Google profile failed")
		http.Error(w, "Failed to fetch profile", http.StatusBadGateway)
		return
	}

	user, err := h.users.UpsertUserFromLogin(ctx, profile, token)
	if err != nil {
		log.Error().Err(err).Str("external_user_id", profile.ExternalUserID).Msg("Error saving user on login")
		http.Error(w, "Failed to save user", http.StatusInternalServerError)
		return
	}

	sessionToken, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, h.cfg.SessionTTL)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Error generating JWT")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	log.Info().Int64("user_id", user.ID).Msg("User signed in")
	writeJSON(w, http.StatusOK, LoginResponse{Token: sessionToken, User: user})
}

func (h *APIHandler) ListLocationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	locations, err := h.automation.ListLocations(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, userID, "list locations")
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (h *APIHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	settings, err := h.automation.GetSettings(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, userID, "get settings")
		return
	}
	if settings == nil {
		settings = []store.AutomationSetting{}
	}
	writeJSON(w, http.StatusOK, settings)
}

type SaveSettingsRequest struct {
	Settings []store.AutomationSetting `json:"settings"`
}

func (h *APIHandler) SaveSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req SaveSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.automation.SaveSettingsAndRun(r.Context(), userID, req.Settings)
	if err != nil {
		h.writeError(w, err, userID, "save settings")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) RunAutomationHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	report, err := h.automation.RunForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, userID, "run automation")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) RunAllHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.automation.RunForAllEnabledUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Bulk automation run failed")
		http.Error(w, "Bulk run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error, userID int64, op string) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: core.ErrInvalidSettings.Error(), Problems: verr.Problems})
	case errors.Is(err, core.ErrUserNotFound):
		http.Error(w, "User not found", http.StatusUnauthorized)
	case errors.Is(err, core.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrExternalFetch):
		log.Warn().Err(err).Int64("user_id", userID).Str("op", op).Msg("Upstream call failed")
		http.Error(w, "Google Business Profile request failed", http.StatusBadGateway)
	default:
		log.Error().Err(err).Int64("user_id", userID).Str("op", op).Msg("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
