package store

import "time"

// TimeFilter bounds how old a review may be and still get an automated reply.
type TimeFilter string

const (
	TimeFilter7Days  TimeFilter = "7days"
	TimeFilter14Days TimeFilter = "14days"
	TimeFilter30Days TimeFilter = "30days"
	TimeFilterAll    TimeFilter = "all"
)

// ReplyScope decides whether reviews that already carry a reply are touched.
type ReplyScope string

const (
	ReplyScopeUnreplied  ReplyScope = "unreplied"
	ReplyScopeRewriteAll ReplyScope = "rewrite_all"
)

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	DisplayName    string    `json:"display_name"`
	Email          string    `json:"email"`
	AvatarURL      string    `json:"avatar_url"`
	AccessToken    string    `json:"-"` // Do not expose tokens in JSON responses
	RefreshToken   string    `json:"-"`
	TokenType      string    `json:"-"`
	TokenExpiry    time.Time `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AutomationSetting is the per-location automation configuration. A user's
// settings form an ordered list and LocationID is unique within it.
type AutomationSetting struct {
	LocationID    string     `json:"location_id"` // accounts/{account}/locations/{location}
	LocationTitle string     `json:"location_title"`
	Enabled       bool       `json:"enabled"`
	Tone          string     `json:"tone"`
	Keywords      []string   `json:"keywords,omitempty"`
	TimeFilter    TimeFilter `json:"time_filter"`
	ReplyScope    ReplyScope `json:"reply_scope"`
}

// Profile is the identity returned by the OAuth provider on login.
type Profile struct {
	ExternalUserID string `json:"id"`
	DisplayName    string `json:"name"`
	Email          string `json:"email"`
	AvatarURL      string `json:"picture"`
}
