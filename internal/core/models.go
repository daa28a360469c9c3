package core

import (
	"time"
)

// Review is a customer review as returned by the review source. It is never
// persisted; every run fetches a fresh page.
type Review struct {
	Name         string       `json:"name"` // accounts/{a}/locations/{l}/reviews/{r}
	ReviewID     string       `json:"review_id"`
	ReviewerName string       `json:"reviewer_name"`
	StarRating   int          `json:"star_rating"` // 1..5, 0 when unspecified
	Comment      string       `json:"comment,omitempty"`
	CreateTime   time.Time    `json:"create_time"`
	UpdateTime   time.Time    `json:"update_time"`
	Reply        *ReviewReply `json:"reply,omitempty"`
}

type ReviewReply struct {
	Comment    string    `json:"comment"`
	UpdateTime time.Time `json:"update_time"`
}

func (r Review) HasReply() bool {
	return r.Reply != nil
}

// Location is an entry of the account's location catalog.
type Location struct {
	ID    string `json:"id"` // accounts/{a}/locations/{l}
	Title string `json:"title"`
}

type Action string

const (
	ActionNewReply     Action = "new_reply"
	ActionUpdatedReply Action = "updated_reply"
)

type ActionRecord struct {
	LocationID    string `json:"location_id"`
	LocationTitle string `json:"location_title"`
	ReviewName    string `json:"review_name"`
	ReviewerName  string `json:"reviewer_name"`
	Action        Action `json:"action"`
	ReplyText     string `json:"reply_text"`
}

// FailureCounts tallies the per-item failures a run absorbed.
type FailureCounts struct {
	Fetch      int `json:"fetch"`
	Generation int `json:"generation"`
	Publish    int `json:"publish"`
	Quota      int `json:"quota"`
}

type RunReport struct {
	RunID      string         `json:"run_id"`
	UserID     int64          `json:"user_id"`
	Trigger    Trigger        `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Actions    []ActionRecord `json:"actions"`
	Skipped    int            `json:"skipped"`
	Failures   FailureCounts  `json:"failures"`
	// Truncated is set when the deadline or the reply cap stopped the run early.
	Truncated bool `json:"truncated"`
}

type Trigger string

const (
	TriggerOnDemand  Trigger = "on_demand"
	TriggerSettings  Trigger = "settings_saved"
	TriggerScheduled Trigger = "scheduled"
)

type UserRunResult struct {
	UserID  int64  `json:"user_id"`
	Actions int    `json:"actions"`
	Error   string `json:"error,omitempty"`
}

type BulkSummary struct {
	UsersProcessed int             `json:"users_processed"`
	UsersFailed    int             `json:"users_failed"`
	Actions        int             `json:"actions"`
	Results        []UserRunResult `json:"results"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}
