package core

import (
	"time"

	"gwi.com/review-autoreply/internal/store"
)

type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipOldReview      SkipReason = "old_review"
	SkipAlreadyReplied SkipReason = "already_replied"
	SkipEmptyReply     SkipReason = "empty_reply"
)

// DayThreshold resolves a time filter to a maximum age in days. Unknown
// filters are unbounded so a typo never silently disables automation.
func DayThreshold(filter store.TimeFilter) (days float64, bounded bool) {
	switch filter {
	case store.TimeFilter7Days:
		return 7, true
	case store.TimeFilter14Days:
		return 14, true
	case store.TimeFilter30Days:
		return 30, true
	default:
		return 0, false
	}
}

// Evaluate decides whether review should get an automated reply under
// setting, and why not if it should not. Only the time filter and reply
// scope take part in the decision.
func Evaluate(review Review, setting store.AutomationSetting, now time.Time) (bool, SkipReason) {
	if days, bounded := DayThreshold(setting.TimeFilter); bounded {
		ageInDays := now.Sub(review.CreateTime).Hours() / 24
		if ageInDays > days {
			return false, SkipOldReview
		}
	}

	if setting.ReplyScope == store.ReplyScopeUnreplied && review.HasReply() {
		return false, SkipAlreadyReplied
	}

	// rewrite_all and anything else: existing replies are overwritten.
	return true, SkipNone
}

func IsEligible(review Review, setting store.AutomationSetting, now time.Time) bool {
	ok, _ := Evaluate(review, setting, now)
	return ok
}
