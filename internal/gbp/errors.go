package gbp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"gwi.com/review-autoreply/internal/core"
)

// classify tags rate-limit responses with core.ErrQuotaExceeded so the
// automation retries them. Everything else passes through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isQuota(err) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isQuota(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	if strings.Contains(gerr.Body, "RESOURCE_EXHAUSTED") || strings.Contains(gerr.Message, "RESOURCE_EXHAUSTED") {
		return true
	}
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "quotaExceeded" {
			return true
		}
	}
	return false
}
