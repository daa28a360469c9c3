package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RunForAllEnabledUsers runs the automation for every user with at least one
// enabled setting, at most BulkConcurrency users at a time. A failing user is
// recorded in the summary and never stops the others.
func (s *AutomationService) RunForAllEnabledUsers(ctx context.Context) (*BulkSummary, error) {
	started := s.now()

	userIDs, err := s.users.ListUserIDsWithEnabledSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with enabled settings: %w", err)
	}

	log.Info().Int("users", len(userIDs)).Int("concurrency", s.opts.BulkConcurrency).Msg("Starting bulk automation run")

	results := make([]UserRunResult, len(userIDs))
	var mu sync.Mutex
	summary := &BulkSummary{StartedAt: started}

	var g errgroup.Group
	g.SetLimit(s.opts.BulkConcurrency)
	for i, userID := range userIDs {
		g.Go(func() error {
			report, err := s.runUser(ctx, userID, TriggerScheduled)

			mu.Lock()
			defer mu.Unlock()
			results[i].UserID = userID
			if err != nil {
				log.Error().Err(err).Int64("user_id", userID).Msg("Automation run failed for user, continuing")
				results[i].Error = err.Error()
				summary.UsersFailed++
				return nil
			}
			results[i].Actions = len(report.Actions)
			summary.UsersProcessed++
			summary.Actions += len(report.Actions)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	summary.Results = results
	summary.FinishedAt = s.now()
	log.Info().
		Int("processed", summary.UsersProcessed).
		Int("failed", summary.UsersFailed).
		Int("actions", summary.Actions).
		Msg("Bulk automation run finished")
	return summary, nil
}
