package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"gwi.com/review-autoreply/internal/metrics"
	"gwi.com/review-autoreply/internal/retry"
	"gwi.com/review-autoreply/internal/store"
)

// UserStore is the persistence the automation needs.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetSettings(ctx context.Context, userID int64) ([]store.AutomationSetting, error)
	ReplaceSettings(ctx context.Context, userID int64, settings []store.AutomationSetting) error
	ListUserIDsWithEnabledSettings(ctx context.Context) ([]int64, error)
}

// CredentialProvider hands out a token source bound to a single user. Every
// external call takes its credentials explicitly; nothing is shared.
type CredentialProvider interface {
	TokenSource(ctx context.Context, user *store.User) oauth2.TokenSource
}

type ReviewSource interface {
	ListReviews(ctx context.Context, ts oauth2.TokenSource, locationID string, pageSize int) ([]Review, error)
}

// ReplyPublisher attaches or overwrites the reply on a review. Publishing the
// same review twice leaves a single reply.
type ReplyPublisher interface {
	UpsertReply(ctx context.Context, ts oauth2.TokenSource, reviewName, text string) error
}

type LocationCatalog interface {
	ListLocations(ctx context.Context, ts oauth2.TokenSource) ([]Location, error)
}

// RunLocker prevents two runs for the same user from overlapping.
type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type Dependencies struct {
	Users       UserStore
	Credentials CredentialProvider
	Reviews     ReviewSource
	Publisher   ReplyPublisher
	Catalog     LocationCatalog
	Generator   ReplyGenerator
	Locker      RunLocker
}

type Options struct {
	PageSize         int
	RunTimeout       time.Duration
	MaxRepliesPerRun int
	BulkConcurrency  int
	Retry            retry.Config
}

func DefaultOptions() Options {
	return Options{
		PageSize:         50,
		RunTimeout:       5 * time.Minute,
		MaxRepliesPerRun: 100,
		BulkConcurrency:  4,
		Retry:            retry.QuotaConfig(IsQuotaExceeded),
	}
}

type AutomationService struct {
	users       UserStore
	credentials CredentialProvider
	reviews     ReviewSource
	publisher   ReplyPublisher
	catalog     LocationCatalog
	generator   ReplyGenerator
	locker      RunLocker
	opts        Options
	now         func() time.Time
}

func NewAutomationService(deps Dependencies, opts Options) *AutomationService {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions().PageSize
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = 1
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultOptions().Retry
	}
	return &AutomationService{
		users:       deps.Users,
		credentials: deps.Credentials,
		reviews:     deps.Reviews,
		publisher:   deps.Publisher,
		catalog:     deps.Catalog,
		generator:   deps.Generator,
		locker:      deps.Locker,
		opts:        opts,
		now:         time.Now,
	}
}

// RunForUser runs the automation once for userID and returns what it did.
// Only an unknown user, an unreadable settings list or an overlapping run
// fail the call; per-location and per-review failures are logged and counted.
func (s *AutomationService) RunForUser(ctx context.Context, userID int64) (*RunReport, error) {
	return s.runUser(ctx, userID, TriggerOnDemand)
}

func (s *AutomationService) runUser(ctx context.Context, userID int64, trigger Trigger) (*RunReport, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	settings, err := s.users.GetSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for user %d: %w", userID, err)
	}

	return s.run(ctx, user, settings, trigger), nil
}

// lockUser takes the per-user run lock. ErrRunInProgress means another run
// for the same user holds it.
func (s *AutomationService) lockUser(ctx context.Context, userID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, strconv.FormatInt(userID, 10), s.lockTTL())
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("failed to lock run for user %d: %w", userID, err)
	}
	return release, nil
}

func (s *AutomationService) lockTTL() time.Duration {
	if s.opts.RunTimeout > 0 {
		return s.opts.RunTimeout + time.Minute
	}
	return 30 * time.Minute
}

// runState carries the mutable bookkeeping of a single run.
type runState struct {
	report      *RunReport
	now         time.Time
	generations int
	logger      zerolog.Logger
}

func (s *AutomationService) run(ctx context.Context, user *store.User, settings []store.AutomationSetting, trigger Trigger) *RunReport {
	start := s.now()
	defer metrics.ObserveRun(string(trigger), time.Now())

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	state := &runState{
		report: &RunReport{
			RunID:     uuid.NewString(),
			UserID:    user.ID,
			Trigger:   trigger,
			StartedAt: start,
			Actions:   []ActionRecord{},
		},
		now: start,
	}
	state.logger = log.With().
		Str("run_id", state.report.RunID).
		Int64("user_id", user.ID).
		Str("trigger", string(trigger)).
		Logger()

	ts := s.credentials.TokenSource(ctx, user)

	enabled := 0
	for _, setting := range settings {
		if !setting.Enabled {
			continue
		}
		enabled++
		if ctx.Err() != nil {
			state.logger.Warn().Str("location", setting.LocationID).Msg("Run deadline reached, skipping remaining locations")
			state.report.Truncated = true
			break
		}
		if !s.processLocation(ctx, ts, setting, state) {
			break
		}
	}

	state.report.FinishedAt = s.now()
	state.logger.Info().
		Int("locations", enabled).
		Int("actions", len(state.report.Actions)).
		Int("skipped", state.report.Skipped).
		Interface("failures", state.report.Failures).
		Msg("Automation run finished")
	return state.report
}

// processLocation handles one setting. It returns false when the run must
// stop altogether (deadline or reply cap).
func (s *AutomationService) processLocation(ctx context.Context, ts oauth2.TokenSource, setting store.AutomationSetting, state *runState) bool {
	logger := state.logger.With().Str("location", setting.LocationID).Logger()

	var reviews []Review
	err := retry.DoWithLog(ctx, s.opts.Retry, func() error {
		var err error
		reviews, err = s.reviews.ListReviews(ctx, ts, setting.LocationID, s.opts.PageSize)
		return err
	}, func(attempt int, err error, next time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("Review fetch rate limited, backing off")
	})
	if err != nil {
		s.recordFailure(state, newError(ErrExternalFetch, "list reviews "+setting.LocationID, err), logger)
		if ctx.Err() != nil {
			state.report.Truncated = true
			return false
		}
		return true
	}

	logger.Debug().Int("reviews", len(reviews)).Msg("Fetched reviews")

	for _, review := range reviews {
		if ctx.Err() != nil {
			logger.Warn().Msg("Run deadline reached, stopping location")
			state.report.Truncated = true
			return false
		}

		ok, reason := Evaluate(review, setting, state.now)
		if !ok {
			switch reason {
			case SkipOldReview:
				logger.Debug().Str("review", review.Name).Msg("Skipping old review")
			case SkipAlreadyReplied:
				logger.Debug().Str("review", review.Name).Msg("Skipping review, already replied")
			}
			metrics.ReviewsSkipped.WithLabelValues(string(reason)).Inc()
			state.report.Skipped++
			continue
		}

		if s.opts.MaxRepliesPerRun > 0 && state.generations >= s.opts.MaxRepliesPerRun {
			logger.Warn().Int("cap", s.opts.MaxRepliesPerRun).Msg("Reply cap reached, stopping run")
			state.report.Truncated = true
			return false
		}

		s.replyTo(ctx, ts, setting, review, state, logger)
	}
	return true
}

func (s *AutomationService) replyTo(ctx context.Context, ts oauth2.TokenSource, setting store.AutomationSetting, review Review, state *runState, logger zerolog.Logger) {
	logger = logger.With().Str("review", review.Name).Logger()

	state.generations++
	text, err := s.generator.GenerateReply(ctx, BuildPrompt(review, setting))
	if err != nil {
		s.recordFailure(state, newError(ErrGeneration, "generate reply "+review.Name, err), logger)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Info().Msg("Generator returned no text, not replying")
		metrics.ReviewsSkipped.WithLabelValues(string(SkipEmptyReply)).Inc()
		state.report.Skipped++
		return
	}

	action := ActionNewReply
	if review.HasReply() {
		action = ActionUpdatedReply
	}

	err = retry.Do(ctx, s.opts.Retry, func() error {
		return s.publisher.UpsertReply(ctx, ts, review.Name, text)
	})
	if err != nil {
		s.recordFailure(state, newError(ErrPublish, "publish reply "+review.Name, err), logger)
		return
	}

	metrics.ReplyActions.WithLabelValues(string(action)).Inc()
	state.report.Actions = append(state.report.Actions, ActionRecord{
		LocationID:    setting.LocationID,
		LocationTitle: locationTitle(setting),
		ReviewName:    review.Name,
		ReviewerName:  review.ReviewerName,
		Action:        action,
		ReplyText:     text,
	})
	logger.Info().Str("action", string(action)).Msg("Posted reply")
}

func (s *AutomationService) recordFailure(state *runState, err *Error, logger zerolog.Logger) {
	kind := "unknown"
	switch {
	case IsQuotaExceeded(err):
		state.report.Failures.Quota++
		kind = "quota"
	case errors.Is(err, ErrExternalFetch):
		state.report.Failures.Fetch++
		kind = "fetch"
	case errors.Is(err, ErrGeneration):
		state.report.Failures.Generation++
		kind = "generation"
	case errors.Is(err, ErrPublish):
		state.report.Failures.Publish++
		kind = "publish"
	}
	metrics.Failures.WithLabelValues(kind).Inc()
	logger.Error().Err(err).Str("kind", kind).Msg("Automation step failed, continuing")
}

func locationTitle(setting store.AutomationSetting) string {
	if setting.LocationTitle != "" {
		return setting.LocationTitle
	}
	return setting.LocationID
}
