package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"gwi.com/review-autoreply/internal/store"
)

const maxKeywords = 20

// ListLocations returns the location catalog of the user's linked account.
func (s *AutomationService) ListLocations(ctx context.Context, userID int64) ([]Location, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	locations, err := s.catalog.ListLocations(ctx, s.credentials.TokenSource(ctx, user))
	if err != nil {
		return nil, newError(ErrExternalFetch, "list locations", err)
	}
	return locations, nil
}

func (s *AutomationService) GetSettings(ctx context.Context, userID int64) ([]store.AutomationSetting, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.users.GetSettings(ctx, userID)
}

// SaveSettingsAndRun replaces the user's whole settings list and then runs
// the automation immediately. Every location must belong to the user's
// account; titles are filled in from the catalog. When another run for the
// user is in progress nothing is saved and ErrRunInProgress is returned.
func (s *AutomationService) SaveSettingsAndRun(ctx context.Context, userID int64, settings []store.AutomationSetting) (*RunReport, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	locations, err := s.catalog.ListLocations(ctx, s.credentials.TokenSource(ctx, user))
	if err != nil {
		return nil, newError(ErrExternalFetch, "list locations", err)
	}
	normalized, err := bindToCatalog(settings, locations)
	if err != nil {
		return nil, err
	}

	// The lock is held across the save and the run, so ErrRunInProgress
	// leaves the stored settings untouched.
	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.users.ReplaceSettings(ctx, userID, normalized); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	log.Info().Int64("user_id", userID).Int("settings", len(normalized)).Msg("Saved automation settings")

	return s.run(ctx, user, normalized, TriggerSettings), nil
}

func (s *AutomationService) requireUser(ctx context.Context, userID int64) (*store.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ValidateSettings checks the shape of a settings list: enum values, unique
// location ids and keyword limits. It does not look at the catalog.
func ValidateSettings(settings []store.AutomationSetting) error {
	var problems []string
	seen := make(map[string]bool, len(settings))

	for i, setting := range settings {
		id := strings.TrimSpace(setting.LocationID)
		switch {
		case id == "":
			problems = append(problems, fmt.Sprintf("settings[%d]: location_id is required", i))
		case seen[id]:
			problems = append(problems, fmt.Sprintf("settings[%d]: duplicate location_id %q", i, id))
		}
		seen[id] = true

		switch setting.TimeFilter {
		case store.TimeFilter7Days, store.TimeFilter14Days, store.TimeFilter30Days, store.TimeFilterAll:
		default:
			problems = append(problems, fmt.Sprintf("settings[%d]: unknown time_filter %q", i, setting.TimeFilter))
		}

		switch setting.ReplyScope {
		case store.ReplyScopeUnreplied, store.ReplyScopeRewriteAll:
		default:
			problems = append(problems, fmt.Sprintf("settings[%d]: unknown reply_scope %q", i, setting.ReplyScope))
		}

		if len(setting.Keywords) > maxKeywords {
			problems = append(problems, fmt.Sprintf("settings[%d]: at most %d keywords allowed", i, maxKeywords))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func bindToCatalog(settings []store.AutomationSetting, locations []Location) ([]store.AutomationSetting, error) {
	titles := make(map[string]string, len(locations))
	for _, loc := range locations {
		titles[loc.ID] = loc.Title
	}

	var problems []string
	out := make([]store.AutomationSetting, 0, len(settings))
	for i, setting := range settings {
		setting.LocationID = strings.TrimSpace(setting.LocationID)
		title, ok := titles[setting.LocationID]
		if !ok {
			problems = append(problems, fmt.Sprintf("settings[%d]: location %q is not managed by this account", i, setting.LocationID))
			continue
		}
		setting.LocationTitle = title
		setting.Tone = strings.TrimSpace(setting.Tone)
		setting.Keywords = cleanKeywords(setting.Keywords)
		out = append(out, setting)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return out, nil
}
