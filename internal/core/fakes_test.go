package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"gwi.com/review-autoreply/internal/retry"
	"gwi.com/review-autoreply/internal/store"
)

type fakeUserStore struct {
	mu       sync.Mutex
	users    map[int64]*store.User
	settings map[int64][]store.AutomationSetting
	getErr   error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:    map[int64]*store.User{},
		settings: map[int64][]store.AutomationSetting{},
	}
}

func (f *fakeUserStore) addUser(id int64, settings ...store.AutomationSetting) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &store.User{ID: id, ExternalUserID: "ext", AccessToken: "token"}
	f.settings[id] = settings
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.users[id], nil
}

func (f *fakeUserStore) GetSettings(_ context.Context, userID int64) ([]store.AutomationSetting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.AutomationSetting(nil), f.settings[userID]...), nil
}

func (f *fakeUserStore) ReplaceSettings(_ context.Context, userID int64, settings []store.AutomationSetting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[userID] = append([]store.AutomationSetting(nil), settings...)
	return nil
}

func (f *fakeUserStore) ListUserIDsWithEnabledSettings(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, settings := range f.settings {
		for _, s := range settings {
			if s.Enabled {
				ids = append(ids, id)
				break
			}
		}
	}
	slices.Sort(ids)
	return ids, nil
}

type fakeCredentials struct {
	mu    sync.Mutex
	users []int64
}

func (f *fakeCredentials) TokenSource(_ context.Context, user *store.User) oauth2.TokenSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, user.ID)
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: user.AccessToken})
}

// fakeGBP plays review source, publisher and catalog. Published replies are
// written back onto the stored reviews so later runs see them.
type fakeGBP struct {
	mu         sync.Mutex
	reviews    map[string][]Review
	fetchErrs  map[string][]error // consumed one per call
	publishErr map[string]error
	published  []string
	locations  []Location
	catalogErr error
	fetchCalls map[string]int
}

func newFakeGBP() *fakeGBP {
	return &fakeGBP{
		reviews:    map[string][]Review{},
		fetchErrs:  map[string][]error{},
		publishErr: map[string]error{},
		fetchCalls: map[string]int{},
	}
}

func (f *fakeGBP) ListReviews(_ context.Context, _ oauth2.TokenSource, locationID string, pageSize int) ([]Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[locationID]++
	if errs := f.fetchErrs[locationID]; len(errs) > 0 {
		f.fetchErrs[locationID] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	reviews := f.reviews[locationID]
	if len(reviews) > pageSize {
		reviews = reviews[:pageSize]
	}
	return append([]Review(nil), reviews...), nil
}

func (f *fakeGBP) UpsertReply(_ context.Context, _ oauth2.TokenSource, reviewName, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.publishErr[reviewName]; err != nil {
		return err
	}
	f.published = append(f.published, reviewName)
	for loc, reviews := range f.reviews {
		for i := range reviews {
			if reviews[i].Name == reviewName {
				f.reviews[loc][i].Reply = &ReviewReply{Comment: text}
			}
		}
	}
	return nil
}

func (f *fakeGBP) ListLocations(_ context.Context, _ oauth2.TokenSource) ([]Location, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.locations, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	replies map[string]string // keyed by substring of the prompt
	errs    map[string]error
	reply   string
	calls   int
	prompts []string
}

func (f *fakeGenerator) GenerateReply(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	for key, err := range f.errs {
		if strings.Contains(prompt, key) {
			return "", err
		}
	}
	for key, reply := range f.replies {
		if strings.Contains(prompt, key) {
			return reply, nil
		}
	}
	return f.reply, nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, store.ErrLockHeld
}

var errBoom = errors.New("boom")

func testOptions() Options {
	return Options{
		PageSize:         20,
		RunTimeout:       time.Minute,
		MaxRepliesPerRun: 100,
		BulkConcurrency:  2,
		Retry: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
			Retryable:     IsQuotaExceeded,
		},
	}
}

type harness struct {
	users *fakeUserStore
	gbp   *fakeGBP
	gen   *fakeGenerator
	creds *fakeCredentials
	svc   *AutomationService
	now   time.Time
}

func newHarness(opts Options) *harness {
	h := &harness{
		users: newFakeUserStore(),
		gbp:   newFakeGBP(),
		gen:   &fakeGenerator{reply: "Thank you for your feedback!"},
		creds: &fakeCredentials{},
		now:   time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	h.svc = NewAutomationService(Dependencies{
		Users:       h.users,
		Credentials: h.creds,
		Reviews:     h.gbp,
		Publisher:   h.gbp,
		Catalog:     h.gbp,
		Generator:   h.gen,
		Locker:      store.NewMemoryLocker(),
	}, opts)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) daysAgo(days float64) time.Time {
	return h.now.Add(-time.Duration(days * 24 * float64(time.Hour)))
}
