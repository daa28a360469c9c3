package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/review-autoreply/internal/store"
)

func TestRunForAllEnabledUsers(t *testing.T) {
	h := newHarness(testOptions())

	h.users.addUser(1, settingFor(locA, store.TimeFilterAll, store.ReplyScopeUnreplied))
	h.users.addUser(2, settingFor(locB, store.TimeFilterAll, store.ReplyScopeUnreplied))
	disabled := settingFor("accounts/3/locations/c", store.TimeFilterAll, store.ReplyScopeUnreplied)
	disabled.Enabled = false
	h.users.addUser(3, disabled)

	h.gbp.reviews[locA] = []Review{
		{Name: locA + "/reviews/1", CreateTime: h.daysAgo(1)},
		{Name: locA + "/reviews/2", CreateTime: h.daysAgo(1)},
	}
	h.gbp.reviews[locB] = []Review{{Name: locB + "/reviews/1", CreateTime: h.daysAgo(1)}}

	summary, err := h.svc.RunForAllEnabledUsers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.UsersProcessed)
	assert.Zero(t, summary.UsersFailed)
	assert.Equal(t, 3, summary.Actions)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, UserRunResult{UserID: 1, Actions: 2}, summary.Results[0])
	assert.Equal(t, UserRunResult{UserID: 2, Actions: 1}, summary.Results[1])
}

func TestRunForAllEnabledUsers_FailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(testOptions())
	h.users.addUser(1, settingFor(locA, store.TimeFilterAll, store.ReplyScopeUnreplied))
	h.users.addUser(2, settingFor(locB, store.TimeFilterAll, store.ReplyScopeUnreplied))
	h.gbp.reviews[locB] = []Review{{Name: locB + "/reviews/1", CreateTime: h.daysAgo(1)}}

	// User 1 has settings but no account record any more.
	h.users.mu.Lock()
	delete(h.users.users, 1)
	h.users.mu.Unlock()

	summary, err := h.svc.RunForAllEnabledUsers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.UsersProcessed)
	assert.Equal(t, 1, summary.UsersFailed)
	assert.Equal(t, 1, summary.Actions)
	assert.Equal(t, ErrUserNotFound.Error(), summary.Results[0].Error)
}

func TestRunForAllEnabledUsers_NoUsers(t *testing.T) {
	h := newHarness(testOptions())

	summary, err := h.svc.RunForAllEnabledUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.UsersProcessed)
	assert.Empty(t, summary.Results)
}

func TestRunForAllEnabledUsers_ScheduledTrigger(t *testing.T) {
	h := newHarness(testOptions())
	h.users.addUser(1, settingFor(locA, store.TimeFilterAll, store.ReplyScopeUnreplied))

	_, err := h.svc.RunForAllEnabledUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, h.creds.users)
}
