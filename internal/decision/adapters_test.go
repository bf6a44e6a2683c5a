// internal/decision/adapters_test.go
package decision

import (
	"context"
	"sync"
	"testing"

	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcker struct {
	mu    sync.Mutex
	acked []string
	err   error
}

func (f *fakeAcker) AckControl(ctx context.Context, interactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.acked = append(f.acked, interactionID)
	return nil
}

type fakeSurface struct {
	mu    sync.Mutex
	posts []string
}

func (f *fakeSurface) PostToSurface(ctx context.Context, surfaceID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	return nil
}

func newTestControlAdapter(t *testing.T, st *memStore) (*ControlAdapter, *fakeAcker, *fakeSurface) {
	t.Helper()
	p := newTestProcessor(t, st, &fakeRoles{}, &fakeNotifier{})
	acker := &fakeAcker{}
	surface := &fakeSurface{}
	return NewControlAdapter(p, acker, surface, logger.NewTestLogger(t)), acker, surface
}

func TestControlAdapter_AcceptClick(t *testing.T) {
	st := newMemStore(pendingApp(5))
	adapter, acker, surface := newTestControlAdapter(t, st)

	err := adapter.HandleClick(context.Background(), ControlClick{
		InteractionID: "int-1",
		Token:         models.ControlToken(models.ActionAccept, 5),
		ReviewerID:    "rev-1",
		SurfaceID:     "review-chan-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"int-1"}, acker.acked)

	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, app.Status)
	assert.Equal(t, "rev-1", app.ReviewerID)
	// Clicks carry no free-form reason, so the default applies.
	assert.Equal(t, "Accepted", app.DecisionReason)

	require.Len(t, surface.posts, 1)
	assert.Contains(t, surface.posts[0], "accepted")
}

func TestControlAdapter_MatchesCommandSemantics(t *testing.T) {
	stCmd := newMemStore(pendingApp(5))
	stClick := newMemStore(pendingApp(5))

	cmd := NewCommandAdapter(newTestProcessor(t, stCmd, &fakeRoles{}, &fakeNotifier{}))
	adapter, _, _ := newTestControlAdapter(t, stClick)

	_, err := cmd.Deny(context.Background(), 5, "rev-1", "")
	require.NoError(t, err)
	require.NoError(t, adapter.HandleClick(context.Background(), ControlClick{
		Token:      models.ControlToken(models.ActionDeny, 5),
		ReviewerID: "rev-1",
		SurfaceID:  "review-chan-1",
	}))

	fromCmd, err := stCmd.GetByID(context.Background(), 5)
	require.NoError(t, err)
	fromClick, err := stClick.GetByID(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, fromCmd.Status, fromClick.Status)
	assert.Equal(t, fromCmd.ReviewerID, fromClick.ReviewerID)
	assert.Equal(t, fromCmd.DecisionReason, fromClick.DecisionReason)
}

func TestControlAdapter_MalformedTokenDropped(t *testing.T) {
	st := newMemStore(pendingApp(5))
	adapter, acker, surface := newTestControlAdapter(t, st)

	for _, token := range []string{"", "accept", "ban:5", "accept:abc", "accept:-1", "poll:option:2"} {
		err := adapter.HandleClick(context.Background(), ControlClick{
			InteractionID: "int-1",
			Token:         token,
			ReviewerID:    "rev-1",
			SurfaceID:     "review-chan-1",
		})
		assert.NoError(t, err, "token %q", token)
	}

	// Acked every click, decided none, posted nothing.
	assert.Len(t, acker.acked, 6)
	assert.Empty(t, surface.posts)
	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, app.Status)
}

func TestControlAdapter_SecondClickReportsAlreadyDecided(t *testing.T) {
	st := newMemStore(pendingApp(5))
	adapter, _, surface := newTestControlAdapter(t, st)

	click := ControlClick{
		Token:      models.ControlToken(models.ActionAccept, 5),
		ReviewerID: "rev-1",
		SurfaceID:  "review-chan-1",
	}
	require.NoError(t, adapter.HandleClick(context.Background(), click))
	require.NoError(t, adapter.HandleClick(context.Background(), click))

	require.Len(t, surface.posts, 2)
	assert.Contains(t, surface.posts[1], "already accepted")

	// Still accepted, still decided once.
	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, app.Status)
}

func TestControlAdapter_UnauthorizedClick(t *testing.T) {
	st := newMemStore(pendingApp(5))
	adapter, _, surface := newTestControlAdapter(t, st)

	require.NoError(t, adapter.HandleClick(context.Background(), ControlClick{
		Token:      models.ControlToken(models.ActionAccept, 5),
		ReviewerID: "rev-unknown",
		SurfaceID:  "review-chan-1",
	}))

	require.Len(t, surface.posts, 1)
	assert.Contains(t, surface.posts[0], "not authorized")

	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, app.Status)
}

func TestControlAdapter_AckFailureStillDecides(t *testing.T) {
	st := newMemStore(pendingApp(5))
	p := newTestProcessor(t, st, &fakeRoles{}, &fakeNotifier{})
	acker := &fakeAcker{err: assert.AnError}
	surface := &fakeSurface{}
	adapter := NewControlAdapter(p, acker, surface, logger.NewTestLogger(t))

	require.NoError(t, adapter.HandleClick(context.Background(), ControlClick{
		Token:      models.ControlToken(models.ActionAccept, 5),
		ReviewerID: "rev-1",
		SurfaceID:  "review-chan-1",
	}))

	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, app.Status)
}

func TestControlTokenRoundTrip(t *testing.T) {
	token := models.ControlToken(models.ActionDeny, 42)
	assert.Equal(t, "deny:42", token)

	action, id, ok := models.ParseControlToken(token)
	require.True(t, ok)
	assert.Equal(t, models.ActionDeny, action)
	assert.Equal(t, int64(42), id)
}
