// internal/decision/processor_test.go
package decision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	stderrors "gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	forms map[string]models.FormDefinition
}

func (f *fakeCatalog) Get(ctx context.Context, formKey string) (*models.FormDefinition, error) {
	form, ok := f.forms[formKey]
	if !ok {
		return nil, stderrors.NewFormNotFoundError(formKey)
	}
	form.Key = formKey
	return &form, nil
}

func (f *fakeCatalog) List(ctx context.Context) (map[string]models.FormDefinition, error) {
	return f.forms, nil
}

type memStore struct {
	mu   sync.Mutex
	apps map[int64]*models.Application

	transitionErr error
}

func newMemStore(apps ...models.Application) *memStore {
	m := &memStore{apps: make(map[int64]*models.Application)}
	for i := range apps {
		app := apps[i]
		m.apps[app.ID] = &app
	}
	return m
}

func (m *memStore) Create(ctx context.Context, candidateID, originID, formKey string, answers []string) (int64, error) {
	panic("not used")
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, stderrors.NewApplicationNotFoundError(id)
	}
	copied := *app
	return &copied, nil
}

func (m *memStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Application, error) {
	return nil, nil
}

func (m *memStore) TryTransition(ctx context.Context, id int64, from, to models.Status, reviewerID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return false, m.transitionErr
	}
	app, ok := m.apps[id]
	if !ok || app.Status != from {
		return false, nil
	}
	now := time.Now().UTC()
	app.Status = to
	app.ReviewerID = reviewerID
	app.DecisionReason = reason
	app.DecidedAt = &now
	return true, nil
}

type fakeAuthz struct {
	allowed map[string]bool
	err     error
}

func (f *fakeAuthz) CanDecide(ctx context.Context, reviewerID, originID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[reviewerID], nil
}

type fakeRoles struct {
	mu     sync.Mutex
	grants []string
	err    error
}

func (f *fakeRoles) GrantRole(ctx context.Context, originID, candidateID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.grants = append(f.grants, candidateID+"/"+roleID)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeNotifier) NotifyCandidate(ctx context.Context, candidateID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func pendingApp(id int64) models.Application {
	return models.Application{
		ID:          id,
		CandidateID: "cand-1",
		OriginID:    "guild-1",
		FormKey:     "staff",
		Answers:     []string{"a", "b"},
		Status:      models.StatusPending,
		SubmittedAt: time.Now().UTC().Add(-time.Hour),
	}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{forms: map[string]models.FormDefinition{
		"staff": {Name: "Staff Application", AcceptedRoleID: "role-7"},
	}}
}

func newTestProcessor(t *testing.T, st *memStore, roles *fakeRoles, notify *fakeNotifier) *Processor {
	t.Helper()
	authz := &fakeAuthz{allowed: map[string]bool{"rev-1": true}}
	opts := []ProcessorOption{}
	if roles != nil {
		opts = append(opts, WithRoleGranter(roles))
	}
	if notify != nil {
		opts = append(opts, WithCandidateNotifier(notify))
	}
	return NewProcessor(st, testCatalog(), authz, logger.NewTestLogger(t), opts...)
}

func TestProcessor_Accept(t *testing.T) {
	st := newMemStore(pendingApp(5))
	roles := &fakeRoles{}
	notify := &fakeNotifier{}
	p := newTestProcessor(t, st, roles, notify)

	outcome, err := p.Decide(context.Background(), 5, models.ActionAccept, "rev-1", "Great answers")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, outcome.NewStatus)
	assert.Equal(t, "Great answers", outcome.Reason)
	assert.True(t, outcome.RoleGranted)
	assert.True(t, outcome.CandidateNotified)

	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, app.Status)
	assert.Equal(t, "rev-1", app.ReviewerID)
	assert.Equal(t, "Great answers", app.DecisionReason)
	require.NotNil(t, app.DecidedAt)

	assert.Equal(t, []string{"cand-1/role-7"}, roles.grants)
	require.Len(t, notify.texts, 1)
	assert.Contains(t, notify.texts[0], "accepted")
	assert.Contains(t, notify.texts[0], "Great answers")
}

func TestProcessor_DenyUsesDefaultReason(t *testing.T) {
	st := newMemStore(pendingApp(5))
	roles := &fakeRoles{}
	notify := &fakeNotifier{}
	p := newTestProcessor(t, st, roles, notify)

	outcome, err := p.Decide(context.Background(), 5, models.ActionDeny, "rev-1", "  ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDenied, outcome.NewStatus)
	assert.Equal(t, "Denied", outcome.Reason)
	assert.False(t, outcome.RoleGranted)
	assert.Empty(t, roles.grants)

	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "Denied", app.DecisionReason)
}

func TestProcessor_AcceptUsesDefaultReason(t *testing.T) {
	st := newMemStore(pendingApp(5))
	p := newTestProcessor(t, st, nil, nil)

	outcome, err := p.Decide(context.Background(), 5, models.ActionAccept, "rev-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Accepted", outcome.Reason)
}

func TestProcessor_Unauthorized(t *testing.T) {
	st := newMemStore(pendingApp(5))
	p := newTestProcessor(t, st, nil, nil)

	_, err := p.Decide(context.Background(), 5, models.ActionAccept, "rev-unknown", "")
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeUnauthorized))

	// The record is untouched.
	app, getErr := st.GetByID(context.Background(), 5)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusPending, app.Status)
}

func TestProcessor_NotFound(t *testing.T) {
	p := newTestProcessor(t, newMemStore(), nil, nil)

	_, err := p.Decide(context.Background(), 404, models.ActionDeny, "rev-1", "")
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeApplicationNotFound))
}

func TestProcessor_AlreadyDecided(t *testing.T) {
	app := pendingApp(5)
	app.Status = models.StatusDenied
	st := newMemStore(app)
	p := newTestProcessor(t, st, nil, nil)

	_, err := p.Decide(context.Background(), 5, models.ActionAccept, "rev-1", "")
	require.True(t, stderrors.HasCode(err, stderrors.ErrCodeAlreadyDecided))

	std := stderrors.AsStandardError(err)
	require.NotNil(t, std)
	assert.Equal(t, "denied", std.Metadata["currentStatus"])
}

func TestProcessor_LostRaceReportsWinnersStatus(t *testing.T) {
	st := newMemStore(pendingApp(5))
	p := newTestProcessor(t, st, nil, nil)

	// Another reviewer wins between the fetch and the transition.
	won, err := st.TryTransition(context.Background(), 5, models.StatusPending, models.StatusAccepted, "rev-9", "Accepted")
	require.NoError(t, err)
	require.True(t, won)

	_, err = p.Decide(context.Background(), 5, models.ActionDeny, "rev-1", "")
	require.True(t, stderrors.HasCode(err, stderrors.ErrCodeAlreadyDecided))
	std := stderrors.AsStandardError(err)
	require.NotNil(t, std)
	assert.Equal(t, "accepted", std.Metadata["currentStatus"])
}

func TestProcessor_ConcurrentDecidesExactlyOneWins(t *testing.T) {
	st := newMemStore(pendingApp(5))
	authz := &fakeAuthz{allowed: map[string]bool{"rev-1": true, "rev-2": true}}
	p := NewProcessor(st, testCatalog(), authz, logger.NewNoOpLogger())

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reviewer := "rev-1"
			action := models.ActionAccept
			if i%2 == 1 {
				reviewer = "rev-2"
				action = models.ActionDeny
			}
			_, results[i] = p.Decide(context.Background(), 5, action, reviewer, "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeAlreadyDecided))
		}
	}
	assert.Equal(t, 1, wins)

	app, err := st.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, app.Status.Terminal())
}

func TestProcessor_RoleGrantFailureIsNonFatal(t *testing.T) {
	st := newMemStore(pendingApp(5))
	roles := &fakeRoles{err: errors.New("missing permission")}
	p := newTestProcessor(t, st, roles, nil)

	outcome, err := p.Decide(context.Background(), 5, models.ActionAccept, "rev-1", "")
	require.NoError(t, err)
	assert.False(t, outcome.RoleGranted)
	assert.True(t, stderrors.HasCode(outcome.RoleGrantErr, stderrors.ErrCodeRoleGrantFailed))

	// Decision stands despite the failed side effect.
	app, getErr := st.GetByID(context.Background(), 5)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusAccepted, app.Status)
}

func TestProcessor_NotifyFailureIsNonFatal(t *testing.T) {
	st := newMemStore(pendingApp(5))
	notify := &fakeNotifier{err: errors.New("dms closed")}
	p := newTestProcessor(t, st, nil, notify)

	outcome, err := p.Decide(context.Background(), 5, models.ActionDeny, "rev-1", "")
	require.NoError(t, err)
	assert.False(t, outcome.CandidateNotified)
	assert.True(t, stderrors.HasCode(outcome.NotifyErr, stderrors.ErrCodeNotificationFailed))
}

func TestProcessor_NoRoleConfigured(t *testing.T) {
	st := newMemStore(pendingApp(5))
	roles := &fakeRoles{}
	authz := &fakeAuthz{allowed: map[string]bool{"rev-1": true}}
	cat := &fakeCatalog{forms: map[string]models.FormDefinition{
		"staff": {Name: "Staff Application"},
	}}
	p := NewProcessor(st, cat, authz, logger.NewTestLogger(t), WithRoleGranter(roles))

	outcome, err := p.Decide(context.Background(), 5, models.ActionAccept, "rev-1", "")
	require.NoError(t, err)
	assert.False(t, outcome.RoleGranted)
	assert.Nil(t, outcome.RoleGrantErr)
	assert.Empty(t, roles.grants)
}

func TestProcessor_StoreErrorPropagates(t *testing.T) {
	st := newMemStore(pendingApp(5))
	st.transitionErr = stderrors.NewStoreQueryFailedError("transition", errors.New("down"))
	p := newTestProcessor(t, st, nil, nil)

	_, err := p.Decide(context.Background(), 5, models.ActionAccept, "rev-1", "")
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeStoreQueryFailed))
}
