// internal/review/review_test.go
package review

import (
	"context"
	"strings"
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

type fakeStore struct {
	apps      map[int64]models.Application
	listCalls []int
}

func (f *fakeStore) Create(ctx context.Context, candidateID, originID, formKey string, answers []string) (int64, error) {
	panic("not used")
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*models.Application, error) {
	app, ok := f.apps[id]
	if !ok {
		return nil, stderrors.NewApplicationNotFoundError(id)
	}
	return &app, nil
}

func (f *fakeStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Application, error) {
	f.listCalls = append(f.listCalls, limit)
	var out []models.Application
	for _, app := range f.apps {
		if app.Status == status && len(out) < limit {
			out = append(out, app)
		}
	}
	return out, nil
}

func (f *fakeStore) TryTransition(ctx context.Context, id int64, from, to models.Status, reviewerID, reason string) (bool, error) {
	panic("not used")
}

func sampleApp() models.Application {
	return models.Application{
		ID:          7,
		CandidateID: "cand-1",
		OriginID:    "guild-1",
		FormKey:     "staff",
		Answers:     []string{"To help", "3 years"},
		Status:      models.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
}

func newTestService(t *testing.T, st *fakeStore, cat *fakeCatalog) *Service {
	t.Helper()
	return NewService(st, cat, logger.NewTestLogger(t))
}

func TestService_ListPendingDefaultLimit(t *testing.T) {
	st := &fakeStore{apps: map[int64]models.Application{7: sampleApp()}}
	svc := newTestService(t, st, &fakeCatalog{})

	apps, err := svc.ListPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
	assert.Equal(t, []int{10}, st.listCalls)
}

func TestService_GetByID(t *testing.T) {
	st := &fakeStore{apps: map[int64]models.Application{7: sampleApp()}}
	cat := &fakeCatalog{forms: map[string]models.FormDefinition{
		"staff": {Name: "Staff Application", Questions: []string{"Why join?", "Experience?"}},
	}}
	svc := newTestService(t, st, cat)

	detail, err := svc.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Staff Application", detail.FormName)
	require.Len(t, detail.Entries, 2)
	assert.Equal(t, Entry{Question: "Why join?", Answer: "To help"}, detail.Entries[0])
	assert.Equal(t, Entry{Question: "Experience?", Answer: "3 years"}, detail.Entries[1])
}

func TestService_GetByID_NotFound(t *testing.T) {
	svc := newTestService(t, &fakeStore{apps: map[int64]models.Application{}}, &fakeCatalog{})

	_, err := svc.GetByID(context.Background(), 404)
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeApplicationNotFound))
}

func TestService_GetByID_FormGoneFallsBackToPositionalLabels(t *testing.T) {
	st := &fakeStore{apps: map[int64]models.Application{7: sampleApp()}}
	svc := newTestService(t, st, &fakeCatalog{forms: map[string]models.FormDefinition{}})

	detail, err := svc.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "staff", detail.FormName)
	require.Len(t, detail.Entries, 2)
	assert.Equal(t, "Question 1", detail.Entries[0].Question)
	assert.Equal(t, "To help", detail.Entries[0].Answer)
}

func TestService_GetByID_FormEditedAfterSubmission(t *testing.T) {
	// The form lost a question since submission; stored answers win.
	st := &fakeStore{apps: map[int64]models.Application{7: sampleApp()}}
	cat := &fakeCatalog{forms: map[string]models.FormDefinition{
		"staff": {Name: "Staff Application", Questions: []string{"Why join?"}},
	}}
	svc := newTestService(t, st, cat)

	detail, err := svc.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, detail.Entries, 2)
	assert.Equal(t, "Why join?", detail.Entries[0].Question)
	assert.Equal(t, "Question 2", detail.Entries[1].Question)
	assert.Equal(t, "3 years", detail.Entries[1].Answer)
}

func TestService_DecisionRequestFor(t *testing.T) {
	st := &fakeStore{apps: map[int64]models.Application{7: sampleApp()}}
	cat := &fakeCatalog{forms: map[string]models.FormDefinition{
		"staff": {Name: "Staff Application", Questions: []string{"Why join?", "Experience?"}},
	}}
	svc := newTestService(t, st, cat)

	req, err := svc.DecisionRequestFor(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), req.ApplicationID)
	require.Len(t, req.Controls, 2)
	assert.Equal(t, "accept:7", req.Controls[0].Token)
	assert.Equal(t, "deny:7", req.Controls[1].Token)
}

func TestBuildDecisionRequest(t *testing.T) {
	app := sampleApp()
	req := BuildDecisionRequest(app, "Staff Application", []string{"Why join?", "Experience?"})

	assert.Equal(t, int64(7), req.ApplicationID)
	assert.Contains(t, req.Title, "Staff Application")
	assert.Equal(t, "App ID: 7", req.Footer)

	require.Len(t, req.Fields, 3)
	assert.Equal(t, "Applicant", req.Fields[0].Name)
	assert.Contains(t, req.Fields[0].Value, "cand-1")
	assert.Equal(t, "Q1: Why join?", req.Fields[1].Name)
	assert.Equal(t, "To help", req.Fields[1].Value)

	require.Len(t, req.Controls, 2)
	assert.Equal(t, "Accept", req.Controls[0].Label)
	assert.Equal(t, "success", req.Controls[0].Style)
	assert.Equal(t, "Deny", req.Controls[1].Label)
	assert.Equal(t, "danger", req.Controls[1].Style)
}

func TestBuildDecisionRequest_TruncatesLongAnswersForDisplay(t *testing.T) {
	app := sampleApp()
	app.Answers = []string{strings.Repeat("x", 3000)}
	req := BuildDecisionRequest(app, "Staff Application", []string{"Why join?"})

	require.Len(t, req.Fields, 2)
	value := []rune(req.Fields[1].Value)
	assert.Len(t, value, 1024)
	assert.Equal(t, '…', value[1023])
}

func TestBuildDecisionRequest_ExactLimitNotTruncated(t *testing.T) {
	app := sampleApp()
	app.Answers = []string{strings.Repeat("y", 1024)}
	req := BuildDecisionRequest(app, "Staff Application", []string{"Why join?"})

	assert.Len(t, []rune(req.Fields[1].Value), 1024)
	assert.NotContains(t, req.Fields[1].Value, "…")
}
