// internal/review/review.go
package review

import (
	"context"
	"fmt"

	"gatekeeper/internal/catalog"
	stderrors "gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

const defaultPendingLimit = 10

// answerDisplayLimit caps answer length in rendered views. The stored answer
// is never truncated; this is presentation only.
const answerDisplayLimit = 1024

// Poster delivers a structured decision request to a review surface and
// returns an opaque message handle.
type Poster interface {
	PostDecisionRequest(ctx context.Context, surfaceID string, req models.DecisionRequest) (string, error)
}

// Entry is one question/answer pair rendered against the question snapshot.
type Entry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Detail is a full application joined with its form's question text.
type Detail struct {
	Application models.Application `json:"application"`
	FormName    string             `json:"formName"`
	Entries     []Entry            `json:"entries"`
}

// Service provides the read-only inspection operations over the store.
type Service struct {
	store   store.ApplicationStore
	catalog catalog.Catalog
	logger  logger.Logger
}

func NewService(st store.ApplicationStore, cat catalog.Catalog, log logger.Logger) *Service {
	return &Service{
		store:   st,
		catalog: cat,
		logger:  log.WithFields(map[string]interface{}{"component": "review"}),
	}
}

// ListPending returns the most recently submitted pending applications,
// newest first, bounded by limit.
func (s *Service) ListPending(ctx context.Context, limit int) ([]models.Application, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return s.store.ListByStatus(ctx, models.StatusPending, limit)
}

// GetByID returns the application joined with the form's question text. A
// form that was edited or deleted after submission degrades to positional
// question labels; the stored answers stay authoritative.
func (s *Service) GetByID(ctx context.Context, id int64) (*Detail, error) {
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	formName := app.FormKey
	var questions []string
	form, err := s.catalog.Get(ctx, app.FormKey)
	switch {
	case err == nil:
		formName = form.DisplayName()
		questions = form.Questions
	case stderrors.HasCode(err, stderrors.ErrCodeFormNotFound):
		s.logger.Warn("form no longer in catalog", map[string]interface{}{
			"applicationId": app.ID,
			"formKey":       app.FormKey,
		})
	default:
		return nil, err
	}

	return &Detail{
		Application: *app,
		FormName:    formName,
		Entries:     pairEntries(questions, app.Answers),
	}, nil
}

// DecisionRequestFor rebuilds the decision-request view for an existing
// application so a reviewer can re-post it with fresh controls.
func (s *Service) DecisionRequestFor(ctx context.Context, id int64) (*models.DecisionRequest, error) {
	detail, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req := BuildDecisionRequest(detail.Application, detail.FormName, questionTexts(detail.Entries))
	return &req, nil
}

// BuildDecisionRequest produces the structured payload posted to a review
// surface: applicant, the full question/answer pairing, and the two one-shot
// decision controls.
func BuildDecisionRequest(app models.Application, formName string, questions []string) models.DecisionRequest {
	fields := []models.EmbedField{
		{Name: "Applicant", Value: fmt.Sprintf("%s (origin %s)", app.CandidateID, app.OriginID)},
	}
	for i, entry := range pairEntries(questions, app.Answers) {
		fields = append(fields, models.EmbedField{
			Name:  fmt.Sprintf("Q%d: %s", i+1, entry.Question),
			Value: truncateForDisplay(entry.Answer),
		})
	}

	return models.DecisionRequest{
		ApplicationID: app.ID,
		Title:         fmt.Sprintf("New Application — %s", formName),
		Fields:        fields,
		Footer:        fmt.Sprintf("App ID: %d", app.ID),
		Controls: []models.Control{
			{Label: "Accept", Token: models.ControlToken(models.ActionAccept, app.ID), Style: "success"},
			{Label: "Deny", Token: models.ControlToken(models.ActionDeny, app.ID), Style: "danger"},
		},
	}
}

func pairEntries(questions, answers []string) []Entry {
	n := len(questions)
	if len(answers) > n {
		n = len(answers)
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		question := fmt.Sprintf("Question %d", i+1)
		if i < len(questions) {
			question = questions[i]
		}
		answer := "No answer"
		if i < len(answers) {
			answer = answers[i]
		}
		entries = append(entries, Entry{Question: question, Answer: answer})
	}
	return entries
}

func questionTexts(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Question
	}
	return out
}

func truncateForDisplay(s string) string {
	runes := []rune(s)
	if len(runes) <= answerDisplayLimit {
		return s
	}
	return string(runes[:answerDisplayLimit-1]) + "…"
}
