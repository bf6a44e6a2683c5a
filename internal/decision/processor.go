// internal/decision/processor.go
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/catalog"
	stderrors "gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/common/metrics"
	"gatekeeper/internal/common/observability"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

// Authorizer answers whether a reviewer may decide applications from an
// origin.
type Authorizer interface {
	CanDecide(ctx context.Context, reviewerID, originID string) (bool, error)
}

// RoleGranter applies the accepted role on the platform.
type RoleGranter interface {
	GrantRole(ctx context.Context, originID, candidateID, roleID string) error
}

// CandidateNotifier delivers a decision notice to the candidate.
type CandidateNotifier interface {
	NotifyCandidate(ctx context.Context, candidateID, text string) error
}

// Outcome reports a successful decision plus the fate of its side effects.
// Side-effect failures never fail the decision; the state transition is the
// system of record.
type Outcome struct {
	ApplicationID int64
	Action        models.Action
	NewStatus     models.Status
	ReviewerID    string
	Reason        string
	CandidateID   string

	RoleGranted       bool
	RoleGrantErr      error
	CandidateNotified bool
	NotifyErr         error
}

// Processor executes accept and deny decisions. Both the typed command and
// the clickable control funnel into Decide, so idempotency and authorization
// behave identically regardless of entry point.
type Processor struct {
	store   store.ApplicationStore
	catalog catalog.Catalog
	authz   Authorizer
	roles   RoleGranter
	notify  CandidateNotifier
	obs     *observability.Observability
	logger  logger.Logger
}

type ProcessorOption func(*Processor)

// WithRoleGranter enables the accepted-role side effect.
func WithRoleGranter(roles RoleGranter) ProcessorOption {
	return func(p *Processor) { p.roles = roles }
}

// WithCandidateNotifier enables the decision-notice side effect.
func WithCandidateNotifier(notify CandidateNotifier) ProcessorOption {
	return func(p *Processor) { p.notify = notify }
}

// WithObservability attaches the otel meter recorder.
func WithObservability(obs *observability.Observability) ProcessorOption {
	return func(p *Processor) { p.obs = obs }
}

func NewProcessor(
	st store.ApplicationStore,
	cat catalog.Catalog,
	authz Authorizer,
	log logger.Logger,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		store:   st,
		catalog: cat,
		authz:   authz,
		logger:  log.WithFields(map[string]interface{}{"component": "decision"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide resolves a pending application. Exactly one concurrent caller wins
// the pending-to-terminal transition; everyone else gets AlreadyDecided with
// the status the winner set. An empty reason falls back to the action's
// default.
func (p *Processor) Decide(ctx context.Context, id int64, action models.Action, reviewerID, reason string) (*Outcome, error) {
	started := time.Now()

	app, err := p.store.GetByID(ctx, id)
	if err != nil {
		p.recordDecision(ctx, action, "not_found")
		return nil, err
	}

	allowed, err := p.authz.CanDecide(ctx, reviewerID, app.OriginID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		p.recordDecision(ctx, action, "unauthorized")
		return nil, stderrors.NewUnauthorizedError(reviewerID, app.OriginID)
	}

	if app.Status.Terminal() {
		p.recordDecision(ctx, action, "already_decided")
		return nil, stderrors.NewAlreadyDecidedError(id, string(app.Status))
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = action.DefaultReason()
	}

	won, err := p.store.TryTransition(ctx, id, models.StatusPending, action.TargetStatus(), reviewerID, reason)
	if err != nil {
		p.recordDecision(ctx, action, "store_error")
		return nil, err
	}
	if !won {
		// Lost the race. Refetch so the caller learns what the winner did.
		current := string(models.StatusPending)
		if latest, err := p.store.GetByID(ctx, id); err == nil {
			current = string(latest.Status)
		}
		p.recordDecision(ctx, action, "already_decided")
		return nil, stderrors.NewAlreadyDecidedError(id, current)
	}

	outcome := &Outcome{
		ApplicationID: id,
		Action:        action,
		NewStatus:     action.TargetStatus(),
		ReviewerID:    reviewerID,
		Reason:        reason,
		CandidateID:   app.CandidateID,
	}

	p.applySideEffects(ctx, app, outcome)

	p.recordDecision(ctx, action, "decided")
	if p.obs != nil {
		p.obs.RecordDecisionDuration(ctx, time.Since(started), "decided")
	}
	p.logger.Info("application decided", map[string]interface{}{
		"applicationId": id,
		"action":        string(action),
		"reviewerId":    reviewerID,
		"roleGranted":   outcome.RoleGranted,
		"notified":      outcome.CandidateNotified,
	})
	return outcome, nil
}

// applySideEffects runs the post-transition effects. Failures are captured on
// the outcome and surfaced to the reviewer, never retried here.
func (p *Processor) applySideEffects(ctx context.Context, app *models.Application, outcome *Outcome) {
	if outcome.Action == models.ActionAccept && p.roles != nil {
		roleID := p.acceptedRoleID(ctx, app.FormKey)
		if roleID != "" {
			if err := p.roles.GrantRole(ctx, app.OriginID, app.CandidateID, roleID); err != nil {
				metrics.RoleGrantFailures.Inc()
				outcome.RoleGrantErr = stderrors.NewRoleGrantFailedError(roleID, app.CandidateID, err)
				p.logger.Warn("role grant failed", map[string]interface{}{
					"applicationId": app.ID,
					"roleId":        roleID,
					"candidateId":   app.CandidateID,
					"error":         err,
				})
			} else {
				outcome.RoleGranted = true
			}
		}
	}

	if p.notify != nil {
		text := fmt.Sprintf("Your application #%d has been %s. Reason: %s",
			app.ID, outcome.NewStatus, outcome.Reason)
		if err := p.notify.NotifyCandidate(ctx, app.CandidateID, text); err != nil {
			metrics.NotificationFailures.WithLabelValues("decision_notice").Inc()
			outcome.NotifyErr = stderrors.NewNotificationFailedError(app.CandidateID, err)
			p.logger.Warn("decision notice failed", map[string]interface{}{
				"applicationId": app.ID,
				"candidateId":   app.CandidateID,
				"error":         err,
			})
		} else {
			outcome.CandidateNotified = true
		}
	}
}

func (p *Processor) acceptedRoleID(ctx context.Context, formKey string) string {
	form, err := p.catalog.Get(ctx, formKey)
	if err != nil {
		p.logger.Warn("form lookup for role grant failed", map[string]interface{}{
			"formKey": formKey,
			"error":   err,
		})
		return ""
	}
	return form.AcceptedRoleID
}

func (p *Processor) recordDecision(ctx context.Context, action models.Action, result string) {
	metrics.DecisionsTotal.WithLabelValues(string(action), result).Inc()
	if p.obs != nil {
		p.obs.RecordDecision(ctx, string(action), result)
	}
}
