// internal/decision/adapters.go
package decision

import (
	"context"
	"fmt"

	stderrors "gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/models"
)

// ControlAcker acknowledges a control click before any work happens, so the
// platform does not mark the interaction failed while the decision runs.
type ControlAcker interface {
	AckControl(ctx context.Context, interactionID string) error
}

// SurfaceNotifier posts a plain-text result back to a review surface.
type SurfaceNotifier interface {
	PostToSurface(ctx context.Context, surfaceID, text string) error
}

// CommandAdapter is the typed entry point: accept and deny commands with an
// optional free-form reason.
type CommandAdapter struct {
	proc *Processor
}

func NewCommandAdapter(proc *Processor) *CommandAdapter {
	return &CommandAdapter{proc: proc}
}

func (a *CommandAdapter) Accept(ctx context.Context, id int64, reviewerID, reason string) (*Outcome, error) {
	return a.proc.Decide(ctx, id, models.ActionAccept, reviewerID, reason)
}

func (a *CommandAdapter) Deny(ctx context.Context, id int64, reviewerID, reason string) (*Outcome, error) {
	return a.proc.Decide(ctx, id, models.ActionDeny, reviewerID, reason)
}

// ControlClick is one click on a decision control.
type ControlClick struct {
	InteractionID string
	Token         string
	ReviewerID    string
	SurfaceID     string
}

// ControlAdapter is the clickable entry point. It acknowledges first, parses
// the correlation token, and funnels into the same Decide path as the
// command. Clicks carrying tokens this feature did not mint are dropped.
type ControlAdapter struct {
	proc     *Processor
	acker    ControlAcker
	notifier SurfaceNotifier
	logger   logger.Logger
}

func NewControlAdapter(proc *Processor, acker ControlAcker, notifier SurfaceNotifier, log logger.Logger) *ControlAdapter {
	return &ControlAdapter{
		proc:     proc,
		acker:    acker,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "decision.control"}),
	}
}

// HandleClick processes one control click end to end. It never returns an
// error for outcomes the reviewer can see on the surface; only transport
// failures propagate.
func (a *ControlAdapter) HandleClick(ctx context.Context, click ControlClick) error {
	if a.acker != nil {
		if err := a.acker.AckControl(ctx, click.InteractionID); err != nil {
			a.logger.Warn("control ack failed", map[string]interface{}{
				"interactionId": click.InteractionID,
				"error":         err,
			})
		}
	}

	action, id, ok := models.ParseControlToken(click.Token)
	if !ok {
		a.logger.Debug("ignoring unrecognized control token", map[string]interface{}{
			"token": click.Token,
		})
		return nil
	}

	outcome, err := a.proc.Decide(ctx, id, action, click.ReviewerID, "")
	if err != nil {
		return a.reportError(ctx, click.SurfaceID, id, err)
	}
	return a.reportOutcome(ctx, click.SurfaceID, outcome)
}

func (a *ControlAdapter) reportOutcome(ctx context.Context, surfaceID string, outcome *Outcome) error {
	text := fmt.Sprintf("Application #%d %s by <%s>.", outcome.ApplicationID, outcome.NewStatus, outcome.ReviewerID)
	if outcome.RoleGrantErr != nil {
		text += " Role grant failed; assign the role manually."
	}
	if outcome.NotifyErr != nil {
		text += " Could not DM the applicant."
	}
	return a.post(ctx, surfaceID, text)
}

func (a *ControlAdapter) reportError(ctx context.Context, surfaceID string, id int64, err error) error {
	var text string
	switch {
	case stderrors.HasCode(err, stderrors.ErrCodeAlreadyDecided):
		text = fmt.Sprintf("Application #%d was already decided.", id)
		if std := stderrors.AsStandardError(err); std != nil {
			if current, ok := std.Metadata["currentStatus"].(string); ok && current != "" {
				text = fmt.Sprintf("Application #%d was already %s.", id, current)
			}
		}
	case stderrors.HasCode(err, stderrors.ErrCodeUnauthorized):
		text = "You are not authorized to decide applications here."
	case stderrors.HasCode(err, stderrors.ErrCodeApplicationNotFound):
		text = fmt.Sprintf("Application #%d no longer exists.", id)
	default:
		a.logger.Error("decision failed", map[string]interface{}{
			"applicationId": id,
			"error":         err,
		})
		text = fmt.Sprintf("Deciding application #%d failed; try again.", id)
	}
	return a.post(ctx, surfaceID, text)
}

func (a *ControlAdapter) post(ctx context.Context, surfaceID, text string) error {
	if a.notifier == nil || surfaceID == "" {
		return nil
	}
	return a.notifier.PostToSurface(ctx, surfaceID, text)
}
