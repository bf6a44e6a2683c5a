// internal/platform/router.go
package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	stderrors "gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/decision"
	"gatekeeper/internal/intake"
	"gatekeeper/internal/models"
	"gatekeeper/internal/review"
)

// IntakeRunner starts an intake session for a candidate.
type IntakeRunner interface {
	Run(ctx context.Context, candidateID, originID, formKey string) (*intake.Result, error)
}

// Reviewer exposes the read-side operations a reviewer invokes from chat.
type Reviewer interface {
	ListPending(ctx context.Context, limit int) ([]models.Application, error)
	GetByID(ctx context.Context, id int64) (*review.Detail, error)
	DecisionRequestFor(ctx context.Context, id int64) (*models.DecisionRequest, error)
}

// CatalogAdmin is the form management surface.
type CatalogAdmin interface {
	Keys(ctx context.Context) ([]string, error)
	CreateForm(ctx context.Context, key, displayName string) error
	AddQuestion(ctx context.Context, key, question string) (int, error)
	RemoveQuestion(ctx context.Context, key string, index int) (string, error)
	SetReviewSurface(ctx context.Context, key, surfaceID string) error
	SetAcceptedRole(ctx context.Context, key, roleID string) error
}

// Replier posts plain text back to the channel a command came from.
type Replier interface {
	PostToSurface(ctx context.Context, surfaceID, text string) error
}

// Router parses prefixed chat commands and dispatches them to the engine.
type Router struct {
	prefix   string
	ownerID  string
	intake   IntakeRunner
	commands *decision.CommandAdapter
	reviewer Reviewer
	catalog  CatalogAdmin
	authz    decision.Authorizer
	poster   review.Poster
	replier  Replier
	logger   logger.Logger
}

func NewRouter(
	prefix string,
	ownerID string,
	intakeRunner IntakeRunner,
	commands *decision.CommandAdapter,
	reviewer Reviewer,
	catalogAdmin CatalogAdmin,
	authz decision.Authorizer,
	poster review.Poster,
	replier Replier,
	log logger.Logger,
) *Router {
	return &Router{
		prefix:   prefix,
		ownerID:  ownerID,
		intake:   intakeRunner,
		commands: commands,
		reviewer: reviewer,
		catalog:  catalogAdmin,
		authz:    authz,
		poster:   poster,
		replier:  replier,
		logger:   log.WithFields(map[string]interface{}{"component": "router"}),
	}
}

// HandleMessage inspects one guild message and runs any command it carries.
// Non-command messages are ignored.
func (r *Router) HandleMessage(ctx context.Context, ev MessageEvent) {
	content := strings.TrimSpace(ev.Content)
	if !strings.HasPrefix(content, r.prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(content, r.prefix))
	if len(fields) == 0 {
		return
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch command {
	case "apply":
		err = r.handleApply(ctx, ev, args)
	case "accept":
		err = r.handleDecision(ctx, ev, models.ActionAccept, args)
	case "deny":
		err = r.handleDecision(ctx, ev, models.ActionDeny, args)
	case "pending":
		err = r.handlePending(ctx, ev, args)
	case "review":
		err = r.handleReview(ctx, ev, args)
	case "repost":
		err = r.handleRepost(ctx, ev, args)
	case "forms":
		err = r.handleForms(ctx, ev)
	case "createform":
		err = r.handleCreateForm(ctx, ev, args)
	case "addquestion":
		err = r.handleAddQuestion(ctx, ev, args)
	case "removequestion":
		err = r.handleRemoveQuestion(ctx, ev, args)
	case "setreview":
		err = r.handleSetReview(ctx, ev, args)
	case "setacceptrole":
		err = r.handleSetAcceptRole(ctx, ev, args)
	default:
		return
	}

	if err != nil {
		r.logger.Warn("command failed", map[string]interface{}{
			"command": command,
			"author":  ev.AuthorID,
			"error":   err,
		})
		r.reply(ctx, ev, userFacingError(err))
	}
}

func (r *Router) handleApply(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) != 1 {
		return usageError("apply <form>")
	}

	result, err := r.intake.Run(ctx, ev.AuthorID, ev.OriginID, args[0])
	if err != nil {
		return err
	}
	if result.Outcome == intake.OutcomeCompleted && !result.Receipt.Routable {
		r.reply(ctx, ev, fmt.Sprintf("Application #%d stored, but form %q has no review channel configured.",
			result.Receipt.ApplicationID, args[0]))
	}
	return nil
}

func (r *Router) handleDecision(ctx context.Context, ev MessageEvent, action models.Action, args []string) error {
	if len(args) < 1 {
		return usageError(string(action) + " <id> [reason]")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	reason := strings.Join(args[1:], " ")

	var outcome *decision.Outcome
	if action == models.ActionAccept {
		outcome, err = r.commands.Accept(ctx, id, ev.AuthorID, reason)
	} else {
		outcome, err = r.commands.Deny(ctx, id, ev.AuthorID, reason)
	}
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Application #%d %s.", outcome.ApplicationID, outcome.NewStatus)
	if outcome.RoleGrantErr != nil {
		text += " Role grant failed; assign the role manually."
	}
	if outcome.NotifyErr != nil {
		text += " Could not DM the applicant."
	}
	r.reply(ctx, ev, text)
	return nil
}

func (r *Router) handlePending(ctx context.Context, ev MessageEvent, args []string) error {
	limit := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return usageError("pending [limit]")
		}
		limit = n
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}

	apps, err := r.reviewer.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		r.reply(ctx, ev, "No pending applications.")
		return nil
	}

	var b strings.Builder
	b.WriteString("Pending applications:\n")
	for _, app := range apps {
		fmt.Fprintf(&b, "#%d %s form=%s submitted=%s\n",
			app.ID, app.CandidateID, app.FormKey, app.SubmittedAt.Format("2006-01-02 15:04"))
	}
	r.reply(ctx, ev, b.String())
	return nil
}

func (r *Router) handleReview(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) != 1 {
		return usageError("review <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}

	detail, err := r.reviewer.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Application #%d (%s) by %s, status %s\n",
		detail.Application.ID, detail.FormName, detail.Application.CandidateID, detail.Application.Status)
	for i, entry := range detail.Entries {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, entry.Question, entry.Answer)
	}
	if detail.Application.Status.Terminal() {
		fmt.Fprintf(&b, "Decided by %s: %s\n", detail.Application.ReviewerID, detail.Application.DecisionReason)
	}
	r.reply(ctx, ev, b.String())
	return nil
}

func (r *Router) handleRepost(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) != 1 {
		return usageError("repost <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}

	req, err := r.reviewer.DecisionRequestFor(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.poster.PostDecisionRequest(ctx, ev.ChannelID, *req); err != nil {
		return err
	}
	return nil
}

func (r *Router) handleForms(ctx context.Context, ev MessageEvent) error {
	keys, err := r.catalog.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		r.reply(ctx, ev, "No forms configured.")
		return nil
	}
	r.reply(ctx, ev, "Forms: "+strings.Join(keys, ", "))
	return nil
}

func (r *Router) handleCreateForm(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) < 2 {
		return usageError("createform <key> <name>")
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}
	key, name := args[0], strings.Join(args[1:], " ")
	if err := r.catalog.CreateForm(ctx, key, name); err != nil {
		return err
	}
	r.reply(ctx, ev, fmt.Sprintf("Form %q created.", key))
	return nil
}

func (r *Router) handleAddQuestion(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) < 2 {
		return usageError("addquestion <key> <question>")
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}
	key, question := args[0], strings.Join(args[1:], " ")
	count, err := r.catalog.AddQuestion(ctx, key, question)
	if err != nil {
		return err
	}
	r.reply(ctx, ev, fmt.Sprintf("Question %d added to %q.", count, key))
	return nil
}

func (r *Router) handleRemoveQuestion(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) != 2 {
		return usageError("removequestion <key> <number>")
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}
	index, err := strconv.Atoi(args[1])
	if err != nil || index < 1 {
		return usageError("removequestion <key> <number>")
	}
	removed, err := r.catalog.RemoveQuestion(ctx, args[0], index-1)
	if err != nil {
		return err
	}
	r.reply(ctx, ev, fmt.Sprintf("Removed question: %s", removed))
	return nil
}

func (r *Router) handleSetReview(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) != 2 {
		return usageError("setreview <key> <channelId>")
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}
	if err := r.catalog.SetReviewSurface(ctx, args[0], args[1]); err != nil {
		return err
	}
	r.reply(ctx, ev, fmt.Sprintf("Review channel for %q updated.", args[0]))
	return nil
}

func (r *Router) handleSetAcceptRole(ctx context.Context, ev MessageEvent, args []string) error {
	if len(args) != 2 {
		return usageError("setacceptrole <key> <roleId>")
	}
	if err := r.requireAdmin(ctx, ev); err != nil {
		return err
	}
	if err := r.catalog.SetAcceptedRole(ctx, args[0], args[1]); err != nil {
		return err
	}
	r.reply(ctx, ev, fmt.Sprintf("Accept role for %q updated.", args[0]))
	return nil
}

func (r *Router) requireAdmin(ctx context.Context, ev MessageEvent) error {
	if r.ownerID != "" && ev.AuthorID == r.ownerID {
		return nil
	}
	allowed, err := r.authz.CanDecide(ctx, ev.AuthorID, ev.OriginID)
	if err != nil {
		return err
	}
	if !allowed {
		return stderrors.NewUnauthorizedError(ev.AuthorID, ev.OriginID)
	}
	return nil
}

func (r *Router) reply(ctx context.Context, ev MessageEvent, text string) {
	if err := r.replier.PostToSurface(ctx, ev.ChannelID, text); err != nil {
		r.logger.Warn("reply failed", map[string]interface{}{
			"channelId": ev.ChannelID,
			"error":     err,
		})
	}
}

type usageErr string

func (u usageErr) Error() string { return "usage: " + string(u) }

func usageError(usage string) error { return usageErr(usage) }

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError("<id> must be a positive number")
	}
	return id, nil
}

// userFacingError maps engine errors to a short chat message.
func userFacingError(err error) string {
	if u, ok := err.(usageErr); ok {
		return u.Error()
	}
	switch stderrors.CodeOf(err) {
	case stderrors.ErrCodeFormNotFound:
		return "That form does not exist. Use the forms command to list them."
	case stderrors.ErrCodeSessionActive:
		return "You already have an application in progress. Finish or cancel it first."
	case stderrors.ErrCodeChannelUnavailable:
		return "Could not DM you. Check your privacy settings and try again."
	case stderrors.ErrCodeApplicationNotFound:
		return "No application with that ID."
	case stderrors.ErrCodeUnauthorized:
		return "You are not authorized to do that."
	case stderrors.ErrCodeAlreadyDecided:
		msg := "That application was already decided."
		if std := stderrors.AsStandardError(err); std != nil {
			if current, ok := std.Metadata["currentStatus"].(string); ok && current != "" {
				msg = fmt.Sprintf("That application was already %s.", current)
			}
		}
		return msg
	case stderrors.ErrCodeFormExists:
		return "A form with that key already exists."
	case stderrors.ErrCodeFormInvalid:
		return "Invalid form update: " + err.Error()
	default:
		return "Something went wrong. Try again."
	}
}
