// internal/intake/session.go
package intake

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
	"gatekeeper/internal/review"
	"gatekeeper/internal/store"
)

// Outcome is a session's terminal state. Cancellation and timeout are
// expected, non-exceptional outcomes, not errors.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimedOut  Outcome = "timed_out"
)

// sessionState tags the intake state machine. AwaitingAnswer carries its
// question cursor in session.cursor.
type sessionState int

const (
	stateNotStarted sessionState = iota
	stateAwaitingAnswer
	stateCompleted
	stateCancelled
	stateTimedOut
)

// Receipt describes a completed submission.
type Receipt struct {
	ApplicationID   int64
	FormKey         string
	FormName        string
	Answers         []string
	ReviewSurfaceID string
	ReviewMessageID string

	// Routable is false when the form has no review surface configured: the
	// record exists but nobody will see it until an admin fixes the form.
	Routable     bool
	ReviewPosted bool
}

// Result is what an intake run terminates with. Receipt is nil unless
// Outcome is OutcomeCompleted.
type Result struct {
	Outcome Outcome
	Receipt *Receipt
}

// Runner drives one candidate through one form's questions over a private
// channel. Sessions are ephemeral; nothing is persisted until completion.
type Runner struct {
	catalog   catalog.Catalog
	store     store.ApplicationStore
	messenger Messenger
	poster    review.Poster
	guard     *SessionGuard
	obs       *observability.Observability
	logger    logger.Logger

	questionTimeout time.Duration
	cancelKeyword   string
}

type RunnerOption func(*Runner)

// WithSessionGuard enables the single-active-session lease per candidate+form.
func WithSessionGuard(guard *SessionGuard) RunnerOption {
	return func(r *Runner) { r.guard = guard }
}

// WithObservability attaches the otel meter recorder.
func WithObservability(obs *observability.Observability) RunnerOption {
	return func(r *Runner) { r.obs = obs }
}

func NewRunner(
	cat catalog.Catalog,
	st store.ApplicationStore,
	messenger Messenger,
	poster review.Poster,
	questionTimeout time.Duration,
	cancelKeyword string,
	log logger.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		catalog:         cat,
		store:           st,
		messenger:       messenger,
		poster:          poster,
		questionTimeout: questionTimeout,
		cancelKeyword:   strings.ToLower(strings.TrimSpace(cancelKeyword)),
		logger:          log.WithFields(map[string]interface{}{"component": "intake"}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type session struct {
	candidateID string
	originID    string
	form        *models.FormDefinition

	state   sessionState
	cursor  int
	answers []string
}

// Run executes one intake session to a terminal state. FormNotFound,
// SessionActive and ChannelUnavailable abort before any question is sent;
// cancellation and timeout discard all in-progress answers and yield no
// record.
func (r *Runner) Run(ctx context.Context, candidateID, originID, formKey string) (*Result, error) {
	form, err := r.catalog.Get(ctx, formKey)
	if err != nil {
		return nil, err
	}

	if r.guard != nil {
		acquired, err := r.guard.Acquire(ctx, candidateID, formKey)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, stderrors.NewSessionActiveError(candidateID, formKey)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.guard.Release(releaseCtx, candidateID, formKey); err != nil {
				r.logger.Warn("session lease release failed", map[string]interface{}{
					"candidateId": candidateID,
					"formKey":     formKey,
					"error":       err,
				})
			}
		}()
	}

	channel, err := r.messenger.OpenDirectChannel(ctx, candidateID)
	if err != nil {
		return nil, stderrors.NewChannelUnavailableError(candidateID, err)
	}
	defer channel.Close()

	started := time.Now()
	result, err := r.converse(ctx, channel, &session{
		candidateID: candidateID,
		originID:    originID,
		form:        form,
		state:       stateNotStarted,
	})
	if result != nil {
		metrics.IntakeSessionsTotal.WithLabelValues(formKey, string(result.Outcome)).Inc()
		metrics.IntakeSessionDuration.WithLabelValues(formKey).Observe(time.Since(started).Seconds())
		if r.obs != nil {
			r.obs.RecordSession(ctx, string(result.Outcome))
		}
	}
	return result, err
}

func (r *Runner) converse(ctx context.Context, channel DirectChannel, sess *session) (*Result, error) {
	form := sess.form
	intro := fmt.Sprintf(
		"Starting application %q. You have %d seconds per question. Reply %q at any time to cancel.",
		form.DisplayName(), int(r.questionTimeout.Seconds()), r.cancelKeyword,
	)
	if err := channel.Send(ctx, intro); err != nil {
		return nil, stderrors.NewChannelUnavailableError(sess.candidateID, err)
	}

	total := len(form.Questions)
	sess.answers = make([]string, 0, total)

	for sess.cursor = 0; sess.cursor < total; sess.cursor++ {
		sess.state = stateAwaitingAnswer

		// Anything buffered at this point was typed before the question was
		// presented and is never its answer.
		drainStale(channel)

		prompt := fmt.Sprintf("Q%d/%d: %s", sess.cursor+1, total, form.Questions[sess.cursor])
		if err := channel.Send(ctx, prompt); err != nil {
			return nil, stderrors.NewChannelUnavailableError(sess.candidateID, err)
		}

		reply, ok, err := r.awaitReply(ctx, channel, sess.candidateID)
		if err != nil {
			return nil, err
		}
		if !ok {
			sess.state = stateTimedOut
			r.notifyBestEffort(ctx, channel, "Time limit reached, application cancelled. You can start over whenever you are ready.")
			r.logger.Info("intake session timed out", map[string]interface{}{
				"candidateId": sess.candidateID,
				"formKey":     form.Key,
				"question":    sess.cursor + 1,
			})
			return &Result{Outcome: OutcomeTimedOut}, nil
		}

		trimmed := strings.TrimSpace(reply)
		if strings.ToLower(trimmed) == r.cancelKeyword {
			sess.state = stateCancelled
			r.notifyBestEffort(ctx, channel, "Application cancelled.")
			r.logger.Info("intake session cancelled", map[string]interface{}{
				"candidateId": sess.candidateID,
				"formKey":     form.Key,
				"question":    sess.cursor + 1,
			})
			return &Result{Outcome: OutcomeCancelled}, nil
		}

		sess.answers = append(sess.answers, trimmed)
	}

	sess.state = stateCompleted
	return r.complete(ctx, channel, sess)
}

// drainStale discards replies that accumulated before the current question
// was presented.
func drainStale(channel DirectChannel) {
	for {
		select {
		case _, open := <-channel.Replies():
			if !open {
				return
			}
		default:
			return
		}
	}
}

// awaitReply blocks until the candidate's next message on the channel, the
// per-question timeout, or context cancellation. Messages from other authors
// never satisfy the wait and do not reset the timer.
func (r *Runner) awaitReply(ctx context.Context, channel DirectChannel, candidateID string) (string, bool, error) {
	timer := time.NewTimer(r.questionTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		case msg, open := <-channel.Replies():
			if !open {
				// Transport dropped the conversation; indistinguishable from
				// the candidate walking away.
				return "", false, nil
			}
			if msg.AuthorID != candidateID {
				continue
			}
			return msg.Content, true, nil
		}
	}
}

func (r *Runner) complete(ctx context.Context, channel DirectChannel, sess *session) (*Result, error) {
	form := sess.form

	appID, err := r.store.Create(ctx, sess.candidateID, sess.originID, form.Key, sess.answers)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ApplicationID:   appID,
		FormKey:         form.Key,
		FormName:        form.DisplayName(),
		Answers:         sess.answers,
		ReviewSurfaceID: form.ReviewSurfaceID,
		Routable:        form.ReviewSurfaceID != "",
	}

	r.notifyBestEffort(ctx, channel, fmt.Sprintf("Your application has been submitted (ID #%d). Thank you!", appID))

	if receipt.Routable && r.poster != nil {
		app := models.Application{
			ID:          appID,
			CandidateID: sess.candidateID,
			OriginID:    sess.originID,
			FormKey:     form.Key,
			Answers:     sess.answers,
			Status:      models.StatusPending,
		}
		req := review.BuildDecisionRequest(app, form.DisplayName(), form.Questions)

		msgID, err := r.poster.PostDecisionRequest(ctx, form.ReviewSurfaceID, req)
		if err != nil {
			metrics.NotificationFailures.WithLabelValues("review_post").Inc()
			r.logger.Warn("decision request post failed", map[string]interface{}{
				"applicationId": appID,
				"surfaceId":     form.ReviewSurfaceID,
				"error":         err,
			})
		} else {
			receipt.ReviewPosted = true
			receipt.ReviewMessageID = msgID
		}
	}

	r.logger.Info("application submitted", map[string]interface{}{
		"applicationId": appID,
		"candidateId":   sess.candidateID,
		"formKey":       form.Key,
		"answers":       len(sess.answers),
		"routable":      receipt.Routable,
	})

	return &Result{Outcome: OutcomeCompleted, Receipt: receipt}, nil
}

func (r *Runner) notifyBestEffort(ctx context.Context, channel DirectChannel, text string) {
	if err := channel.Send(ctx, text); err != nil {
		metrics.NotificationFailures.WithLabelValues("candidate_dm").Inc()
		r.logger.Warn("candidate notification failed", map[string]interface{}{"error": err})
	}
}
