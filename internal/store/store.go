// internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	stderrors "gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/models"
)

// ApplicationStore is the durable record of submitted applications and the
// single source of truth for decision idempotency.
type ApplicationStore interface {
	Create(ctx context.Context, candidateID, originID, formKey string, answers []string) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Application, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Application, error)

	// TryTransition performs the conditional terminal update. It returns
	// false, nil when the row exists but its status is no longer `from`;
	// this is the sole synchronization point for concurrent decisions.
	TryTransition(ctx context.Context, id int64, from, to models.Status, reviewerID, reason string) (bool, error)
}

// PostgresStore implements ApplicationStore on a single applications table.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// Create inserts a new pending application and returns its assigned id.
// Answers are stored as a JSON array in submission order.
func (s *PostgresStore) Create(ctx context.Context, candidateID, originID, formKey string, answers []string) (int64, error) {
	if answers == nil {
		answers = []string{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return 0, stderrors.NewStoreQueryFailedError("create", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO applications (candidate_id, origin_id, form_key, answers, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		candidateID, originID, formKey, answersJSON, models.StatusPending,
	).Scan(&id)
	if err != nil {
		return 0, stderrors.NewStoreQueryFailedError("create", err)
	}

	s.logger.Info("application created", map[string]interface{}{
		"applicationId": id,
		"candidateId":   candidateID,
		"formKey":       formKey,
	})
	return id, nil
}

const applicationColumns = `id, candidate_id, origin_id, form_key, answers, status, reviewer_id, decision_reason, submitted_at, decided_at`

// GetByID returns the application or APPLICATION_NOT_FOUND.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*models.Application, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM applications WHERE id = $1`, applicationColumns), id)

	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, stderrors.NewApplicationNotFoundError(id)
	}
	if err != nil {
		return nil, stderrors.NewStoreQueryFailedError("get_by_id", err)
	}
	return app, nil
}

// ListByStatus returns applications with the given status, newest first,
// bounded by limit.
func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Application, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM applications
		WHERE status = $1
		ORDER BY submitted_at DESC, id DESC
		LIMIT $2`, applicationColumns), status, limit)
	if err != nil {
		return nil, stderrors.NewStoreQueryFailedError("list_by_status", err)
	}
	defer rows.Close()

	var apps []models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, stderrors.NewStoreQueryFailedError("list_by_status", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewStoreQueryFailedError("list_by_status", err)
	}
	return apps, nil
}

// TryTransition is a check-and-set on the row's status. The UPDATE only
// matches while the row still holds `from`, so of any set of concurrent
// attempts exactly one observes RowsAffected == 1.
func (s *PostgresStore) TryTransition(ctx context.Context, id int64, from, to models.Status, reviewerID, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET status = $1, reviewer_id = $2, decision_reason = $3, decided_at = now()
		WHERE id = $4 AND status = $5`,
		to, reviewerID, reason, id, from,
	)
	if err != nil {
		return false, stderrors.NewStoreQueryFailedError("try_transition", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, stderrors.NewStoreQueryFailedError("try_transition", err)
	}
	if affected == 0 {
		return false, nil
	}

	s.logger.Info("application transitioned", map[string]interface{}{
		"applicationId": id,
		"from":          string(from),
		"to":            string(to),
		"reviewerId":    reviewerID,
	})
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app         models.Application
		answersJSON []byte
		reviewerID  sql.NullString
		reason      sql.NullString
		decidedAt   sql.NullTime
	)

	err := row.Scan(
		&app.ID,
		&app.CandidateID,
		&app.OriginID,
		&app.FormKey,
		&answersJSON,
		&app.Status,
		&reviewerID,
		&reason,
		&app.SubmittedAt,
		&decidedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(answersJSON, &app.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	app.ReviewerID = reviewerID.String
	app.DecisionReason = reason.String
	if decidedAt.Valid {
		t := decidedAt.Time
		app.DecidedAt = &t
	}
	return &app, nil
}
