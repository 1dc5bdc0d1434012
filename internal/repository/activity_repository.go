package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-sales-approvals/internal/platform/database"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
)

// ActivityRepository stores approval activities. A partial unique index on
// (order_id, user_id, activity_type) WHERE state = 'pending' keeps at most one
// pending activity per order, user and type.
type ActivityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Schedule inserts a pending activity unless one already exists. It reports
// whether a new row was created.
func (r *ActivityRepository) Schedule(ctx context.Context, a *Activity) (bool, error) {
	query := `
		INSERT INTO approval_activities (order_id, user_id, activity_type, summary, note, state)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (order_id, user_id, activity_type) WHERE state = 'pending'
		DO NOTHING
		RETURNING id, state, created_at
	`

	err := r.db.QueryRow(ctx, query,
		a.OrderID,
		a.UserID,
		a.ActivityType,
		a.Summary,
		a.Note,
	).Scan(&a.ID, &a.State, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to schedule activity")
	}
	return true, nil
}

// CompleteForOrder marks every pending activity of an order done.
func (r *ActivityRepository) CompleteForOrder(ctx context.Context, orderID string) (int64, error) {
	query := `
		UPDATE approval_activities
		SET state = 'done', done_at = NOW()
		WHERE order_id = $1 AND state = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, orderID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to complete activities")
	}
	return tag.RowsAffected(), nil
}

// ListPendingForUser returns the user's open activities, oldest first.
func (r *ActivityRepository) ListPendingForUser(ctx context.Context, userID int64) ([]*Activity, error) {
	query := `
		SELECT id, order_id, user_id, activity_type, summary, note, state, created_at, done_at
		FROM approval_activities
		WHERE user_id = $1 AND state = 'pending'
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list activities")
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		a := &Activity{}
		if err := rows.Scan(&a.ID, &a.OrderID, &a.UserID, &a.ActivityType,
			&a.Summary, &a.Note, &a.State, &a.CreatedAt, &a.DoneAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan activity")
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
