package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/complaint-service/internal/domain"
)

// NotificationFilter defines inbox listing parameters.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository stores durable fan-out records.
type NotificationRepository interface {
	// Create inserts n unless a record for the same event and recipient exists.
	// It reports whether a new record was written.
	Create(ctx context.Context, n *domain.Notification) (bool, error)
	UpdateDelivery(ctx context.Context, id string, channel domain.Channel, state domain.DeliveryState) error
	// ListByRecipient returns the inbox most recent first.
	ListByRecipient(ctx context.Context, recipientID string, filter NotificationFilter) ([]domain.Notification, error)
	MarkRead(ctx context.Context, recipientID, id string, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	// DeleteCollectable removes records that are both read and expired.
	DeleteCollectable(ctx context.Context, now time.Time) (int64, error)
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a Postgres-backed implementation.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	const query = `
        INSERT INTO notifications (id, event_id, recipient_id, title, message, type, ticket_id, ticket_number,
            in_app_sent, in_app_sent_at, expires_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (event_id, recipient_id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query,
		n.ID,
		n.EventID,
		n.RecipientID,
		n.Title,
		n.Message,
		n.Type,
		n.TicketID,
		n.TicketNumber,
		n.Channels.InApp.Sent,
		n.Channels.InApp.SentAt,
		n.ExpiresAt,
		n.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *notificationRepository) UpdateDelivery(ctx context.Context, id string, channel domain.Channel, state domain.DeliveryState) error {
	var prefix string
	switch channel {
	case domain.ChannelInApp:
		prefix = "in_app"
	case domain.ChannelEmail:
		prefix = "email"
	case domain.ChannelPush:
		prefix = "push"
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	query := fmt.Sprintf(`UPDATE notifications SET %[1]s_sent=$1, %[1]s_sent_at=$2, %[1]s_error=$3 WHERE id=$4`, prefix)
	cmd, err := r.pool.Exec(ctx, query, state.Sent, state.SentAt, state.Error, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, filter NotificationFilter) ([]domain.Notification, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)
	where := "recipient_id=$1"
	if filter.UnreadOnly {
		where += " AND is_read=FALSE"
	}
	query := fmt.Sprintf(`
        SELECT id, event_id, recipient_id, title, message, type, ticket_id, ticket_number,
            in_app_sent, in_app_sent_at, in_app_error, email_sent, email_sent_at, email_error,
            push_sent, push_sent_at, push_error, is_read, read_at, expires_at, created_at
        FROM notifications WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, where, limit, offset)
	rows, err := r.pool.Query(ctx, query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.EventID,
			&n.RecipientID,
			&n.Title,
			&n.Message,
			&n.Type,
			&n.TicketID,
			&n.TicketNumber,
			&n.Channels.InApp.Sent,
			&n.Channels.InApp.SentAt,
			&n.Channels.InApp.Error,
			&n.Channels.Email.Sent,
			&n.Channels.Email.SentAt,
			&n.Channels.Email.Error,
			&n.Channels.Push.Sent,
			&n.Channels.Push.SentAt,
			&n.Channels.Push.Error,
			&n.Read,
			&n.ReadAt,
			&n.ExpiresAt,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, recipientID, id string, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE notifications SET is_read=TRUE, read_at=COALESCE(read_at, $1)
        WHERE id=$2 AND recipient_id=$3`, at, id, recipientID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE notifications SET is_read=TRUE, read_at=$1
        WHERE recipient_id=$2 AND is_read=FALSE`, at, recipientID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *notificationRepository) DeleteCollectable(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE is_read=TRUE AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
