package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/complaint-service/internal/domain"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// insertUpdates appends audit entries. Entries are never updated or deleted.
func insertUpdates(ctx context.Context, tx pgx.Tx, ticketID string, updates []domain.Update) error {
	if len(updates) == 0 {
		return nil
	}
	const query = `
        INSERT INTO ticket_updates (id, ticket_id, kind, message, author_id, author_name, previous_value,
            new_value, internal, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	batch := &pgx.Batch{}
	for _, u := range updates {
		id := u.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(query, id, ticketID, u.Kind, u.Message, u.AuthorID, u.AuthorName,
			u.PreviousValue, u.NewValue, u.Internal, u.CreatedAt)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func listUpdates(ctx context.Context, q querier, ticketID string) ([]domain.Update, error) {
	const query = `
        SELECT id, ticket_id, kind, message, author_id, author_name, previous_value, new_value, internal, created_at
        FROM ticket_updates WHERE ticket_id=$1 ORDER BY seq ASC`
	rows, err := q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Update
	for rows.Next() {
		var u domain.Update
		if err := rows.Scan(
			&u.ID,
			&u.TicketID,
			&u.Kind,
			&u.Message,
			&u.AuthorID,
			&u.AuthorName,
			&u.PreviousValue,
			&u.NewValue,
			&u.Internal,
			&u.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
