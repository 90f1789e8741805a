package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/complaint-service/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	OwnerID         *string
	AssignedAgentID *string
	AssignedTeam    *string
	Unassigned      bool
	Statuses        []domain.TicketStatus
	Priorities      []domain.TicketPriority
	Categories      []domain.TicketCategory
	Escalated       *bool
	SearchTerm      *string
	Limit           int
	Offset          int
}

// Mutation is a conditional write of a ticket plus the audit entries it appended.
// It commits only if the stored version and status still match.
type Mutation struct {
	Ticket          *domain.Ticket
	ExpectedVersion int
	ExpectedStatus  domain.TicketStatus
	NewUpdates      []domain.Update
}

// TicketRepository encapsulates complaint persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	Apply(ctx context.Context, m Mutation) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	CountActiveByAgents(ctx context.Context, agentIDs []string) (map[string]int, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
}

// FormatTicketNumber renders the human readable sequence key.
func FormatTicketNumber(year, seq int) string {
	return fmt.Sprintf("CMP-%d-%06d", year, seq)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, ticket_number, title, description, category, priority, sentiment, confidence,
    keywords, tags, owner_id, assigned_agent_id, assigned_team, status, sla_target_at,
    response_target_hours, resolution_target_hours, is_escalated, escalation_reason, escalated_at,
    escalated_to, reopen_count, resolution_time_hours, sla_met, resolved_at, closed_at,
    feedback_rating, feedback_comment, feedback_at, version, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if ticket.TicketNumber == "" {
			year := ticket.CreatedAt.Year()
			var seq int
			if err := tx.QueryRow(ctx, `
                INSERT INTO ticket_counters (year, seq) VALUES ($1, 1)
                ON CONFLICT (year) DO UPDATE SET seq = ticket_counters.seq + 1
                RETURNING seq`, year).Scan(&seq); err != nil {
				return fmt.Errorf("next ticket number: %w", err)
			}
			ticket.TicketNumber = FormatTicketNumber(year, seq)
		}
		ticket.Version = 1
		const query = `
            INSERT INTO tickets (id, ticket_number, title, description, category, priority, sentiment, confidence,
                keywords, tags, owner_id, assigned_agent_id, assigned_team, status, sla_target_at,
                response_target_hours, resolution_target_hours, version, created_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
		if _, err := tx.Exec(ctx, query,
			ticket.ID,
			ticket.TicketNumber,
			ticket.Title,
			ticket.Description,
			ticket.Category,
			ticket.Priority,
			ticket.Sentiment,
			ticket.Confidence,
			nonNilStrings(ticket.Keywords),
			nonNilStrings(ticket.Tags),
			ticket.OwnerID,
			ticket.AssignedAgentID,
			ticket.AssignedTeam,
			ticket.Status,
			ticket.SLATargetAt,
			ticket.ResponseTargetHours,
			ticket.ResolutionTargetHours,
			ticket.Version,
			ticket.CreatedAt,
			ticket.UpdatedAt,
		); err != nil {
			return mapWriteError(err)
		}
		return insertUpdates(ctx, tx, ticket.ID, ticket.Updates)
	})
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_number=$1`, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	updates, err := listUpdates(ctx, r.pool, ticket.ID)
	if err != nil {
		return nil, err
	}
	ticket.Updates = updates
	return ticket, nil
}

func (r *ticketRepository) Apply(ctx context.Context, m Mutation) error {
	t := m.Ticket
	var feedbackRating *int
	var feedbackComment *string
	var feedbackAt *time.Time
	if t.Feedback != nil {
		feedbackRating = &t.Feedback.Rating
		feedbackComment = &t.Feedback.Comment
		feedbackAt = &t.Feedback.SubmittedAt
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
            UPDATE tickets SET priority=$1, assigned_agent_id=$2, assigned_team=$3, status=$4, sla_target_at=$5,
                response_target_hours=$6, resolution_target_hours=$7, is_escalated=$8, escalation_reason=$9,
                escalated_at=$10, escalated_to=$11, reopen_count=$12, resolution_time_hours=$13, sla_met=$14,
                resolved_at=$15, closed_at=$16, feedback_rating=$17, feedback_comment=$18, feedback_at=$19,
                tags=$20, version=version+1, updated_at=$21
            WHERE id=$22 AND version=$23 AND status=$24`
		cmd, err := tx.Exec(ctx, query,
			t.Priority,
			t.AssignedAgentID,
			t.AssignedTeam,
			t.Status,
			t.SLATargetAt,
			t.ResponseTargetHours,
			t.ResolutionTargetHours,
			t.IsEscalated,
			t.EscalationReason,
			t.EscalatedAt,
			t.EscalatedTo,
			t.ReopenCount,
			t.ResolutionTimeHours,
			t.SLAMet,
			t.ResolvedAt,
			t.ClosedAt,
			feedbackRating,
			feedbackComment,
			feedbackAt,
			nonNilStrings(t.Tags),
			t.UpdatedAt,
			t.ID,
			m.ExpectedVersion,
			m.ExpectedStatus,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, t.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrConflict
		}
		if err := insertUpdates(ctx, tx, t.ID, m.NewUpdates); err != nil {
			return err
		}
		t.Version = m.ExpectedVersion + 1
		return nil
	})
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("owner_id=$%d", len(args)))
	}
	if filter.AssignedAgentID != nil {
		args = append(args, *filter.AssignedAgentID)
		clauses = append(clauses, fmt.Sprintf("assigned_agent_id=$%d", len(args)))
	}
	if filter.AssignedTeam != nil {
		args = append(args, *filter.AssignedTeam)
		clauses = append(clauses, fmt.Sprintf("assigned_team=$%d", len(args)))
	}
	if filter.Unassigned {
		clauses = append(clauses, "assigned_agent_id IS NULL")
	}
	if len(filter.Statuses) > 0 {
		args = append(args, stringsOf(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Priorities) > 0 {
		args = append(args, stringsOf(filter.Priorities))
		clauses = append(clauses, fmt.Sprintf("priority = ANY($%d)", len(args)))
	}
	if len(filter.Categories) > 0 {
		args = append(args, stringsOf(filter.Categories))
		clauses = append(clauses, fmt.Sprintf("category = ANY($%d)", len(args)))
	}
	if filter.Escalated != nil {
		args = append(args, *filter.Escalated)
		clauses = append(clauses, fmt.Sprintf("is_escalated=$%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*filter.SearchTerm))+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(ticket_number) LIKE %s)",
			placeholder, placeholder, placeholder))
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) CountActiveByAgents(ctx context.Context, agentIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(agentIDs))
	if len(agentIDs) == 0 {
		return result, nil
	}
	const query = `
        SELECT assigned_agent_id, COUNT(*) FROM tickets
        WHERE assigned_agent_id = ANY($1) AND status <> ALL($2)
        GROUP BY assigned_agent_id`
	rows, err := r.pool.Query(ctx, query, agentIDs, terminalStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		result[id] = count
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	limit, _ = normalizePage(limit, 0)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE status <> ALL($1) AND sla_target_at < $2
        ORDER BY sla_target_at ASC LIMIT %d`, ticketColumns, limit)
	rows, err := r.pool.Query(ctx, query, terminalStatuses(), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	var feedbackRating *int
	var feedbackComment *string
	var feedbackAt *time.Time
	if err := row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Sentiment,
		&ticket.Confidence,
		&ticket.Keywords,
		&ticket.Tags,
		&ticket.OwnerID,
		&ticket.AssignedAgentID,
		&ticket.AssignedTeam,
		&ticket.Status,
		&ticket.SLATargetAt,
		&ticket.ResponseTargetHours,
		&ticket.ResolutionTargetHours,
		&ticket.IsEscalated,
		&ticket.EscalationReason,
		&ticket.EscalatedAt,
		&ticket.EscalatedTo,
		&ticket.ReopenCount,
		&ticket.ResolutionTimeHours,
		&ticket.SLAMet,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&feedbackRating,
		&feedbackComment,
		&feedbackAt,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if feedbackRating != nil {
		fb := domain.Feedback{Rating: *feedbackRating}
		if feedbackComment != nil {
			fb.Comment = *feedbackComment
		}
		if feedbackAt != nil {
			fb.SubmittedAt = *feedbackAt
		}
		ticket.Feedback = &fb
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func terminalStatuses() []string {
	return []string{string(domain.TicketStatusResolved), string(domain.TicketStatusClosed)}
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
