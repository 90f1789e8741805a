package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/complaint-service/internal/api/dto"
	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/service"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func parseBody(c *fiber.Ctx, into any) error {
	if err := c.BodyParser(into); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// pagination reads page and page_size, returning limit and offset.
func pagination(c *fiber.Ctx) (int, int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return pageSize, (page - 1) * pageSize
}

func splitQuery(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid boolean", map[string]any{"value": raw})
	}
	return &v, nil
}

func optionalString(raw string) *string {
	if raw == "" {
		return nil
	}
	return &raw
}

func ticketResponse(t *domain.Ticket, withUpdates bool) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:                    t.ID,
		TicketNumber:          t.TicketNumber,
		Title:                 t.Title,
		Description:           t.Description,
		Category:              t.Category,
		Priority:              t.Priority,
		Sentiment:             t.Sentiment,
		Confidence:            t.Confidence,
		Keywords:              nonNilStrings(t.Keywords),
		Tags:                  nonNilStrings(t.Tags),
		OwnerID:               t.OwnerID,
		AssignedAgentID:       t.AssignedAgentID,
		AssignedTeam:          t.AssignedTeam,
		Status:                t.Status,
		SLATargetAt:           t.SLATargetAt,
		ResponseTargetHours:   t.ResponseTargetHours,
		ResolutionTargetHours: t.ResolutionTargetHours,
		IsEscalated:           t.IsEscalated,
		EscalationReason:      t.EscalationReason,
		EscalatedAt:           t.EscalatedAt,
		EscalatedTo:           t.EscalatedTo,
		ReopenCount:           t.ReopenCount,
		ResolutionTimeHours:   t.ResolutionTimeHours,
		SLAMet:                t.SLAMet,
		ResolvedAt:            t.ResolvedAt,
		ClosedAt:              t.ClosedAt,
		Version:               t.Version,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
	if t.Feedback != nil {
		resp.Feedback = &dto.FeedbackResponse{
			Rating:      t.Feedback.Rating,
			Comment:     t.Feedback.Comment,
			SubmittedAt: t.Feedback.SubmittedAt,
		}
	}
	if withUpdates {
		resp.Updates = make([]dto.UpdateResponse, 0, len(t.Updates))
		for _, u := range t.Updates {
			resp.Updates = append(resp.Updates, dto.UpdateResponse{
				ID:            u.ID,
				Kind:          u.Kind,
				Message:       u.Message,
				AuthorID:      u.AuthorID,
				AuthorName:    u.AuthorName,
				PreviousValue: u.PreviousValue,
				NewValue:      u.NewValue,
				Internal:      u.Internal,
				CreatedAt:     u.CreatedAt,
			})
		}
	}
	return resp
}

func ticketList(tickets []domain.Ticket) []dto.TicketResponse {
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i], false))
	}
	return items
}

func bulkResponse(results []service.BulkResult) []dto.BulkItemResponse {
	items := make([]dto.BulkItemResponse, 0, len(results))
	for _, r := range results {
		item := dto.BulkItemResponse{TicketID: r.TicketID, OK: r.Err == nil}
		if r.Err != nil {
			de := apperrors.ToDomainError(r.Err)
			item.Error = &dto.ErrorBody{Code: de.Code, Message: de.Message, Details: de.Details}
		} else if r.Ticket != nil {
			resp := ticketResponse(r.Ticket, false)
			item.Ticket = &resp
		}
		items = append(items, item)
	}
	return items
}

func userResponse(u *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:                   u.ID,
		Name:                 u.Name,
		Email:                u.Email,
		Role:                 u.Role,
		Department:           u.Department,
		IsActive:             u.IsActive,
		AvailabilityOverride: u.AvailabilityOverride,
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
}

func notificationResponse(n *domain.Notification) dto.NotificationResponse {
	channels := make(map[domain.Channel]dto.DeliveryStateResponse, 3)
	for _, ch := range []domain.Channel{domain.ChannelInApp, domain.ChannelPush, domain.ChannelEmail} {
		state := n.Channels.State(ch)
		channels[ch] = dto.DeliveryStateResponse{Sent: state.Sent, SentAt: state.SentAt, Error: state.Error}
	}
	return dto.NotificationResponse{
		ID:           n.ID,
		Title:        n.Title,
		Message:      n.Message,
		Type:         n.Type,
		TicketID:     n.TicketID,
		TicketNumber: n.TicketNumber,
		Channels:     channels,
		Read:         n.Read,
		ReadAt:       n.ReadAt,
		ExpiresAt:    n.ExpiresAt,
		CreatedAt:    n.CreatedAt,
	}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
