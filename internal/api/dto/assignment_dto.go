package dto

import "github.com/spec-kit/complaint-service/internal/domain"

// AssignRequest picks an explicit agent, or auto assignment when agent_id is empty.
type AssignRequest struct {
	AgentID    *string `json:"agent_id"`
	Department *string `json:"department"`
	Team       *string `json:"team"`
}

// BulkAssignRequest applies one assignment request to many tickets.
type BulkAssignRequest struct {
	TicketIDs  []string `json:"ticket_ids"`
	AgentID    *string  `json:"agent_id"`
	Department *string  `json:"department"`
	Team       *string  `json:"team"`
}

// WorkloadResponse is one row of the agent dashboard.
type WorkloadResponse struct {
	AgentID      string               `json:"agent_id"`
	Name         string               `json:"name"`
	Department   *string              `json:"department"`
	Load         int                  `json:"load"`
	Capacity     int                  `json:"capacity"`
	Online       bool                 `json:"online"`
	Availability domain.Availability  `json:"availability"`
	Override     *domain.Availability `json:"availability_override"`
}
