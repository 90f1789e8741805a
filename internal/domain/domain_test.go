package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePriorityAcceptsCriticalAlias(t *testing.T) {
	p, ok := ParsePriority("critical")
	assert.True(t, ok)
	assert.Equal(t, TicketPriorityUrgent, p)

	p, ok = ParsePriority(" HIGH ")
	assert.True(t, ok)
	assert.Equal(t, TicketPriorityHigh, p)

	_, ok = ParsePriority("whenever")
	assert.False(t, ok)
}

func TestParseTicketStatusVariants(t *testing.T) {
	for _, raw := range []string{"In Progress", "in_progress", "IN-PROGRESS"} {
		s, ok := ParseTicketStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, TicketStatusInProgress, s, raw)
	}
	_, ok := ParseTicketStatus("pending")
	assert.False(t, ok)
}

func TestDeriveAvailability(t *testing.T) {
	assert.Equal(t, AvailabilityOffline, DeriveAvailability(false, 0, 5))
	assert.Equal(t, AvailabilityAvailable, DeriveAvailability(true, 4, 5))
	assert.Equal(t, AvailabilityBusy, DeriveAvailability(true, 5, 5))
}

func TestNotificationCollectableRequiresReadAndExpired(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	n := Notification{ExpiresAt: now.Add(-time.Hour)}
	assert.False(t, n.Collectable(now))
	n.Read = true
	assert.True(t, n.Collectable(now))
	n.ExpiresAt = now.Add(time.Hour)
	assert.False(t, n.Collectable(now))
}

func TestTicketCloneIsDeep(t *testing.T) {
	agent := "a1"
	orig := &Ticket{ID: "t1", AssignedAgentID: &agent, Tags: []string{"x"}, Updates: []Update{{ID: "u1"}}}
	c := orig.Clone()
	*c.AssignedAgentID = "a2"
	c.Tags[0] = "y"
	c.Updates = append(c.Updates, Update{ID: "u2"})

	assert.Equal(t, "a1", *orig.AssignedAgentID)
	assert.Equal(t, "x", orig.Tags[0])
	assert.Len(t, orig.Updates, 1)
}
