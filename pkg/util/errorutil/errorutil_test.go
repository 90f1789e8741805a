package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", NewConflict("lost race", nil))))
	assert.Equal(t, KindInvalidTransition, KindOf(NewInvalidTransition("Closed", "Open")))
}

func TestDomainErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("assign: %w", NewForbidden("nope"))
	assert.True(t, errors.Is(err, &DomainError{Code: KindForbidden}))
	assert.False(t, errors.Is(err, &DomainError{Code: KindNotFound}))
}

func TestConflictIsRetryable(t *testing.T) {
	de := ToDomainError(NewConflict("stale", map[string]any{"ticket_id": "t1"}))
	assert.True(t, de.Retryable)
	assert.Equal(t, http.StatusConflict, de.HTTPStatus)

	de = ToDomainError(NewValidationError("bad", nil))
	assert.False(t, de.Retryable)
}

func TestAllAgentsAtCapacityCarriesCapacity(t *testing.T) {
	de := ToDomainError(NewAllAgentsAtCapacity(5, nil))
	assert.Equal(t, 5, de.Details["capacity"])
}
