package schedule

import (
	"context"
	"fmt"

	"agent-platform/internal/convo"

	"github.com/google/uuid"
)

// CalendarProvider is the provider-agnostic calendar boundary.
//
// Rules:
// - No provider SDK calls outside calendar adapters.
// - All requests must be tenant-scoped.
// - Failures are reported as *ProviderError so callers can roll back any
//   charge tied to the unit of work.
type CalendarProvider interface {
	Name() string
	CreateAppointment(ctx context.Context, tenantID string, slots convo.Slots) (providerID string, err error)
}

// ProviderError is a calendar-side failure. Retryable marks transient faults
// (timeouts, 5xx) the caller may retry on a later turn.
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("calendar %s: %s (%s)", e.Provider, e.Message, e.Code)
}

// NoopCalendar accepts every booking and mints a local provider id. It stands
// in until a tenant configures a real calendar integration.
type NoopCalendar struct{}

func (NoopCalendar) Name() string { return "noop" }

func (NoopCalendar) CreateAppointment(ctx context.Context, tenantID string, slots convo.Slots) (string, error) {
	return "noop-" + uuid.NewString(), nil
}
