package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SpendSummaryRequest requests aggregated spend metrics.
// Spend is derived from immutable wallet ledger entries (debits) scoped to the tenant.

type SpendSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
	Currency string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	TenantID string `json:"tenant_id"`
	Currency string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	UsageDebitMinor  int64 `json:"usage_debit_minor"`
	AdminAdjustMinor int64 `json:"admin_adjust_minor"`

	// ByOperation breaks usage debits down per metered operation.
	ByOperation map[string]int64 `json:"by_operation"`
}

// OutcomeSummaryRequest requests conversation outcome metrics.

type OutcomeSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type OutcomeSummary struct {
	TenantID string `json:"tenant_id"`

	TotalConversations int `json:"total_conversations"`
	Booked             int `json:"booked"`
	Escalated          int `json:"escalated"`
	InProgress         int `json:"in_progress"`
	Abandoned          int `json:"abandoned"`

	BookingRate float64 `json:"booking_rate"`
}
