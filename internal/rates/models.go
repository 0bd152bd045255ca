package rates

import "time"

// Rate models are tenant-scoped (tenant_id required everywhere).
// Amounts are expressed in minor units (e.g., cents) using int64.

// Operation identifies a metered unit of paid work.
type Operation string

const (
	OpChatCompletion Operation = "chat_completion"
	OpSpeechToText   Operation = "speech_to_text"
	OpKBRead         Operation = "kb_read"
	OpKBWrite        Operation = "kb_write"
)

// Valid reports whether op is a known metered operation.
func (op Operation) Valid() bool {
	switch op {
	case OpChatCompletion, OpSpeechToText, OpKBRead, OpKBWrite:
		return true
	default:
		return false
	}
}

// OperationRate defines the per-unit price for one metered operation.
//
// The effective window allows rate changes without rewriting history: the
// ledger records the amount actually charged, never a rate reference.
type OperationRate struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Operation Operation `json:"operation" db:"operation"`

	Currency string `json:"currency" db:"currency"`

	// UnitPriceMinor is the base price per unit of work.
	UnitPriceMinor int64 `json:"unit_price_minor" db:"unit_price_minor"`

	// MarkupPercent is applied on top of the base price (0 = none).
	MarkupPercent int `json:"markup_percent" db:"markup_percent"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status RateStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)
