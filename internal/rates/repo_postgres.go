package rates

import (
	"context"
	"database/sql"
)

// PostgresSource reads the tenant rate set from the operation_rates table.
// It is a SettingsSource; wrap it in a CachedRepo for lookup traffic.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) FetchRates(ctx context.Context, tenantID string) ([]OperationRate, error) {
	const q = `
SELECT id, tenant_id, operation, currency, unit_price_minor, markup_percent,
       effective_from, effective_to, status, created_at, updated_at
FROM operation_rates
WHERE tenant_id = $1
ORDER BY effective_from`

	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationRate
	for rows.Next() {
		var r OperationRate
		var effectiveTo sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.Operation, &r.Currency, &r.UnitPriceMinor, &r.MarkupPercent,
			&r.EffectiveFrom, &effectiveTo, &r.Status, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if effectiveTo.Valid {
			t := effectiveTo.Time
			r.EffectiveTo = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
