package sheets

import (
	"context"
	"time"

	"gymspace/internal/core"
)

// SettlementRecord is one closed shift as written to the report.
type SettlementRecord struct {
	Date        time.Time
	Shift       core.Shift
	SessionID   string
	Responsible string
	Settlement  core.Settlement
}

// Ports for outbound adapters.
type (
	SettlementWriter interface {
		AppendSettlement(ctx context.Context, r SettlementRecord) (rowRef string, err error)
	}
)

// Row renders a record in report column order:
// date, shift, session, responsible, closing time, initial, cash, card, total.
func (r SettlementRecord) Row() []any {
	s := r.Settlement
	initial := core.AmountOrZero(s.InitialAmount)
	return []any{
		r.Date.Format(time.DateOnly),
		r.Shift.String(),
		r.SessionID,
		r.Responsible,
		s.ClosingTime,
		initial.Decimal().StringFixed(2),
		s.CashTotal.Decimal().StringFixed(2),
		s.CardTotal.Decimal().StringFixed(2),
		s.Total().Decimal().StringFixed(2),
	}
}
