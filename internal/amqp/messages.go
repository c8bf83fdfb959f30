package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gymspace/internal/caja"
	"gymspace/internal/core"
)

var ErrInvalidMessage = errors.New("invalid caja event")

// CajaEvent is the wire form of a confirmed session transition.
type CajaEvent struct {
	Type          string             `json:"type"`
	Shift         string             `json:"turno"`
	SessionID     string             `json:"session_id"`
	Responsible   string             `json:"responsable,omitempty"`
	InitialAmount string             `json:"saldo_inicial,omitempty"`
	Settlement    *SettlementPayload `json:"settlement,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// SettlementPayload carries closing totals in cents.
type SettlementPayload struct {
	ClosingTime string `json:"hora_cierre"`
	CashCents   int64  `json:"total_efectivo_cents"`
	CardCents   int64  `json:"total_tarjeta_cents"`
}

// NewCajaEvent converts a workflow event to its wire form.
func NewCajaEvent(e caja.Event) *CajaEvent {
	msg := &CajaEvent{
		Type:          string(e.Type),
		Shift:         e.Shift.String(),
		SessionID:     e.SessionID,
		Responsible:   e.Responsible,
		InitialAmount: e.InitialAmount,
		Timestamp:     e.OccurredAt,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if e.Settlement != nil {
		msg.Settlement = &SettlementPayload{
			ClosingTime: e.Settlement.ClosingTime,
			CashCents:   e.Settlement.CashTotal.Cents,
			CardCents:   e.Settlement.CardTotal.Cents,
		}
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *CajaEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CajaEventFromJSON decodes and validates a message body.
func CajaEventFromJSON(data []byte) (*CajaEvent, error) {
	var msg CajaEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *CajaEvent) Validate() error {
	switch caja.EventType(m.Type) {
	case caja.EventOpened:
	case caja.EventClosed:
		if m.Settlement == nil {
			return fmt.Errorf("%w: %s without settlement", ErrInvalidMessage, m.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	if m.SessionID == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidMessage)
	}
	if _, err := core.ParseShift(m.Shift); err != nil {
		return fmt.Errorf("%w: shift %q", ErrInvalidMessage, m.Shift)
	}
	return nil
}

// CoreSettlement rebuilds the settlement of a caja.closed event.
func (m *CajaEvent) CoreSettlement() (core.Settlement, bool) {
	if m.Settlement == nil {
		return core.Settlement{}, false
	}
	return core.Settlement{
		ClosingTime:   m.Settlement.ClosingTime,
		CashTotal:     core.Money{Cents: m.Settlement.CashCents},
		CardTotal:     core.Money{Cents: m.Settlement.CardCents},
		InitialAmount: m.InitialAmount,
	}, true
}
