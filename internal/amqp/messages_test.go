package amqp

import (
	"errors"
	"testing"
	"time"

	"gymspace/internal/caja"
	"gymspace/internal/core"
)

func TestNewCajaEvent(t *testing.T) {
	at := time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)
	st := core.Settlement{ClosingTime: "14:05", CashTotal: core.Money{Cents: 7000}, CardTotal: core.Money{Cents: 3000}, InitialAmount: "100"}
	msg := NewCajaEvent(caja.Event{
		Type:          caja.EventClosed,
		Shift:         core.Morning,
		SessionID:     "s1",
		Responsible:   "u1",
		InitialAmount: "100",
		Settlement:    &st,
		OccurredAt:    at,
	})

	raw, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	parsed, err := CajaEventFromJSON(raw)
	if err != nil {
		t.Fatalf("CajaEventFromJSON: %v", err)
	}
	got, ok := parsed.CoreSettlement()
	if !ok || got != st {
		t.Fatalf("settlement = %+v, want %+v", got, st)
	}
	if !parsed.Timestamp.Equal(at) || parsed.Responsible != "u1" {
		t.Fatalf("unexpected message %+v", parsed)
	}
}

func TestCajaEventFromJSONInvalid(t *testing.T) {
	tests := map[string]string{
		"not json":           `{"type": 1}`,
		"unknown type":       `{"type":"caja.paused","turno":"tarde","session_id":"s1"}`,
		"missing session":    `{"type":"caja.opened","turno":"tarde"}`,
		"bad shift":          `{"type":"caja.opened","turno":"noche","session_id":"s1"}`,
		"closed without sum": `{"type":"caja.closed","turno":"tarde","session_id":"s1"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := CajaEventFromJSON([]byte(body)); !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestOpenedEventHasNoSettlement(t *testing.T) {
	msg := NewCajaEvent(caja.Event{Type: caja.EventOpened, Shift: core.Afternoon, SessionID: "s2"})
	if _, ok := msg.CoreSettlement(); ok {
		t.Fatal("opened event should carry no settlement")
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
