package core

import (
	"errors"
	"testing"
)

func TestParseShift(t *testing.T) {
	cases := []struct {
		in   string
		want Shift
		ok   bool
	}{
		{"mañana", Morning, true},
		{"Morning", Morning, true},
		{" tarde ", Afternoon, true},
		{"afternoon", Afternoon, true},
		{"todos", AllShifts, true},
		{"noche", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseShift(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q expected %q, got %q (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidShift) {
			t.Fatalf("%q expected ErrInvalidShift, got %v", tc.in, err)
		}
	}
}

func TestShiftValidate(t *testing.T) {
	if err := Morning.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := Afternoon.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := AllShifts.Validate(); !errors.Is(err, ErrShiftNotSessionScoped) {
		t.Fatalf("expected ErrShiftNotSessionScoped, got %v", err)
	}
	if err := Shift("x").Validate(); !errors.Is(err, ErrInvalidShift) {
		t.Fatalf("expected ErrInvalidShift, got %v", err)
	}
}

func TestParsePaymentMethod(t *testing.T) {
	cases := map[string]PaymentMethod{
		"Efectivo": Cash,
		"cash":     Cash,
		"TARJETA":  Card,
		"card":     Card,
		"transfer": UnknownMethod,
		"":         UnknownMethod,
	}
	for in, want := range cases {
		if got := ParsePaymentMethod(in); got != want {
			t.Errorf("ParsePaymentMethod(%q) = %q, want %q", in, got, want)
		}
	}
}
