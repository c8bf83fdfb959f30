package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Morning   Shift = "mañana"
	Afternoon Shift = "tarde"
	AllShifts Shift = "todos"
)

const (
	Cash          PaymentMethod = "efectivo"
	Card          PaymentMethod = "tarjeta"
	UnknownMethod PaymentMethod = ""
)

type (
	// Shift is a named operating period. The value is the backend wire name.
	Shift string

	PaymentMethod string

	Payment struct {
		Amount    Money
		Method    PaymentMethod
		Timestamp time.Time
		MemberID  string
	}

	// Settlement is the closing computation sent to the backend.
	Settlement struct {
		ClosingTime   string // HH:MM, local time
		CashTotal     Money
		CardTotal     Money
		InitialAmount string // echoed as received when the session was opened
	}

	Balance struct {
		CashTotal      Money
		CardTotal      Money
		TotalCollected Money
		FinalBalance   Money
	}
)

var (
	ErrInvalidShift          = errors.New("invalid shift")
	ErrShiftNotSessionScoped = errors.New("shift cannot hold a cash session")
)

var shiftAliases = map[string]Shift{
	"mañana":    Morning,
	"manana":    Morning,
	"morning":   Morning,
	"tarde":     Afternoon,
	"afternoon": Afternoon,
	"todos":     AllShifts,
	"all":       AllShifts,
}

// ParseShift accepts wire names and their English equivalents.
func ParseShift(s string) (Shift, error) {
	if sh, ok := shiftAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return sh, nil
	}
	return "", ErrInvalidShift
}

func (s Shift) String() string {
	return string(s)
}

// Validate reports whether the shift can hold a cash session. AllShifts is
// only meaningful when listing payments.
func (s Shift) Validate() error {
	switch s {
	case Morning, Afternoon:
		return nil
	case AllShifts:
		return ErrShiftNotSessionScoped
	default:
		return ErrInvalidShift
	}
}

// ParsePaymentMethod maps backend method names to a PaymentMethod.
// Anything unrecognised is UnknownMethod and counts toward neither subtotal.
func ParsePaymentMethod(s string) PaymentMethod {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "efectivo", "cash":
		return Cash
	case "tarjeta", "card":
		return Card
	default:
		return UnknownMethod
	}
}
