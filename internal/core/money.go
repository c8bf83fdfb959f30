// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from the decimal
// strings the backend and the dashboard exchange, and for converting them to
// cents.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Money is an amount in cents. Arithmetic is always done on cents.
type Money struct {
	Cents int64
}

// ParseAmount converts a non-negative decimal string to Money.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted and the
// value is rounded half-up to cents. Zero is a valid amount: an opening cash
// drawer may be empty.
//
// Examples:
//
//	ParseAmount("100")    -> {10000}, nil
//	ParseAmount("12,345") -> {1235}, nil
//	ParseAmount("-1")     -> {}, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return Money{}, err
	}
	if d.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	return fromDecimal(d)
}

// AmountOrZero parses s leniently: anything that is not a number is zero.
// Signed values are kept so refunds still reduce a total.
func AmountOrZero(s string) Money {
	d, err := parseDecimal(s)
	if err != nil {
		return Money{}
	}
	m, err := fromDecimal(d)
	if err != nil {
		return Money{}
	}
	return m
}

// MoneyFromFloat converts a JSON number to Money, rounding half-up to cents.
func MoneyFromFloat(f float64) Money {
	m, err := fromDecimal(decimal.NewFromFloat(f))
	if err != nil {
		return Money{}
	}
	return m
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

func fromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Round(2).Shift(2)
	if !cents.BigInt().IsInt64() {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Add returns the sum of two amounts.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount without trailing zeros ("70", "70.5").
// This is the form the backend accepts for amounts.
func (m Money) String() string {
	return m.Decimal().String()
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}
