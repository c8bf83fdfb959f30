// Package services provides business logic and orchestration services.
//
// This file resolves which work shift is active at a given time of day.
// The schedule is an ordered list of shifts with their start times; each
// shift runs until the next one starts.
package services

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gymspace/internal/core"
)

var ErrInvalidSchedule = errors.New("invalid shift schedule")

// ShiftWindow is a shift and the offset from midnight at which it starts.
type ShiftWindow struct {
	Shift core.Shift
	Start time.Duration
}

type ShiftSchedule struct {
	windows []ShiftWindow
}

type scheduleFile struct {
	Shifts []struct {
		Name  string `yaml:"name"`
		Start string `yaml:"start"`
	} `yaml:"shifts"`
}

// DefaultShiftSchedule is morning from 07:00 and afternoon from 14:00.
func DefaultShiftSchedule() *ShiftSchedule {
	return &ShiftSchedule{windows: []ShiftWindow{
		{Shift: core.Morning, Start: 7 * time.Hour},
		{Shift: core.Afternoon, Start: 14 * time.Hour},
	}}
}

// NewShiftSchedule validates windows: at least one, session-scoped shifts
// only, no repeats, start times strictly increasing within the day.
func NewShiftSchedule(windows []ShiftWindow) (*ShiftSchedule, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: no shifts", ErrInvalidSchedule)
	}
	seen := make(map[core.Shift]bool, len(windows))
	for i, w := range windows {
		if err := w.Shift.Validate(); err != nil {
			return nil, fmt.Errorf("%w: shift %q: %v", ErrInvalidSchedule, w.Shift, err)
		}
		if seen[w.Shift] {
			return nil, fmt.Errorf("%w: shift %q listed twice", ErrInvalidSchedule, w.Shift)
		}
		seen[w.Shift] = true
		if w.Start < 0 || w.Start >= 24*time.Hour {
			return nil, fmt.Errorf("%w: start of %q out of range", ErrInvalidSchedule, w.Shift)
		}
		if i > 0 && w.Start <= windows[i-1].Start {
			return nil, fmt.Errorf("%w: %q must start after %q", ErrInvalidSchedule, w.Shift, windows[i-1].Shift)
		}
	}
	return &ShiftSchedule{windows: append([]ShiftWindow(nil), windows...)}, nil
}

// LoadShiftSchedule reads a YAML schedule such as
//
//	shifts:
//	  - name: mañana
//	    start: "07:00"
//	  - name: tarde
//	    start: "14:00"
//
// An empty path returns the default schedule.
func LoadShiftSchedule(path string) (*ShiftSchedule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultShiftSchedule(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shift schedule: %w", err)
	}
	return ParseShiftSchedule(raw)
}

func ParseShiftSchedule(raw []byte) (*ShiftSchedule, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	windows := make([]ShiftWindow, 0, len(f.Shifts))
	for _, s := range f.Shifts {
		shift, err := core.ParseShift(s.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, s.Name, err)
		}
		start, err := parseClock(s.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: start of %q: %v", ErrInvalidSchedule, s.Name, err)
		}
		windows = append(windows, ShiftWindow{Shift: shift, Start: start})
	}
	return NewShiftSchedule(windows)
}

// Resolve returns the shift whose window contains t. Times before the first
// start belong to the first shift.
func (s *ShiftSchedule) Resolve(t time.Time) core.Shift {
	offset := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	current := s.windows[0].Shift
	for _, w := range s.windows {
		if offset < w.Start {
			break
		}
		current = w.Shift
	}
	return current
}

// First is the opening shift of the day; it has no previous balance to
// inherit.
func (s *ShiftSchedule) First() core.Shift {
	return s.windows[0].Shift
}

func (s *ShiftSchedule) IsFirst(shift core.Shift) bool {
	return shift == s.First()
}

func (s *ShiftSchedule) Shifts() []core.Shift {
	out := make([]core.Shift, len(s.windows))
	for i, w := range s.windows {
		out[i] = w.Shift
	}
	return out
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
