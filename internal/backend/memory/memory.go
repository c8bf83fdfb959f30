// Package memory is an in-process gym backend for development and tests.
package memory

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gymspace/internal/backend"
	"gymspace/internal/core"
)

var _ backend.CajaAPI = (*Store)(nil)

type session struct {
	id          string
	shift       core.Shift
	day         string
	responsible string
	initial     string
	open        bool
	settlement  core.Settlement
}

type entry struct {
	shift   core.Shift
	payment core.Payment
}

type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int
	sessions []*session
	payments []entry
	opened   map[string]backend.OpenResult
}

func New() *Store {
	return &Store{now: time.Now, opened: make(map[string]backend.OpenResult)}
}

// NewFromFile seeds today's payments from a file of
// "turno;metodo;monto[;socio]" lines. A missing file yields an empty store.
func NewFromFile(path string) *Store {
	s := New()
	for _, line := range readLines(path) {
		parts := strings.Split(line, ";")
		if len(parts) < 3 {
			continue
		}
		shift, err := core.ParseShift(parts[0])
		if err != nil || shift.Validate() != nil {
			continue
		}
		p := core.Payment{
			Method:    core.ParsePaymentMethod(parts[1]),
			Amount:    core.AmountOrZero(parts[2]),
			Timestamp: s.now(),
		}
		if len(parts) > 3 {
			p.MemberID = strings.TrimSpace(parts[3])
		}
		s.AddPayment(shift, p)
	}
	return s
}

// NewFromConfig adapts the store to the backend factory, seeding it from
// cfg.SeedFile when one is set.
func NewFromConfig(cfg backend.Config) (backend.CajaAPI, error) {
	if cfg.SeedFile == "" {
		return New(), nil
	}
	return NewFromFile(cfg.SeedFile), nil
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddPayment records a payment against a shift.
func (s *Store) AddPayment(shift core.Shift, p core.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, entry{shift: shift, payment: p})
}

func (s *Store) Status(_ context.Context, shift core.Shift) (backend.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.latest(shift, s.today())
	switch {
	case sess == nil:
		return backend.SessionStatus{}, nil
	case sess.open:
		return backend.SessionStatus{Exists: true, Open: true, InitialAmount: sess.initial, SessionID: sess.id}, nil
	default:
		return backend.SessionStatus{Exists: true}, nil
	}
}

func (s *Store) Open(_ context.Context, req backend.OpenRequest) (backend.OpenResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if res, ok := s.opened[req.IdempotencyKey]; ok {
			return res, nil
		}
	}
	if err := req.Shift.Validate(); err != nil {
		return backend.OpenResult{}, &backend.APIError{Status: http.StatusBadRequest, Message: "Turno inválido"}
	}
	if strings.TrimSpace(req.Responsible) == "" {
		return backend.OpenResult{}, &backend.APIError{Status: http.StatusBadRequest, Message: "Responsable requerido"}
	}
	day := s.today()
	if sess := s.latest(req.Shift, day); sess != nil && sess.open {
		return backend.OpenResult{}, &backend.APIError{Status: http.StatusConflict, Message: "Ya existe una caja abierta"}
	}

	initial := strings.TrimSpace(req.InitialAmount)
	if initial == "" {
		inherited, ok := s.inherited(day)
		if !ok {
			return backend.OpenResult{}, &backend.APIError{Status: http.StatusBadRequest, Message: "Saldo inicial requerido"}
		}
		initial = inherited
	} else if _, err := core.ParseAmount(initial); err != nil {
		return backend.OpenResult{}, &backend.APIError{Status: http.StatusBadRequest, Message: "Saldo inicial inválido"}
	}

	s.nextID++
	sess := &session{
		id:          strconv.Itoa(s.nextID),
		shift:       req.Shift,
		day:         day,
		responsible: req.Responsible,
		initial:     initial,
		open:        true,
	}
	s.sessions = append(s.sessions, sess)

	res := backend.OpenResult{SessionID: sess.id, InitialAmount: initial}
	if req.IdempotencyKey != "" {
		s.opened[req.IdempotencyKey] = res
	}
	return res, nil
}

func (s *Store) Close(_ context.Context, sessionID string, st core.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.id != sessionID {
			continue
		}
		if !sess.open {
			return &backend.APIError{Status: http.StatusConflict, Message: "La caja ya está cerrada"}
		}
		sess.open = false
		sess.settlement = st
		return nil
	}
	return &backend.APIError{Status: http.StatusNotFound, Message: "Caja no encontrada"}
}

func (s *Store) ListPayments(_ context.Context, shift core.Shift, day time.Time) ([]core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := day.Format(time.DateOnly)
	var out []core.Payment
	for _, e := range s.payments {
		if shift != core.AllShifts && e.shift != shift {
			continue
		}
		if e.payment.Timestamp.In(day.Location()).Format(time.DateOnly) != want {
			continue
		}
		out = append(out, e.payment)
	}
	return out, nil
}

// Settlement returns what a closed session was settled with.
func (s *Store) Settlement(sessionID string) (core.Settlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.id == sessionID && !sess.open {
			return sess.settlement, true
		}
	}
	return core.Settlement{}, false
}

func (s *Store) today() string {
	return s.now().Format(time.DateOnly)
}

func (s *Store) latest(shift core.Shift, day string) *session {
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if sess := s.sessions[i]; sess.shift == shift && sess.day == day {
			return sess
		}
	}
	return nil
}

// inherited is the cash left in the drawer by the last session closed today.
func (s *Store) inherited(day string) (string, bool) {
	for i := len(s.sessions) - 1; i >= 0; i-- {
		sess := s.sessions[i]
		if sess.day != day || sess.open {
			continue
		}
		left := core.AmountOrZero(sess.initial).Add(sess.settlement.CashTotal)
		return left.String(), true
	}
	return "", false
}

func readLines(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
