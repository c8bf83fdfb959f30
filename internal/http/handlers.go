package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gymspace/internal/caja"
	"gymspace/internal/core"
	"gymspace/internal/log"
)

type sessionResponse struct {
	Shift         string           `json:"turno"`
	Phase         string           `json:"phase"`
	SessionID     string           `json:"cashRegisterId,omitempty"`
	InitialAmount string           `json:"initialAmount,omitempty"`
	Responsible   string           `json:"responsable,omitempty"`
	IsOpen        bool             `json:"cajaAbierta"`
	IsClosed      bool             `json:"cajaCerrada"`
	Exists        bool             `json:"existe"`
	JustClosed    bool             `json:"justClosed"`
	LastError     string           `json:"lastError,omitempty"`
	Balance       *balanceResponse `json:"balance,omitempty"`
}

type balanceResponse struct {
	CashTotal      string `json:"totalEfectivo"`
	CardTotal      string `json:"totalTarjeta"`
	TotalCollected string `json:"totalRecaudado"`
	FinalBalance   string `json:"saldoFinal"`
	Payments       int    `json:"pagos"`
}

type settlementResponse struct {
	ClosingTime   string `json:"horaCierre"`
	CashTotal     string `json:"totalEfectivo"`
	CardTotal     string `json:"totalTarjeta"`
	InitialAmount string `json:"saldoInicial"`
	Total         string `json:"total"`
}

type closeResponse struct {
	Settlement settlementResponse `json:"settlement"`
	Session    sessionResponse    `json:"session"`
}

type selectShiftRequest struct {
	Shift string `json:"turno"`
}

type openRequest struct {
	Responsible   string     `json:"responsable"`
	InitialAmount amountText `json:"saldoInicial"`
}

func newSessionResponse(snap caja.Snapshot) sessionResponse {
	return sessionResponse{
		Shift:         snap.Shift.String(),
		Phase:         snap.Phase.String(),
		SessionID:     snap.SessionID,
		InitialAmount: snap.InitialAmount,
		Responsible:   snap.Responsible,
		IsOpen:        snap.IsOpen,
		IsClosed:      snap.IsClosed,
		Exists:        snap.Exists,
		JustClosed:    snap.JustClosed,
		LastError:     snap.LastError,
	}
}

func newBalanceResponse(b core.Balance, payments int) *balanceResponse {
	return &balanceResponse{
		CashTotal:      b.CashTotal.String(),
		CardTotal:      b.CardTotal.String(),
		TotalCollected: b.TotalCollected.String(),
		FinalBalance:   b.FinalBalance.String(),
		Payments:       payments,
	}
}

func newSettlementResponse(st core.Settlement) settlementResponse {
	return settlementResponse{
		ClosingTime:   st.ClosingTime,
		CashTotal:     st.CashTotal.String(),
		CardTotal:     st.CardTotal.String(),
		InitialAmount: st.InitialAmount,
		Total:         st.Total().String(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
	})
}

// handleReady reports whether the session mirror is reachable, along with
// middleware counters.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.mirror == nil {
		checks["mirror"] = "not_configured"
	} else if err := s.mirror.Ping(ctx); err != nil {
		checks["mirror"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["mirror"] = "ok"
	}

	if s.paymentsCache != nil {
		checks["payments_cache"] = s.paymentsCache.Stats()
	}
	checks["rate_limiter"] = map[string]any{"active_clients": s.limiter.ActiveClients()}
	checks["requests"] = s.tracer.GetMetrics()
	checks["suspicious_requests"] = s.detector.SuspiciousRequests()

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleGetSession returns the snapshot with today's running balance. A
// failed payments lookup leaves the balance out rather than failing.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap := s.workflow.Snapshot()
	resp := newSessionResponse(snap)

	payments, err := s.listPayments(r.Context(), snap.Shift)
	if err != nil {
		s.logger.WarnContext(r.Context(), "Payments lookup failed",
			log.NewFields().WithSession(snap.Shift.String(), snap.SessionID).WithError(err).ToSlice()...)
	} else {
		resp.Balance = newBalanceResponse(s.workflow.Balance(payments), len(payments))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	snap := s.workflow.Snapshot()
	payments, err := s.listPayments(r.Context(), snap.Shift)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBalanceResponse(s.workflow.Balance(payments), len(payments)))
}

func (s *Server) handleSelectShift(w http.ResponseWriter, r *http.Request) {
	var req selectShiftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	shift, err := core.ParseShift(req.Shift)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.workflow.SelectShift(r.Context(), shift); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s.workflow.Snapshot()))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.Sync(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s.workflow.Snapshot()))
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.workflow.Open(r.Context(), caja.OpenInput{
		Responsible:   req.Responsible,
		InitialAmount: string(req.InitialAmount),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidatePayments(snap.Shift)
	writeJSON(w, http.StatusCreated, newSessionResponse(snap))
}

// handleClose settles against a fresh payments list, never a cached one.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	snap := s.workflow.Snapshot()
	if snap.SessionID == "" {
		s.writeError(w, r, caja.ErrNoOpenSession)
		return
	}

	payments, err := s.fetchPayments(r.Context(), snap.Shift)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settlement, err := s.workflow.Close(r.Context(), payments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidatePayments(snap.Shift)
	writeJSON(w, http.StatusOK, closeResponse{
		Settlement: newSettlementResponse(settlement),
		Session:    newSessionResponse(s.workflow.Snapshot()),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.workflow.Reset(r.Context())
	writeJSON(w, http.StatusOK, newSessionResponse(s.workflow.Snapshot()))
}

func (s *Server) paymentsKey(shift core.Shift) string {
	return shift.String() + "|" + s.now().Format(time.DateOnly)
}

// listPayments returns today's payments for shift, cached when enabled.
func (s *Server) listPayments(ctx context.Context, shift core.Shift) ([]core.Payment, error) {
	if s.paymentsCache != nil {
		if items, found := s.paymentsCache.Get(s.paymentsKey(shift)); found {
			s.logger.DebugContext(ctx, "Payments cache hit", log.FieldShift, shift.String(), log.FieldPayments, len(items))
			// Return a copy to prevent external mutation
			result := make([]core.Payment, len(items))
			copy(result, items)
			return result, nil
		}
	}

	items, err := s.fetchPayments(ctx, shift)
	if err != nil {
		return nil, err
	}
	if s.paymentsCache != nil {
		s.paymentsCache.Set(s.paymentsKey(shift), items)
	}
	return items, nil
}

func (s *Server) fetchPayments(ctx context.Context, shift core.Shift) ([]core.Payment, error) {
	if s.payments == nil {
		return nil, errors.New("payments source not configured")
	}
	items, err := s.payments.ListPayments(ctx, shift, s.now())
	if err != nil {
		return nil, fmt.Errorf("list payments (shift=%s): %w", shift, err)
	}
	return items, nil
}

// invalidatePayments drops every cached day of shift, including ones left
// over from before midnight.
func (s *Server) invalidatePayments(shift core.Shift) {
	if s.paymentsCache != nil {
		s.paymentsCache.DeletePrefix(shift.String() + "|")
	}
}
