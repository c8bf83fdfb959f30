package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gymspace/internal/backend"
	"gymspace/internal/backend/memory"
	"gymspace/internal/caja"
	"gymspace/internal/core"
	"gymspace/internal/storage"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) AfterFunc(d time.Duration, f func()) caja.Timer {
	return time.AfterFunc(d, f)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("disk gone") }

// downBackend fails every open as if the backend could not be reached.
type downBackend struct{ *memory.Store }

func (downBackend) Open(context.Context, backend.OpenRequest) (backend.OpenResult, error) {
	return backend.OpenResult{}, fmt.Errorf("post caja: %w", backend.ErrUnavailable)
}

type fixture struct {
	srv    *Server
	store  *memory.Store
	mirror *storage.MemoryMirror
}

func newFixture(t *testing.T, mutate func(*Options), api backend.CajaAPI) *fixture {
	t.Helper()
	store := memory.New()
	store.SetClock(func() time.Time { return testNow })
	if api == nil {
		api = store
	}
	mirror := storage.NewMemoryMirror()

	wf, err := caja.New(caja.Options{
		Backend: api,
		Cache:   mirror,
		Clock:   fixedClock{now: testNow},
		Shift:   core.Morning,
	})
	if err != nil {
		t.Fatalf("caja.New: %v", err)
	}

	opts := Options{
		Workflow:         wf,
		Payments:         api,
		Mirror:           mirror,
		AllowedOrigin:    "http://dashboard.test",
		RateLimitPerMin:  100,
		PaymentsCacheTTL: time.Minute,
		Now:              func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := NewServer(":0", opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &fixture{srv: srv, store: store, mirror: mirror}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func (f *fixture) pay(method core.PaymentMethod, amount string) {
	f.store.AddPayment(core.Morning, core.Payment{
		Method:    method,
		Amount:    core.AmountOrZero(amount),
		Timestamp: testNow,
	})
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t, nil, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := f.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing request id header", path)
		}
	}

	broken := newFixture(t, func(o *Options) { o.Mirror = failingPinger{} }, nil)
	rr := broken.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing mirror, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestOpenAndCloseFlow(t *testing.T) {
	f := newFixture(t, nil, nil)

	rr := f.do(t, http.MethodGet, "/api/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get session: %d", rr.Code)
	}
	sess := decode[sessionResponse](t, rr)
	if sess.Shift != "mañana" || sess.IsOpen || sess.Balance == nil || sess.Balance.FinalBalance != "0" {
		t.Fatalf("unexpected initial session: %+v", sess)
	}

	rr = f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"ana"}`)
	if rr.Code != http.StatusBadRequest || decode[errorResponse](t, rr).Code != "initial_amount_required" {
		t.Fatalf("open without amount: %d %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"ana","saldoInicial":100}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open: %d %s", rr.Code, rr.Body.String())
	}
	sess = decode[sessionResponse](t, rr)
	if !sess.IsOpen || sess.SessionID != "1" || sess.InitialAmount != "100" || sess.Phase != "open" {
		t.Fatalf("unexpected open session: %+v", sess)
	}
	if v, ok, _ := f.mirror.Get(context.Background(), caja.KeySessionID); !ok || v != "1" {
		t.Fatalf("mirror session id = %q, %v", v, ok)
	}

	rr = f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"ana","saldoInicial":"100"}`)
	if rr.Code != http.StatusConflict || decode[errorResponse](t, rr).Code != "already_open" {
		t.Fatalf("second open: %d %s", rr.Code, rr.Body.String())
	}

	// Cached balance does not see payments recorded after it was read.
	if bal := decode[balanceResponse](t, f.do(t, http.MethodGet, "/api/session/balance", "")); bal.Payments != 0 {
		t.Fatalf("expected empty balance, got %+v", bal)
	}
	f.pay(core.Cash, "50")
	f.pay(core.Card, "30")
	f.pay(core.UnknownMethod, "5")
	if bal := decode[balanceResponse](t, f.do(t, http.MethodGet, "/api/session/balance", "")); bal.Payments != 0 {
		t.Fatalf("expected cached balance, got %+v", bal)
	}

	rr = f.do(t, http.MethodPost, "/api/session/close", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("close: %d %s", rr.Code, rr.Body.String())
	}
	closed := decode[closeResponse](t, rr)
	want := settlementResponse{ClosingTime: "10:00", CashTotal: "50", CardTotal: "30", InitialAmount: "100", Total: "80"}
	if closed.Settlement != want {
		t.Fatalf("settlement = %+v, want %+v", closed.Settlement, want)
	}
	if closed.Session.IsOpen || !closed.Session.IsClosed || !closed.Session.JustClosed || closed.Session.SessionID != "" {
		t.Fatalf("unexpected closed session: %+v", closed.Session)
	}

	bal := decode[balanceResponse](t, f.do(t, http.MethodGet, "/api/session/balance", ""))
	if bal.Payments != 3 || bal.TotalCollected != "85" {
		t.Fatalf("balance after close should be fresh: %+v", bal)
	}

	rr = f.do(t, http.MethodPost, "/api/session/close", "")
	if rr.Code != http.StatusConflict || decode[errorResponse](t, rr).Code != "no_open_session" {
		t.Fatalf("second close: %d %s", rr.Code, rr.Body.String())
	}
}

func TestLaterShiftInheritsDrawer(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"ana","saldoInicial":"100"}`)
	f.pay(core.Cash, "50")
	if rr := f.do(t, http.MethodPost, "/api/session/close", ""); rr.Code != http.StatusOK {
		t.Fatalf("close: %d %s", rr.Code, rr.Body.String())
	}

	rr := f.do(t, http.MethodPut, "/api/session/shift", `{"turno":"afternoon"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("select shift: %d %s", rr.Code, rr.Body.String())
	}
	if sess := decode[sessionResponse](t, rr); sess.Shift != "tarde" || sess.Exists {
		t.Fatalf("unexpected afternoon session: %+v", sess)
	}

	rr = f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"luis"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open afternoon: %d %s", rr.Code, rr.Body.String())
	}
	if sess := decode[sessionResponse](t, rr); sess.InitialAmount != "150" {
		t.Fatalf("expected inherited 150, got %+v", sess)
	}
}

func TestSelectShiftValidation(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		body string
		code string
	}{
		{`{"turno":"todos"}`, "shift_not_session_scoped"},
		{`{"turno":"noche"}`, "invalid_shift"},
		{`{"turno":`, "bad_request"},
		{`{"turno":"tarde","extra":1}`, "bad_request"},
		{`{"turno":"tarde"} {}`, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			rr := f.do(t, http.MethodPut, "/api/session/shift", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if got := decode[errorResponse](t, rr).Code; got != tt.code {
				t.Fatalf("code=%q, want %q", got, tt.code)
			}
		})
	}
}

func TestBackendRejectionIsShown(t *testing.T) {
	f := newFixture(t, nil, nil)
	// Another desk opened the morning session behind our back.
	if _, err := f.store.Open(context.Background(), backend.OpenRequest{
		Shift: core.Morning, Responsible: "otro", InitialAmount: "10",
	}); err != nil {
		t.Fatalf("seed open: %v", err)
	}

	rr := f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"ana","saldoInicial":"100"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", rr.Code, rr.Body.String())
	}
	if msg := decode[errorResponse](t, rr).Error; msg != "Ya existe una caja abierta" {
		t.Fatalf("message = %q", msg)
	}
	if sess := decode[sessionResponse](t, f.do(t, http.MethodGet, "/api/session", "")); sess.LastError != "Ya existe una caja abierta" || sess.IsOpen {
		t.Fatalf("unexpected session after rejection: %+v", sess)
	}

	rr = f.do(t, http.MethodPost, "/api/session/sync", "")
	if sess := decode[sessionResponse](t, rr); rr.Code != http.StatusOK || !sess.IsOpen || sess.InitialAmount != "10" {
		t.Fatalf("sync should pick up the open session: %d %+v", rr.Code, sess)
	}
}

func TestBackendUnavailable(t *testing.T) {
	store := memory.New()
	f := newFixture(t, nil, downBackend{store})

	rr := f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"ana","saldoInicial":"100"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", rr.Code, rr.Body.String())
	}
	if msg := decode[errorResponse](t, rr).Error; msg != "No se pudo conectar con el servidor" {
		t.Fatalf("message = %q", msg)
	}
}

func TestResetForgetsSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.do(t, http.MethodPost, "/api/session/open", `{"responsable":"ana","saldoInicial":"100"}`)

	rr := f.do(t, http.MethodDelete, "/api/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reset: %d", rr.Code)
	}
	if sess := decode[sessionResponse](t, rr); sess.IsOpen || sess.SessionID != "" || sess.Shift != "mañana" {
		t.Fatalf("unexpected session after reset: %+v", sess)
	}
	if _, ok, _ := f.mirror.Get(context.Background(), caja.KeyOpen); ok {
		t.Fatal("mirror should be cleared on reset")
	}
}

func TestRateLimitOnlyMutating(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RateLimitPerMin = 2 }, nil)

	for i := 0; i < 2; i++ {
		if rr := f.do(t, http.MethodPost, "/api/session/sync", ""); rr.Code != http.StatusOK {
			t.Fatalf("sync %d: %d", i, rr.Code)
		}
	}
	rr := f.do(t, http.MethodPost, "/api/session/sync", "")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/api/session", ""); rr.Code != http.StatusOK {
		t.Fatalf("GET should not be limited, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/session/open", nil)
	req.Header.Set("Origin", "http://dashboard.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("preflight status=%d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.test" {
		t.Fatalf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Origin", "http://evil.test")
	rr = httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be allowed")
	}
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, nil, nil)
	rr := f.do(t, http.MethodGet, "/api/session", "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("initial amount %q: %w", "x", core.ErrInvalidAmount), http.StatusBadRequest},
		{caja.ErrMissingResponsible, http.StatusBadRequest},
		{caja.ErrTransitionInFlight, http.StatusConflict},
		{fmt.Errorf("open: %w", &backend.APIError{Status: 409, Message: "nope"}), http.StatusUnprocessableEntity},
		{fmt.Errorf("sync: %w", backend.ErrMalformedResponse), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.status {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}

func TestAmountText(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`"12,50"`, "12,50", false},
		{`12.5`, "12.5", false},
		{`null`, "", false},
		{`true`, "", true},
	}
	for _, tt := range tests {
		var a amountText
		err := json.Unmarshal([]byte(tt.in), &a)
		if (err != nil) != tt.wantErr || string(a) != tt.want {
			t.Errorf("unmarshal %s = %q, %v", tt.in, a, err)
		}
	}
}
