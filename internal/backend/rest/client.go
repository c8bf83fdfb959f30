// Package rest talks to the gym REST backend over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"gymspace/internal/backend"
	"gymspace/internal/core"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

var _ backend.CajaAPI = (*Client)(nil)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client for the backend rooted at baseURL. A zero timeout
// falls back to ten seconds.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "backend", "backend", "rest"),
	}, nil
}

// NewFromConfig adapts New to the backend factory.
func NewFromConfig(cfg backend.Config) (backend.CajaAPI, error) {
	return New(cfg.BaseURL, cfg.Timeout)
}

type statusResponse struct {
	Exists        bool       `json:"existe"`
	Open          bool       `json:"abierta"`
	InitialAmount flexString `json:"saldoInicial"`
	ID            flexString `json:"id"`
}

func (c *Client) Status(ctx context.Context, shift core.Shift) (backend.SessionStatus, error) {
	var resp statusResponse
	path := "/api/caja/abierta/" + url.PathEscape(shift.String())
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return backend.SessionStatus{}, fmt.Errorf("session status for %s: %w", shift, err)
	}
	return backend.SessionStatus{
		Exists:        resp.Exists || resp.Open,
		Open:          resp.Open,
		InitialAmount: string(resp.InitialAmount),
		SessionID:     string(resp.ID),
	}, nil
}

type openRequest struct {
	Shift         string `json:"turno"`
	Responsible   string `json:"responsable"`
	InitialAmount string `json:"saldoInicial,omitempty"`
}

type openResponse struct {
	ID            flexString `json:"id"`
	InitialAmount flexString `json:"saldoInicial"`
}

func (c *Client) Open(ctx context.Context, req backend.OpenRequest) (backend.OpenResult, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	body := openRequest{
		Shift:         req.Shift.String(),
		Responsible:   req.Responsible,
		InitialAmount: req.InitialAmount,
	}
	var resp openResponse
	headers := http.Header{"Idempotency-Key": []string{key}}
	if err := c.do(ctx, http.MethodPost, "/api/caja/", headers, body, &resp); err != nil {
		return backend.OpenResult{}, fmt.Errorf("open session for %s: %w", req.Shift, err)
	}
	if resp.ID == "" {
		return backend.OpenResult{}, fmt.Errorf("open session for %s: missing id: %w", req.Shift, backend.ErrMalformedResponse)
	}
	initial := string(resp.InitialAmount)
	if initial == "" {
		initial = req.InitialAmount
	}
	return backend.OpenResult{SessionID: string(resp.ID), InitialAmount: initial}, nil
}

type closeRequest struct {
	ClosingTime   string      `json:"Hora Cierre"`
	CashTotal     json.Number `json:"Total Efectivo"`
	CardTotal     json.Number `json:"Total Tarjeta"`
	InitialAmount string      `json:"Saldo Inicial"`
}

func (c *Client) Close(ctx context.Context, sessionID string, s core.Settlement) error {
	if sessionID == "" {
		return errors.New("close session: empty session id")
	}
	body := closeRequest{
		ClosingTime:   s.ClosingTime,
		CashTotal:     json.Number(s.CashTotal.String()),
		CardTotal:     json.Number(s.CardTotal.String()),
		InitialAmount: s.InitialAmount,
	}
	if err := c.do(ctx, http.MethodPut, "/api/caja/"+url.PathEscape(sessionID), nil, body, nil); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	return nil
}

type paymentDTO struct {
	Amount   flexString `json:"monto"`
	Method   string     `json:"metodo_pago"`
	Date     string     `json:"fecha"`
	MemberID flexString `json:"socio_id"`
}

func (c *Client) ListPayments(ctx context.Context, shift core.Shift, day time.Time) ([]core.Payment, error) {
	q := url.Values{}
	q.Set("turno", shift.String())
	q.Set("fecha", day.Format(time.DateOnly))

	var dtos []paymentDTO
	if err := c.do(ctx, http.MethodGet, "/api/pagos?"+q.Encode(), nil, nil, &dtos); err != nil {
		return nil, fmt.Errorf("list payments for %s: %w", shift, err)
	}
	payments := make([]core.Payment, 0, len(dtos))
	for _, d := range dtos {
		method := core.ParsePaymentMethod(d.Method)
		payments = append(payments, core.Payment{
			Amount:    core.AmountOrZero(string(d.Amount)),
			Method:    method,
			Timestamp: parseTimestamp(d.Date),
			MemberID:  string(d.MemberID),
		})
	}
	return payments, nil
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do performs one request. in is JSON-encoded when non-nil; out is decoded
// from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, method, path string, headers http.Header, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	target := c.baseURL.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed", "method", method, "path", ref.Path, "error", err)
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", backend.ErrUnavailable, err)
	}
	c.logger.Debug("Backend request", "method", method, "path", ref.Path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &backend.APIError{Status: resp.StatusCode}
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Message = e.Message
			if apiErr.Message == "" {
				apiErr.Message = e.Error
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty body", backend.ErrMalformedResponse)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrMalformedResponse, err)
	}
	return nil
}

// flexString accepts a JSON string, number or null. The backend is not
// consistent about quoting ids and amounts.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*f = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*f = flexString(n.String())
		return nil
	}
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
