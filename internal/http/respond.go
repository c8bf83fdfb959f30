package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"gymspace/internal/backend"
	"gymspace/internal/caja"
	"gymspace/internal/core"
)

var errBadRequest = errors.New("malformed request body")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Local preconditions get a stable code the dashboard can switch on.
var errorCodes = []struct {
	err    error
	status int
	code   string
	msg    string
}{
	{errBadRequest, http.StatusBadRequest, "bad_request", "Solicitud inválida"},
	{core.ErrShiftNotSessionScoped, http.StatusBadRequest, "shift_not_session_scoped", "Seleccione mañana o tarde"},
	{core.ErrInvalidShift, http.StatusBadRequest, "invalid_shift", "Turno inválido"},
	{core.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", "Saldo inicial inválido"},
	{caja.ErrMissingResponsible, http.StatusBadRequest, "missing_responsible", "Responsable requerido"},
	{caja.ErrInitialAmountRequired, http.StatusBadRequest, "initial_amount_required", "Saldo inicial requerido para el primer turno"},
	{caja.ErrAlreadyOpen, http.StatusConflict, "already_open", "Ya existe una caja abierta"},
	{caja.ErrTransitionInFlight, http.StatusConflict, "in_flight", "Hay una operación de caja en curso"},
	{caja.ErrNoOpenSession, http.StatusConflict, "no_open_session", "No hay una caja abierta"},
}

// errorStatus maps a workflow or backend error to an HTTP status and the
// body shown to the user.
func errorStatus(err error) (int, errorResponse) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, errorResponse{Error: e.msg, Code: e.code}
		}
	}

	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		return http.StatusUnprocessableEntity, errorResponse{Error: backend.UserMessage(err), Code: "backend_rejected"}
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, backend.ErrMalformedResponse):
		return http.StatusBadGateway, errorResponse{Error: backend.UserMessage(err), Code: "backend_unavailable"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "Error interno", Code: "internal"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path, "status", status)
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data", errBadRequest)
	}
	return nil
}

// amountText accepts an amount written as a JSON string or number. Null and
// absent both decode to "".
type amountText string

func (a *amountText) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = amountText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*a = amountText(n.String())
	return nil
}
