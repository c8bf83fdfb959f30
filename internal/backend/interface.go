package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gymspace/internal/core"
)

// Ports for the gym REST backend.
type (
	SessionReader interface {
		// Status reports whether a cash session exists for the shift and
		// whether it is still open.
		Status(ctx context.Context, shift core.Shift) (SessionStatus, error)
	}

	SessionWriter interface {
		Open(ctx context.Context, req OpenRequest) (OpenResult, error)
		Close(ctx context.Context, sessionID string, s core.Settlement) error
	}

	// PaymentLister returns the payments recorded for a shift on a given day.
	// AllShifts lists every payment of the day.
	PaymentLister interface {
		ListPayments(ctx context.Context, shift core.Shift, day time.Time) ([]core.Payment, error)
	}

	// CajaAPI is the full gym backend surface used by the caja workflow.
	CajaAPI interface {
		SessionReader
		SessionWriter
		PaymentLister
	}
)

type (
	SessionStatus struct {
		Exists        bool
		Open          bool
		InitialAmount string
		SessionID     string
	}

	OpenRequest struct {
		Shift          core.Shift
		Responsible    string
		InitialAmount  string // empty means the backend decides (inherited balance)
		IdempotencyKey string
	}

	OpenResult struct {
		SessionID     string
		InitialAmount string
	}
)

var (
	// ErrUnavailable wraps transport failures: the backend could not be reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrMalformedResponse is returned when a response body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// APIError is a non-2xx answer from the backend. Message is the backend's own
// text and is safe to show to the user.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// UserMessage extracts the text to show the user for a failed call.
func UserMessage(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, ErrUnavailable):
		return "No se pudo conectar con el servidor"
	default:
		return "Error inesperado del servidor"
	}
}
