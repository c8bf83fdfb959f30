package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldShift         = "shift"
	FieldSessionID     = "session_id"
	FieldPhase         = "phase"
	FieldResponsible   = "responsible"
	FieldInitialAmount = "initial_amount"
	FieldCashTotal     = "cash_total"
	FieldCardTotal     = "card_total"
	FieldPayments      = "payments"
	FieldEventType     = "event_type"
	FieldSheetsRef     = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentCaja      = "caja"
	ComponentBackend   = "backend"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpSync     = "sync"
	OpOpen     = "open"
	OpClose    = "close"
	OpRestore  = "restore"
	OpReset    = "reset"
	OpMirror   = "mirror"
	OpPublish  = "publish"
	OpExport   = "export"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithSession adds the shift and session identifier.
func (f LogFields) WithSession(shift, sessionID string) LogFields {
	f[FieldShift] = shift
	if sessionID != "" {
		f[FieldSessionID] = sessionID
	}
	return f
}

// WithSettlement adds the closing subtotals, in cents.
func (f LogFields) WithSettlement(cashCents, cardCents int64) LogFields {
	f[FieldCashTotal] = cashCents
	f[FieldCardTotal] = cardCents
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
