package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gymspace/internal/amqp"
	"gymspace/internal/cache"
	"gymspace/internal/caja"
	"gymspace/internal/core"
	"gymspace/internal/sheets"
)

const exportedTTL = 24 * time.Hour

// ExportWorker writes closed-shift settlements to the report sheet.
type ExportWorker struct {
	writer sheets.SettlementWriter
	// exported remembers session ids already written so a redelivered
	// message does not add a second row.
	exported *cache.LRUCache[string]
}

// NewExportWorker returns a worker writing to writer. A nil writer makes
// every event a logged no-op.
func NewExportWorker(writer sheets.SettlementWriter) *ExportWorker {
	return &ExportWorker{
		writer:   writer,
		exported: cache.NewLRUCache[string](1000, exportedTTL),
	}
}

// Cache exposes the dedup cache so it can be registered for cleanup.
func (w *ExportWorker) Cache() cache.Cleaner {
	return w.exported
}

// HandleEvent processes a single caja event from AMQP. Returning an error
// requeues the message.
func (w *ExportWorker) HandleEvent(ctx context.Context, msg *amqp.CajaEvent) error {
	switch caja.EventType(msg.Type) {
	case caja.EventOpened:
		slog.InfoContext(ctx, "Cash session opened",
			"component", "worker",
			"shift", msg.Shift,
			"session_id", msg.SessionID,
			"responsible", msg.Responsible,
			"initial_amount", msg.InitialAmount)
		return nil
	case caja.EventClosed:
		return w.export(ctx, msg)
	default:
		slog.WarnContext(ctx, "Ignoring unknown caja event", "component", "worker", "event_type", msg.Type)
		return nil
	}
}

func (w *ExportWorker) export(ctx context.Context, msg *amqp.CajaEvent) error {
	if w.writer == nil {
		slog.WarnContext(ctx, "No settlement writer configured, skipping export",
			"component", "worker",
			"session_id", msg.SessionID)
		return nil
	}
	if ref, ok := w.exported.Get(msg.SessionID); ok {
		slog.InfoContext(ctx, "Settlement already exported",
			"component", "worker",
			"session_id", msg.SessionID,
			"sheets_ref", ref)
		return nil
	}

	settlement, ok := msg.CoreSettlement()
	if !ok {
		// CajaEventFromJSON rejects these, so only a hand-built message gets here.
		return fmt.Errorf("closed event %s without settlement", msg.SessionID)
	}
	shift, err := core.ParseShift(msg.Shift)
	if err != nil {
		return fmt.Errorf("closed event %s: %w", msg.SessionID, err)
	}

	ref, err := w.writer.AppendSettlement(ctx, sheets.SettlementRecord{
		Date:        msg.Timestamp,
		Shift:       shift,
		SessionID:   msg.SessionID,
		Responsible: msg.Responsible,
		Settlement:  settlement,
	})
	if err != nil {
		return fmt.Errorf("append settlement: %w", err)
	}
	w.exported.Set(msg.SessionID, ref)

	slog.InfoContext(ctx, "Settlement exported",
		"component", "worker",
		"session_id", msg.SessionID,
		"shift", msg.Shift,
		"cash_total", settlement.CashTotal.Cents,
		"card_total", settlement.CardTotal.Cents,
		"sheets_ref", ref)
	return nil
}
