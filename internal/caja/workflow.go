// Package caja holds the cash-register session workflow for one front desk.
//
// The backend is the source of truth: a session is only reported open after
// the backend confirmed it, either through a status query or an accepted
// open request. Open and close move through explicit in-flight phases so a
// second request made while one is pending fails fast instead of racing.
package caja

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"gymspace/internal/backend"
	"gymspace/internal/core"
	"gymspace/internal/log"
	"gymspace/internal/services"
)

// Mirror keys.
const (
	KeyOpen          = "cajaAbierta"
	KeyInitialAmount = "initialAmount"
	KeySessionID     = "cashRegisterId"
	KeyClosed        = "cajaCerrada"
)

const (
	defaultErrorDisplay   = 5 * time.Second
	defaultSyncTimeout    = 10 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

var (
	ErrAlreadyOpen           = errors.New("cash session already open")
	ErrTransitionInFlight    = errors.New("another open or close is in progress")
	ErrMissingResponsible    = errors.New("responsible party is required")
	ErrInitialAmountRequired = errors.New("initial amount is required for the first shift")
	ErrNoOpenSession         = errors.New("no open cash session")
)

// SessionCache is a redundant copy of the session flags that survives a
// restart. It is never read as the source of truth.
type SessionCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, keys ...string) error
}

type Options struct {
	Backend   backend.CajaAPI
	Cache     SessionCache
	Schedule  *services.ShiftSchedule
	Publisher EventPublisher // optional
	Clock     Clock          // optional, defaults to the system clock
	Logger    *log.Logger    // optional

	// ErrorDisplay is how long a failed open's message stays visible.
	ErrorDisplay time.Duration
	// SyncTimeout bounds a shared status query, independent of the
	// callers waiting on it.
	SyncTimeout time.Duration
	// PublishTimeout bounds the best-effort event publish after open and
	// close.
	PublishTimeout time.Duration
	// Shift is the initially selected shift; zero means the one the
	// schedule resolves for now.
	Shift core.Shift
}

type OpenInput struct {
	Responsible   string
	InitialAmount string // optional after the first shift of the day
}

type Workflow struct {
	api          backend.CajaAPI
	cache        SessionCache
	schedule     *services.ShiftSchedule
	publisher    EventPublisher
	clock        Clock
	logger       *log.Logger
	errorDisplay time.Duration
	syncTimeout  time.Duration
	pubTimeout   time.Duration

	syncs singleflight.Group

	mu       sync.Mutex
	st       holder
	errGen   uint64
	errTimer Timer
}

func New(opts Options) (*Workflow, error) {
	if opts.Backend == nil {
		return nil, errors.New("caja: backend is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("caja: session cache is required")
	}
	w := &Workflow{
		api:          opts.Backend,
		cache:        opts.Cache,
		schedule:     opts.Schedule,
		publisher:    opts.Publisher,
		clock:        opts.Clock,
		logger:       opts.Logger,
		errorDisplay: opts.ErrorDisplay,
		syncTimeout:  opts.SyncTimeout,
		pubTimeout:   opts.PublishTimeout,
	}
	if w.schedule == nil {
		w.schedule = services.DefaultShiftSchedule()
	}
	if w.clock == nil {
		w.clock = systemClock{}
	}
	if w.logger == nil {
		w.logger = log.FromSlog(nil, log.ComponentCaja)
	}
	if w.errorDisplay <= 0 {
		w.errorDisplay = defaultErrorDisplay
	}
	if w.syncTimeout <= 0 {
		w.syncTimeout = defaultSyncTimeout
	}
	if w.pubTimeout <= 0 {
		w.pubTimeout = defaultPublishTimeout
	}

	shift := opts.Shift
	if shift == "" {
		shift = w.schedule.Resolve(w.clock.Now())
	}
	if err := shift.Validate(); err != nil {
		return nil, fmt.Errorf("caja: initial shift %q: %w", shift, err)
	}
	w.st = newHolder(shift)
	return w, nil
}

// Snapshot returns a copy of the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.Snapshot
}

// Balance computes the running totals of the selected shift's open session.
func (w *Workflow) Balance(payments []core.Payment) core.Balance {
	w.mu.Lock()
	initial := w.st.InitialAmount
	w.mu.Unlock()
	return core.ComputeBalance(initial, payments)
}

// Schedule returns the shift schedule the workflow resolves against.
func (w *Workflow) Schedule() *services.ShiftSchedule {
	return w.schedule
}

// Sync queries the backend for the selected shift's session. Concurrent
// syncs of the same state share one backend call, which is bounded by the
// sync timeout rather than by any single caller's context. A caller whose
// ctx ends stops waiting without failing the others. On failure the state
// is left as it was.
func (w *Workflow) Sync(ctx context.Context) error {
	w.mu.Lock()
	shift, epoch := w.st.Shift, w.st.epoch
	w.mu.Unlock()

	key := fmt.Sprintf("%s#%d", shift, epoch)
	flight := w.syncs.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.syncTimeout)
		defer cancel()
		return w.api.Status(callCtx, shift)
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return fmt.Errorf("sync %s: %w", shift, ctx.Err())
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		w.logger.WarnContext(ctx, "Session sync failed",
			log.NewFields().WithOperation(log.OpSync).WithSession(shift.String(), "").WithError(err).ToSlice()...)
		return fmt.Errorf("sync %s: %w", shift, err)
	}
	status := v.(backend.SessionStatus)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.st.epoch != epoch || w.st.Phase.inFlight() {
		w.logger.DebugContext(ctx, "Discarding stale sync result",
			log.FieldShift, shift.String(), log.FieldPhase, w.st.Phase.String())
		return nil
	}
	switch {
	case status.Open:
		w.st.markOpen(status.SessionID, status.InitialAmount)
	case status.Exists:
		w.st.markClosed()
	default:
		w.st.markNotExisting()
	}
	w.logger.DebugContext(ctx, "Session synced",
		log.FieldShift, shift.String(),
		log.FieldPhase, w.st.Phase.String(),
		log.FieldSessionID, w.st.SessionID,
		"shared", shared)
	return nil
}

// SelectShift switches the workflow to shift and syncs it once. Selecting
// the shift already selected does nothing.
func (w *Workflow) SelectShift(ctx context.Context, shift core.Shift) error {
	if err := shift.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	if shift == w.st.Shift {
		w.mu.Unlock()
		return nil
	}
	if w.st.Phase.inFlight() {
		w.mu.Unlock()
		return ErrTransitionInFlight
	}
	w.st.reset(shift)
	w.clearErrorLocked()
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Shift selected", log.FieldShift, shift.String())
	return w.Sync(ctx)
}

// Open asks the backend to open a session for the selected shift. Local
// state changes only after the backend accepted. A rejection is kept as
// LastError for the configured display duration.
func (w *Workflow) Open(ctx context.Context, in OpenInput) (Snapshot, error) {
	responsible := strings.TrimSpace(in.Responsible)
	amount := strings.TrimSpace(in.InitialAmount)

	w.mu.Lock()
	switch {
	case w.st.Phase.inFlight():
		w.mu.Unlock()
		return Snapshot{}, ErrTransitionInFlight
	case w.st.Phase == PhaseOpen:
		w.mu.Unlock()
		return Snapshot{}, ErrAlreadyOpen
	}
	shift := w.st.Shift
	if responsible == "" {
		w.mu.Unlock()
		return Snapshot{}, ErrMissingResponsible
	}
	if amount == "" && w.schedule.IsFirst(shift) {
		w.mu.Unlock()
		return Snapshot{}, ErrInitialAmountRequired
	}
	if amount != "" {
		if _, err := core.ParseAmount(amount); err != nil {
			w.mu.Unlock()
			return Snapshot{}, fmt.Errorf("initial amount %q: %w", amount, err)
		}
	}
	prev := w.st.Phase
	w.st.Phase = PhaseOpening
	epoch := w.st.epoch
	w.mu.Unlock()

	res, err := w.api.Open(ctx, backend.OpenRequest{
		Shift:          shift,
		Responsible:    responsible,
		InitialAmount:  amount,
		IdempotencyKey: uuid.NewString(),
	})

	w.mu.Lock()
	if w.st.epoch != epoch {
		// Reset while the request was pending; the outcome belongs to a
		// state that no longer exists.
		w.mu.Unlock()
		w.logger.WarnContext(ctx, "Open finished after reset",
			log.NewFields().WithOperation(log.OpOpen).WithSession(shift.String(), res.SessionID).WithError(err).ToSlice()...)
		if err != nil {
			return Snapshot{}, fmt.Errorf("open %s: %w", shift, err)
		}
		return w.Snapshot(), nil
	}
	if err != nil {
		w.st.Phase = prev
		w.setErrorLocked(backend.UserMessage(err))
		w.mu.Unlock()
		w.logger.ErrorContext(ctx, "Open session failed",
			log.NewFields().WithOperation(log.OpOpen).WithSession(shift.String(), "").WithError(err).ToSlice()...)
		return Snapshot{}, fmt.Errorf("open %s: %w", shift, err)
	}
	w.st.markOpen(res.SessionID, res.InitialAmount)
	w.st.Responsible = responsible
	w.st.epoch++
	w.clearErrorLocked()
	snap := w.st.Snapshot
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Cash session opened",
		log.FieldShift, shift.String(),
		log.FieldSessionID, res.SessionID,
		log.FieldResponsible, responsible,
		log.FieldInitialAmount, res.InitialAmount)

	w.mirrorSet(ctx, map[string]string{
		KeyOpen:          "true",
		KeyInitialAmount: res.InitialAmount,
		KeySessionID:     res.SessionID,
	})
	w.mirrorClear(ctx, KeyClosed)
	w.publish(ctx, Event{
		Type:          EventOpened,
		Shift:         shift,
		SessionID:     res.SessionID,
		Responsible:   responsible,
		InitialAmount: res.InitialAmount,
		OccurredAt:    w.clock.Now(),
	})
	return snap, nil
}

// Close settles the open session with payments and asks the backend to
// close it. Without a session id nothing happens and ErrNoOpenSession is
// returned. If the backend refuses, the session stays open.
func (w *Workflow) Close(ctx context.Context, payments []core.Payment) (core.Settlement, error) {
	w.mu.Lock()
	if w.st.Phase.inFlight() {
		w.mu.Unlock()
		return core.Settlement{}, ErrTransitionInFlight
	}
	if w.st.SessionID == "" {
		w.mu.Unlock()
		return core.Settlement{}, ErrNoOpenSession
	}
	shift, sessionID, responsible := w.st.Shift, w.st.SessionID, w.st.Responsible
	settlement := core.Settle(w.st.InitialAmount, payments, w.clock.Now())
	prev := w.st.Phase
	w.st.Phase = PhaseClosing
	epoch := w.st.epoch
	w.mu.Unlock()

	err := w.api.Close(ctx, sessionID, settlement)

	w.mu.Lock()
	current := w.st.epoch == epoch
	if err != nil {
		if current {
			w.st.Phase = prev
		}
		w.mu.Unlock()
		w.logger.ErrorContext(ctx, "Close session failed",
			log.NewFields().WithOperation(log.OpClose).WithSession(shift.String(), sessionID).WithError(err).ToSlice()...)
		return core.Settlement{}, fmt.Errorf("close %s: %w", shift, err)
	}
	if current {
		w.st.markClosed()
		w.st.JustClosed = true
		w.st.epoch++
	}
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Cash session closed",
		log.NewFields().WithSession(shift.String(), sessionID).
			WithSettlement(settlement.CashTotal.Cents, settlement.CardTotal.Cents).ToSlice()...)

	// After a reset the mirror belongs to the next user and is left alone.
	// The backend did close the session, so the event is still published.
	if current {
		w.mirrorClear(ctx, KeyOpen, KeyInitialAmount, KeySessionID)
		w.mirrorSet(ctx, map[string]string{KeyClosed: "true"})
	} else {
		w.logger.WarnContext(ctx, "Close finished after reset",
			log.NewFields().WithOperation(log.OpClose).WithSession(shift.String(), sessionID).ToSlice()...)
	}
	w.publish(ctx, Event{
		Type:          EventClosed,
		Shift:         shift,
		SessionID:     sessionID,
		Responsible:   responsible,
		InitialAmount: settlement.InitialAmount,
		Settlement:    &settlement,
		OccurredAt:    w.clock.Now(),
	})
	return settlement, nil
}

// Restore reads the mirror after a restart. Only the just-closed notice is
// recovered; whether a session is open is always asked of the backend.
func (w *Workflow) Restore(ctx context.Context) error {
	closed, ok, err := w.cache.Get(ctx, KeyClosed)
	if err != nil {
		w.logger.WarnContext(ctx, "Mirror read failed",
			log.NewFields().WithOperation(log.OpRestore).WithError(err).ToSlice()...)
		return fmt.Errorf("restore: %w", err)
	}
	if id, found, err := w.cache.Get(ctx, KeySessionID); err != nil {
		w.logger.WarnContext(ctx, "Mirror read failed",
			log.NewFields().WithOperation(log.OpRestore).WithError(err).ToSlice()...)
	} else if found {
		w.logger.DebugContext(ctx, "Mirror holds a session id", log.FieldSessionID, id)
	}

	w.mu.Lock()
	w.st.JustClosed = ok && closed == "true"
	justClosed := w.st.JustClosed
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Session mirror restored", "just_closed", justClosed)
	return nil
}

// Reset forgets all session state, as on logout. The selected shift goes
// back to the one the schedule resolves for now.
func (w *Workflow) Reset(ctx context.Context) {
	w.mu.Lock()
	w.st.reset(w.schedule.Resolve(w.clock.Now()))
	w.clearErrorLocked()
	shift := w.st.Shift
	w.mu.Unlock()

	w.mirrorClear(ctx, KeyOpen, KeyInitialAmount, KeySessionID, KeyClosed)
	w.logger.InfoContext(ctx, "Session state reset", log.FieldOperation, log.OpReset, log.FieldShift, shift.String())
}

// setErrorLocked shows msg until the display duration elapses. A timer only
// clears the message it was armed for.
func (w *Workflow) setErrorLocked(msg string) {
	w.errGen++
	gen := w.errGen
	w.st.LastError = msg
	if w.errTimer != nil {
		w.errTimer.Stop()
	}
	w.errTimer = w.clock.AfterFunc(w.errorDisplay, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.errGen == gen {
			w.st.LastError = ""
		}
	})
}

func (w *Workflow) clearErrorLocked() {
	w.errGen++
	w.st.LastError = ""
	if w.errTimer != nil {
		w.errTimer.Stop()
		w.errTimer = nil
	}
}

func (w *Workflow) mirrorSet(ctx context.Context, values map[string]string) {
	for k, v := range values {
		if err := w.cache.Set(ctx, k, v); err != nil {
			w.logger.WarnContext(ctx, "Mirror write failed",
				log.NewFields().WithOperation(log.OpMirror).WithError(err).ToSlice()...)
		}
	}
}

func (w *Workflow) mirrorClear(ctx context.Context, keys ...string) {
	if err := w.cache.Clear(ctx, keys...); err != nil {
		w.logger.WarnContext(ctx, "Mirror clear failed",
			log.NewFields().WithOperation(log.OpMirror).WithError(err).ToSlice()...)
	}
}

// publish sends e within the publish timeout. The transition has already
// happened, so a slow or absent broker only costs a warning.
func (w *Workflow) publish(ctx context.Context, e Event) {
	if w.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.pubTimeout)
	defer cancel()
	if err := w.publisher.Publish(pubCtx, e); err != nil {
		w.logger.WarnContext(ctx, "Event publish failed",
			log.NewFields().WithOperation(log.OpPublish).WithSession(e.Shift.String(), e.SessionID).WithError(err).ToSlice()...)
		return
	}
	w.logger.DebugContext(ctx, "Event published", log.FieldEventType, string(e.Type))
}
