package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/oukeidos/restora/internal/apperrors"
	"github.com/oukeidos/restora/internal/logger"
	"github.com/oukeidos/restora/internal/media"
	"github.com/oukeidos/restora/internal/poller"
	"github.com/oukeidos/restora/internal/result"
	"github.com/oukeidos/restora/internal/service"
)

// ErrSuperseded is returned by Submit when a reset happened while the upload
// was in flight.
var ErrSuperseded = errors.New("submission superseded by reset")

const msgCanceled = "Processing was canceled"

// Submitter uploads a selection and returns the created job.
type Submitter interface {
	Submit(ctx context.Context, sel media.Selection) (service.JobHandle, error)
}

// Listener observes every state change. It runs with the machine locked and
// must not call back into the machine.
type Listener func(State)

type subscriber struct {
	id int
	fn Listener
}

// Machine serializes all lifecycle operations and poller callbacks.
type Machine struct {
	mu        sync.Mutex
	guard     *media.Guard
	svc       Submitter
	poller    *poller.Poller
	state     State
	session   *poller.Session
	unwatch   func() bool
	attempt   uint64
	abort     context.CancelFunc
	listeners []subscriber
	nextLis   int
	changed   chan struct{}
}

func NewMachine(svc Submitter, p *poller.Poller, mode media.Mode) *Machine {
	return &Machine{
		guard:     media.NewGuard(mode),
		svc:       svc,
		poller:    p,
		changed:   make(chan struct{}),
	}
}

// State returns a snapshot of the current view state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Selection returns the file held in the slot for c.
func (m *Machine) Selection(c media.Category) (media.Selection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guard.Selection(c)
}

// Subscribe registers l and returns a function that removes it.
func (m *Machine) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextLis
	m.nextLis++
	m.listeners = append(m.listeners, subscriber{id: id, fn: l})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners = slices.DeleteFunc(m.listeners, func(s subscriber) bool { return s.id == id })
	}
}

// Select validates f for category c. Selection is only possible while no
// job is running.
func (m *Machine) Select(f media.File, c media.Category) (media.Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != Upload {
		return media.Selection{}, fmt.Errorf("%w: cannot select a file while %s", ErrInvalidTransition, m.state.Phase)
	}
	sel, err := m.guard.Select(f, c)
	if err != nil {
		m.applyLocked(SelectionRejected{Err: err})
		return media.Selection{}, err
	}
	m.applyLocked(SelectionAccepted{})
	return sel, nil
}

// Remove clears the slot for c.
func (m *Machine) Remove(c media.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guard.Remove(c)
}

// Submit uploads the selection held for category (or the only selection when
// category is empty) and starts polling. ctx bounds both the upload and the
// polling session it starts; once ctx ends the job fails back to Upload.
func (m *Machine) Submit(ctx context.Context, category media.Category) (service.JobHandle, error) {
	m.mu.Lock()
	sel, err := m.pendingLocked(category)
	if err != nil {
		m.mu.Unlock()
		return service.JobHandle{}, err
	}
	if err := m.applyLocked(SubmitStarted{Category: sel.Category}); err != nil {
		m.mu.Unlock()
		return service.JobHandle{}, err
	}
	m.cancelSessionLocked()
	m.attempt++
	attempt := m.attempt
	uploadCtx, abort := context.WithCancel(ctx)
	m.abort = abort
	m.mu.Unlock()
	defer abort()

	log := logger.With("file", sel.DisplayName, "category", sel.Category)
	log.Info("Submitting file", "size_mb", fmt.Sprintf("%.2f", sel.SizeMB()))
	job, err := m.svc.Submit(uploadCtx, sel)

	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt || m.state.Phase != Submitting {
		log.Debug("Discarding superseded submission", "job_id", job.ID)
		return service.JobHandle{}, ErrSuperseded
	}
	m.abort = nil
	if err != nil {
		log.Error("Submission failed", "error", err)
		m.applyLocked(SubmitFailed{Err: err})
		return service.JobHandle{}, err
	}

	session := m.poller.Start(ctx, job.ID, poller.Handlers{
		OnUpdate:   m.onUpdate,
		OnTerminal: m.onTerminal,
		OnTimeout:  m.onTimeout,
	})
	if err := m.applyLocked(SubmitSucceeded{JobID: job.ID, Category: sel.Category, Session: session.ID}); err != nil {
		session.Cancel()
		return service.JobHandle{}, err
	}
	m.session = session
	m.unwatch = context.AfterFunc(ctx, func() { m.onContextDone(session.ID, context.Cause(ctx)) })
	log.Info("Job started", "job_id", job.ID, "session", session.ID)
	return job, nil
}

func (m *Machine) pendingLocked(category media.Category) (media.Selection, error) {
	if category == "" {
		return m.guard.Active()
	}
	sel, ok := m.guard.Selection(category)
	if !ok {
		return media.Selection{}, fmt.Errorf("no %s file selected", category)
	}
	return sel, nil
}

// Reset cancels any running session and returns to Upload with both slots
// and the message cleared.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelSessionLocked()
	m.attempt++
	m.guard.Reset()
	m.applyLocked(ResetRequested{})
}

// Wait blocks until the machine settles in Upload or Results.
func (m *Machine) Wait(ctx context.Context) (State, error) {
	for {
		m.mu.Lock()
		s, ch := m.state, m.changed
		m.mu.Unlock()
		if s.Phase == Upload || s.Phase == Results {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ch:
		}
	}
}

func (m *Machine) onUpdate(id uint64, report service.StatusReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(Progressed{Session: id, Status: report.Status})
}

func (m *Machine) onTerminal(id uint64, raw json.RawMessage, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Session != id || m.state.Job == nil {
		logger.Debug("Dropping stale terminal callback", "session", id)
		return
	}
	var ev Event
	if err == nil {
		payload, nerr := result.Normalize(raw, m.state.Job.Category)
		if nerr != nil {
			ev = Failed{Session: id, Err: nerr}
		} else {
			ev = Completed{Session: id, Payload: payload}
		}
	} else {
		ev = Failed{Session: id, Err: err}
	}
	if failed, ok := ev.(Failed); ok {
		logger.Error("Job did not complete", "job_id", m.state.Job.ID, "error", failed.Err, "kind", kindOf(failed.Err))
	}
	if m.applyLocked(ev) == nil {
		m.clearSessionLocked()
	}
}

func (m *Machine) onTimeout(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyLocked(TimedOut{Session: id}) == nil {
		logger.Warn("Job timed out", "job_id", m.state.Job.ID)
		m.clearSessionLocked()
	}
}

// onContextDone ends session id when the context given to Submit is done.
// The poller exits without reporting in that case.
func (m *Machine) onContextDone(id uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Session != id || m.state.Job == nil {
		return
	}
	jobID := m.state.Job.ID
	err := apperrors.New(apperrors.KindProcessingFailure, msgCanceled, cause)
	if m.applyLocked(Failed{Session: id, Err: err}) == nil {
		logger.Warn("Job canceled", "job_id", jobID, "error", cause)
		m.clearSessionLocked()
	}
}

func (m *Machine) cancelSessionLocked() {
	if m.abort != nil {
		m.abort()
		m.abort = nil
	}
	if m.session != nil {
		m.session.Cancel()
	}
	m.clearSessionLocked()
}

func (m *Machine) clearSessionLocked() {
	if m.unwatch != nil {
		m.unwatch()
		m.unwatch = nil
	}
	m.session = nil
}

func (m *Machine) applyLocked(ev Event) error {
	next, err := Reduce(m.state, ev)
	if err != nil {
		if errors.Is(err, ErrStaleSession) {
			logger.Debug("Dropping stale event", "event", fmt.Sprintf("%T", ev), "error", err)
		}
		return err
	}
	m.state = next
	for _, s := range m.listeners {
		s.fn(next)
	}
	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

func kindOf(err error) apperrors.Kind {
	kind, _ := apperrors.KindOf(err)
	return kind
}
