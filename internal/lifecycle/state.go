// Package lifecycle owns the client-side view of one media job, from file
// selection through submission and polling to the displayed result.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/oukeidos/restora/internal/apperrors"
	"github.com/oukeidos/restora/internal/media"
	"github.com/oukeidos/restora/internal/progress"
	"github.com/oukeidos/restora/internal/result"
	"github.com/oukeidos/restora/internal/service"
)

// Phase is the screen the client is on.
type Phase int

const (
	Upload Phase = iota
	Submitting
	Processing
	Results
)

func (p Phase) String() string {
	switch p {
	case Upload:
		return "upload"
	case Submitting:
		return "submitting"
	case Processing:
		return "processing"
	case Results:
		return "results"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrStaleSession marks a poller callback from a session that is no
	// longer current. Such events are dropped.
	ErrStaleSession = errors.New("stale polling session")
)

// Job is the client's record of a submitted job. Values are replaced, never
// mutated, so snapshots handed out earlier stay valid.
type Job struct {
	ID       string
	Category media.Category
	Status   service.Status
	// Progress is the client estimate, 0 to 100.
	Progress     int
	Result       *result.Payload
	ErrorMessage string
}

// State is the single view state value.
type State struct {
	Phase Phase
	Job   *Job
	// Message is the one user-visible error of the last failure, if any.
	Message string
	// Session is the id of the poller session allowed to report.
	Session uint64
}

// Event is an input to Reduce.
type Event interface{ event() }

type (
	// SelectionAccepted clears a previous rejection message.
	SelectionAccepted struct{}
	SelectionRejected struct{ Err error }
	SubmitStarted     struct{ Category media.Category }
	SubmitSucceeded   struct {
		JobID    string
		Category media.Category
		Session  uint64
	}
	SubmitFailed struct{ Err error }
	Progressed   struct {
		Session uint64
		Status  service.Status
	}
	Completed struct {
		Session uint64
		Payload result.Payload
	}
	Failed struct {
		Session uint64
		Err     error
	}
	TimedOut       struct{ Session uint64 }
	ResetRequested struct{}
)

func (SelectionAccepted) event() {}
func (SelectionRejected) event() {}
func (SubmitStarted) event()     {}
func (SubmitSucceeded) event()   {}
func (SubmitFailed) event()      {}
func (Progressed) event()        {}
func (Completed) event()         {}
func (Failed) event()            {}
func (TimedOut) event()          {}
func (ResetRequested) event()    {}

// Reduce applies ev to s. On error the returned state is s unchanged.
func Reduce(s State, ev Event) (State, error) {
	invalid := func() (State, error) {
		return s, fmt.Errorf("%w: %T in %s", ErrInvalidTransition, ev, s.Phase)
	}

	switch e := ev.(type) {
	case ResetRequested:
		return State{Phase: Upload}, nil

	case SelectionAccepted:
		if s.Phase != Upload {
			return invalid()
		}
		s.Message = ""
		return s, nil

	case SelectionRejected:
		if s.Phase != Upload {
			return invalid()
		}
		s.Message = apperrors.PublicMessage(e.Err)
		return s, nil

	case SubmitStarted:
		if s.Phase != Upload || !e.Category.Valid() {
			return invalid()
		}
		return State{Phase: Submitting}, nil

	case SubmitSucceeded:
		if s.Phase != Submitting || e.JobID == "" {
			return invalid()
		}
		return State{
			Phase:   Processing,
			Session: e.Session,
			Job: &Job{
				ID:       e.JobID,
				Category: e.Category,
				Status:   service.StatusQueued,
			},
		}, nil

	case SubmitFailed:
		if s.Phase != Submitting {
			return invalid()
		}
		return State{Phase: Upload, Message: apperrors.PublicMessage(e.Err)}, nil

	case Progressed:
		if err := checkSession(s, e.Session); err != nil {
			return s, err
		}
		if e.Status.Terminal() {
			return invalid()
		}
		job := *s.Job
		job.Status = e.Status
		job.Progress = progress.Advance(job.Progress)
		s.Job = &job
		return s, nil

	case Completed:
		if err := checkSession(s, e.Session); err != nil {
			return s, err
		}
		if e.Payload.Category != s.Job.Category {
			return invalid()
		}
		job := *s.Job
		payload := e.Payload
		job.Status = service.StatusCompleted
		job.Progress = progress.Complete
		job.Result = &payload
		return State{Phase: Results, Job: &job}, nil

	case Failed:
		if err := checkSession(s, e.Session); err != nil {
			return s, err
		}
		return failJob(s, apperrors.PublicMessage(e.Err)), nil

	case TimedOut:
		if err := checkSession(s, e.Session); err != nil {
			return s, err
		}
		return failJob(s, apperrors.PublicMessage(apperrors.Timeout(nil))), nil
	}
	return invalid()
}

func checkSession(s State, session uint64) error {
	if s.Phase != Processing || s.Job == nil || session != s.Session {
		return fmt.Errorf("%w: session %d, current %d in %s", ErrStaleSession, session, s.Session, s.Phase)
	}
	return nil
}

func failJob(s State, msg string) State {
	job := *s.Job
	job.Status = service.StatusFailed
	job.ErrorMessage = msg
	return State{Phase: Upload, Job: &job, Message: msg}
}
