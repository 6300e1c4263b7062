package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oukeidos/restora/internal/apperrors"
	"github.com/oukeidos/restora/internal/media"
	"github.com/oukeidos/restora/internal/poller"
	"github.com/oukeidos/restora/internal/result"
	"github.com/oukeidos/restora/internal/service"
	"github.com/oukeidos/restora/internal/servicetest"
)

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func memFile(name, contentType string, data []byte) media.File {
	return media.File{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// stoppedClock never fires, so sessions stay alive until cancelled.
type stoppedClock struct{}

func (stoppedClock) After(time.Duration) <-chan time.Time { return nil }

func newMachine(baseURL string, httpClient *http.Client, cfg poller.Config) *Machine {
	return newMachineWithClock(baseURL, httpClient, instantClock{}, cfg)
}

func newMachineWithClock(baseURL string, httpClient *http.Client, clock poller.Clock, cfg poller.Config) *Machine {
	svc := service.NewClient(baseURL, "", httpClient)
	return NewMachine(svc, poller.New(svc, clock, cfg), media.Combined)
}

type history struct {
	mu     sync.Mutex
	states []State
}

func (h *history) record(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s)
}

func (h *history) snapshot() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func waitSettled(t *testing.T, m *Machine) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := m.Wait(ctx)
	if err != nil {
		t.Fatalf("machine did not settle: %v (phase %s)", err, s.Phase)
	}
	return s
}

func currentSession(m *Machine) *poller.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// TestMachine_ImageJobReachesResults walks photo.png through three
// processing ticks to a high-blur result.
func TestMachine_ImageJobReachesResults(t *testing.T) {
	srv := servicetest.New(t)
	srv.SetJobID("abc123")
	srv.Script(
		servicetest.StatusStep{Status: "processing"},
		servicetest.StatusStep{Status: "processing"},
		servicetest.StatusStep{Status: "processing"},
		servicetest.StatusStep{Status: "completed"},
	)
	srv.SetResult(servicetest.ImagePayload("high"))

	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())
	h := &history{}
	m.Subscribe(h.record)

	if _, err := m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	job, err := m.Submit(context.Background(), media.Image)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.ID != "abc123" {
		t.Fatalf("unexpected job id %q", job.ID)
	}

	s := waitSettled(t, m)
	if s.Phase != Results {
		t.Fatalf("expected results, got %s (%q)", s.Phase, s.Message)
	}
	if s.Job.Progress != 100 || s.Job.Status != service.StatusCompleted {
		t.Fatalf("unexpected job: %+v", s.Job)
	}
	if s.Job.Result.Image == nil || s.Job.Result.Image.Blur.Level != result.BlurHigh {
		t.Fatalf("unexpected payload: %+v", s.Job.Result)
	}
	if got := srv.StatusCalls(); got != 4 {
		t.Fatalf("expected 4 status queries, got %d", got)
	}
	if got := srv.ResultCalls(); got != 1 {
		t.Fatalf("expected 1 result fetch, got %d", got)
	}

	var progress []int
	for _, st := range h.snapshot() {
		if st.Job != nil {
			progress = append(progress, st.Job.Progress)
		}
	}
	want := []int{0, 2, 4, 6, 100}
	if len(progress) != len(want) {
		t.Fatalf("unexpected progress sequence %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("unexpected progress sequence %v, want %v", progress, want)
		}
	}
}

func TestMachine_VideoJobReachesResults(t *testing.T) {
	srv := servicetest.New(t)
	srv.Script(servicetest.StatusStep{Status: "queued"}, servicetest.StatusStep{Status: "completed"})
	srv.SetResult(servicetest.VideoPayload(3))

	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())
	if _, err := m.Select(memFile("clip.mp4", "video/mp4", []byte("mp4")), media.Video); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := m.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s := waitSettled(t, m)
	if s.Phase != Results || s.Job.Result.Video == nil || len(s.Job.Result.Video.Frames) != 3 {
		t.Fatalf("unexpected state: %+v", s)
	}
	if subs := srv.Submissions(); len(subs) != 1 || subs[0].Endpoint != "video" {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
}

// TestMachine_SubmitNetworkError verifies a failed upload returns to Upload
// with a message and leaves no polling session behind.
func TestMachine_SubmitNetworkError(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	base := dead.URL + "/api"
	dead.Close()

	m := newMachine(base, nil, poller.DefaultConfig())
	if _, err := m.Select(memFile("clip.mp4", "video/mp4", []byte("mp4")), media.Video); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	_, err := m.Submit(context.Background(), media.Video)
	if kind, _ := apperrors.KindOf(err); kind != apperrors.KindSubmission {
		t.Fatalf("expected submission error, got %v", err)
	}

	s := m.State()
	if s.Phase != Upload || s.Message != "Failed to start processing" || s.Job != nil || s.Session != 0 {
		t.Fatalf("unexpected state: %+v", s)
	}
	if currentSession(m) != nil {
		t.Fatalf("no polling session may exist after a failed upload")
	}
	if _, ok := m.Selection(media.Video); !ok {
		t.Fatalf("selection should survive a failed upload for retry")
	}
}

func TestMachine_RejectsWrongMediaType(t *testing.T) {
	srv := servicetest.New(t)
	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())

	_, err := m.Select(memFile("document.pdf", "application/pdf", []byte("%PDF")), media.Image)
	if kind, _ := apperrors.KindOf(err); kind != apperrors.KindInvalidMediaType {
		t.Fatalf("expected invalid media type, got %v", err)
	}
	s := m.State()
	if s.Phase != Upload || s.Job != nil || s.Message == "" {
		t.Fatalf("unexpected state: %+v", s)
	}
	if _, err := m.Submit(context.Background(), media.Image); err == nil {
		t.Fatalf("submit without a selection must fail")
	}
	if len(srv.Submissions()) != 0 {
		t.Fatalf("no request may reach the service")
	}
}

// TestMachine_ResetDuringProcessingIgnoresLateResponse blocks the second
// status query, resets, then lets the response through.
func TestMachine_ResetDuringProcessingIgnoresLateResponse(t *testing.T) {
	srv := servicetest.New(t)
	srv.Script(servicetest.StatusStep{Status: "processing"}, servicetest.StatusStep{Status: "completed"})
	srv.SetResult(servicetest.ImagePayload("low"))
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	srv.OnStatus(func(call int) {
		if call == 2 {
			entered <- struct{}{}
			<-release
		}
	})

	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())
	h := &history{}
	if _, err := m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := m.Submit(context.Background(), media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	<-entered
	session := currentSession(m)
	if session == nil {
		t.Fatalf("expected a running session")
	}
	m.Reset()
	m.Subscribe(h.record)

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session kept running after reset")
	}

	s := m.State()
	if s != (State{Phase: Upload}) {
		t.Fatalf("unexpected state after reset: %+v", s)
	}
	if len(h.snapshot()) != 0 {
		t.Fatalf("late response changed state: %+v", h.snapshot())
	}
	if srv.ResultCalls() != 0 {
		t.Fatalf("result fetched after reset")
	}
	if _, ok := m.Selection(media.Image); ok {
		t.Fatalf("reset must clear selections")
	}
}

// TestMachine_SingleSession verifies a second job only starts after the
// first session is cancelled.
func TestMachine_SingleSession(t *testing.T) {
	srv := servicetest.New(t)
	m := newMachineWithClock(srv.BaseURL(), srv.Client(), stoppedClock{}, poller.DefaultConfig())

	if _, err := m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := m.Submit(context.Background(), media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	first := currentSession(m)

	if _, err := m.Submit(context.Background(), media.Image); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second submit to be rejected, got %v", err)
	}
	if currentSession(m) != first {
		t.Fatalf("rejected submit replaced the session")
	}

	m.Reset()
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("first session still running")
	}

	if _, err := m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := m.Submit(context.Background(), media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	second := currentSession(m)
	if second == nil || second.ID <= first.ID {
		t.Fatalf("expected a newer session, got %+v after %d", second, first.ID)
	}
	if m.State().Session != second.ID {
		t.Fatalf("state tracks session %d, want %d", m.State().Session, second.ID)
	}
	m.Reset()
}

func TestMachine_ProcessingFailure(t *testing.T) {
	srv := servicetest.New(t)
	srv.Script(servicetest.StatusStep{Status: "processing"}, servicetest.StatusStep{Status: "error", Error: "No frames were processed"})

	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())
	m.Select(memFile("clip.mp4", "video/mp4", []byte("mp4")), media.Video)
	if _, err := m.Submit(context.Background(), media.Video); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s := waitSettled(t, m)
	if s.Phase != Upload || s.Message != "No frames were processed" {
		t.Fatalf("unexpected state: %+v", s)
	}
	if s.Job == nil || s.Job.Status != service.StatusFailed || s.Job.Progress != 2 {
		t.Fatalf("unexpected job: %+v", s.Job)
	}
	if srv.ResultCalls() != 0 {
		t.Fatalf("failed job must not fetch results")
	}
}

func TestMachine_Timeout(t *testing.T) {
	srv := servicetest.New(t)
	m := newMachine(srv.BaseURL(), srv.Client(), poller.Config{MaxTicks: 3})
	m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image)
	if _, err := m.Submit(context.Background(), media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s := waitSettled(t, m)
	if s.Phase != Upload || s.Message != "Processing timeout" {
		t.Fatalf("unexpected state: %+v", s)
	}
	if got := srv.StatusCalls(); got != 3 {
		t.Fatalf("expected 3 status queries, got %d", got)
	}
}

func TestMachine_MalformedResult(t *testing.T) {
	srv := servicetest.New(t)
	srv.Script(servicetest.StatusStep{Status: "completed"})
	srv.SetResultJSON([]byte(`{"images":{"original":"a"}}`))

	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())
	m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image)
	if _, err := m.Submit(context.Background(), media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s := waitSettled(t, m)
	if s.Phase != Upload || s.Message != apperrors.PublicMessage(apperrors.Malformed(nil)) {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestMachine_StatusTransportFailure(t *testing.T) {
	srv := servicetest.New(t)
	srv.Script(servicetest.StatusStep{HTTPStatus: http.StatusBadGateway})

	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())
	m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image)
	if _, err := m.Submit(context.Background(), media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s := waitSettled(t, m)
	if s.Phase != Upload || s.Message != "Failed to get status" {
		t.Fatalf("unexpected state: %+v", s)
	}
	if srv.StatusCalls() != 1 {
		t.Fatalf("status must not be retried by default")
	}
}

func TestMachine_SelectBlockedWhileProcessing(t *testing.T) {
	srv := servicetest.New(t)
	m := newMachineWithClock(srv.BaseURL(), srv.Client(), stoppedClock{}, poller.DefaultConfig())
	defer m.Reset()

	m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image)
	if _, err := m.Submit(context.Background(), media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := m.Select(memFile("clip.mp4", "video/mp4", []byte("mp4")), media.Video); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected selection to be blocked, got %v", err)
	}
}

// TestMachine_SubmitContextCancelEndsJob verifies that cancelling the context
// given to Submit returns the machine to Upload with no session left.
func TestMachine_SubmitContextCancelEndsJob(t *testing.T) {
	srv := servicetest.New(t)
	m := newMachineWithClock(srv.BaseURL(), srv.Client(), stoppedClock{}, poller.DefaultConfig())
	defer m.Reset()

	m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := m.Submit(ctx, media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	session := currentSession(m)
	if session == nil {
		t.Fatalf("expected a running session")
	}

	cancel()
	<-session.Done()

	s := waitSettled(t, m)
	if s.Phase != Upload || s.Message != msgCanceled {
		t.Fatalf("unexpected state after cancel: phase=%s message=%q", s.Phase, s.Message)
	}
	if s.Job == nil || s.Job.Status != service.StatusFailed {
		t.Fatalf("expected failed job, got %+v", s.Job)
	}
	if currentSession(m) != nil {
		t.Fatalf("session left behind after cancel")
	}
	if _, err := m.Select(memFile("clip.mp4", "video/mp4", []byte("mp4")), media.Video); err != nil {
		t.Fatalf("Select after cancel failed: %v", err)
	}
}

// TestMachine_CancelAfterCompletionIgnored verifies that a context ending
// after the job settled leaves the result alone.
func TestMachine_CancelAfterCompletionIgnored(t *testing.T) {
	srv := servicetest.New(t)
	srv.Script(servicetest.StatusStep{Status: "completed"})
	srv.SetResult(servicetest.ImagePayload("low"))
	m := newMachine(srv.BaseURL(), srv.Client(), poller.DefaultConfig())

	m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := m.Submit(ctx, media.Image); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if s := waitSettled(t, m); s.Phase != Results {
		t.Fatalf("expected Results, got %s (%q)", s.Phase, s.Message)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	if s := m.State(); s.Phase != Results {
		t.Fatalf("cancel after completion changed phase to %s", s.Phase)
	}
}

// blockingSubmitter holds the upload until its context ends.
type blockingSubmitter struct{ started chan struct{} }

func (b *blockingSubmitter) Submit(ctx context.Context, sel media.Selection) (service.JobHandle, error) {
	close(b.started)
	<-ctx.Done()
	return service.JobHandle{}, ctx.Err()
}

func TestMachine_ResetAbortsUpload(t *testing.T) {
	sub := &blockingSubmitter{started: make(chan struct{})}
	m := NewMachine(sub, poller.New(nil, instantClock{}, poller.DefaultConfig()), media.Combined)
	m.Select(memFile("photo.png", "image/png", []byte("png")), media.Image)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), media.Image)
		errc <- err
	}()
	<-sub.started
	m.Reset()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("expected ErrSuperseded, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("upload not aborted by reset")
	}
	if s := m.State(); s != (State{Phase: Upload}) {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestMachine_Unsubscribe(t *testing.T) {
	m := NewMachine(nil, nil, media.Combined)
	calls := 0
	unsubscribe := m.Subscribe(func(State) { calls++ })
	m.Reset()
	unsubscribe()
	m.Reset()
	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
}
