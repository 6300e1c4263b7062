// Package servicetest runs an in-process fake of the restoration service for
// tests. Status responses are scripted per job and every request is recorded.
package servicetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// StatusStep is one scripted answer to GET /status/{id}. A zero HTTPStatus
// means 200. The last step repeats once the script is exhausted.
type StatusStep struct {
	Status     string
	Error      string
	HTTPStatus int
}

// Submission records one accepted upload.
type Submission struct {
	Endpoint      string
	Field         string
	FileName      string
	ContentType   string
	Size          int64
	RequestID     string
	Authorization string
}

type Server struct {
	*httptest.Server

	mu          sync.Mutex
	jobID       string
	submitCode  int
	submitMsg   string
	steps       []StatusStep
	result      json.RawMessage
	resultCode  int
	resultMsg   string
	onStatus    func(call int)
	submissions []Submission
	statusCalls int
	resultCalls int
	healthCalls int
}

// New starts a fake service. Its API root is s.URL + "/api".
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		jobID: "job-1",
		steps: []StatusStep{{Status: "processing"}},
	}
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/process/frame", s.submit("frame", "image"))
		r.Post("/process/video", s.submit("video", "video"))
		r.Get("/status/{jobID}", s.status)
		r.Get("/result/{jobID}", s.resultHandler)
		r.Get("/health", s.health)
	})
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root clients are configured with.
func (s *Server) BaseURL() string { return s.URL + "/api" }

func (s *Server) SetJobID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobID = id
}

// FailSubmit makes uploads answer code with an optional error message.
func (s *Server) FailSubmit(code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCode = code
	s.submitMsg = msg
}

// Script replaces the status sequence.
func (s *Server) Script(steps ...StatusStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append([]StatusStep(nil), steps...)
}

// SetResult stores v, marshalled, as the result body of every job.
func (s *Server) SetResult(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.SetResultJSON(data)
}

func (s *Server) SetResultJSON(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = append(json.RawMessage(nil), data...)
}

func (s *Server) FailResult(code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultCode = code
	s.resultMsg = msg
}

// OnStatus installs a hook run before each status response with the
// 1-based call number. It may block to simulate a slow service.
func (s *Server) OnStatus(fn func(call int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

func (s *Server) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

func (s *Server) ResultCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultCalls
}

func (s *Server) HealthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthCalls
}

func (s *Server) submit(endpoint, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile(field)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("No %s file provided", field))
			return
		}
		size, _ := io.Copy(io.Discard, file)
		file.Close()

		s.mu.Lock()
		s.submissions = append(s.submissions, Submission{
			Endpoint:      endpoint,
			Field:         field,
			FileName:      header.Filename,
			ContentType:   header.Header.Get("Content-Type"),
			Size:          size,
			RequestID:     r.Header.Get("X-Request-ID"),
			Authorization: r.Header.Get("Authorization"),
		})
		code, msg, id := s.submitCode, s.submitMsg, s.jobID
		s.mu.Unlock()

		if code != 0 {
			writeError(w, code, msg)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id":  id,
			"status":  "queued",
			"message": "Processing started",
		})
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	s.mu.Lock()
	s.statusCalls++
	call := s.statusCalls
	hook := s.onStatus
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	s.mu.Lock()
	known := id == s.jobID
	var step StatusStep
	if len(s.steps) > 0 {
		step = s.steps[min(call, len(s.steps))-1]
	}
	s.mu.Unlock()

	if !known {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if step.HTTPStatus != 0 && step.HTTPStatus != http.StatusOK {
		writeError(w, step.HTTPStatus, step.Error)
		return
	}
	body := map[string]string{"job_id": id, "status": step.Status}
	if step.Error != "" {
		body["error"] = step.Error
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	s.mu.Lock()
	s.resultCalls++
	known := id == s.jobID
	code, msg, body := s.resultCode, s.resultMsg, s.result
	s.mu.Unlock()

	switch {
	case !known:
		writeError(w, http.StatusNotFound, "Job not found")
	case code != 0:
		writeError(w, code, msg)
	case body == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.healthCalls++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": "2026-01-01T00:00:00",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	if strings.TrimSpace(msg) == "" {
		w.WriteHeader(code)
		return
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

// ImagePayload is a complete single-frame result with the given blur level.
func ImagePayload(level string) map[string]any {
	return map[string]any{
		"blur_detection": map[string]any{
			"level":              level,
			"laplacian_variance": 42.5,
			"edge_density":       0.031,
		},
		"images": map[string]any{
			"original":   "b3JpZ2luYWw=",
			"deblurred":  "ZGVibHVycmVk",
			"enhanced":   "ZW5oYW5jZWQ=",
			"comparison": "Y29tcGFyaXNvbg==",
		},
		"ocr_result": map[string]any{
			"blur_confidence":     41.2,
			"enhanced_confidence": 78.9,
			"improvement":         37.7,
			"blur_text_count":     3,
			"enhanced_text_count": 9,
		},
		"confidence_level": 78.9,
	}
}

// VideoPayload is a multi-frame result with n sampled frames out of 10*n.
func VideoPayload(n int) map[string]any {
	frames := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, map[string]any{
			"frame_id":     fmt.Sprintf("%06d", i*10),
			"frame_number": i * 10,
			"blur_level":   []string{"low", "medium", "high"}[i%3],
			"images": map[string]any{
				"before":     "YmVmb3Jl",
				"enhanced":   "ZW5oYW5jZWQ=",
				"comparison": "Y29tcGFyaXNvbg==",
			},
			"ocr_result": map[string]any{
				"blur_confidence":     20.0,
				"enhanced_confidence": 60.0,
				"improvement":         40.0,
			},
			"confidence_level": 60.0,
		})
	}
	return map[string]any{
		"total_frames":     10 * n,
		"processed_frames": n,
		"output_video":     "outputs/enhanced.mp4",
		"sample_frames":    frames,
	}
}
