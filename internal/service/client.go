// Package service is the HTTP client for the remote restoration service:
// job submission, status queries, result retrieval and health checks.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/oukeidos/restora/internal/apperrors"
	"github.com/oukeidos/restora/internal/httpclient"
	"github.com/oukeidos/restora/internal/media"
	"github.com/oukeidos/restora/internal/version"
)

const DefaultBaseURL = "http://localhost:5000/api"

const (
	msgSubmitFailed = "Failed to start processing"
	msgStatusFailed = "Failed to get status"
	msgResultFailed = "Failed to get results"
	msgHealthFailed = "Processing service is unreachable"
)

// Status is the lifecycle status reported by the service.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	// StatusFailed is spelled "error" on the wire.
	StatusFailed Status = "error"
)

// Terminal reports whether no further status change will happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type StatusReport struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// JobHandle identifies a job accepted by the service.
type JobHandle struct {
	ID       string
	Category media.Category
	Message  string
}

type HealthReport struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type submitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient targets baseURL (the API root, e.g. DefaultBaseURL). token is
// sent as a bearer token when non-empty. A nil httpClient selects the shared
// default client.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) client() *http.Client {
	if c.http != nil {
		return c.http
	}
	return httpclient.GetDefaultClient()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	rid := uuid.NewString()
	req.Header.Set("X-Request-ID", rid)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, rid, nil
}

// Submit uploads the selection as a single multipart request and returns the
// job the service created for it.
func (c *Client) Submit(ctx context.Context, sel media.Selection) (JobHandle, error) {
	if sel.IsZero() {
		return JobHandle{}, apperrors.New(apperrors.KindSubmission, "", fmt.Errorf("no file selected"))
	}
	path, field, err := submitTarget(sel.Category)
	if err != nil {
		return JobHandle{}, apperrors.New(apperrors.KindSubmission, "", err)
	}

	file, err := sel.Open()
	if err != nil {
		return JobHandle{}, apperrors.New(apperrors.KindSubmission, "", fmt.Errorf("failed to open %s: %w", sel.DisplayName, err))
	}
	defer file.Close()

	head, tail, contentType, err := multipartFrame(field, sel)
	if err != nil {
		return JobHandle{}, apperrors.New(apperrors.KindSubmission, "", err)
	}
	body := io.MultiReader(bytes.NewReader(head), file, bytes.NewReader(tail))

	req, rid, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return JobHandle{}, apperrors.New(apperrors.KindSubmission, "", err)
	}
	req.ContentLength = int64(len(head)) + sel.SizeBytes + int64(len(tail))
	req.Header.Set("Content-Type", contentType)

	slog.Debug("Submitting job", "path", path, "file", sel.DisplayName, "bytes", sel.SizeBytes, "request_id", rid)
	data, resp, err := httpclient.DoAndReadLimit(c.client(), req, httpclient.MaxSmallResponseBytes)
	if err != nil {
		return JobHandle{}, apperrors.Wrap(apperrors.KindSubmission, transportError(ctx, msgSubmitFailed, err))
	}
	if resp.StatusCode/100 != 2 {
		return JobHandle{}, apperrors.Wrap(apperrors.KindSubmission, classify(resp, data, msgSubmitFailed))
	}

	var out submitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return JobHandle{}, apperrors.New(apperrors.KindSubmission, "", fmt.Errorf("failed to decode submission response: %w", err))
	}
	if strings.TrimSpace(out.JobID) == "" {
		return JobHandle{}, apperrors.New(apperrors.KindSubmission, "", fmt.Errorf("submission response carried no job_id"))
	}
	slog.Debug("Job accepted", "job_id", out.JobID, "status", out.Status, "request_id", rid)
	return JobHandle{ID: out.JobID, Category: sel.Category, Message: out.Message}, nil
}

func submitTarget(c media.Category) (path, field string, err error) {
	switch c {
	case media.Image:
		return "/process/frame", "image", nil
	case media.Video:
		return "/process/video", "video", nil
	default:
		return "", "", fmt.Errorf("unknown media category %q", c)
	}
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// multipartFrame renders the bytes surrounding the file content so the body
// can be streamed with a known length.
func multipartFrame(field string, sel media.Selection) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(sel.DisplayName)))
	h.Set("Content-Type", sel.ContentType)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", fmt.Errorf("failed to build multipart header: %w", err)
	}
	n := buf.Len()
	if err := mw.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("failed to build multipart trailer: %w", err)
	}
	raw := buf.Bytes()
	return raw[:n:n], raw[n:], mw.FormDataContentType(), nil
}

// Status performs one status query.
func (c *Client) Status(ctx context.Context, jobID string) (StatusReport, error) {
	req, rid, err := c.newRequest(ctx, http.MethodGet, "/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return StatusReport{}, err
	}
	data, resp, err := httpclient.DoAndReadLimit(c.client(), req, httpclient.MaxSmallResponseBytes)
	if err != nil {
		return StatusReport{}, transportError(ctx, msgStatusFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return StatusReport{}, classify(resp, data, msgStatusFailed)
	}

	var report StatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		return StatusReport{}, apperrors.New(apperrors.KindBadRequest, msgStatusFailed, fmt.Errorf("failed to decode status: %w", err))
	}
	switch report.Status {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return StatusReport{}, apperrors.New(apperrors.KindBadRequest, msgStatusFailed, fmt.Errorf("unknown job status %q", report.Status))
	}
	if report.JobID == "" {
		report.JobID = jobID
	}
	slog.Debug("Job status", "job_id", jobID, "status", report.Status, "request_id", rid)
	return report, nil
}

// Result fetches the raw result document of a completed job.
func (c *Client) Result(ctx context.Context, jobID string) (json.RawMessage, error) {
	req, rid, err := c.newRequest(ctx, http.MethodGet, "/result/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, apperrors.New(apperrors.KindResultFetch, "", err)
	}
	data, resp, err := httpclient.DoAndRead(c.client(), req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindResultFetch, transportError(ctx, msgResultFailed, err))
	}
	switch {
	case resp.StatusCode == http.StatusAccepted:
		return nil, apperrors.New(apperrors.KindResultFetch, "Result is not ready yet", fmt.Errorf("job %s still processing", jobID))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Wrap(apperrors.KindResultFetch, classify(resp, data, msgResultFailed))
	}
	if !json.Valid(data) {
		return nil, apperrors.Malformed(fmt.Errorf("result for job %s is not valid JSON", jobID))
	}
	slog.Debug("Job result fetched", "job_id", jobID, "bytes", len(data), "request_id", rid)
	return json.RawMessage(data), nil
}

// Health checks service liveness.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	req, _, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return HealthReport{}, err
	}
	data, resp, err := httpclient.DoAndReadLimit(c.client(), req, httpclient.MaxSmallResponseBytes)
	if err != nil {
		return HealthReport{}, transportError(ctx, msgHealthFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return HealthReport{}, classify(resp, data, msgHealthFailed)
	}
	var report HealthReport
	if err := json.Unmarshal(data, &report); err != nil {
		return HealthReport{}, apperrors.New(apperrors.KindBadRequest, msgHealthFailed, fmt.Errorf("failed to decode health: %w", err))
	}
	return report, nil
}

func transportError(ctx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("request cancelled: %w", ctxErr)
	}
	return apperrors.New(apperrors.KindTransient, msg, fmt.Errorf("request failed: %w", err))
}

func serverMessage(body []byte) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.Error)
}

// classify maps a non-success response to an error kind. The server's own
// message is preferred over fallback.
func classify(resp *http.Response, body []byte, fallback string) error {
	msg := serverMessage(body)
	cause := fmt.Errorf("service status=%s message=%q", resp.Status, msg)
	if msg == "" {
		msg = fallback
	}

	code := resp.StatusCode
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperrors.New(apperrors.KindAuth, msg, cause)
	case code == http.StatusTooManyRequests || code >= 500:
		return apperrors.New(apperrors.KindTransient, msg, cause)
	default:
		return apperrors.New(apperrors.KindBadRequest, msg, cause)
	}
}
