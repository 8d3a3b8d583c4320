package kansoku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the kansoku server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the producer credential. The server maps it to the system
	// name recorded on ingested runs. Optional; without it runs land in the
	// server's default system.
	APIKey string

	// CredentialHeader names the header carrying APIKey. Defaults to "X-API-Key".
	CredentialHeader string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the kansoku API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	header  string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kansoku: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	header := cfg.CredentialHeader
	if header == "" {
		header = "X-API-Key"
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		header:  header,
		client:  httpClient,
	}, nil
}

// IngestBatch sends posts and patches as one JSON request.
func (c *Client) IngestBatch(ctx context.Context, batch Batch) (*IngestResponse, error) {
	var resp IngestResponse
	if err := c.post(ctx, "/runs/batch", batch, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IngestMultipart sends runs, feedback, and attachments as one multipart
// request. Posts without an ID are rejected client-side because the part
// name must carry the run id.
func (c *Client) IngestMultipart(ctx context.Context, batch MultipartBatch) (*IngestResponse, error) {
	body, contentType, err := encodeMultipart(batch)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/multipart", body)
	if err != nil {
		return nil, fmt.Errorf("kansoku: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp IngestResponse
	if err := c.doRequest(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTraces returns trace overviews, optionally restricted to traces that
// contain a run from system.
func (c *Client) ListTraces(ctx context.Context, system string) ([]TraceOverview, error) {
	path := "/trace"
	if system != "" {
		path += "?" + url.Values{"system": {system}}.Encode()
	}
	var out []TraceOverview
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TraceRuns returns every run in a trace. An unknown trace yields an empty slice.
func (c *Client) TraceRuns(ctx context.Context, traceID string) ([]Run, error) {
	var out []Run
	if err := c.get(ctx, "/trace/"+url.PathEscape(traceID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SystemRuns returns every run recorded for a system.
func (c *Client) SystemRuns(ctx context.Context, system string) ([]Run, error) {
	var out []Run
	if err := c.get(ctx, "/trace/system/"+url.PathEscape(system), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ThreadTraces returns the trace overviews within a thread.
func (c *Client) ThreadTraces(ctx context.Context, threadID string) ([]TraceOverview, error) {
	var out []TraceOverview
	if err := c.get(ctx, "/trace/thread/"+url.PathEscape(threadID)+"/traces", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ThreadRuns returns every run within a thread.
func (c *Client) ThreadRuns(ctx context.Context, threadID string) ([]Run, error) {
	var out []Run
	if err := c.get(ctx, "/trace/thread/"+url.PathEscape(threadID)+"/runs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ThreadOverviews returns an overview of every thread.
func (c *Client) ThreadOverviews(ctx context.Context) ([]ThreadOverview, error) {
	var out []ThreadOverview
	if err := c.get(ctx, "/trace/threads/overview", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Systems returns the distinct system names seen on runs.
func (c *Client) Systems(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, "/trace/systems", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ThreadIDs returns the distinct thread ids seen on runs.
func (c *Client) ThreadIDs(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, "/trace/threads", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun returns one run. A missing run returns an error satisfying IsNotFound.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var out Run
	if err := c.get(ctx, "/runs/"+url.PathEscape(runID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunFeedback returns the feedback recorded against a run.
func (c *Client) RunFeedback(ctx context.Context, runID string) ([]Feedback, error) {
	var out []Feedback
	if err := c.get(ctx, "/runs/"+url.PathEscape(runID)+"/feedback", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunAttachments returns the attachment metadata recorded against a run.
func (c *Client) RunAttachments(ctx context.Context, runID string) ([]Attachment, error) {
	var out []Attachment
	if err := c.get(ctx, "/runs/"+url.PathEscape(runID)+"/attachments", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks the server's health status. A server whose storage is
// unreachable answers 503, which is returned as an *Error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Wire-format encoding
// ---------------------------------------------------------------------------

func encodeMultipart(batch MultipartBatch) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	writeJSONPart := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("kansoku: marshal part %s: %w", name, err)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, name))
		h.Set("Content-Type", "application/json")
		w, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("kansoku: create part %s: %w", name, err)
		}
		_, err = w.Write(data)
		return err
	}

	for _, r := range batch.Post {
		if r.ID == "" {
			return nil, "", fmt.Errorf("kansoku: multipart post requires a run ID")
		}
		if err := writeJSONPart("post."+r.ID, r); err != nil {
			return nil, "", err
		}
	}
	for _, r := range batch.Patch {
		if r.ID == "" {
			return nil, "", fmt.Errorf("kansoku: multipart patch requires a run ID")
		}
		if err := writeJSONPart("patch."+r.ID, r); err != nil {
			return nil, "", err
		}
	}
	for _, f := range batch.Feedback {
		if f.RunID == "" {
			return nil, "", fmt.Errorf("kansoku: feedback requires a run ID")
		}
		if err := writeJSONPart("feedback."+f.RunID, f); err != nil {
			return nil, "", err
		}
	}
	for _, a := range batch.Attachments {
		if a.RunID == "" || a.Filename == "" {
			return nil, "", fmt.Errorf("kansoku: attachment requires a run ID and filename")
		}
		name := "attachment." + a.RunID + "." + a.Filename
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, name, a.Filename))
		h.Set("Content-Type", contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("kansoku: create part %s: %w", name, err)
		}
		if _, err := w.Write(a.Data); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("kansoku: close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kansoku: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kansoku: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kansoku: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kansoku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kansoku: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kansoku: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
