// Package api is the one-shot HTTP client of the chat backend: send then poll,
// document upload and the read-only session endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the backend API root used when none is configured.
const DefaultBaseURL = "http://localhost:5000/api"

var (
	// ErrPollTimeout is returned when a poll loop exhausts its attempts.
	ErrPollTimeout = errors.New("timed out waiting for response")
	// ErrEmptyMessageID is returned when /chat accepts a message without an id.
	ErrEmptyMessageID = errors.New("backend returned empty message id")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ResponseError is a processing failure reported by the backend for a message.
type ResponseError struct {
	MessageID string
	Message   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("message %s failed: %s", e.MessageID, e.Message)
}

// Client talks to the backend HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     PollPolicy
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollPolicy replaces the polling policy.
func WithPollPolicy(p PollPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     DefaultPollPolicy(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendMessage submits a message for processing and returns its id.
func (c *Client) SendMessage(ctx context.Context, message, sessionID string, enhance bool) (string, error) {
	var out chatResponse
	body := chatRequest{Message: message, SessionID: sessionID, EnhanceQuery: enhance}
	if err := c.postJSON(ctx, "/chat", body, &out); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if out.MessageID == "" {
		return "", ErrEmptyMessageID
	}
	return out.MessageID, nil
}

// Ask sends a message and waits for its response.
func (c *Client) Ask(ctx context.Context, message, sessionID string, enhance bool) (string, error) {
	id, err := c.SendMessage(ctx, message, sessionID, enhance)
	if err != nil {
		return "", err
	}
	return c.PollResponse(ctx, id)
}

// UploadFile posts a document as multipart form data. The returned file is not
// yet processed.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader, sessionID string) (UploadedFile, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadedFile{}, fmt.Errorf("copy file: %w", err)
	}
	if err := form.WriteField("session_id", sessionID); err != nil {
		return UploadedFile{}, fmt.Errorf("write session id: %w", err)
	}
	if err := form.Close(); err != nil {
		return UploadedFile{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: %w", err)
	}
	return UploadedFile{ID: out.FileID, Name: out.Filename, Processed: false}, nil
}

// GetFiles lists the documents of a session.
func (c *Client) GetFiles(ctx context.Context, sessionID string) ([]UploadedFile, error) {
	var out filesResponse
	if err := c.getJSON(ctx, "/files", url.Values{"session_id": {sessionID}}, &out); err != nil {
		return nil, fmt.Errorf("get files: %w", err)
	}
	return out.Files, nil
}

// GetMemory returns the session memory.
func (c *Client) GetMemory(ctx context.Context, sessionID string) (Memory, error) {
	var out Memory
	if err := c.getJSON(ctx, "/memory", url.Values{"session_id": {sessionID}}, &out); err != nil {
		return Memory{}, fmt.Errorf("get memory: %w", err)
	}
	return out, nil
}

// GetSummary returns the running summary of a session.
func (c *Client) GetSummary(ctx context.Context, sessionID string) (string, error) {
	var out summaryResponse
	if err := c.getJSON(ctx, "/summary", url.Values{"session_id": {sessionID}}, &out); err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	return out.Summary, nil
}

// GetModels lists the models the backend can serve.
func (c *Client) GetModels(ctx context.Context) ([]Model, error) {
	var out modelsResponse
	if err := c.getJSON(ctx, "/models", nil, &out); err != nil {
		return nil, fmt.Errorf("get models: %w", err)
	}
	return out.Models, nil
}

// SetModel selects the model of a session and reports whether the backend
// accepted it.
func (c *Client) SetModel(ctx context.Context, model, sessionID string) (bool, error) {
	var out setModelResponse
	if err := c.postJSON(ctx, "/model", setModelRequest{Model: model, SessionID: sessionID}, &out); err != nil {
		return false, fmt.Errorf("set model: %w", err)
	}
	return out.Success, nil
}

// GetDocumentChunks returns the indexed chunks of an uploaded document.
func (c *Client) GetDocumentChunks(ctx context.Context, documentName, sessionID string) (DocumentChunks, error) {
	out := DocumentChunks{DocumentName: documentName}
	query := url.Values{"document_name": {documentName}, "session_id": {sessionID}}
	if err := c.getJSON(ctx, "/document/chunks", query, &out); err != nil {
		return DocumentChunks{DocumentName: documentName}, fmt.Errorf("get document chunks: %w", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
