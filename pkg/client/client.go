// Package client uploads instrument exports to a running impact server and
// reads back the experiment it maintains.
package client

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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nicktill/impact/pkg/experiment"
	"github.com/nicktill/impact/pkg/httpx"
	"github.com/nicktill/impact/pkg/ingest"
)

// DefaultTimeout bounds one request, including the upload
const DefaultTimeout = 2 * time.Minute

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from the server, e.g. a run name
// already in use or a duplicate single trial
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Upload is one ingest request
type Upload struct {
	Format string
	IDType string
	Run    string

	// File is a workbook path sent as the "file" field
	File string

	// Sheets maps sheet names to delimited files, sent as "sheet:<name>" fields
	Sheets map[string]string
}

// Client talks to the /v1 API of an impact server
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates a client for a server base URL such as http://localhost:8080
func New(endpoint, apiKey string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", endpoint)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// Ingest uploads a workbook and/or sheets and returns the server's result
func (c *Client) Ingest(ctx context.Context, up Upload) (*ingest.Result, error) {
	if up.Format == "" {
		return nil, errors.New("format is required")
	}
	if up.File == "" && len(up.Sheets) == 0 {
		return nil, errors.New("nothing to upload")
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if up.File != "" {
		if err := addFile(mw, "file", up.File); err != nil {
			return nil, err
		}
	}
	for name, path := range up.Sheets {
		if err := addFile(mw, "sheet:"+name, path); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload: %w", err)
	}

	query := url.Values{"format": {up.Format}}
	if up.IDType != "" {
		query.Set("id_type", up.IDType)
	}
	if up.Run != "" {
		query.Set("run", up.Run)
	}

	var result ingest.Result
	err := c.do(ctx, http.MethodPost, "/v1/ingest?"+query.Encode(), mw.FormDataContentType(), body, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Experiment fetches the server's experiment summary
func (c *Client) Experiment(ctx context.Context) (*experiment.Summary, error) {
	var summary experiment.Summary
	if err := c.do(ctx, http.MethodGet, "/v1/experiment", "", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteRun removes an archived run; the server rebuilds its experiment
func (c *Client) DeleteRun(ctx context.Context, run string) error {
	return c.do(ctx, http.MethodDelete, "/v1/runs/"+url.PathEscape(run), "", nil, nil)
}

func addFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form field %s: %w", field, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp httpx.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
