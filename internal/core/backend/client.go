// Package backend talks to the analytics server that turns questions into
// SQL, tables and charts.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/neilberkman/querychat/internal/core/models"
)

const (
	// DefaultBaseURL is where the analytics server listens by default
	DefaultBaseURL = "http://127.0.0.1:8000"

	// DefaultTimeout bounds one request/response exchange
	DefaultTimeout = 2 * time.Minute

	textPath = "/get_user_data"
	filePath = "/get_csv_data"

	// response_type value that carries chart data
	ResponseTypeVisualization = "visualization"
)

// Request is the payload of both endpoints
type Request struct {
	Query       string                `json:"query"`
	ChatHistory []models.HistoryEntry `json:"chat_history"`
}

// Table wraps the HTML table body. The server JSON-encodes the body a
// second time, so Body holds a JSON string literal.
type Table struct {
	Body string `json:"body"`
}

// Response is what the server returns for a query
type Response struct {
	Output            string               `json:"output"`
	SQLQuery          string               `json:"sql_query"`
	CSVData           string               `json:"csv_data"`
	Result            json.RawMessage      `json:"result,omitempty"`
	Table             *Table               `json:"table,omitempty"`
	ResponseType      string               `json:"response_type"`
	AnalysisStatement string               `json:"analysis_statement"`
	AnalysisPlot      *models.AnalysisPlot `json:"analysis_plot,omitempty"`

	// Raw is the undecoded response body
	Raw json.RawMessage `json:"-"`
}

// TableHTML returns the decoded table markup, or "" when there is none
func (r *Response) TableHTML() string {
	if r.Table == nil || r.Table.Body == "" {
		return ""
	}
	var html string
	if err := json.Unmarshal([]byte(r.Table.Body), &html); err != nil {
		// Already plain markup
		return r.Table.Body
	}
	return html
}

// HTTPError is returned for non-2xx responses
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %s", e.Status)
	}
	return fmt.Sprintf("server returned %s: %s", e.Status, e.Body)
}

// Client sends questions to the analytics server. Safe for concurrent use.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// AskText posts a JSON question to the text endpoint
func (c *Client) AskText(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(normalize(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+textPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq)
}

// AskFile posts the question together with a data file to the file endpoint
func (c *Client) AskFile(ctx context.Context, req Request, file models.Upload) (*Response, error) {
	payload, err := json.Marshal(normalize(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("json_data", string(payload)); err != nil {
		return nil, fmt.Errorf("failed to write json_data: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	contentType := file.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+filePath, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	out.Raw = data
	return &out, nil
}

// chat_history must be a JSON array even when empty
func normalize(req Request) Request {
	if req.ChatHistory == nil {
		req.ChatHistory = []models.HistoryEntry{}
	}
	return req
}
