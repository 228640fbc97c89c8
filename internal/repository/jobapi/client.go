package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

const (
	maxResponseBytes = 8 << 20
	headerRequestID  = "X-Request-ID"
	contentTypeJSON  = "application/json"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Job/Invitation Service. It holds no session state and
// never retries on its own.
type Client struct {
	baseURL   string
	http      *http.Client
	tokens    util.TokenSource
	log       *slog.Logger
	requestID func() string
}

var _ ports.ValidationJobClient = (*Client)(nil)

func NewClient(cfg Config, tokens util.TokenSource) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:      httpClient,
		tokens:    tokens,
		log:       logger,
		requestID: func() string { return uuid.NewString() },
	}
}

// WithToken returns a client sharing the transport but authenticating as
// another dashboard user.
func (c *Client) WithToken(tokens util.TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

// envelope is the common response shape of the Job Service.
type envelope struct {
	Status     string             `json:"status"`
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Errors     domain.FieldErrors `json:"errors"`
	Data       json.RawMessage    `json:"data"`
	Stats      *domain.JobStats   `json:"stats"`
	Pagination *domain.Pagination `json:"pagination"`
	JobStatus  domain.JobStatus   `json:"job_status"`
}

func (e *envelope) ok() bool {
	return e != nil && strings.EqualFold(e.Status, "success")
}

func (e *envelope) message(fallback string) string {
	if e != nil {
		if msg := strings.TrimSpace(e.Message); msg != "" {
			return msg
		}
	}
	return fallback
}

func (e *envelope) stats() domain.JobStats {
	if e == nil || e.Stats == nil {
		return domain.JobStats{}
	}
	return *e.Stats
}

type response struct {
	status int
	env    *envelope
}

func (r response) success() bool {
	return r.status >= 200 && r.status < 300 && r.env.ok()
}

func (r response) clientError() bool {
	return r.status >= 400 && r.status < 500
}

func (c *Client) Upload(ctx context.Context, req ports.UploadRequest) (string, error) {
	const op = "upload"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "upload.csv"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", domain.NewServiceError(op, 0, domain.FallbackUploadMessage, err)
	}
	if _, err := part.Write(req.Content); err != nil {
		return "", domain.NewServiceError(op, 0, domain.FallbackUploadMessage, err)
	}
	_ = writer.WriteField("default_personal_message", req.DefaultPersonalMessage)
	_ = writer.WriteField("expire_date", req.ExpireDate)
	if err := writer.Close(); err != nil {
		return "", domain.NewServiceError(op, 0, domain.FallbackUploadMessage, err)
	}

	res, err := c.do(ctx, op, http.MethodPost, "/bulk/upload/", nil, &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	if !res.success() {
		return "", &domain.UploadError{Status: res.status, Message: res.env.message(domain.FallbackUploadMessage)}
	}

	var data struct {
		JobID json.RawMessage `json:"job_id"`
	}
	if err := json.Unmarshal(res.env.Data, &data); err != nil {
		return "", domain.NewServiceError(op, res.status, domain.FallbackUploadMessage, err)
	}
	jobID := rawID(data.JobID)
	if jobID == "" {
		return "", domain.NewServiceError(op, res.status, domain.FallbackUploadMessage, errors.New("response carries no job_id"))
	}
	return jobID, nil
}

func (c *Client) FetchRows(ctx context.Context, jobID string, filter domain.RowFilter) (*domain.RowPage, error) {
	const op = "fetch rows"

	res, err := c.do(ctx, op, http.MethodGet, jobPath(jobID, "rows/"), FilterParams(filter), nil, "")
	if err != nil {
		return nil, err
	}
	if !res.success() {
		return nil, domain.NewServiceError(op, res.status, res.env.message("Failed to load filtered data"), nil)
	}

	page := &domain.RowPage{
		Rows:      make([]domain.PreviewRow, 0),
		Stats:     res.env.stats(),
		JobStatus: res.env.JobStatus,
	}
	if len(res.env.Data) > 0 && !bytes.Equal(res.env.Data, []byte("null")) {
		if err := json.Unmarshal(res.env.Data, &page.Rows); err != nil {
			return nil, domain.NewServiceError(op, res.status, "", err)
		}
	}
	if res.env.Pagination != nil {
		page.Pagination = *res.env.Pagination
	}
	page.Pagination = page.Pagination.Normalize()
	return page, nil
}

func (c *Client) PatchRow(ctx context.Context, jobID string, rowID int64, patch domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error) {
	const op = "patch row"

	payload, err := json.Marshal(map[string]string{patch.Field: patch.Value})
	if err != nil {
		return nil, domain.JobStats{}, domain.NewServiceError(op, 0, "", err)
	}
	res, err := c.do(ctx, op, http.MethodPatch, rowPath(jobID, "row", rowID), nil, bytes.NewReader(payload), contentTypeJSON)
	if err != nil {
		return nil, domain.JobStats{}, err
	}
	return c.decodeRowResult(op, res)
}

func (c *Client) AddRow(ctx context.Context, jobID string, draft domain.RowDraft) (*domain.PreviewRow, domain.JobStats, error) {
	const op = "add row"

	payload, err := json.Marshal(draft)
	if err != nil {
		return nil, domain.JobStats{}, domain.NewServiceError(op, 0, "", err)
	}
	res, err := c.do(ctx, op, http.MethodPost, jobPath(jobID, "rows/add/"), nil, bytes.NewReader(payload), contentTypeJSON)
	if err != nil {
		return nil, domain.JobStats{}, err
	}
	return c.decodeRowResult(op, res)
}

// decodeRowResult handles the shared {data: row, stats} / {message, errors}
// shape of patch and add.
func (c *Client) decodeRowResult(op string, res response) (*domain.PreviewRow, domain.JobStats, error) {
	if res.success() {
		var row domain.PreviewRow
		if err := json.Unmarshal(res.env.Data, &row); err != nil {
			return nil, domain.JobStats{}, domain.NewServiceError(op, res.status, "", err)
		}
		return &row, res.env.stats(), nil
	}
	if res.clientError() || (res.env != nil && strings.EqualFold(res.env.Status, "error")) {
		return nil, domain.JobStats{}, &domain.RowValidationError{
			Status:  res.status,
			Message: res.env.message(domain.FallbackRowMessage),
			Fields:  errorsOf(res.env),
			Stats:   statsOf(res.env),
		}
	}
	return nil, domain.JobStats{}, domain.NewServiceError(op, res.status, res.env.message(""), nil)
}

func (c *Client) DeleteRow(ctx context.Context, jobID string, rowID int64) (domain.JobStats, error) {
	const op = "delete row"

	res, err := c.do(ctx, op, http.MethodDelete, rowPath(jobID, "delete/row", rowID), nil, nil, "")
	if err != nil {
		return domain.JobStats{}, err
	}
	if !res.success() {
		return domain.JobStats{}, domain.NewServiceError(op, res.status, res.env.message("Failed to delete row."), nil)
	}
	return res.env.stats(), nil
}

func (c *Client) ClearAll(ctx context.Context, jobID string) (domain.JobStats, error) {
	const op = "clear rows"

	res, err := c.do(ctx, op, http.MethodDelete, jobPath(jobID, "rows/clear/"), nil, nil, "")
	if err != nil {
		return domain.JobStats{}, err
	}
	if !res.success() {
		return domain.JobStats{}, domain.NewServiceError(op, res.status, res.env.message("Failed to clear preview data."), nil)
	}
	return res.env.stats(), nil
}

// Confirm reports server decisions as an outcome; only transport failures
// come back as an error.
func (c *Client) Confirm(ctx context.Context, jobID, expireDate, defaultMessage string) (domain.ConfirmOutcome, error) {
	const op = "confirm"

	payload, err := json.Marshal(map[string]string{
		"expire_date":              expireDate,
		"default_personal_message": defaultMessage,
	})
	if err != nil {
		return domain.ConfirmOutcome{}, domain.NewServiceError(op, 0, "", err)
	}
	res, err := c.do(ctx, op, http.MethodPost, jobPath(jobID, "confirm/"), nil, bytes.NewReader(payload), contentTypeJSON)
	if err != nil {
		return domain.ConfirmOutcome{}, err
	}

	switch {
	case res.env != nil && res.env.Code == domain.CodeInsufficientQuota:
		return domain.ConfirmOutcome{
			Kind:    domain.ConfirmQuotaExceeded,
			Message: res.env.message(domain.FallbackQuotaMessage),
		}, nil
	case res.success():
		return domain.ConfirmOutcome{Kind: domain.ConfirmSent, Message: res.env.message("")}, nil
	default:
		return domain.ConfirmOutcome{
			Kind:    domain.ConfirmFailed,
			Message: res.env.message(domain.FallbackConfirmMessage),
		}, nil
	}
}

func (c *Client) ListTicketTypes(ctx context.Context) ([]domain.TicketType, error) {
	const op = "list tickets"

	res, err := c.do(ctx, op, http.MethodGet, "/tickets/", nil, nil, "")
	if err != nil {
		return nil, err
	}
	if !res.success() {
		return nil, domain.NewServiceError(op, res.status, res.env.message("Failed to fetch ticket types"), nil)
	}
	types := make([]domain.TicketType, 0)
	if err := json.Unmarshal(res.env.Data, &types); err != nil {
		return nil, domain.NewServiceError(op, res.status, "", err)
	}
	return types, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string) (response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return response{}, domain.NewServiceError(op, http.StatusUnauthorized, "Your session has expired. Please sign in again.", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return response{}, domain.NewServiceError(op, 0, "", err)
	}
	requestID := c.requestID()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set(headerRequestID, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("job service request failed", "op", op, "method", method, "path", path, "request_id", requestID, "error", err)
		return response{}, domain.NewServiceError(op, 0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, domain.NewServiceError(op, resp.StatusCode, "", err)
	}
	c.log.Debug("job service request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(started).Milliseconds(),
		"request_id", requestID,
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Non-JSON bodies (proxies, HTML error pages) fall back to generic handling.
		return response{status: resp.StatusCode}, nil
	}
	return response{status: resp.StatusCode, env: &env}, nil
}

// FilterParams is the query string FetchRows sends for filter.
func FilterParams(filter domain.RowFilter) url.Values {
	return filter.QueryValues()
}

func jobPath(jobID, suffix string) string {
	return fmt.Sprintf("/bulk/%s/%s", url.PathEscape(jobID), suffix)
}

func rowPath(jobID, segment string, rowID int64) string {
	return fmt.Sprintf("/bulk/%s/%s/%d/", url.PathEscape(jobID), segment, rowID)
}

func errorsOf(env *envelope) domain.FieldErrors {
	if env == nil || env.Errors == nil {
		return domain.FieldErrors{}
	}
	return env.Errors
}

func statsOf(env *envelope) *domain.JobStats {
	if env == nil || env.Stats == nil {
		return nil
	}
	stats := *env.Stats
	return &stats
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
