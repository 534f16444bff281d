// Package hub is the HTTP client for the remote admission/storage service:
// it exchanges an artifact's name, size and storage tier for a short-lived
// upload token, performs the byte transfer with progress reporting, polls
// tier capacity and requests deletions.
//
// A publish attempt moves through token request, transfer, and either
// completion or failure. Failure is terminal for the attempt: the client
// never retries and never reuses a token, so a new attempt always starts
// with a fresh token request.
package hub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// TokenError reports a failed upload-token request.
type TokenError struct {
	Message string
	Err     error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload token: %s: %v", e.Message, e.Err)
	}
	return "upload token: " + e.Message
}

func (e *TokenError) Unwrap() error { return e.Err }

// TransferError reports a failed byte transfer. Cancelled distinguishes a
// caller abort from a network or service failure.
type TransferError struct {
	Message   string
	Cancelled bool
	Err       error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer: %s: %v", e.Message, e.Err)
	}
	return "transfer: " + e.Message
}

func (e *TransferError) Unwrap() error { return e.Err }

// UploadToken is a single-use authorization for exactly one
// (filename, byte length, storage tier) triple. It is never persisted.
type UploadToken struct {
	Token       string  `json:"token"`
	Filename    string  `json:"filename"`
	StorageTier string  `json:"storage_tier"`
	ExpiresIn   int     `json:"expires_in"`
	UploadURL   string  `json:"upload_url"`
	MaxSizeMB   float64 `json:"max_size_mb"`
}

// UploadResult is the durable outcome of a completed transfer.
type UploadResult struct {
	DownloadURL    string `json:"download_url"`
	Filename       string `json:"filename"`
	ExpiresInHours int    `json:"expires_in_hours"`
}

// StorageStatus is the tier-wide capacity report used for pre-upload
// admission checks.
type StorageStatus struct {
	AvailableMB   float64 `json:"available_mb"`
	UsagePercent  float64 `json:"usage_percent"`
	FileCount     int     `json:"file_count"`
	CanUpload     bool    `json:"can_upload"`
	MaxFileSizeMB float64 `json:"max_file_size_mb"`
}

// ProgressFunc receives monotonically non-decreasing (sent, total) byte
// counts during a transfer, terminating at (total, total) on success.
type ProgressFunc func(sent, total int64)

// Client talks to one hub service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a hub client for the given base URL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
			},
		},
		logger: logger.With(zap.String("component", "hub_client")),
	}
}

// RequestToken asks the hub for a fresh upload authorization.
func (c *Client) RequestToken(ctx context.Context, filename string, contentLength int64, tier string) (*UploadToken, error) {
	body, err := json.Marshal(map[string]any{
		"filename":       filename,
		"content_length": contentLength,
		"storage_tier":   tier,
	})
	if err != nil {
		return nil, &TokenError{Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/upload-token", bytes.NewReader(body))
	if err != nil {
		return nil, &TokenError{Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TokenError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenError{Message: readErrorDetail(resp)}
	}

	var token UploadToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, &TokenError{Message: "malformed response", Err: err}
	}
	return &token, nil
}

// Upload transfers the artifact bytes to the URL the token encodes. The
// token is consumed by this call regardless of outcome; a failed attempt
// needs a fresh token. onProgress may be nil.
func (c *Client) Upload(ctx context.Context, token *UploadToken, filename string, data []byte, onProgress ProgressFunc) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, &TransferError{Message: "failed to build request body", Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return nil, &TransferError{Message: "failed to build request body", Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &TransferError{Message: "failed to build request body", Err: err}
	}

	total := int64(body.Len())
	reader := &progressReader{r: &body, total: total, onProgress: onProgress}

	uploadURL, err := c.resolveUploadURL(token.UploadURL)
	if err != nil {
		return nil, &TransferError{Message: "invalid upload URL", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, reader)
	if err != nil {
		return nil, &TransferError{Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token.Token)
	req.ContentLength = total

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, &TransferError{Message: "upload cancelled", Cancelled: true, Err: err}
		}
		return nil, &TransferError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransferError{Message: readErrorDetail(resp)}
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransferError{Message: "malformed response", Err: err}
	}

	if onProgress != nil {
		onProgress(total, total)
	}
	c.logger.Info("Upload complete",
		zap.String("filename", result.Filename),
		zap.Int64("bytes", total),
	)
	return &result, nil
}

// Status polls remaining tier-wide capacity.
func (c *Client) Status(ctx context.Context, tier string) (*StorageStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/status?tier="+url.QueryEscape(tier), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", readErrorDetail(resp))
	}

	var status StorageStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}
	return &status, nil
}

// Delete asks the hub to purge stored bytes. Best-effort: callers must not
// block local soft-deletes on a failure here.
func (c *Client) Delete(ctx context.Context, filename string) error {
	body, err := json.Marshal(map[string]string{"filename": filename})
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delete request failed: %s", readErrorDetail(resp))
	}
	return nil
}

// resolveUploadURL joins the service base URL with the relative upload path
// from the token. Absolute upload URLs are taken as-is.
func (c *Client) resolveUploadURL(uploadURL string) (string, error) {
	u, err := url.Parse(uploadURL)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return uploadURL, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// readErrorDetail surfaces the service's error body verbatim, preferring the
// "detail" field, then "error", then the HTTP status text.
func readErrorDetail(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && len(body) > 0 {
		var payload struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			if payload.Detail != "" {
				return payload.Detail
			}
			if payload.Error != "" {
				return payload.Error
			}
		}
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// progressReader counts bytes handed to the transport. Counts only grow, so
// derived percentages never decrease.
type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}
