package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the forestd HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given base address, e.g.
// "http://127.0.0.1:7373".
func NewClient(baseURL string) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	return &Client{
		baseURL: trimmed,
		// Long-poll requests bound their own server-side timeout; leave
		// headroom above the API's 30s clamp.
		http: &http.Client{Timeout: 45 * time.Second},
	}
}

// StatusError carries a structured API error with its HTTP status.
type StatusError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return e.Message
}

// SubmitScan enqueues a new scan job.
func (c *Client) SubmitScan(ctx context.Context, req SubmitScanRequest) (*SubmitScanResponse, error) {
	var resp SubmitScanResponse
	if err := c.post(ctx, "/api/scans", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobStatus fetches one job's status document.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	var resp JobStatusResponse
	if err := c.get(ctx, "/api/scans/"+url.PathEscape(jobID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PipelineStatus reads the snapshot, long-polling when since is non-zero
// or waitSeconds is positive.
func (c *Client) PipelineStatus(ctx context.Context, since uint64, waitSeconds int) (*PipelineStatusResponse, error) {
	values := url.Values{}
	if since > 0 {
		values.Set("since", strconv.FormatUint(since, 10))
	}
	if waitSeconds > 0 {
		values.Set("wait", "1")
		values.Set("timeout", strconv.Itoa(waitSeconds))
	}
	path := "/api/pipeline/status"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp PipelineStatusResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve finalizes a job in review.
func (c *Client) Approve(ctx context.Context, req ApproveRequest) (*ApproveResponse, error) {
	var resp ApproveResponse
	if err := c.post(ctx, "/api/approvals", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Discard rejects a job in review.
func (c *Client) Discard(ctx context.Context, req DiscardRequest) (*DiscardResponse, error) {
	var resp DiscardResponse
	if err := c.post(ctx, "/api/approvals/discard", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Spawn appends an active entity directly.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*SpawnResponse, error) {
	var resp SpawnResponse
	if err := c.post(ctx, "/api/spawn", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearEntities triggers the kill switch.
func (c *Client) ClearEntities(ctx context.Context) (*ClearEntitiesResponse, error) {
	var resp ClearEntitiesResponse
	if err := c.post(ctx, "/api/entities/clear", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Gallery lists permanent artifacts.
func (c *Client) Gallery(ctx context.Context, owner, phone string) (*GalleryResponse, error) {
	values := url.Values{}
	if owner != "" {
		values.Set("owner", owner)
	}
	if phone != "" {
		values.Set("phone", phone)
	}
	path := "/api/gallery"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp GalleryResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteArtifacts removes several artifacts and their files in one call.
func (c *Client) DeleteArtifacts(ctx context.Context, fileNames []string) (*DeleteArtifactsResponse, error) {
	var resp DeleteArtifactsResponse
	if err := c.post(ctx, "/api/gallery/delete_many", DeleteArtifactsRequest{FileNames: fileNames}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearGallery wipes every artifact record, gallery file, and active entity.
func (c *Client) ClearGallery(ctx context.Context) (*ClearGalleryResponse, error) {
	var resp ClearGalleryResponse
	if err := c.post(ctx, "/api/gallery/clear", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteArtifact removes one permanent artifact record and its file.
func (c *Client) DeleteArtifact(ctx context.Context, fileName string) (*DeleteArtifactResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/gallery/"+url.PathEscape(fileName), nil)
	if err != nil {
		return nil, err
	}
	var resp DeleteArtifactResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches the daemon health document.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/api/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return &StatusError{StatusCode: resp.StatusCode, Kind: apiErr.Kind, Message: apiErr.Error}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
