package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sandboxfirst/uom/config"
	uomerrors "github.com/sandboxfirst/uom/errors"
	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// ScanRequest is the payload posted to a scan-protocol service's Submit
// endpoint (CyberAgent, VideoAgent, GeoAgent, GitHubManager).
type ScanRequest struct {
	CorrelationID string              `json:"correlationId"`
	File          types.FileContext   `json:"file"`
	Tier          types.SandboxTier   `json:"tier"`
	Tools         []string            `json:"tools"`
	TimeoutMs     int                 `json:"timeoutMs"`
}

type submitResponse struct {
	TaskID string `json:"taskId"`
}

// ScanStatusResponse is returned by a scan service's Status endpoint while
// analysis is in flight, and in its terminal form once it completes.
type ScanStatusResponse struct {
	Status string                        `json:"status"` // "pending" | "running" | "complete" | "failed"
	Result *types.SandboxAnalysisResult  `json:"result,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

// scanPollIntervalForTest overrides the poll cadence in tests so they don't
// have to wait out the real config.ScanPollInterval.
var scanPollIntervalForTest = config.ScanPollInterval

// ScanClient implements the scan protocol: Submit a task, then poll Status
// until it reports complete or failed, with Cancel available to abandon a
// task early (Poll calls it when its context ends first).
type ScanClient struct {
	Name    string
	baseURL string
	http    *http.Client
	breaker *breaker.Service
}

// NewScanClient builds a scan-protocol client bound to one named upstream
// service and its dedicated circuit breaker.
func NewScanClient(name, baseURL string, svc *breaker.Service) *ScanClient {
	return &ScanClient{
		Name:    name,
		baseURL: baseURL,
		http:    newRetryableHTTPClient(30 * time.Second),
		breaker: svc,
	}
}

func (c *ScanClient) Submit(ctx context.Context, opts CallOptions, req ScanRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling scan request: %w", err)
	}

	result, err := c.breaker.ExecuteCtx(ctx, func(ctx context.Context) (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scan", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		commonHeaders(httpReq, opts.APIKey, opts.CorrelationID, opts.OrgID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("submitting scan to %s: %w", c.Name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("%s submit returned %d: %s", c.Name, resp.StatusCode, string(b))
		}

		var sub submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
			return nil, fmt.Errorf("decoding %s submit response: %w", c.Name, err)
		}
		return sub.TaskID, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *ScanClient) Status(ctx context.Context, opts CallOptions, taskID string) (ScanStatusResponse, error) {
	result, err := c.breaker.ExecuteCtx(ctx, func(ctx context.Context) (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/scan/"+taskID, nil)
		if err != nil {
			return nil, err
		}
		commonHeaders(httpReq, opts.APIKey, opts.CorrelationID, opts.OrgID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("getting %s scan status: %w", c.Name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, uomerrors.NewObjectNotFoundError(taskID, nil)
		}
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("%s status returned %d: %s", c.Name, resp.StatusCode, string(b))
		}

		var status ScanStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return nil, fmt.Errorf("decoding %s status response: %w", c.Name, err)
		}
		return status, nil
	})
	if err != nil {
		return ScanStatusResponse{}, err
	}
	return result.(ScanStatusResponse), nil
}

func (c *ScanClient) Cancel(ctx context.Context, opts CallOptions, taskID string) error {
	_, err := c.breaker.ExecuteCtx(ctx, func(ctx context.Context) (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/scan/"+taskID, nil)
		if err != nil {
			return nil, err
		}
		commonHeaders(httpReq, opts.APIKey, opts.CorrelationID, opts.OrgID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("cancelling %s scan: %w", c.Name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			b, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("%s cancel returned %d: %s", c.Name, resp.StatusCode, string(b))
		}
		return nil, nil
	})
	return err
}

// Poll submits req and blocks, polling Status every config.ScanPollInterval,
// until the task completes, fails, or ctx is cancelled - in which case it
// best-effort cancels the task before returning ctx.Err().
func (c *ScanClient) Poll(ctx context.Context, opts CallOptions, req ScanRequest) (*types.SandboxAnalysisResult, error) {
	taskID, err := c.Submit(ctx, opts, req)
	if err != nil {
		return nil, fmt.Errorf("%s submit: %w", c.Name, err)
	}

	ticker := time.NewTicker(scanPollIntervalForTest)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.Cancel(context.Background(), opts, taskID)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := c.Status(ctx, opts, taskID)
		if err != nil {
			if ctx.Err() != nil {
				_ = c.Cancel(context.Background(), opts, taskID)
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%s status poll: %w", c.Name, err)
		}

		switch status.Status {
		case "complete":
			if status.Result == nil {
				return nil, fmt.Errorf("%s reported complete with no result", c.Name)
			}
			return status.Result, nil
		case "failed":
			return nil, fmt.Errorf("%s scan failed: %s", c.Name, status.Error)
		default:
			log.LogNoRequestID("scan still in progress", "service", c.Name, "taskId", taskID, "status", status.Status)
		}
	}
}
