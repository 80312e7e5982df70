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
	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// AnalyzeRequest is posted to MageAgent's single request/response analyze
// endpoint.
type AnalyzeRequest struct {
	CorrelationID string                      `json:"correlationId"`
	File          types.FileContext           `json:"file"`
	Route         types.RouteDecision         `json:"route"`
}

// AnalyzeResponse is either a finished result, or - when the service can't
// finish inline - a pollUrl/taskId pair the caller is expected to poll.
type AnalyzeResponse struct {
	Done    bool                       `json:"done"`
	Result  *types.ProcessingResult    `json:"result,omitempty"`
	PollURL string                     `json:"pollUrl,omitempty"`
	TaskID  string                     `json:"taskId,omitempty"`
}

// analyzePollIntervalForTest overrides the poll cadence in tests so they
// don't have to wait out the real config.AnalyzePollInterval.
var analyzePollIntervalForTest = config.AnalyzePollInterval

// AnalyzeClient implements the synchronous-analyze protocol: a single
// request that usually returns inline, with an async escape hatch polled
// on a slower cadence than the scan protocol.
type AnalyzeClient struct {
	Name    string
	baseURL string
	http    *http.Client
	breaker *breaker.Service
}

func NewAnalyzeClient(name, baseURL string, svc *breaker.Service) *AnalyzeClient {
	return &AnalyzeClient{
		Name:    name,
		baseURL: baseURL,
		http:    newRetryableHTTPClient(60 * time.Second),
		breaker: svc,
	}
}

// Analyze submits req and, if the service couldn't finish inline, polls the
// returned pollUrl every config.AnalyzePollInterval until the result is
// ready or ctx is cancelled.
func (c *AnalyzeClient) Analyze(ctx context.Context, opts CallOptions, req AnalyzeRequest) (*types.ProcessingResult, error) {
	resp, err := c.submit(ctx, opts, req)
	if err != nil {
		return nil, fmt.Errorf("%s analyze: %w", c.Name, err)
	}

	if resp.Done {
		return resp.Result, nil
	}

	return c.pollUntilDone(ctx, opts, resp)
}

func (c *AnalyzeClient) submit(ctx context.Context, opts CallOptions, req AnalyzeRequest) (AnalyzeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("marshaling analyze request: %w", err)
	}

	result, err := c.breaker.ExecuteCtx(ctx, func(ctx context.Context) (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		commonHeaders(httpReq, opts.APIKey, opts.CorrelationID, opts.OrgID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("%s analyze returned %d: %s", c.Name, resp.StatusCode, string(b))
		}

		var analyzeResp AnalyzeResponse
		if err := json.NewDecoder(resp.Body).Decode(&analyzeResp); err != nil {
			return nil, fmt.Errorf("decoding %s analyze response: %w", c.Name, err)
		}
		return analyzeResp, nil
	})
	if err != nil {
		return AnalyzeResponse{}, err
	}
	return result.(AnalyzeResponse), nil
}

func (c *AnalyzeClient) pollUntilDone(ctx context.Context, opts CallOptions, first AnalyzeResponse) (*types.ProcessingResult, error) {
	ticker := time.NewTicker(analyzePollIntervalForTest)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, err := c.breaker.ExecuteCtx(ctx, func(ctx context.Context) (any, error) {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, first.PollURL, nil)
			if err != nil {
				return nil, err
			}
			commonHeaders(httpReq, opts.APIKey, opts.CorrelationID, opts.OrgID)

			resp, err := c.http.Do(httpReq)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				b, _ := io.ReadAll(resp.Body)
				return nil, fmt.Errorf("%s poll returned %d: %s", c.Name, resp.StatusCode, string(b))
			}

			var polled AnalyzeResponse
			if err := json.NewDecoder(resp.Body).Decode(&polled); err != nil {
				return nil, fmt.Errorf("decoding %s poll response: %w", c.Name, err)
			}
			return polled, nil
		})
		if err != nil {
			return nil, err
		}

		polled := result.(AnalyzeResponse)
		if polled.Done {
			return polled.Result, nil
		}
		log.LogNoRequestID("analyze still in progress", "service", c.Name, "taskId", first.TaskID)
	}
}
