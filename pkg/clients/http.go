package clients

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/metrics"
)

// newRetryableHTTPClient matches the retry/backoff tuning catalyst-api uses
// for its own upstream HTTP calls (clients.MediaConvert, clients.Broadcaster):
// a handful of short, bounded retries rather than an open-ended backoff.
func newRetryableHTTPClient(timeout time.Duration) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.CheckRetry = metrics.HttpRetryHook
	client.HTTPClient = &http.Client{
		Timeout: timeout,
	}
	client.Logger = log.NewRetryableHTTPLogger()

	return client.StandardClient()
}

// headers every outbound call to an external collaborator must carry, per
// the module's external interface contract.
func commonHeaders(req *http.Request, apiKey, correlationID, orgID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("X-Internal-Service", "uom")
	req.Header.Set("X-Correlation-ID", correlationID)
	if orgID != "" {
		req.Header.Set("X-Tenant-ID", orgID)
	}
}

// CallOptions carries the per-call identity/auth headers every client
// method needs, so method signatures don't grow an ever-longer parameter
// list as more headers get added.
type CallOptions struct {
	APIKey        string
	CorrelationID string
	OrgID         string
}
