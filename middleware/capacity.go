package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"

	"github.com/sandboxfirst/uom/metrics"
)

// JobCounter is satisfied by *orchestrator.Orchestrator. It is declared
// here, not imported, so this middleware stays a leaf package the way
// catalyst-api's middleware package does.
type JobCounter interface {
	InFlightCount() int
}

// CapacityMiddleware returns 429 for a new submission once the
// orchestrator's non-terminal jobs plus the submissions currently passing
// through this middleware would exceed MaxConcurrentJobs. Counting the
// in-flight requests too keeps a burst of concurrent submissions from all
// seeing the same job count and all getting through. A MaxConcurrentJobs of
// zero or less disables the check.
type CapacityMiddleware struct {
	MaxConcurrentJobs int
	requestsInFlight  atomic.Int64
}

func (c *CapacityMiddleware) HasCapacity(jobs JobCounter, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)
		inFlight := c.requestsInFlight.Add(1)
		defer c.requestsInFlight.Add(-1)

		if c.MaxConcurrentJobs > 0 && jobs.InFlightCount()+int(inFlight) > c.MaxConcurrentJobs {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		next(w, r, ps)
	}
}
