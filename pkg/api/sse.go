package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	uomerrors "github.com/sandboxfirst/uom/errors"
	"github.com/sandboxfirst/uom/log"
)

const sseHeartbeatInterval = 30 * time.Second

// Stream handles GET /v1/jobs/:jobId/stream: a server-sent-events feed of
// the job's future events, ending after the first terminal event. Built
// on raw http.Flusher writes rather than a third-party SSE framework, the
// same manual-flush style catalyst-api uses for its streaming playback
// handlers.
func (h *HandlersCollection) Stream() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		jobID := ps.ByName("jobId")

		flusher, ok := w.(http.Flusher)
		if !ok {
			uomerrors.WriteHTTPInternalServerError(w, "streaming unsupported", nil)
			return
		}

		if view, found := h.Jobs.GetJob(jobID); !found {
			uomerrors.WriteHTTPNotFound(w, "JOB_NOT_FOUND", uomerrors.NewObjectNotFoundError(jobID, nil))
			return
		} else if view.Status.Terminal() {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			writeSSEEvent(w, "status", responseFromView(view, ""))
			flusher.Flush()
			return
		}

		events, unsubscribe, err := h.Jobs.Subscribe(jobID)
		if err != nil {
			uomerrors.WriteHTTPNotFound(w, "JOB_NOT_FOUND", err)
			return
		}
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer heartbeat.Stop()

		ctx := req.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					log.LogNoRequestID("sse heartbeat write failed", "jobId", jobID, "err", err)
					return
				}
				flusher.Flush()
			case ev, open := <-events:
				if !open {
					return
				}
				writeSSEEvent(w, string(ev.Type), ev.Data)
				flusher.Flush()
				if isTerminalEvent(ev.Type) {
					return
				}
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.LogNoRequestID("failed to marshal sse event payload", "event", event, "err", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
