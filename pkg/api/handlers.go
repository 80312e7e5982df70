package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	uomerrors "github.com/sandboxfirst/uom/errors"
	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/clients"
	"github.com/sandboxfirst/uom/pkg/gate"
	"github.com/sandboxfirst/uom/pkg/orchestrator"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// dispatcher is the slice of gate.Gate the control API needs, narrowed so
// tests can substitute a fake instead of standing up every downstream
// client the real Gate depends on.
type dispatcher interface {
	Dispatch(ctx context.Context, opts clients.CallOptions, req gate.ProcessRequest) (*gate.GateResult, error)
}

// jobStore is the slice of orchestrator.Orchestrator the control API needs
// once a submission has been handed off past the Gate.
type jobStore interface {
	GetJob(jobID string) (orchestrator.JobView, bool)
	Subscribe(jobID string) (<-chan orchestrator.Event, func(), error)
	Stats() orchestrator.Stats
}

// HandlersCollection plays the role catalyst-api's
// CatalystAPIHandlersCollection plays for /api/vod: one struct, one
// constructor, one httprouter.Handle-returning method per route.
type HandlersCollection struct {
	Gate   dispatcher
	Jobs   jobStore
	APIKey string
}

// NewHandlersCollection builds a HandlersCollection. apiKey is sent as the
// X-API-Key header on the downstream calls made on a submission's behalf;
// inbound auth is enforced by middleware.IsAuthorized at the router layer.
func NewHandlersCollection(g dispatcher, jobs jobStore, apiKey string) *HandlersCollection {
	return &HandlersCollection{Gate: g, Jobs: jobs, APIKey: apiKey}
}

// Ok is the healthcheck handler, identical in shape to
// CatalystAPIHandlersCollection.Ok.
func (h *HandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if _, err := io.WriteString(w, "OK"); err != nil {
			log.LogNoRequestID("failed to write /ok response", "err", err)
		}
	}
}

// hasJSONContentType reports whether req carries a JSON body, the same
// check upload.go's HasContentType performs before reading the payload.
func hasJSONContentType(req *http.Request) bool {
	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		return false
	}
	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == "application/json" {
			return true
		}
	}
	return false
}

func decodeFile(in *FileInput) (types.FileContext, error) {
	file := types.FileContext{
		Filename:    in.Filename,
		MimeType:    in.MimeType,
		FileSize:    in.FileSize,
		StoragePath: in.StoragePath,
	}
	if in.InlineBufferBase64 != "" {
		buf, err := base64.StdEncoding.DecodeString(in.InlineBufferBase64)
		if err != nil {
			return file, fmt.Errorf("inlineBufferBase64 is not valid base64: %w", err)
		}
		file.InlineBuffer = buf
	}
	return file, nil
}

// ProcessSandboxFirst handles POST /v1/process/sandbox-first: validates
// and decodes the body, hands it to the Dispatch Gate, then either
// returns immediately (async) or blocks on the resulting job's terminal
// event (sync), per spec.md §4.1/§6.
func (h *HandlersCollection) ProcessSandboxFirst() httprouter.Handle {
	schema := inputSchemasCompiled["ProcessRequest"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		requestID := uuid.NewString()
		log.AddContext(requestID, "route", "process_sandbox_first")
		ctx := log.WithLogValues(req.Context(), "request_id", requestID)

		if !hasJSONContentType(req) {
			uomerrors.WriteHTTPUnsupportedMediaType(w, "requires application/json content type", nil)
			return
		}
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			uomerrors.WriteHTTPInternalServerError(w, "cannot read request body", err)
			return
		}
		result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			uomerrors.WriteHTTPInternalServerError(w, "cannot validate request body", err)
			return
		}
		if !result.Valid() {
			uomerrors.WriteHTTPBadBodySchema("ProcessRequest", w, result.Errors())
			return
		}

		var body ProcessRequestBody
		if err := json.Unmarshal(payload, &body); err != nil {
			uomerrors.WriteHTTPBadRequest(w, "invalid request payload", err)
			return
		}

		var file types.FileContext
		if body.File != nil {
			file, err = decodeFile(body.File)
			if err != nil {
				uomerrors.WriteHTTPBadRequest(w, "invalid file payload", err)
				return
			}
		}

		gateReq := gate.ProcessRequest{
			File:            file,
			RawURL:          body.URL,
			VirusScanBypass: body.VirusScanBypass,
			User:            body.User,
			OrgPolicies:     body.OrgPolicies,
		}

		opts := clients.CallOptions{APIKey: h.APIKey, CorrelationID: requestID, OrgID: body.User.OrgID}
		gateResult, err := h.Gate.Dispatch(ctx, opts, gateReq)
		if err != nil {
			if uomerrors.IsUnretriable(err) {
				uomerrors.WriteHTTPBadRequest(w, "cannot process request", err)
				return
			}
			uomerrors.WriteHTTPInternalServerError(w, "cannot process request", err)
			return
		}

		h.writeProcessResponse(w, ctx, requestID, body.Async, gateResult)
	}
}

// writeProcessResponse renders gateResult as the external Response
// envelope, blocking on the orchestrator job's terminal event first when
// the caller asked for a synchronous response.
func (h *HandlersCollection) writeProcessResponse(w http.ResponseWriter, ctx context.Context, requestID string, async bool, gateResult *gate.GateResult) {
	if gateResult.ShortCircuited {
		status := types.StatusCompleted
		if gateResult.Blocked {
			status = types.StatusBlocked
		}
		writeJSON(w, http.StatusOK, Response{
			JobID:            gateResult.JobID,
			Status:           status,
			Progress:         100,
			Blocked:          gateResult.Blocked,
			BlockCode:        gateResult.BlockCode,
			ProcessingMethod: gateResult.ProcessingMethod,
			TotalFiles:       gateResult.TotalFiles,
			ProcessedFiles:   gateResult.ProcessedFiles,
		})
		return
	}

	sseEndpoint := fmt.Sprintf("/v1/jobs/%s/stream", gateResult.JobID)

	if async {
		view, ok := h.Jobs.GetJob(gateResult.JobID)
		if !ok {
			uomerrors.WriteHTTPInternalServerError(w, "job vanished immediately after creation", nil)
			return
		}
		writeJSON(w, http.StatusAccepted, responseFromView(view, sseEndpoint))
		return
	}

	view, err := h.awaitTerminal(ctx, gateResult.JobID)
	if err != nil {
		uomerrors.WriteHTTPInternalServerError(w, "failed waiting for job to finish", err)
		return
	}
	writeJSON(w, http.StatusOK, responseFromView(view, sseEndpoint))
}

// awaitTerminal blocks until jobID reaches a terminal status or ctx is
// cancelled, used to implement the synchronous Process(req) contract on
// top of the orchestrator's inherently async job table.
func (h *HandlersCollection) awaitTerminal(ctx context.Context, jobID string) (orchestrator.JobView, error) {
	if view, ok := h.Jobs.GetJob(jobID); ok && view.Status.Terminal() {
		return view, nil
	}

	events, unsubscribe, err := h.Jobs.Subscribe(jobID)
	if err != nil {
		return orchestrator.JobView{}, err
	}
	defer unsubscribe()

	// A job may have reached a terminal status between the GetJob check
	// above and Subscribe taking effect; re-check once subscribed.
	if view, ok := h.Jobs.GetJob(jobID); ok && view.Status.Terminal() {
		return view, nil
	}

	for {
		select {
		case <-ctx.Done():
			return orchestrator.JobView{}, ctx.Err()
		case ev, open := <-events:
			if !open {
				view, _ := h.Jobs.GetJob(jobID)
				return view, nil
			}
			if isTerminalEvent(ev.Type) {
				view, _ := h.Jobs.GetJob(jobID)
				return view, nil
			}
		}
	}
}

func isTerminalEvent(t orchestrator.EventType) bool {
	switch t {
	case orchestrator.EventComplete, orchestrator.EventBlocked, orchestrator.EventReviewQueued, orchestrator.EventError:
		return true
	default:
		return false
	}
}

// GetJob handles GET /v1/jobs/:jobId.
func (h *HandlersCollection) GetJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		jobID := ps.ByName("jobId")
		view, ok := h.Jobs.GetJob(jobID)
		if !ok {
			uomerrors.WriteHTTPNotFound(w, "JOB_NOT_FOUND", uomerrors.NewObjectNotFoundError(jobID, nil))
			return
		}
		writeJSON(w, http.StatusOK, responseFromView(view, fmt.Sprintf("/v1/jobs/%s/stream", jobID)))
	}
}

// Stats handles GET /v1/orchestrator/stats.
func (h *HandlersCollection) Stats() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, statsResponseFrom(h.Jobs.Stats()))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoRequestID("failed to write JSON response", "err", err)
	}
}
