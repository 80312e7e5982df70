// Package api wires the Dispatch Gate and the Orchestrator behind
// httprouter, the same shape catalyst-api's api package wires
// pipeline.Coordinator behind for /api/vod.
package api

import (
	"github.com/sandboxfirst/uom/pkg/gate"
	"github.com/sandboxfirst/uom/pkg/orchestrator"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// FileInput is the wire shape of a submitted file. The JSON schema only
// requires Filename; the body is located by StoragePath or
// InlineBufferBase64, and the Dispatch Gate rejects a submission that has
// neither and no URL alongside.
type FileInput struct {
	Filename           string `json:"filename"`
	MimeType           string `json:"mimeType,omitempty"`
	FileSize           int64  `json:"fileSize,omitempty"`
	StoragePath        string `json:"storagePath,omitempty"`
	InlineBufferBase64 string `json:"inlineBufferBase64,omitempty"`
}

// ProcessRequestBody is the POST /v1/process/sandbox-first body, per
// spec.md §4.1's req = {file, user?, orgPolicies?, async, priority}. URL
// submissions (YouTube/GitHub/Drive/direct links) are carried on a
// sibling "url" field rather than nested inside "file". When both are
// present the Dispatch Gate routes on the URL.
type ProcessRequestBody struct {
	File            *FileInput              `json:"file,omitempty"`
	URL             string                  `json:"url,omitempty"`
	VirusScanBypass bool                    `json:"virusScanBypass,omitempty"`
	User            types.UserContext       `json:"user,omitempty"`
	OrgPolicies     types.OrgSecurityPolicy `json:"orgPolicies,omitempty"`
	Async           bool                    `json:"async"`
	// Priority is accepted for forward compatibility with spec.md §4.1's
	// request shape but is not currently consulted: the orchestrator
	// serves jobs first-come-first-served inside its concurrency cap (see
	// DESIGN.md, "No priority queue").
	Priority int `json:"priority,omitempty"`
}

// Response is the external shape of a job: the immediate async
// acknowledgement, the polled GetJob snapshot, and the terminal sync
// response all use this same envelope, per spec.md §4.1/§6.
type Response struct {
	JobID        string                  `json:"jobId"`
	Status       types.JobStatus         `json:"status"`
	Progress     int                     `json:"progress"`
	CurrentStage string                  `json:"currentStage"`
	SSEEndpoint  string                  `json:"sseEndpoint,omitempty"`
	Result       *types.ProcessingResult `json:"result,omitempty"`
	Blocked      bool                    `json:"blocked,omitempty"`
	BlockCode    string                  `json:"blockCode,omitempty"`
	Error        string                  `json:"error,omitempty"`
	ErrorStage   string                  `json:"errorStage,omitempty"`

	// ProcessingMethod is set on every short-circuited submission.
	// TotalFiles/ProcessedFiles are only set on an archive fan-out, which
	// has no single terminal job to report on - see
	// gate.Gate.dispatchArchive.
	ProcessingMethod string                `json:"processingMethod,omitempty"`
	TotalFiles       int                   `json:"totalFiles,omitempty"`
	ProcessedFiles   []gate.ChildJobResult `json:"processedFiles,omitempty"`
}

// responseFromView maps an orchestrator.JobView onto the external
// Response envelope.
func responseFromView(view orchestrator.JobView, sseEndpoint string) Response {
	return Response{
		JobID:        view.ID,
		Status:       view.Status,
		Progress:     view.Progress,
		CurrentStage: view.CurrentStage,
		SSEEndpoint:  sseEndpoint,
		Result:       view.ProcessingResult,
		Blocked:      view.Status == types.StatusBlocked,
		Error:        view.Error,
		ErrorStage:   view.ErrorStage,
	}
}

// StatsResponse is the GET /v1/orchestrator/stats body.
type StatsResponse struct {
	ActiveJobs   int                     `json:"activeJobs"`
	TotalJobs    int                     `json:"totalJobs"`
	JobsByStatus map[types.JobStatus]int `json:"jobsByStatus"`
}

func statsResponseFrom(s orchestrator.Stats) StatsResponse {
	return StatsResponse{
		ActiveJobs:   s.InFlight,
		TotalJobs:    s.Total,
		JobsByStatus: s.ByStatus,
	}
}
