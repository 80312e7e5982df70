package gate

import (
	"context"
	"fmt"

	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/clients"
	"github.com/sandboxfirst/uom/pkg/decision"
	"github.com/sandboxfirst/uom/pkg/patterns"
	"github.com/sandboxfirst/uom/pkg/uom/types"

	uomerrors "github.com/sandboxfirst/uom/errors"
)

// orchestratorClient is the narrow surface Gate needs to hand a request off
// once it decides not to short-circuit.
type orchestratorClient interface {
	Process(ctx context.Context, file types.FileContext, user types.UserContext, policies types.OrgSecurityPolicy) (string, error)
}

// patternFinder and patternRunner narrow Gate's dependency on
// patterns.Learner/patterns.Executor to just what the cache-hit short
// circuit needs, so tests can substitute fakes instead of standing up
// Postgres/Redis.
type patternFinder interface {
	FindPattern(ctx context.Context, key string) (*patterns.FindResult, bool, error)
}

type patternRunner interface {
	Execute(ctx context.Context, opts clients.CallOptions, pattern *types.ProcessingPattern, file types.FileContext) (*types.ProcessingResult, error)
}

// objectStoreFetcher is the slice of clients.ObjectStoreClient Dispatch
// needs to sniff a StoragePath-only submission's magic bytes, narrowed so
// tests can substitute a fake instead of standing up a real S3 session.
type objectStoreFetcher interface {
	Fetch(storagePath string) ([]byte, error)
}

// ProcessRequest is what the control API hands to the gate: the raw
// submission, before magic-byte MIME detection or URL classification have
// run.
type ProcessRequest struct {
	File            types.FileContext
	RawURL          string
	VirusScanBypass bool
	User            types.UserContext
	OrgPolicies     types.OrgSecurityPolicy
}

// ChildJobResult is one entry of an archive fan-out's aggregate result.
type ChildJobResult struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
}

// GateResult is what Dispatch returns: either a terminal, short-circuited
// response, or a JobID handed off to the Orchestrator.
type GateResult struct {
	ShortCircuited   bool   `json:"shortCircuited"`
	ProcessingMethod string `json:"processingMethod,omitempty"`
	JobID            string `json:"jobId,omitempty"`
	PollURL          string `json:"pollUrl,omitempty"`

	Blocked   bool   `json:"blocked,omitempty"`
	BlockCode string `json:"blockCode,omitempty"`

	TotalFiles     int              `json:"totalFiles,omitempty"`
	ProcessedFiles []ChildJobResult `json:"processedFiles,omitempty"`
}

// Gate is the single pre-orchestrator entry point spec.md §9 calls for: one
// function that classifies an inbound request and either short-circuits it
// to a specialized downstream service or forwards it to the Orchestrator.
type Gate struct {
	orchestrator orchestratorClient
	learner      patternFinder
	executor     patternRunner
	objectStore  objectStoreFetcher
	services     map[types.TargetService]*clients.AnalyzeClient
}

// Options wires Gate's collaborators. Learner, Executor, and ObjectStore
// may each be nil: with Learner/Executor nil, the pattern-cache short
// circuit is never taken; with ObjectStore nil, a StoragePath-only
// submission skips magic-byte detection and is routed purely on its
// declared MimeType/filename.
type Options struct {
	Orchestrator orchestratorClient
	Learner      *patterns.Learner
	Executor     *patterns.Executor
	ObjectStore  *clients.ObjectStoreClient
	Services     map[types.TargetService]*clients.AnalyzeClient
}

func New(opts Options) *Gate {
	g := &Gate{
		orchestrator: opts.Orchestrator,
		services:     opts.Services,
	}
	// Guard against wrapping a nil *patterns.Learner/*patterns.Executor/
	// *clients.ObjectStoreClient in a non-nil interface value, which would
	// make the corresponding field != nil true even when nothing was
	// configured.
	if opts.Learner != nil {
		g.learner = opts.Learner
	}
	if opts.Executor != nil {
		g.executor = opts.Executor
	}
	if opts.ObjectStore != nil {
		g.objectStore = opts.ObjectStore
	}
	return g
}

// Dispatch is the Gate's single entry point.
func (g *Gate) Dispatch(ctx context.Context, opts clients.CallOptions, req ProcessRequest) (*GateResult, error) {
	if !req.File.Valid() && req.RawURL == "" {
		return nil, uomerrors.NewValidationFailedError("no file body, storage path, or URL provided")
	}

	if req.RawURL != "" {
		return g.dispatchURL(ctx, opts, req)
	}

	return g.dispatchUpload(ctx, opts, req)
}

func (g *Gate) dispatchURL(ctx context.Context, opts clients.CallOptions, req ProcessRequest) (*GateResult, error) {
	kind := ClassifyURL(req.RawURL)

	switch kind {
	case URLKindYouTube:
		return g.shortCircuit(ctx, opts, types.ServiceVideoAgent, "videoagent_youtube", req.File, req.RawURL, videoAgentFailure)
	case URLKindGitHubRepo:
		return g.shortCircuit(ctx, opts, types.ServiceGitHubManager, "github_repo_ingestion", req.File, req.RawURL, githubManagerFailure)
	case URLKindGoogleDrive:
		if req.VirusScanBypass {
			return g.shortCircuit(ctx, opts, types.ServiceMageAgent, "drive_bypass", req.File, req.RawURL, mageAgentFailure)
		}
	}

	file := req.File
	file.OriginalURL = req.RawURL
	jobID, err := g.orchestrator.Process(ctx, file, req.User, req.OrgPolicies)
	if err != nil {
		return nil, err
	}
	return &GateResult{JobID: jobID}, nil
}

func (g *Gate) dispatchUpload(ctx context.Context, opts clients.CallOptions, req ProcessRequest) (*GateResult, error) {
	file := req.File

	if len(file.InlineBuffer) > 0 {
		file.MimeType = DetectMimeType(file.InlineBuffer)
		file.FileSize = int64(len(file.InlineBuffer))
	} else if file.StoragePath != "" && g.objectStore != nil {
		if body, err := g.objectStore.Fetch(file.StoragePath); err != nil {
			log.LogCtx(ctx, "object store fetch failed, skipping magic-byte detection", "storagePath", file.StoragePath, "err", err)
		} else {
			file.MimeType = DetectMimeType(body)
			file.FileSize = int64(len(body))
		}
	}

	if decision.IsArchiveExtension(file.Filename) {
		return g.dispatchArchive(ctx, req)
	}

	if IsSuspicious(file.Filename, file.MimeType) {
		if result, err := g.shortCircuit(ctx, opts, types.ServiceCyberAgent, "cyberagent_binary_analysis", file, "", cyberAgentFailure); err == nil {
			return result, nil
		} else {
			log.LogCtx(ctx, "cyberagent short circuit failed, falling through to orchestrator", "filename", file.Filename, "err", err)
		}
	}

	if g.learner != nil && g.executor != nil {
		if result := g.tryPatternShortCircuit(ctx, opts, file); result != nil {
			return result, nil
		}
	}

	jobID, err := g.orchestrator.Process(ctx, file, req.User, req.OrgPolicies)
	if err != nil {
		return nil, err
	}
	return &GateResult{JobID: jobID}, nil
}

func (g *Gate) dispatchArchive(ctx context.Context, req ProcessRequest) (*GateResult, error) {
	members, err := extractArchiveMembers(req.File.Filename, req.File.InlineBuffer)
	if err != nil {
		return nil, uomerrors.NewValidationFailedError(fmt.Sprintf("could not extract archive: %s", err))
	}

	results := make([]ChildJobResult, 0, len(members))
	for _, m := range members {
		childFile := childFileContext(m)
		jobID, err := g.orchestrator.Process(ctx, childFile, req.User, req.OrgPolicies)
		if err != nil {
			log.LogCtx(ctx, "archive child job failed to start", "member", m.name, "err", err)
			results = append(results, ChildJobResult{Success: false})
			continue
		}
		results = append(results, ChildJobResult{JobID: jobID, Success: true})
	}

	return &GateResult{
		ShortCircuited:   true,
		ProcessingMethod: "archive_fan_out",
		TotalFiles:       len(members),
		ProcessedFiles:   results,
	}, nil
}

// tryPatternShortCircuit consults the Learner directly, by the file's
// fingerprint, for every upload that is neither an archive nor
// short-circuited to CyberAgent; it does not check whether the file's MIME
// type is otherwise known. On an eligible hit it runs the cached pattern
// instead of engaging the Orchestrator at all. Returns
// nil when there is no eligible pattern, so the caller falls through to the
// normal orchestrator path.
func (g *Gate) tryPatternShortCircuit(ctx context.Context, opts clients.CallOptions, file types.FileContext) *GateResult {
	key := patterns.Fingerprint(file, types.DecisionInitialTriage)
	found, ok, err := g.learner.FindPattern(ctx, key)
	if err != nil {
		log.LogCtx(ctx, "pattern lookup failed during gate short circuit", "key", key, "err", err)
		return nil
	}
	if !ok {
		return nil
	}

	result, err := g.executor.Execute(ctx, opts, found.Pattern, file)
	if err != nil || result == nil || !result.Success {
		log.LogCtx(ctx, "cached pattern execution failed, falling through to orchestrator", "key", key, "err", err)
		return nil
	}

	return &GateResult{
		ShortCircuited:   true,
		ProcessingMethod: "pattern_cache_execution",
		JobID:            result.JobID,
	}
}

// shortCircuitFailure describes what an unsuccessful Analyze call means for
// one particular downstream service: only CyberAgent's failure is a security
// verdict ("malicious file blocked"). The other three services short-circuit
// for routing reasons unrelated to threat detection, so their failures are
// unrelated downstream errors and must not be reported as a malicious-file
// block.
type shortCircuitFailure struct {
	Blocked   bool
	BlockCode string
}

var (
	cyberAgentFailure    = shortCircuitFailure{Blocked: true, BlockCode: "MALICIOUS_FILE_BLOCKED"}
	videoAgentFailure    = shortCircuitFailure{Blocked: false, BlockCode: "VIDEO_AGENT_ANALYSIS_FAILED"}
	githubManagerFailure = shortCircuitFailure{Blocked: false, BlockCode: "GITHUB_INGESTION_FAILED"}
	mageAgentFailure     = shortCircuitFailure{Blocked: false, BlockCode: "DRIVE_BYPASS_FAILED"}
)

func (g *Gate) shortCircuit(ctx context.Context, opts clients.CallOptions, service types.TargetService, method string, file types.FileContext, rawURL string, onFailure shortCircuitFailure) (*GateResult, error) {
	client, ok := g.services[service]
	if !ok {
		return nil, fmt.Errorf("no client configured for service %q", service)
	}

	if rawURL != "" {
		file.OriginalURL = rawURL
	}

	result, err := client.Analyze(ctx, opts, clients.AnalyzeRequest{
		CorrelationID: opts.CorrelationID,
		File:          file,
		Route: types.RouteDecision{
			TargetService: service,
			Method:        method,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s short circuit: %w", service, err)
	}

	if !result.Success {
		return &GateResult{
			ShortCircuited:   true,
			ProcessingMethod: method,
			Blocked:          onFailure.Blocked,
			BlockCode:        onFailure.BlockCode,
			JobID:            result.JobID,
		}, nil
	}

	return &GateResult{
		ShortCircuited:   true,
		ProcessingMethod: method,
		JobID:            result.JobID,
	}, nil
}

func isKnownBinaryMimeType(mimeType string) bool {
	switch mimeType {
	case "application/x-msdownload", "application/x-executable", "application/x-sharedlib",
		"application/x-mach-binary", "application/x-elf", "application/vnd.microsoft.portable-executable":
		return true
	default:
		return false
	}
}

func isKnownBinaryExtensionFilename(filename string) bool {
	return decision.IsKnownBinaryExtension(filename)
}
