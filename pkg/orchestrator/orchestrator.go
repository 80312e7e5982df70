// Package orchestrator drives a FileContext through the six-stage pipeline:
// triage, sandbox, security assessment, routing, processing, and
// post-processing, consulting the Decision Engine at stages 1, 3, 4, and 6.
// It plays the role catalyst-api's pipeline.Coordinator plays for transcode
// jobs: a job table, one goroutine per job, and a best-effort event stream
// for subscribers.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxfirst/uom/cache"
	"github.com/sandboxfirst/uom/config"
	uomerrors "github.com/sandboxfirst/uom/errors"
	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/metrics"
	"github.com/sandboxfirst/uom/pkg/clients"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// engine is the slice of decision.Engine the orchestrator drives a job
// through. Narrowed to an interface so tests can substitute a fake instead
// of constructing real LLM backends.
type engine interface {
	DecideInitialTriage(ctx context.Context, file types.FileContext) types.UOMDecision[types.TriageDecision]
	DecideSecurityAssessment(ctx context.Context, assessment types.SecurityAssessment) types.UOMDecision[types.SecurityDecision]
	DecideProcessingRoute(ctx context.Context, file types.FileContext, isGitHubRepoURL bool, sandbox *types.SandboxAnalysisResult) types.UOMDecision[types.RouteDecision]
	DecidePostProcessing(ctx context.Context, success bool) types.UOMDecision[types.PostProcessDecision]
	RecordPatternFailure(ctx context.Context, file types.FileContext, executionTimeMs float64) error
}

// scanClient is the slice of clients.ScanClient Stage 2 needs.
type scanClient interface {
	Poll(ctx context.Context, opts clients.CallOptions, req clients.ScanRequest) (*types.SandboxAnalysisResult, error)
}

// processClient is the slice of clients.AnalyzeClient Stage 5 needs.
type processClient interface {
	Analyze(ctx context.Context, opts clients.CallOptions, req clients.AnalyzeRequest) (*types.ProcessingResult, error)
}

// storageClient is the slice of clients.StorageClient Stage 6 needs.
type storageClient interface {
	Store(ctx context.Context, opts clients.CallOptions, job *types.Job, decision types.PostProcessDecision) error
}

// notifyClient is the slice of clients.NotifyClient the review path needs.
type notifyClient interface {
	NotifyReview(job *types.Job, decision types.SecurityDecision) error
}

// patternLearner is the slice of patterns.Learner Stage 6 needs to reward
// or penalize the pattern the job's fingerprint resolved to.
type patternLearner interface {
	RecordSuccess(ctx context.Context, key string, executionTimeMs float64) error
	RecordFailure(ctx context.Context, key string, executionTimeMs float64) error
}

// Orchestrator is the single coordinator every accepted submission is
// processed by, whether it arrived directly or was forwarded by the
// Dispatch Gate.
type Orchestrator struct {
	engine engine

	sandbox    scanClient
	processors map[types.TargetService]processClient
	storage    storageClient
	notifier   notifyClient
	learner    patternLearner

	jobs   *cache.Cache[*types.Job]
	events *broadcastTable

	sem chan struct{}

	jobTimeout     time.Duration
	sandboxTimeout time.Duration

	stopJanitor chan struct{}
}

// Options wires Orchestrator's collaborators. Sandbox, Storage, Notifier,
// and Learner may be nil, each disabling the part of the pipeline that
// depends on it (Stage 2 always produces a synthetic result when Sandbox
// is nil, matching its documented "service down" degraded path).
type Options struct {
	Engine     engine
	Sandbox    scanClient
	Processors map[types.TargetService]processClient
	Storage    storageClient
	Notifier   notifyClient
	Learner    patternLearner

	MaxConcurrentJobs int
	JobTimeout        time.Duration
	SandboxTimeout    time.Duration
}

// New builds an Orchestrator and starts its janitor goroutine. Callers
// must eventually call Stop to release it.
func New(opts Options) *Orchestrator {
	maxJobs := opts.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = config.DefaultMaxConcurrentJobs
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = config.DefaultJobTimeout
	}
	sandboxTimeout := opts.SandboxTimeout
	if sandboxTimeout <= 0 {
		sandboxTimeout = config.DefaultSandboxTimeout
	}

	o := &Orchestrator{
		engine:         opts.Engine,
		jobs:           cache.New[*types.Job](),
		events:         newBroadcastTable(),
		sem:            make(chan struct{}, maxJobs),
		jobTimeout:     jobTimeout,
		sandboxTimeout: sandboxTimeout,
		stopJanitor:    make(chan struct{}),
	}

	o.sandbox = opts.Sandbox
	o.storage = opts.Storage
	o.notifier = opts.Notifier
	o.learner = opts.Learner
	if len(opts.Processors) > 0 {
		o.processors = make(map[types.TargetService]processClient, len(opts.Processors))
		for svc, c := range opts.Processors {
			if c != nil {
				o.processors[svc] = c
			}
		}
	}

	go o.runJanitor()
	return o
}

// Stop halts the janitor goroutine. It does not cancel jobs already
// running.
func (o *Orchestrator) Stop() {
	close(o.stopJanitor)
}

// Process creates a new job for file and starts it running in its own
// goroutine, returning the job's ID immediately - the async contract the
// Dispatch Gate and the control API's async submissions both rely on.
// Sync submissions are implemented at the API layer by calling Process and
// then blocking on Subscribe until a terminal event arrives.
func (o *Orchestrator) Process(ctx context.Context, file types.FileContext, user types.UserContext, policies types.OrgSecurityPolicy) (string, error) {
	now := config.Clock.GetTime()
	job := &types.Job{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		File:          file,
		User:          user,
		OrgPolicies:   policies,
		Status:        types.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.jobs.Store(job.ID, job)
	metrics.Metrics.JobsInFlight.Set(float64(o.InFlightCount()))

	go o.runJob(job)

	return job.ID, nil
}

// recovered runs f and converts a panic into an error instead of letting it
// crash the process, identical in spirit to catalyst-api's pipeline.recovered.
func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in orchestrator pipeline goroutine, recovering", "err", rec, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in orchestrator pipeline: %v", rec)
		}
	}()
	return f()
}

// runJob blocks until a concurrency slot is free, then drives job through
// every stage. It is always run in its own goroutine, one per job.
func (o *Orchestrator) runJob(job *types.Job) {
	select {
	case o.sem <- struct{}{}:
	case <-time.After(o.jobTimeout):
		o.terminal(context.Background(), job, types.StatusFailed, 100, EventError,
			"timed out waiting for a free execution slot", uomerrors.NewTimeoutError("queued"), "queued")
		return
	}
	defer func() { <-o.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), o.jobTimeout)
	defer cancel()

	_, err := recovered(func() (struct{}, error) {
		o.runStages(ctx, job)
		return struct{}{}, nil
	})
	if err != nil {
		job.Mu.Lock()
		stage := job.CurrentStage
		job.Mu.Unlock()
		o.terminal(ctx, job, types.StatusFailed, 100, EventError, "pipeline panicked", err, stage)
	}
}

// JobView is a lock-free snapshot of a Job's externally observable fields,
// safe to marshal to JSON or hand to an SSE subscriber from any goroutine.
type JobView struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlationId"`
	File          types.FileContext `json:"file"`

	Status        types.JobStatus        `json:"status"`
	Progress      int                     `json:"progress"`
	CurrentStage  string                  `json:"currentStage"`
	StageMessages []types.StageMessage    `json:"stageMessages,omitempty"`

	TriageDecision      *types.UOMDecision[types.TriageDecision]      `json:"triageDecision,omitempty"`
	SandboxResult       *types.SandboxAnalysisResult                  `json:"sandboxResult,omitempty"`
	SecurityDecision    *types.UOMDecision[types.SecurityDecision]    `json:"securityDecision,omitempty"`
	RouteDecision       *types.UOMDecision[types.RouteDecision]       `json:"routeDecision,omitempty"`
	ProcessingResult    *types.ProcessingResult                       `json:"processingResult,omitempty"`
	PostProcessDecision *types.UOMDecision[types.PostProcessDecision] `json:"postProcessDecision,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Error      string `json:"error,omitempty"`
	ErrorStage string `json:"errorStage,omitempty"`
}

// viewOf must only be called by job's owning execution goroutine, or by any
// goroutine while holding job.Mu - the invariant types.Job documents.
func viewOf(job *types.Job) JobView {
	return JobView{
		ID:                  job.ID,
		CorrelationID:       job.CorrelationID,
		File:                job.File,
		Status:              job.Status,
		Progress:            job.Progress,
		CurrentStage:        job.CurrentStage,
		StageMessages:       append([]types.StageMessage(nil), job.StageMessages...),
		TriageDecision:      job.TriageDecision,
		SandboxResult:       job.SandboxResult,
		SecurityDecision:    job.SecurityDecision,
		RouteDecision:       job.RouteDecision,
		ProcessingResult:    job.ProcessingResult,
		PostProcessDecision: job.PostProcessDecision,
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
		CompletedAt:         job.CompletedAt,
		Error:               job.Error,
		ErrorStage:          job.ErrorStage,
	}
}

// GetJob returns a snapshot of jobID's current state.
func (o *Orchestrator) GetJob(jobID string) (JobView, bool) {
	job, ok := o.jobs.GetOK(jobID)
	if !ok {
		return JobView{}, false
	}
	job.Mu.Lock()
	defer job.Mu.Unlock()
	return viewOf(job), true
}

// Subscribe returns jobID's future event stream and an unsubscribe
// function. Subscribing to an already-terminal job yields a channel that
// will simply never receive anything further; callers should check
// GetJob's Status first to decide whether to subscribe at all.
func (o *Orchestrator) Subscribe(jobID string) (<-chan Event, func(), error) {
	if _, ok := o.jobs.GetOK(jobID); !ok {
		return nil, nil, uomerrors.NewObjectNotFoundError(jobID, nil)
	}
	ch, unsubscribe := o.events.subscribe(jobID)
	return ch, unsubscribe, nil
}

// InFlightCount reports the number of non-terminal jobs, satisfying
// middleware.JobCounter.
func (o *Orchestrator) InFlightCount() int {
	count := 0
	o.jobs.Range(func(_ string, j *types.Job) bool {
		j.Mu.Lock()
		terminal := j.Status.Terminal()
		j.Mu.Unlock()
		if !terminal {
			count++
		}
		return true
	})
	return count
}

// Stats is the /v1/orchestrator/stats payload.
type Stats struct {
	InFlight int                     `json:"inFlight"`
	Total    int                     `json:"total"`
	ByStatus map[types.JobStatus]int `json:"byStatus"`
}

// Stats summarizes the current job table.
func (o *Orchestrator) Stats() Stats {
	stats := Stats{ByStatus: make(map[types.JobStatus]int)}
	o.jobs.Range(func(_ string, j *types.Job) bool {
		j.Mu.Lock()
		status := j.Status
		j.Mu.Unlock()
		stats.Total++
		stats.ByStatus[status]++
		if !status.Terminal() {
			stats.InFlight++
		}
		return true
	})
	return stats
}

// runJanitor sweeps the job table every config.JanitorInterval, evicting
// non-terminal jobs stuck past 2*jobTimeout.
func (o *Orchestrator) runJanitor() {
	ticker := time.NewTicker(config.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.sweep()
		case <-o.stopJanitor:
			return
		}
	}
}

func (o *Orchestrator) sweep() {
	cutoff := config.Clock.GetTime().Add(-time.Duration(config.JanitorEvictionMultiplier) * o.jobTimeout)

	var stale []string
	o.jobs.Range(func(id string, j *types.Job) bool {
		j.Mu.Lock()
		terminal := j.Status.Terminal()
		createdAt := j.CreatedAt
		j.Mu.Unlock()
		if !terminal && createdAt.Before(cutoff) {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		log.LogNoRequestID("janitor evicting stuck job", "jobId", id)
		o.jobs.Remove("", id)
		o.events.dropAll(id)
	}
	if len(stale) > 0 {
		metrics.Metrics.JobsInFlight.Set(float64(o.InFlightCount()))
	}
}

// terminal marks job as having reached a terminal status, emits the single
// terminal event the stream ends on, and updates metrics/pattern-cache
// bookkeeping. cause is only recorded on job.Error/ErrorStage when status
// is StatusFailed.
func (o *Orchestrator) terminal(ctx context.Context, job *types.Job, status types.JobStatus, progress int, event EventType, message string, cause error, stage string) JobView {
	now := config.Clock.GetTime()

	job.Mu.Lock()
	job.Status = status
	job.Progress = progress
	job.CurrentStage = stage
	job.UpdatedAt = now
	job.CompletedAt = &now
	if status == types.StatusFailed && cause != nil {
		job.Error = cause.Error()
		job.ErrorStage = stage
	}
	job.StageMessages = append(job.StageMessages, types.StageMessage{Timestamp: now, Stage: stage, Message: message})
	view := viewOf(job)
	job.Mu.Unlock()

	o.events.broadcast(job.ID, Event{Type: event, JobID: job.ID, Data: view})

	metrics.Metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.Metrics.JobDurationSec.WithLabelValues(string(status)).Observe(now.Sub(view.CreatedAt).Seconds())
	metrics.Metrics.JobsInFlight.Set(float64(o.InFlightCount()))

	if status == types.StatusFailed && o.engine != nil {
		executionTimeMs := float64(now.Sub(view.CreatedAt).Milliseconds())
		if recErr := o.engine.RecordPatternFailure(ctx, job.File, executionTimeMs); recErr != nil {
			log.LogNoRequestID("failed to record pattern failure", "jobId", job.ID, "err", recErr)
		}
	}

	return view
}
