package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/metrics"
	"github.com/sandboxfirst/uom/pkg/clients"
	"github.com/sandboxfirst/uom/pkg/gate"
	"github.com/sandboxfirst/uom/pkg/patterns"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// stageFunc runs one pipeline stage against job and reports whether the
// pipeline should stop (a terminal status was already reached and its
// event already emitted).
type stageFunc func(ctx context.Context, job *types.Job) bool

// runStages advances job through the six fixed stages in order. Progress
// is 0, 10, 25, 45, 55, 70, 90, 100 - monotone, matching the FSM.
func (o *Orchestrator) runStages(ctx context.Context, job *types.Job) {
	stages := []struct {
		status   types.JobStatus
		progress int
		name     string
		message  string
		run      stageFunc
	}{
		{types.StatusTriaging, 10, "triage", "running initial triage", o.stageTriage},
		{types.StatusSandboxRunning, 25, "sandbox", "running sandbox analysis", o.stageSandbox},
		{types.StatusSecurityAssessment, 45, "security", "assessing security", o.stageSecurity},
		{types.StatusRouting, 55, "route", "deciding processing route", o.stageRoute},
		{types.StatusProcessing, 70, "process", "processing file", o.stageProcess},
		{types.StatusPostProcessing, 90, "post_process", "post-processing results", o.stagePostProcess},
	}

	for _, s := range stages {
		o.advance(job, s.status, s.progress, s.name, s.message)

		start := time.Now()
		stop := s.run(ctx, job)
		metrics.Metrics.StageDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())

		if stop {
			return
		}
	}

	o.completeJob(ctx, job)
}

// advance transitions job into a new non-terminal stage and emits a
// "stage" event for it.
func (o *Orchestrator) advance(job *types.Job, status types.JobStatus, progress int, stage, message string) {
	job.Mu.Lock()
	job.Status = status
	job.Progress = progress
	job.CurrentStage = stage
	job.UpdatedAt = time.Now()
	job.StageMessages = append(job.StageMessages, types.StageMessage{Timestamp: job.UpdatedAt, Stage: stage, Message: message})
	view := viewOf(job)
	job.Mu.Unlock()

	o.events.broadcast(job.ID, Event{Type: EventStage, JobID: job.ID, Data: view})
}

// stageTriage is Stage 1.
func (o *Orchestrator) stageTriage(ctx context.Context, job *types.Job) bool {
	job.Mu.Lock()
	file := job.File
	job.Mu.Unlock()

	decision := o.engine.DecideInitialTriage(ctx, file)
	metrics.Metrics.DecisionSource.WithLabelValues(string(decision.Source)).Inc()

	job.Mu.Lock()
	job.TriageDecision = &decision
	job.Mu.Unlock()

	return false
}

// stageSandbox is Stage 2. A sandbox failure never fails the job: it
// produces a synthetic medium-threat result and lets the pipeline continue.
func (o *Orchestrator) stageSandbox(ctx context.Context, job *types.Job) bool {
	job.Mu.Lock()
	triage := job.TriageDecision
	file := job.File
	correlationID := job.CorrelationID
	job.Mu.Unlock()

	tier := types.Tier1
	var tools []string
	timeout := o.sandboxTimeout
	if triage != nil {
		tier = triage.Decision.SandboxTier
		tools = triage.Decision.Tools
		if triage.Decision.TimeoutMs > 0 {
			timeout = time.Duration(triage.Decision.TimeoutMs) * time.Millisecond
		}
	}

	start := time.Now()
	result := o.runSandboxScan(ctx, correlationID, file, tier, tools, timeout, start)

	job.Mu.Lock()
	job.SandboxResult = result
	job.Mu.Unlock()

	return false
}

func (o *Orchestrator) runSandboxScan(ctx context.Context, correlationID string, file types.FileContext, tier types.SandboxTier, tools []string, timeout time.Duration, start time.Time) *types.SandboxAnalysisResult {
	synthetic := func() *types.SandboxAnalysisResult {
		return &types.SandboxAnalysisResult{
			Classification: types.ClassificationUnknown,
			Security: types.SecurityAssessment{
				ThreatLevel: types.ThreatMedium,
				Flags:       []string{"sandbox_analysis_failed"},
			},
			DurationMs:    time.Since(start).Milliseconds(),
			Tier:          tier,
			CorrelationID: correlationID,
		}
	}

	if o.sandbox == nil {
		return synthetic()
	}

	sandboxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := o.sandbox.Poll(sandboxCtx, clients.CallOptions{CorrelationID: correlationID}, clients.ScanRequest{
		CorrelationID: correlationID,
		File:          file,
		Tier:          tier,
		Tools:         tools,
		TimeoutMs:     int(timeout.Milliseconds()),
	})
	if err != nil {
		log.LogNoRequestID("sandbox analysis failed, proceeding with synthetic result", "correlationId", correlationID, "err", err)
		return synthetic()
	}
	return result
}

// stageSecurity is Stage 3. A block or review decision ends the job here.
func (o *Orchestrator) stageSecurity(ctx context.Context, job *types.Job) bool {
	job.Mu.Lock()
	sandbox := job.SandboxResult
	job.Mu.Unlock()

	var assessment types.SecurityAssessment
	if sandbox != nil {
		assessment = sandbox.Security
	}

	decision := o.engine.DecideSecurityAssessment(ctx, assessment)
	metrics.Metrics.DecisionSource.WithLabelValues(string(decision.Source)).Inc()

	job.Mu.Lock()
	job.SecurityDecision = &decision
	job.Mu.Unlock()

	switch decision.Decision.Action {
	case types.SecurityBlock:
		o.terminal(ctx, job, types.StatusBlocked, 100, EventBlocked,
			"blocked: "+decision.Decision.Reason, nil, "security")
		return true

	case types.SecurityReview:
		o.notifyEscalation(job, decision.Decision)
		o.terminal(ctx, job, types.StatusReviewQueued, 100, EventReviewQueued,
			"queued for review: "+decision.Decision.Reason, nil, "security")
		return true

	case types.SecurityEscalate:
		job.Mu.Lock()
		view := viewOf(job)
		job.Mu.Unlock()
		o.events.broadcast(job.ID, Event{Type: EventEscalated, JobID: job.ID, Data: view})
		return false

	default: // allow
		return false
	}
}

func (o *Orchestrator) notifyEscalation(job *types.Job, decision types.SecurityDecision) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyReview(job, decision); err != nil {
		log.LogNoRequestID("review escalation notification failed", "jobId", job.ID, "err", err)
		return
	}
	o.events.broadcast(job.ID, Event{
		Type:  EventNotification,
		JobID: job.ID,
		Data:  map[string]string{"channel": "slack", "reason": decision.Reason},
	})
	metrics.Metrics.EscalationsSent.WithLabelValues("slack").Inc()
}

// stageRoute is Stage 4.
func (o *Orchestrator) stageRoute(ctx context.Context, job *types.Job) bool {
	job.Mu.Lock()
	file := job.File
	sandbox := job.SandboxResult
	job.Mu.Unlock()

	isGitHubRepo := gate.IsGitHubRepoURL(file.OriginalURL)
	decision := o.engine.DecideProcessingRoute(ctx, file, isGitHubRepo, sandbox)
	metrics.Metrics.DecisionSource.WithLabelValues(string(decision.Source)).Inc()

	job.Mu.Lock()
	job.RouteDecision = &decision
	job.Mu.Unlock()

	return false
}

// stageProcess is Stage 5. Only a hard client/transport error fails the
// job here; an unsuccessful ProcessingResult still flows into Stage 6.
func (o *Orchestrator) stageProcess(ctx context.Context, job *types.Job) bool {
	job.Mu.Lock()
	route := job.RouteDecision
	file := job.File
	correlationID := job.CorrelationID
	job.Mu.Unlock()

	if route == nil {
		o.terminal(ctx, job, types.StatusFailed, 100, EventError,
			"processing stage reached with no route decision", fmt.Errorf("no route decision available"), "process")
		return true
	}

	client, ok := o.processors[route.Decision.TargetService]
	if !ok {
		o.terminal(ctx, job, types.StatusFailed, 100, EventError,
			"no processing client configured", fmt.Errorf("no processing client configured for service %q", route.Decision.TargetService), "process")
		return true
	}

	start := time.Now()
	result, err := client.Analyze(ctx, clients.CallOptions{CorrelationID: correlationID}, clients.AnalyzeRequest{
		CorrelationID: correlationID,
		File:          file,
		Route:         route.Decision,
	})
	if err != nil {
		o.terminal(ctx, job, types.StatusFailed, 100, EventError, "processing call failed", err, "process")
		return true
	}
	if result == nil {
		result = &types.ProcessingResult{Success: false, Error: "processing service returned no result"}
	}
	result.DurationMs = time.Since(start).Milliseconds()

	job.Mu.Lock()
	job.ProcessingResult = result
	job.Mu.Unlock()

	return false
}

// stagePostProcess is Stage 6. Storage sinks are written sequentially and a
// failure in one never skips the rest; pattern-learning bookkeeping follows
// whether Stage 5's result was ultimately successful.
func (o *Orchestrator) stagePostProcess(ctx context.Context, job *types.Job) bool {
	job.Mu.Lock()
	result := job.ProcessingResult
	file := job.File
	correlationID := job.CorrelationID
	job.Mu.Unlock()

	success := result != nil && result.Success

	decision := o.engine.DecidePostProcessing(ctx, success)
	metrics.Metrics.DecisionSource.WithLabelValues(string(decision.Source)).Inc()

	job.Mu.Lock()
	job.PostProcessDecision = &decision
	job.Mu.Unlock()

	if o.storage != nil && len(decision.Decision.StoreIn) > 0 {
		if err := o.storage.Store(ctx, clients.CallOptions{CorrelationID: correlationID}, job, decision.Decision); err != nil {
			log.LogNoRequestID("post-process storage partially failed", "jobId", job.ID, "err", err)
		} else {
			job.Mu.Lock()
			view := viewOf(job)
			job.Mu.Unlock()
			o.events.broadcast(job.ID, Event{Type: EventStorageComplete, JobID: job.ID, Data: view})
		}
	}

	if o.learner != nil {
		key := patterns.Fingerprint(file, types.DecisionInitialTriage)
		execMs := float64(0)
		if result != nil {
			execMs = float64(result.DurationMs)
		}
		switch {
		case success && decision.Decision.LearnPattern:
			if err := o.learner.RecordSuccess(ctx, key, execMs); err != nil {
				log.LogNoRequestID("failed to record pattern success", "jobId", job.ID, "err", err)
			}
		case !success:
			if err := o.learner.RecordFailure(ctx, key, execMs); err != nil {
				log.LogNoRequestID("failed to record pattern failure", "jobId", job.ID, "err", err)
			}
		}
	}

	if decision.Decision.NotifyUser {
		o.events.broadcast(job.ID, Event{
			Type:  EventNotification,
			JobID: job.ID,
			Data:  map[string]string{"reason": "job finished"},
		})
	}

	return false
}

// completeJob is reached only after Stage 6 runs to completion. Per the
// state machine's normal chain (routing -> processing -> post_processing ->
// completed), reaching here always ends the job completed: an unsuccessful
// ProcessingResult is a reported outcome
// (processingResult.success=false/processingResult.error), not a stage_fatal
// exception, so it does not demote the job to failed - only a panic
// recovered at the pipeline boundary does that (see runJob).
func (o *Orchestrator) completeJob(ctx context.Context, job *types.Job) {
	o.terminal(ctx, job, types.StatusCompleted, 100, EventComplete, "job completed", nil, "post_process")
}
