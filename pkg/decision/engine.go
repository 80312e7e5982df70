package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/patterns"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// patternFinder is the narrow surface Engine needs from patterns.Learner,
// so tests can substitute a fake instead of standing up Postgres/Redis.
type patternFinder interface {
	FindPattern(ctx context.Context, key string) (*patterns.FindResult, bool, error)
	StorePattern(ctx context.Context, key, mimeType, body, language string, packages []string) (string, error)
	RecordFailure(ctx context.Context, key string, executionTimeMs float64) error
}

// Engine implements the resolution order spec.md §4.2 requires at every
// decision point: pattern cache, then fast-path heuristics, then the
// primary LLM, then the fallback LLM. Any backend left nil degrades
// gracefully to the next tier - in particular an Engine built with no LLM
// backends at all still answers every decide call, purely from fast-path
// heuristics and whatever patterns have already been learned.
type Engine struct {
	patterns patternFinder

	primary         llmBackend
	primaryBreaker  *breaker.Service
	fallback        llmBackend
	fallbackBreaker *breaker.Service
}

// EngineOptions wires an Engine's backends. Patterns, Primary and Fallback
// may each be nil; Engine degrades one tier at a time.
type EngineOptions struct {
	Patterns *patterns.Learner

	Primary        llmBackend
	PrimaryBreaker *breaker.Service

	Fallback        llmBackend
	FallbackBreaker *breaker.Service
}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		primary:         opts.Primary,
		primaryBreaker:  opts.PrimaryBreaker,
		fallback:        opts.Fallback,
		fallbackBreaker: opts.FallbackBreaker,
	}
	if opts.Patterns != nil {
		e.patterns = opts.Patterns
	}
	return e
}

// llmPromptResult is the JSON shape every decide<Point> prompt asks either
// LLM tier to return, generic over the decision payload type.
type llmPromptResult[T any] struct {
	Decision   T       `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// decide runs one decision point through the full resolution order spec.md
// §4.2 lists: pattern cache, then fast path, then primary LLM, then
// fallback LLM. patternKey is empty when the point is never served from the
// pattern cache (only initial_triage is, per spec §4.3). fastPathEligible is
// nil when the decision point names no trivially-safe heuristic of its own
// (only initial_triage, security_assessment and processing_route do);
// fastPath always produces a usable answer and is the floor everything else
// tries to beat.
func decide[T any](
	ctx context.Context,
	e *Engine,
	point types.DecisionPoint,
	patternKey string,
	prompt string,
	fastPathEligible func() bool,
	fastPath func() types.UOMDecision[T],
) types.UOMDecision[T] {
	start := time.Now()

	if patternKey != "" && e.patterns != nil {
		if found, ok, err := e.patterns.FindPattern(ctx, patternKey); err != nil {
			log.LogNoRequestID("pattern lookup failed, falling through", "point", point, "err", err)
		} else if ok {
			d := fastPath()
			d.Source = types.SourcePatternCache
			d.Confidence = found.Confidence
			d.Reason = found.Reason
			d.LearnFromOutcome = false
			d.DurationMs = time.Since(start).Milliseconds()
			return d
		}
	}

	if fastPathEligible != nil && fastPathEligible() {
		d := fastPath()
		d.DurationMs = time.Since(start).Milliseconds()
		return d
	}

	if e.primary != nil {
		if d, err := askLLM(ctx, point, prompt, fastPath, e.primary, e.primaryBreaker, types.SourceLLMPrimary); err == nil {
			d.DurationMs = time.Since(start).Milliseconds()
			return d
		} else {
			log.LogNoRequestID("primary LLM decision failed, trying fallback LLM", "point", point, "err", err)
		}
	}

	if e.fallback != nil {
		if d, err := askLLM(ctx, point, prompt, fastPath, e.fallback, e.fallbackBreaker, types.SourceLLMFallback); err == nil {
			d.DurationMs = time.Since(start).Milliseconds()
			return d
		} else {
			log.LogNoRequestID("fallback LLM decision failed, using fast-path heuristics", "point", point, "err", err)
		}
	}

	d := fastPath()
	d.DurationMs = time.Since(start).Milliseconds()
	return d
}

// askLLM is a free function, not a method, because Go methods cannot carry
// their own type parameters - only Engine's callers (decide, itself
// generic) can supply T.
func askLLM[T any](
	ctx context.Context,
	point types.DecisionPoint,
	prompt string,
	fastPath func() types.UOMDecision[T],
	backend llmBackend,
	svc *breaker.Service,
	source types.DecisionSource,
) (types.UOMDecision[T], error) {
	call := func(ctx context.Context) (any, error) {
		return backend.Complete(ctx, prompt)
	}

	var result any
	var err error
	if svc != nil {
		result, err = svc.ExecuteCtx(ctx, call)
	} else {
		result, err = call(ctx)
	}
	if err != nil {
		return types.UOMDecision[T]{}, fmt.Errorf("%s llm call: %w", point, err)
	}

	raw, _ := result.(string)
	var parsed llmPromptResult[T]
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return types.UOMDecision[T]{}, fmt.Errorf("%s llm response did not parse: %w", point, err)
	}

	d := fastPath()
	d.Decision = parsed.Decision
	d.Confidence = parsed.Confidence
	d.Reason = parsed.Reason
	d.Source = source
	d.LearnFromOutcome = true
	return d, nil
}

// DecideInitialTriage is the only decision point the pattern cache serves,
// per spec §4.3's fingerprint scheme.
func (e *Engine) DecideInitialTriage(ctx context.Context, file types.FileContext) types.UOMDecision[types.TriageDecision] {
	key := patterns.Fingerprint(file, types.DecisionInitialTriage)
	prompt := triagePrompt(file)
	fastPathEligible := func() bool { return IsKnownBinaryExtension(file.Filename) }
	return decide(ctx, e, types.DecisionInitialTriage, key, prompt, fastPathEligible, func() types.UOMDecision[types.TriageDecision] {
		return fallbackTriage(file)
	})
}

func (e *Engine) DecideSecurityAssessment(ctx context.Context, assessment types.SecurityAssessment) types.UOMDecision[types.SecurityDecision] {
	prompt := securityPrompt(assessment)
	fastPathEligible := func() bool {
		return assessment.IsMalicious || assessment.ThreatLevel == types.ThreatCritical
	}
	return decide(ctx, e, types.DecisionSecurityAssessment, "", prompt, fastPathEligible, func() types.UOMDecision[types.SecurityDecision] {
		return fallbackSecurity(assessment)
	})
}

func (e *Engine) DecideProcessingRoute(ctx context.Context, file types.FileContext, isGitHubRepoURL bool, sandbox *types.SandboxAnalysisResult) types.UOMDecision[types.RouteDecision] {
	prompt := routePrompt(file, sandbox)
	fastPathEligible := func() bool { return isGitHubRepoURL }
	return decide(ctx, e, types.DecisionProcessingRoute, "", prompt, fastPathEligible, func() types.UOMDecision[types.RouteDecision] {
		return fallbackRoute(file, isGitHubRepoURL, sandbox)
	})
}

func (e *Engine) DecidePostProcessing(ctx context.Context, success bool) types.UOMDecision[types.PostProcessDecision] {
	prompt := postProcessPrompt(success)
	// No trivially-safe heuristic is named for post-processing: both
	// fallback branches turn on the same "success" signal the LLM prompt
	// itself is given, so there's nothing a fast path would shortcut ahead
	// of an LLM that a plain fallback wouldn't already cover identically.
	return decide(ctx, e, types.DecisionPostProcessing, "", prompt, nil, func() types.UOMDecision[types.PostProcessDecision] {
		return fallbackPostProcess(success)
	})
}

// StorePattern learns a successful triage decision's fingerprint for future
// requests, per spec §4.3's "learn from outcome" contract.
func (e *Engine) StorePattern(ctx context.Context, file types.FileContext, decision types.TriageDecision) (string, error) {
	if e.patterns == nil {
		return "", nil
	}
	key := patterns.Fingerprint(file, types.DecisionInitialTriage)
	body, err := json.Marshal(decision)
	if err != nil {
		return "", fmt.Errorf("marshaling triage decision for pattern storage: %w", err)
	}
	return e.patterns.StorePattern(ctx, key, file.MimeType, string(body), "json", nil)
}

// RecordPatternFailure tells the pattern cache a job learned from a pattern
// ultimately failed, so the pattern's successRate decays and it eventually
// falls below the eligibility floor. executionTimeMs is the failed job's
// actual elapsed time, fed into the same running average a success would
// update.
func (e *Engine) RecordPatternFailure(ctx context.Context, file types.FileContext, executionTimeMs float64) error {
	if e.patterns == nil {
		return nil
	}
	key := patterns.Fingerprint(file, types.DecisionInitialTriage)
	return e.patterns.RecordFailure(ctx, key, executionTimeMs)
}

func triagePrompt(file types.FileContext) string {
	return fmt.Sprintf(
		"Decide the initial triage for a file named %q with MIME type %q and size %d bytes. "+
			"Respond as JSON: {\"decision\":{\"sandboxTier\":\"tier1|tier2|tier3\",\"priority\":1-10,\"timeout\":milliseconds,\"tools\":[...]},\"confidence\":0-1,\"reason\":\"...\"}.",
		file.Filename, file.MimeType, file.FileSize,
	)
}

func securityPrompt(assessment types.SecurityAssessment) string {
	return fmt.Sprintf(
		"Decide the security action for a sandbox assessment with threatLevel=%q isMalicious=%v flags=%v. "+
			"Respond as JSON: {\"decision\":{\"action\":\"allow|block|review|escalate\",\"reason\":\"...\"},\"confidence\":0-1,\"reason\":\"...\"}.",
		assessment.ThreatLevel, assessment.IsMalicious, assessment.Flags,
	)
}

func routePrompt(file types.FileContext, sandbox *types.SandboxAnalysisResult) string {
	classification := types.ClassificationUnknown
	if sandbox != nil {
		classification = sandbox.Classification
	}
	return fmt.Sprintf(
		"Decide the processing route for a file named %q with MIME type %q, classified as %q. "+
			"Respond as JSON: {\"decision\":{\"targetService\":\"...\",\"method\":\"...\",\"priority\":1-10},\"confidence\":0-1,\"reason\":\"...\"}.",
		file.Filename, file.MimeType, classification,
	)
}

func postProcessPrompt(success bool) string {
	return fmt.Sprintf(
		"Decide post-processing storage for a job that %s. "+
			"Respond as JSON: {\"decision\":{\"storeIn\":[...],\"indexForSearch\":bool,\"generateEmbeddings\":bool,\"learnPattern\":bool},\"confidence\":0-1,\"reason\":\"...\"}.",
		map[bool]string{true: "succeeded", false: "failed"}[success],
	)
}
