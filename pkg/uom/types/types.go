// Package types holds the data model every other package in this module
// builds on: the invariant input to a job (FileContext), the structured
// decisions the Decision Engine produces (UOMDecision), the job record the
// orchestrator drives through its state machine (Job), and the durable
// pattern-cache entry the Learner indexes (ProcessingPattern).
package types

import (
	"sync"
	"time"
)

// FileContext is the invariant input of a job. At least one of
// StoragePath, OriginalURL, or InlineBuffer must be non-empty/non-nil.
type FileContext struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	FileSize    int64  `json:"fileSize"`
	FileHash    string `json:"fileHash,omitempty"`
	StoragePath string `json:"storagePath,omitempty"`
	OriginalURL string `json:"originalUrl,omitempty"`
	// InlineBuffer carries the file body directly for small payloads that
	// never touch disk or object storage.
	InlineBuffer []byte `json:"-"`
}

// Valid reports whether fc satisfies the "one of three locations" invariant.
func (fc FileContext) Valid() bool {
	return fc.StoragePath != "" || fc.OriginalURL != "" || len(fc.InlineBuffer) > 0
}

// UserContext is optional throughout; its zero value means "anonymous, no
// trust signal".
type UserContext struct {
	UserID         string  `json:"userId,omitempty"`
	OrgID          string  `json:"orgId,omitempty"`
	UserTrustScore float64 `json:"userTrustScore,omitempty"`
}

// OrgSecurityPolicy is an opaque bag of policy flags consumed only by the
// Decision Engine; the orchestrator never branches on its contents.
type OrgSecurityPolicy struct {
	Flags map[string]bool `json:"flags,omitempty"`
}

// ThreatLevel is SandboxAnalysisResult.Security's severity scale.
type ThreatLevel string

const (
	ThreatSafe     ThreatLevel = "safe"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// SandboxTier is the depth of analysis Stage 2 asked the sandbox to run.
type SandboxTier string

const (
	Tier1 SandboxTier = "tier1"
	Tier2 SandboxTier = "tier2"
	Tier3 SandboxTier = "tier3"
)

// Classification is the coarse file-type bucket the sandbox reports.
type Classification string

const (
	ClassificationBinary     Classification = "binary"
	ClassificationDocument   Classification = "document"
	ClassificationArchive    Classification = "archive"
	ClassificationMedia      Classification = "media"
	ClassificationCode       Classification = "code"
	ClassificationData       Classification = "data"
	ClassificationGeo        Classification = "geo"
	ClassificationPointCloud Classification = "pointcloud"
	ClassificationUnknown    Classification = "unknown"
)

// Recommendation is one entry of SandboxAnalysisResult.Recommendations.
type Recommendation struct {
	TargetService string  `json:"targetService"`
	Method        string  `json:"method"`
	Priority      int     `json:"priority"`
	Reason        string  `json:"reason"`
	Confidence    float64 `json:"confidence"`
}

// SecurityAssessment is the security-relevant subset of SandboxAnalysisResult.
type SecurityAssessment struct {
	ThreatLevel ThreatLevel `json:"threatLevel"`
	IsMalicious bool        `json:"isMalicious"`
	ShouldBlock bool        `json:"shouldBlock"`
	Flags       []string    `json:"flags,omitempty"`
	YaraRules   []string    `json:"yaraRules,omitempty"`
}

// SandboxAnalysisResult is the output of Stage 2 - Sandbox.
type SandboxAnalysisResult struct {
	Classification   Classification   `json:"classification"`
	DetectedFormat   string           `json:"detectedFormat"`
	FormatConfidence float64          `json:"formatConfidence"`
	Security         SecurityAssessment `json:"security"`
	Recommendations  []Recommendation `json:"recommendations,omitempty"`
	ToolsUsed        []string         `json:"toolsUsed,omitempty"`
	DurationMs       int64            `json:"durationMs"`
	Timestamp        time.Time        `json:"timestamp"`
	Tier             SandboxTier      `json:"tier"`
	AnalysisID       string           `json:"analysisId"`
	CorrelationID    string           `json:"correlationId"`
}

// DecisionPoint names the four moments the Decision Engine is consulted.
type DecisionPoint string

const (
	DecisionInitialTriage      DecisionPoint = "initial_triage"
	DecisionSecurityAssessment DecisionPoint = "security_assessment"
	DecisionProcessingRoute    DecisionPoint = "processing_route"
	DecisionPostProcessing     DecisionPoint = "post_processing"
)

// DecisionSource names which tier of the resolution order produced a
// UOMDecision.
type DecisionSource string

const (
	SourcePatternCache DecisionSource = "pattern_cache"
	SourceLLMPrimary   DecisionSource = "llm_primary"
	SourceLLMFallback  DecisionSource = "llm_fallback"
	SourceFastPath     DecisionSource = "fast_path"
)

// UOMDecision is the generic envelope every decide<Point> call returns.
type UOMDecision[T any] struct {
	DecisionPoint    DecisionPoint  `json:"decisionPoint"`
	Decision         T              `json:"decision"`
	Confidence       float64        `json:"confidence"`
	Reason           string         `json:"reason"`
	DurationMs       int64          `json:"durationMs"`
	Source           DecisionSource `json:"source"`
	LearnFromOutcome bool           `json:"learnFromOutcome"`
	Alternatives     []T            `json:"alternatives,omitempty"`
}

// TriageDecision is Stage 1's decision payload.
type TriageDecision struct {
	SandboxTier SandboxTier `json:"sandboxTier"`
	Priority    int         `json:"priority"`
	TimeoutMs   int64       `json:"timeout"`
	Tools       []string    `json:"tools"`
	Reason      string      `json:"reason"`
}

// SecurityAction is Stage 3's decision verb.
type SecurityAction string

const (
	SecurityAllow     SecurityAction = "allow"
	SecurityBlock     SecurityAction = "block"
	SecurityReview    SecurityAction = "review"
	SecurityEscalate  SecurityAction = "escalate"
)

// SecurityDecision is Stage 3's decision payload.
type SecurityDecision struct {
	Action       SecurityAction `json:"action"`
	Reason       string         `json:"reason"`
	ReviewQueue  string         `json:"reviewQueue,omitempty"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	NotifyUsers  []string       `json:"notifyUsers,omitempty"`
}

// TargetService names the downstream collaborators Stage 4 may route to.
type TargetService string

const (
	ServiceCyberAgent    TargetService = "cyberagent"
	ServiceVideoAgent    TargetService = "videoagent"
	ServiceGeoAgent      TargetService = "geoagent"
	ServiceGitHubManager TargetService = "github-manager"
	ServiceMageAgent     TargetService = "mageagent"
	ServiceFileProcess   TargetService = "fileprocess"
)

// RouteDecision is Stage 4's decision payload.
type RouteDecision struct {
	TargetService TargetService     `json:"targetService"`
	Method        string            `json:"method"`
	Priority      int               `json:"priority"`
	Reason        string            `json:"reason"`
	Config        map[string]string `json:"config,omitempty"`
}

// ProcessingResult is Stage 5's output.
type ProcessingResult struct {
	Success          bool              `json:"success"`
	JobID            string            `json:"jobId"`
	OutputPath       string            `json:"outputPath,omitempty"`
	ExtractedContent string            `json:"extractedContent,omitempty"`
	Artifacts        []string          `json:"artifacts,omitempty"`
	DurationMs       int64             `json:"durationMs"`
	Error            string            `json:"error,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// StorageSink names the post-process destinations Stage 6 may write to.
type StorageSink string

const (
	SinkPostgres StorageSink = "postgres"
	SinkQdrant   StorageSink = "qdrant"
	SinkGraphRAG StorageSink = "graphrag"
)

// PostProcessDecision is Stage 6's decision payload.
type PostProcessDecision struct {
	StoreIn            []StorageSink `json:"storeIn"`
	IndexForSearch      bool          `json:"indexForSearch"`
	GenerateEmbeddings bool          `json:"generateEmbeddings"`
	NotifyUser          bool          `json:"notifyUser"`
	LearnPattern        bool          `json:"learnPattern"`
	Reason              string        `json:"reason"`
}

// JobStatus is the orchestrator's finite state machine status.
type JobStatus string

const (
	StatusPending             JobStatus = "pending"
	StatusTriaging            JobStatus = "triaging"
	StatusSandboxRunning      JobStatus = "sandbox_running"
	StatusSecurityAssessment  JobStatus = "security_assessment"
	StatusRouting             JobStatus = "routing"
	StatusProcessing          JobStatus = "processing"
	StatusPostProcessing      JobStatus = "post_processing"
	StatusCompleted           JobStatus = "completed"
	StatusBlocked             JobStatus = "blocked"
	StatusReviewQueued        JobStatus = "review_queued"
	StatusFailed              JobStatus = "failed"
)

// Terminal reports whether status is one the FSM never leaves.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBlocked, StatusReviewQueued, StatusFailed:
		return true
	default:
		return false
	}
}

// StageMessage is one entry of a Job's append-only event/audit log.
type StageMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Job is the in-memory record the orchestrator drives through its state
// machine. It is exclusively mutated by its owning execution goroutine
// under Mu; everything else (subscribers, status queries) only reads a
// consistent snapshot while holding the lock.
type Job struct {
	Mu sync.Mutex

	ID            string
	CorrelationID string

	File        FileContext
	User        UserContext
	OrgPolicies OrgSecurityPolicy

	TriageDecision      *UOMDecision[TriageDecision]
	SandboxResult       *SandboxAnalysisResult
	SecurityDecision    *UOMDecision[SecurityDecision]
	RouteDecision       *UOMDecision[RouteDecision]
	ProcessingResult    *ProcessingResult
	PostProcessDecision *UOMDecision[PostProcessDecision]

	Status       JobStatus
	Progress     int
	CurrentStage string
	StageMessages []StageMessage

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	Error      string
	ErrorStage string
}

// ProcessingPattern is a cached "how to process files like this" entry,
// produced from past successful runs and served back by the Learner.
type ProcessingPattern struct {
	ID                     string        `json:"id"`
	MimeType               string        `json:"mimeType"`
	FileCharacteristics    string        `json:"fileCharacteristics"`
	ProcessingCode         string        `json:"processingCode"`
	Language               string        `json:"language"`
	Packages               []string      `json:"packages,omitempty"`
	SuccessCount           int           `json:"successCount"`
	FailureCount           int           `json:"failureCount"`
	SuccessRate            float64       `json:"successRate"`
	AverageExecutionTimeMs float64       `json:"averageExecutionTimeMs"`
	CreatedAt              time.Time     `json:"createdAt"`
	UpdatedAt              time.Time     `json:"updatedAt"`
}

// Refresh recomputes SuccessRate from SuccessCount/FailureCount, matching
// the invariant of spec §3: successRate = successCount / (successCount +
// failureCount) whenever the denominator is positive.
func (p *ProcessingPattern) Refresh() {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return
	}
	p.SuccessRate = float64(p.SuccessCount) / float64(total)
}

// BreakerState names the three states of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerState is the externally observable snapshot of one
// service's breaker.
type CircuitBreakerState struct {
	Service       string       `json:"service"`
	State         BreakerState `json:"state"`
	FailureCount  int          `json:"failureCount"`
	SuccessCount  int          `json:"successCount"`
	LastFailureAt time.Time    `json:"lastFailureAt"`
}
