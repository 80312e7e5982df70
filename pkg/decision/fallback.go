package decision

import (
	"strings"
	"time"

	"github.com/sandboxfirst/uom/config"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// reviewExpiry is the fixed window a review-queued job stays actionable
// before spec.md's "expiresAt" cutoff passes.
const reviewExpiry = 24 * time.Hour

// fallbackConfidence and fallbackSource are fixed by spec for every
// fallback heuristic decision: "confidence = 0.7, source = fast_path,
// learnFromOutcome = false".
const (
	fallbackConfidence = 0.7
	fallbackSource     = types.SourceFastPath
)

// knownBinaryExtensions backs the triage fallback's "known-binary set"
// test.
var knownBinaryExtensions = map[string]bool{
	"exe": true, "dll": true, "so": true, "dylib": true,
	"elf": true, "bin": true, "msi": true, "apk": true,
	"deb": true, "rpm": true, "dmg": true,
}

var archiveExtensions = map[string]bool{
	"zip": true, "tar": true, "gz": true, "tgz": true,
	"7z": true, "rar": true, "bz2": true, "xz": true,
}

// IsKnownBinaryExtension reports whether filename's extension is one of the
// known-executable-format extensions the triage fallback and the Dispatch
// Gate's suspicious-file check both treat as binary.
func IsKnownBinaryExtension(filename string) bool {
	return knownBinaryExtensions[extensionOf(filename)]
}

// IsArchiveExtension reports whether filename's extension names a known
// archive format.
func IsArchiveExtension(filename string) bool {
	return archiveExtensions[extensionOf(filename)]
}

func extensionOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// fallbackTriage implements spec.md §4.2's triage fallback: known binary ->
// tier3/priority9, archive -> tier2/priority7, else -> tier1/priority5.
func fallbackTriage(file types.FileContext) types.UOMDecision[types.TriageDecision] {
	ext := extensionOf(file.Filename)

	var d types.TriageDecision
	switch {
	case knownBinaryExtensions[ext]:
		d = types.TriageDecision{
			SandboxTier: types.Tier3,
			Priority:    9,
			TimeoutMs:   120_000,
			Tools:       []string{"magic_detect", "yara_full", "ghidra", "strings"},
			Reason:      "known binary extension",
		}
	case archiveExtensions[ext]:
		d = types.TriageDecision{
			SandboxTier: types.Tier2,
			Priority:    7,
			TimeoutMs:   60_000,
			Tools:       []string{"magic_detect", "yara_quick", "archive_scan"},
			Reason:      "archive file",
		}
	default:
		d = types.TriageDecision{
			SandboxTier: types.Tier1,
			Priority:    5,
			TimeoutMs:   30_000,
			Tools:       []string{"magic_detect", "yara_quick"},
			Reason:      "default tier",
		}
	}

	return types.UOMDecision[types.TriageDecision]{
		DecisionPoint:    types.DecisionInitialTriage,
		Decision:         d,
		Confidence:       fallbackConfidence,
		Reason:           d.Reason,
		Source:           fallbackSource,
		LearnFromOutcome: false,
	}
}

// fallbackSecurity implements the security fallback: malicious or critical
// threat -> block, high threat -> review with a 24h expiry, else allow.
func fallbackSecurity(assessment types.SecurityAssessment) types.UOMDecision[types.SecurityDecision] {
	var d types.SecurityDecision
	switch {
	case assessment.IsMalicious || assessment.ThreatLevel == types.ThreatCritical:
		d = types.SecurityDecision{Action: types.SecurityBlock, Reason: "malicious or critical threat level"}
	case assessment.ThreatLevel == types.ThreatHigh:
		expiry := config.Clock.GetTime().Add(reviewExpiry)
		d = types.SecurityDecision{Action: types.SecurityReview, Reason: "high threat level", ExpiresAt: &expiry}
	default:
		d = types.SecurityDecision{Action: types.SecurityAllow, Reason: "acceptable threat level"}
	}

	return types.UOMDecision[types.SecurityDecision]{
		DecisionPoint:    types.DecisionSecurityAssessment,
		Decision:         d,
		Confidence:       fallbackConfidence,
		Reason:           d.Reason,
		Source:           fallbackSource,
		LearnFromOutcome: false,
	}
}

// fallbackRoute implements the route fallback: GitHub repo URL ->
// github-manager, else the highest-priority sandbox recommendation if any
// exist, else by classification.
func fallbackRoute(file types.FileContext, isGitHubRepoURL bool, sandbox *types.SandboxAnalysisResult) types.UOMDecision[types.RouteDecision] {
	var d types.RouteDecision

	switch {
	case isGitHubRepoURL:
		d = types.RouteDecision{
			TargetService: types.ServiceGitHubManager,
			Method:        "repo_ingestion",
			Priority:      9,
			Reason:        "github repository URL",
		}
	case sandbox != nil && len(sandbox.Recommendations) > 0:
		best := sandbox.Recommendations[0]
		for _, r := range sandbox.Recommendations[1:] {
			if r.Priority > best.Priority {
				best = r
			}
		}
		d = types.RouteDecision{
			TargetService: best.TargetService,
			Method:        best.Method,
			Priority:      best.Priority,
			Reason:        "highest-priority sandbox recommendation: " + best.Reason,
		}
	default:
		d = routeByClassification(file, sandbox)
	}

	return types.UOMDecision[types.RouteDecision]{
		DecisionPoint:    types.DecisionProcessingRoute,
		Decision:         d,
		Confidence:       fallbackConfidence,
		Reason:           d.Reason,
		Source:           fallbackSource,
		LearnFromOutcome: false,
	}
}

func routeByClassification(file types.FileContext, sandbox *types.SandboxAnalysisResult) types.RouteDecision {
	var classification types.Classification
	if sandbox != nil {
		classification = sandbox.Classification
	}

	switch classification {
	case types.ClassificationBinary:
		return types.RouteDecision{TargetService: types.ServiceCyberAgent, Method: "binary_analysis", Priority: 8, Reason: "binary classification"}
	case types.ClassificationGeo, types.ClassificationPointCloud:
		return types.RouteDecision{TargetService: types.ServiceGeoAgent, Method: "geospatial_processing", Priority: 6, Reason: "geo/point-cloud classification"}
	case types.ClassificationMedia:
		if strings.HasPrefix(file.MimeType, "video/") {
			return types.RouteDecision{TargetService: types.ServiceVideoAgent, Method: "video_processing", Priority: 6, Reason: "video media classification"}
		}
		return types.RouteDecision{TargetService: types.ServiceMageAgent, Method: "media_processing", Priority: 5, Reason: "non-video media classification"}
	case types.ClassificationDocument:
		return types.RouteDecision{TargetService: types.ServiceFileProcess, Method: "document_extraction", Priority: 5, Reason: "document classification"}
	default:
		return types.RouteDecision{TargetService: types.ServiceMageAgent, Method: "generic_processing", Priority: 4, Reason: "unclassified or unmatched classification"}
	}
}

// fallbackPostProcess implements the post-process fallback: on success,
// store in graphrag+postgres with search indexing, embeddings, and pattern
// learning all enabled; on failure, store in postgres only.
func fallbackPostProcess(success bool) types.UOMDecision[types.PostProcessDecision] {
	var d types.PostProcessDecision
	if success {
		d = types.PostProcessDecision{
			StoreIn:            []types.StorageSink{types.SinkGraphRAG, types.SinkPostgres},
			IndexForSearch:     true,
			GenerateEmbeddings: true,
			LearnPattern:       true,
			Reason:             "processing succeeded",
		}
	} else {
		d = types.PostProcessDecision{
			StoreIn: []types.StorageSink{types.SinkPostgres},
			Reason:  "processing failed",
		}
	}

	return types.UOMDecision[types.PostProcessDecision]{
		DecisionPoint:    types.DecisionPostProcessing,
		Decision:         d,
		Confidence:       fallbackConfidence,
		Reason:           d.Reason,
		Source:           fallbackSource,
		LearnFromOutcome: false,
	}
}
