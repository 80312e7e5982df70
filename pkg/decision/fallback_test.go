package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxfirst/uom/pkg/uom/types"
)

func TestFallbackTriageKnownBinary(t *testing.T) {
	d := fallbackTriage(types.FileContext{Filename: "payload.exe"})
	require.Equal(t, types.Tier3, d.Decision.SandboxTier)
	require.Equal(t, 9, d.Decision.Priority)
	require.Equal(t, 120_000, d.Decision.TimeoutMs)
	require.ElementsMatch(t, []string{"magic_detect", "yara_full", "ghidra", "strings"}, d.Decision.Tools)
	require.Equal(t, fallbackConfidence, d.Confidence)
	require.Equal(t, types.SourceFastPath, d.Source)
	require.False(t, d.LearnFromOutcome)
}

func TestFallbackTriageArchive(t *testing.T) {
	d := fallbackTriage(types.FileContext{Filename: "bundle.zip"})
	require.Equal(t, types.Tier2, d.Decision.SandboxTier)
	require.Equal(t, 7, d.Decision.Priority)
	require.Equal(t, 60_000, d.Decision.TimeoutMs)
	require.ElementsMatch(t, []string{"magic_detect", "yara_quick", "archive_scan"}, d.Decision.Tools)
}

func TestFallbackTriageDefault(t *testing.T) {
	d := fallbackTriage(types.FileContext{Filename: "report.pdf"})
	require.Equal(t, types.Tier1, d.Decision.SandboxTier)
	require.Equal(t, 5, d.Decision.Priority)
	require.Equal(t, 30_000, d.Decision.TimeoutMs)
	require.ElementsMatch(t, []string{"magic_detect", "yara_quick"}, d.Decision.Tools)
}

func TestFallbackSecurityBlocksOnMalicious(t *testing.T) {
	d := fallbackSecurity(types.SecurityAssessment{IsMalicious: true, ThreatLevel: types.ThreatLow})
	require.Equal(t, types.SecurityBlock, d.Decision.Action)
}

func TestFallbackSecurityBlocksOnCriticalThreat(t *testing.T) {
	d := fallbackSecurity(types.SecurityAssessment{ThreatLevel: types.ThreatCritical})
	require.Equal(t, types.SecurityBlock, d.Decision.Action)
}

func TestFallbackSecurityReviewsHighThreatWith24hExpiry(t *testing.T) {
	before := time.Now()
	d := fallbackSecurity(types.SecurityAssessment{ThreatLevel: types.ThreatHigh})
	after := time.Now()

	require.Equal(t, types.SecurityReview, d.Decision.Action)
	require.NotNil(t, d.Decision.ExpiresAt)
	require.True(t, !d.Decision.ExpiresAt.Before(before.Add(reviewExpiry)))
	require.True(t, !d.Decision.ExpiresAt.After(after.Add(reviewExpiry)))
}

func TestFallbackSecurityAllowsOtherwise(t *testing.T) {
	d := fallbackSecurity(types.SecurityAssessment{ThreatLevel: types.ThreatSafe})
	require.Equal(t, types.SecurityAllow, d.Decision.Action)
	require.Nil(t, d.Decision.ExpiresAt)
}

func TestFallbackRouteGitHubRepo(t *testing.T) {
	d := fallbackRoute(types.FileContext{}, true, nil)
	require.Equal(t, types.ServiceGitHubManager, d.Decision.TargetService)
	require.Equal(t, "repo_ingestion", d.Decision.Method)
}

func TestFallbackRouteHighestPriorityRecommendation(t *testing.T) {
	sandbox := &types.SandboxAnalysisResult{
		Recommendations: []types.Recommendation{
			{TargetService: types.ServiceMageAgent, Method: "m1", Priority: 3},
			{TargetService: types.ServiceCyberAgent, Method: "m2", Priority: 8},
			{TargetService: types.ServiceGeoAgent, Method: "m3", Priority: 5},
		},
	}
	d := fallbackRoute(types.FileContext{}, false, sandbox)
	require.Equal(t, types.ServiceCyberAgent, d.Decision.TargetService)
	require.Equal(t, "m2", d.Decision.Method)
}

func TestFallbackRouteByClassificationBinary(t *testing.T) {
	sandbox := &types.SandboxAnalysisResult{Classification: types.ClassificationBinary}
	d := fallbackRoute(types.FileContext{}, false, sandbox)
	require.Equal(t, types.ServiceCyberAgent, d.Decision.TargetService)
}

func TestFallbackRouteByClassificationGeoAndPointCloud(t *testing.T) {
	for _, c := range []types.Classification{types.ClassificationGeo, types.ClassificationPointCloud} {
		sandbox := &types.SandboxAnalysisResult{Classification: c}
		d := fallbackRoute(types.FileContext{}, false, sandbox)
		require.Equal(t, types.ServiceGeoAgent, d.Decision.TargetService)
	}
}

func TestFallbackRouteByClassificationVideoMedia(t *testing.T) {
	sandbox := &types.SandboxAnalysisResult{Classification: types.ClassificationMedia}
	d := fallbackRoute(types.FileContext{MimeType: "video/mp4"}, false, sandbox)
	require.Equal(t, types.ServiceVideoAgent, d.Decision.TargetService)
}

func TestFallbackRouteByClassificationNonVideoMedia(t *testing.T) {
	sandbox := &types.SandboxAnalysisResult{Classification: types.ClassificationMedia}
	d := fallbackRoute(types.FileContext{MimeType: "audio/mpeg"}, false, sandbox)
	require.Equal(t, types.ServiceMageAgent, d.Decision.TargetService)
}

func TestFallbackRouteByClassificationDocument(t *testing.T) {
	sandbox := &types.SandboxAnalysisResult{Classification: types.ClassificationDocument}
	d := fallbackRoute(types.FileContext{}, false, sandbox)
	require.Equal(t, types.ServiceFileProcess, d.Decision.TargetService)
}

func TestFallbackRouteDefaultsToMageAgent(t *testing.T) {
	d := fallbackRoute(types.FileContext{}, false, nil)
	require.Equal(t, types.ServiceMageAgent, d.Decision.TargetService)
}

func TestFallbackPostProcessOnSuccess(t *testing.T) {
	d := fallbackPostProcess(true)
	require.ElementsMatch(t, []types.StorageSink{types.SinkGraphRAG, types.SinkPostgres}, d.Decision.StoreIn)
	require.True(t, d.Decision.IndexForSearch)
	require.True(t, d.Decision.GenerateEmbeddings)
	require.True(t, d.Decision.LearnPattern)
}

func TestFallbackPostProcessOnFailure(t *testing.T) {
	d := fallbackPostProcess(false)
	require.Equal(t, []types.StorageSink{types.SinkPostgres}, d.Decision.StoreIn)
	require.False(t, d.Decision.IndexForSearch)
	require.False(t, d.Decision.GenerateEmbeddings)
	require.False(t, d.Decision.LearnPattern)
}
