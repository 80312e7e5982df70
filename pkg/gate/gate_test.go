package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/clients"
	"github.com/sandboxfirst/uom/pkg/patterns"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

type fakeOrchestrator struct {
	jobID   string
	err     error
	calls   int
	lastFile types.FileContext
}

func (f *fakeOrchestrator) Process(ctx context.Context, file types.FileContext, user types.UserContext, policies types.OrgSecurityPolicy) (string, error) {
	f.calls++
	f.lastFile = file
	if f.err != nil {
		return "", f.err
	}
	return f.jobID, nil
}

func newTestBreaker(name string) *breaker.Service {
	return breaker.NewRegistry([]string{name}, nil).For(name)
}

func newTestAnalyzeService(t *testing.T, result types.ProcessingResult) (*httptest.Server, *clients.AnalyzeClient) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(clients.AnalyzeResponse{Done: true, Result: &result})
	}))
	c := clients.NewAnalyzeClient("svc", srv.URL, newTestBreaker("svc-"+t.Name()))
	return srv, c
}

func TestDispatchRejectsEmptySubmission(t *testing.T) {
	g := New(Options{})
	_, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{})
	require.Error(t, err)
}

func TestDispatchYouTubeURLShortCircuits(t *testing.T) {
	srv, analyzeClient := newTestAnalyzeService(t, types.ProcessingResult{Success: true, JobID: "yt-job"})
	defer srv.Close()

	orch := &fakeOrchestrator{}
	g := New(Options{
		Orchestrator: orch,
		Services:     map[types.TargetService]*clients.AnalyzeClient{types.ServiceVideoAgent: analyzeClient},
	})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{RawURL: "https://youtu.be/abc123"})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.Equal(t, "videoagent_youtube", result.ProcessingMethod)
	require.Equal(t, "yt-job", result.JobID)
	require.Equal(t, 0, orch.calls)
}

func TestDispatchGitHubRepoURLShortCircuits(t *testing.T) {
	srv, analyzeClient := newTestAnalyzeService(t, types.ProcessingResult{Success: true, JobID: "gh-job"})
	defer srv.Close()

	orch := &fakeOrchestrator{}
	g := New(Options{
		Orchestrator: orch,
		Services:     map[types.TargetService]*clients.AnalyzeClient{types.ServiceGitHubManager: analyzeClient},
	})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{RawURL: "https://github.com/acme/widgets"})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.Equal(t, "github_repo_ingestion", result.ProcessingMethod)
	require.Equal(t, 0, orch.calls)
}

func TestDispatchDirectVideoURLForwardsToOrchestrator(t *testing.T) {
	orch := &fakeOrchestrator{jobID: "job-direct"}
	g := New(Options{Orchestrator: orch})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{RawURL: "https://cdn.example.com/clip.mp4"})
	require.NoError(t, err)
	require.False(t, result.ShortCircuited)
	require.Equal(t, "job-direct", result.JobID)
	require.Equal(t, 1, orch.calls)
	require.Equal(t, "https://cdn.example.com/clip.mp4", orch.lastFile.OriginalURL)
}

func TestDispatchKnownBinaryShortCircuitsToCyberAgent(t *testing.T) {
	srv, analyzeClient := newTestAnalyzeService(t, types.ProcessingResult{Success: true, JobID: "cyber-job"})
	defer srv.Close()

	orch := &fakeOrchestrator{}
	g := New(Options{
		Orchestrator: orch,
		Services:     map[types.TargetService]*clients.AnalyzeClient{types.ServiceCyberAgent: analyzeClient},
	})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{
		File: types.FileContext{Filename: "installer.exe", InlineBuffer: []byte("MZ fake pe header")},
	})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.Equal(t, "cyberagent_binary_analysis", result.ProcessingMethod)
	require.Equal(t, 0, orch.calls)
}

func TestDispatchKnownBinaryBlockedReturnsBlockCode(t *testing.T) {
	srv, analyzeClient := newTestAnalyzeService(t, types.ProcessingResult{Success: false, JobID: "cyber-job-2", Error: "malicious"})
	defer srv.Close()

	g := New(Options{
		Orchestrator: &fakeOrchestrator{},
		Services:     map[types.TargetService]*clients.AnalyzeClient{types.ServiceCyberAgent: analyzeClient},
	})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{
		File: types.FileContext{Filename: "payload.exe", InlineBuffer: []byte("MZ fake pe header")},
	})
	require.NoError(t, err)
	require.True(t, result.Blocked)
	require.Equal(t, "MALICIOUS_FILE_BLOCKED", result.BlockCode)
}

func TestDispatchYouTubeFailureIsNotReportedAsMaliciousBlock(t *testing.T) {
	srv, analyzeClient := newTestAnalyzeService(t, types.ProcessingResult{Success: false, JobID: "yt-job-2", Error: "downstream unavailable"})
	defer srv.Close()

	g := New(Options{
		Orchestrator: &fakeOrchestrator{},
		Services:     map[types.TargetService]*clients.AnalyzeClient{types.ServiceVideoAgent: analyzeClient},
	})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{RawURL: "https://youtu.be/abc123"})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.False(t, result.Blocked)
	require.Equal(t, "VIDEO_AGENT_ANALYSIS_FAILED", result.BlockCode)
}

func TestDispatchGitHubFailureIsNotReportedAsMaliciousBlock(t *testing.T) {
	srv, analyzeClient := newTestAnalyzeService(t, types.ProcessingResult{Success: false, JobID: "gh-job-2", Error: "clone failed"})
	defer srv.Close()

	g := New(Options{
		Orchestrator: &fakeOrchestrator{},
		Services:     map[types.TargetService]*clients.AnalyzeClient{types.ServiceGitHubManager: analyzeClient},
	})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{RawURL: "https://github.com/acme/widgets"})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.False(t, result.Blocked)
	require.Equal(t, "GITHUB_INGESTION_FAILED", result.BlockCode)
}

func TestDispatchDriveBypassFailureIsNotReportedAsMaliciousBlock(t *testing.T) {
	srv, analyzeClient := newTestAnalyzeService(t, types.ProcessingResult{Success: false, JobID: "drive-job", Error: "scan skipped, transfer failed"})
	defer srv.Close()

	g := New(Options{
		Orchestrator: &fakeOrchestrator{},
		Services:     map[types.TargetService]*clients.AnalyzeClient{types.ServiceMageAgent: analyzeClient},
	})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{
		RawURL:          "https://drive.google.com/file/d/abc/view",
		VirusScanBypass: true,
	})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.False(t, result.Blocked)
	require.Equal(t, "DRIVE_BYPASS_FAILED", result.BlockCode)
}

func TestDispatchArchiveFansOutToOrchestrator(t *testing.T) {
	body := buildTestZip(t, map[string]string{"a.pdf": "one", "b.pdf": "two", "c.pdf": "three"})
	orch := &fakeOrchestrator{jobID: "child-job"}
	g := New(Options{Orchestrator: orch})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{
		File: types.FileContext{Filename: "bundle.zip", InlineBuffer: body},
	})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.Equal(t, "archive_fan_out", result.ProcessingMethod)
	require.Equal(t, 3, result.TotalFiles)
	require.Len(t, result.ProcessedFiles, 3)
	require.Equal(t, 3, orch.calls)
}

func TestDispatchUnrecognizedUploadForwardsToOrchestrator(t *testing.T) {
	orch := &fakeOrchestrator{jobID: "normal-job"}
	g := New(Options{Orchestrator: orch})

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{
		File: types.FileContext{Filename: "report.pdf", InlineBuffer: []byte("%PDF-1.4 not really")},
	})
	require.NoError(t, err)
	require.False(t, result.ShortCircuited)
	require.Equal(t, "normal-job", result.JobID)
	require.Equal(t, 1, orch.calls)
}

type fakePatternFinder struct {
	found *patterns.FindResult
	hit   bool
}

func (f *fakePatternFinder) FindPattern(ctx context.Context, key string) (*patterns.FindResult, bool, error) {
	return f.found, f.hit, nil
}

type fakePatternRunner struct {
	result *types.ProcessingResult
	err    error
}

func (f *fakePatternRunner) Execute(ctx context.Context, opts clients.CallOptions, pattern *types.ProcessingPattern, file types.FileContext) (*types.ProcessingResult, error) {
	return f.result, f.err
}

func TestDispatchUsesPatternCacheShortCircuitOnHit(t *testing.T) {
	orch := &fakeOrchestrator{}
	g := &Gate{
		orchestrator: orch,
		learner:      &fakePatternFinder{hit: true, found: &patterns.FindResult{Pattern: &types.ProcessingPattern{ID: "p1"}}},
		executor:     &fakePatternRunner{result: &types.ProcessingResult{Success: true, JobID: "cached-job"}},
	}

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{
		File: types.FileContext{Filename: "report.pdf", InlineBuffer: []byte("%PDF-1.4 not really")},
	})
	require.NoError(t, err)
	require.True(t, result.ShortCircuited)
	require.Equal(t, "pattern_cache_execution", result.ProcessingMethod)
	require.Equal(t, "cached-job", result.JobID)
	require.Equal(t, 0, orch.calls)
}

func TestDispatchFallsThroughToOrchestratorOnPatternExecutionFailure(t *testing.T) {
	orch := &fakeOrchestrator{jobID: "fallback-job"}
	g := &Gate{
		orchestrator: orch,
		learner:      &fakePatternFinder{hit: true, found: &patterns.FindResult{Pattern: &types.ProcessingPattern{ID: "p1"}}},
		executor:     &fakePatternRunner{err: errors.New("sandbox exploded")},
	}

	result, err := g.Dispatch(context.Background(), clients.CallOptions{}, ProcessRequest{
		File: types.FileContext{Filename: "report.pdf", InlineBuffer: []byte("%PDF-1.4 not really")},
	})
	require.NoError(t, err)
	require.False(t, result.ShortCircuited)
	require.Equal(t, "fallback-job", result.JobID)
	require.Equal(t, 1, orch.calls)
}
