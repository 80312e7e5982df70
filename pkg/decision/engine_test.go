package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/patterns"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

type fakePatternFinder struct {
	found     *patterns.FindResult
	hit       bool
	findErr   error
	storedKey string
	failedKey string
}

func (f *fakePatternFinder) FindPattern(ctx context.Context, key string) (*patterns.FindResult, bool, error) {
	return f.found, f.hit, f.findErr
}

func (f *fakePatternFinder) StorePattern(ctx context.Context, key, mimeType, body, language string, packages []string) (string, error) {
	f.storedKey = key
	return "pattern-id", nil
}

func (f *fakePatternFinder) RecordFailure(ctx context.Context, key string, executionTimeMs float64) error {
	f.failedKey = key
	return nil
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func testBreakerService(name string) *breaker.Service {
	return breaker.NewRegistry([]string{name}, nil).For(name)
}

func TestDecideInitialTriageUsesPatternCacheWhenEligible(t *testing.T) {
	finder := &fakePatternFinder{
		hit:   true,
		found: &patterns.FindResult{Pattern: &types.ProcessingPattern{ID: "p1"}, Confidence: 0.92, Reason: "hot cache hit"},
	}
	e := &Engine{patterns: finder}

	d := e.DecideInitialTriage(context.Background(), types.FileContext{Filename: "report.pdf"})

	require.Equal(t, types.SourcePatternCache, d.Source)
	require.Equal(t, 0.92, d.Confidence)
	require.False(t, d.LearnFromOutcome)
}

func TestDecideInitialTriageFallsBackToFastPathWithNoPatternAndNoLLM(t *testing.T) {
	finder := &fakePatternFinder{hit: false}
	e := &Engine{patterns: finder}

	d := e.DecideInitialTriage(context.Background(), types.FileContext{Filename: "payload.exe"})

	require.Equal(t, types.SourceFastPath, d.Source)
	require.Equal(t, types.Tier3, d.Decision.SandboxTier)
}

func TestDecideUsesPrimaryLLMWhenPatternCacheMisses(t *testing.T) {
	primary := &fakeLLM{response: `{"decision":{"sandboxTier":"tier2","priority":6,"timeout":45000,"tools":["yara_quick"]},"confidence":0.81,"reason":"llm call"}`}
	e := &Engine{
		patterns:       &fakePatternFinder{hit: false},
		primary:        primary,
		primaryBreaker: testBreakerService("primary-1"),
	}

	d := e.DecideInitialTriage(context.Background(), types.FileContext{Filename: "doc.pdf"})

	require.Equal(t, types.SourceLLMPrimary, d.Source)
	require.Equal(t, types.Tier2, d.Decision.SandboxTier)
	require.Equal(t, 0.81, d.Confidence)
	require.True(t, d.LearnFromOutcome)
}

func TestDecideFallsBackToFallbackLLMWhenPrimaryErrors(t *testing.T) {
	primary := &fakeLLM{err: errors.New("primary unavailable")}
	fallback := &fakeLLM{response: `{"decision":{"sandboxTier":"tier1","priority":4,"timeout":20000,"tools":["magic_detect"]},"confidence":0.6,"reason":"fallback llm"}`}
	e := &Engine{
		patterns:        &fakePatternFinder{hit: false},
		primary:         primary,
		primaryBreaker:  testBreakerService("primary-2"),
		fallback:        fallback,
		fallbackBreaker: testBreakerService("fallback-2"),
	}

	d := e.DecideInitialTriage(context.Background(), types.FileContext{Filename: "doc.pdf"})

	require.Equal(t, types.SourceLLMFallback, d.Source)
	require.Equal(t, types.Tier1, d.Decision.SandboxTier)
}

func TestDecideFallsBackToFastPathWhenBothLLMsFail(t *testing.T) {
	primary := &fakeLLM{err: errors.New("primary unavailable")}
	fallback := &fakeLLM{err: errors.New("fallback unavailable")}
	e := &Engine{
		patterns:        &fakePatternFinder{hit: false},
		primary:         primary,
		primaryBreaker:  testBreakerService("primary-3"),
		fallback:        fallback,
		fallbackBreaker: testBreakerService("fallback-3"),
	}

	d := e.DecideInitialTriage(context.Background(), types.FileContext{Filename: "payload.exe"})

	require.Equal(t, types.SourceFastPath, d.Source)
	require.Equal(t, types.Tier3, d.Decision.SandboxTier)
}

func TestDecideSecurityAssessmentHasNoPatternCacheTier(t *testing.T) {
	finder := &fakePatternFinder{hit: true, found: &patterns.FindResult{Confidence: 0.99}}
	e := &Engine{patterns: finder}

	d := e.DecideSecurityAssessment(context.Background(), types.SecurityAssessment{ThreatLevel: types.ThreatHigh})

	require.Equal(t, types.SourceFastPath, d.Source)
	require.Equal(t, types.SecurityReview, d.Decision.Action)
}

func TestStorePatternNoOpWhenNoLearner(t *testing.T) {
	e := &Engine{}
	id, err := e.StorePattern(context.Background(), types.FileContext{}, types.TriageDecision{})
	require.NoError(t, err)
	require.Equal(t, "", id)
}

func TestStorePatternWritesThroughFingerprint(t *testing.T) {
	finder := &fakePatternFinder{}
	e := &Engine{patterns: finder}

	file := types.FileContext{Filename: "report.pdf", MimeType: "application/pdf", FileSize: 100}
	_, err := e.StorePattern(context.Background(), file, types.TriageDecision{SandboxTier: types.Tier1})

	require.NoError(t, err)
	require.Equal(t, patterns.Fingerprint(file, types.DecisionInitialTriage), finder.storedKey)
}

func TestRecordPatternFailureNoOpWhenNoLearner(t *testing.T) {
	e := &Engine{}
	require.NoError(t, e.RecordPatternFailure(context.Background(), types.FileContext{}, 123))
}

func TestRecordPatternFailureDelegatesToLearner(t *testing.T) {
	finder := &fakePatternFinder{}
	e := &Engine{patterns: finder}

	file := types.FileContext{Filename: "report.pdf", MimeType: "application/pdf"}
	require.NoError(t, e.RecordPatternFailure(context.Background(), file, 456))
	require.Equal(t, patterns.Fingerprint(file, types.DecisionInitialTriage), finder.failedKey)
}
