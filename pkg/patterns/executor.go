package patterns

import (
	"context"
	"time"

	"github.com/sandboxfirst/uom/pkg/clients"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// CodeExecutionClient is the external collaborator that actually runs a
// pattern's stored processing code against a file, satisfied by
// *clients.AnalyzeClient - kept as a narrow interface here so an
// alternative code-execution backend can be swapped in under test.
type CodeExecutionClient interface {
	Analyze(ctx context.Context, opts clients.CallOptions, req clients.AnalyzeRequest) (*types.ProcessingResult, error)
}

// executionRecorder is the slice of Learner's API Executor needs, narrowed
// to an interface so tests can substitute a fake instead of standing up a
// real Postgres connection.
type executionRecorder interface {
	RecordExecution(ctx context.Context, patternID string, success bool, executionTimeMs float64) error
}

// Executor runs a cached ProcessingPattern's body against a file. A
// successful run short-circuits the rest of the orchestrator pipeline
// (§4.3); a failed run falls through to full processing. Execute itself
// records either outcome against the pattern.
type Executor struct {
	client  CodeExecutionClient
	learner executionRecorder
}

func NewExecutor(client CodeExecutionClient, learner *Learner) *Executor {
	return &Executor{client: client, learner: learner}
}

// Execute runs pattern against file and records the outcome (success or
// failure, plus wall-clock duration) back on the pattern before returning.
func (e *Executor) Execute(ctx context.Context, opts clients.CallOptions, pattern *types.ProcessingPattern, file types.FileContext) (*types.ProcessingResult, error) {
	start := time.Now()

	req := clients.AnalyzeRequest{
		CorrelationID: opts.CorrelationID,
		File:          file,
		Route: types.RouteDecision{
			TargetService: types.ServiceMageAgent,
			Method:        "pattern_execution",
			Reason:        "cache hit on fingerprint " + pattern.FileCharacteristics,
			Config: map[string]string{
				"patternId":      pattern.ID,
				"processingCode": pattern.ProcessingCode,
				"language":       pattern.Language,
			},
		},
	}

	result, err := e.client.Analyze(ctx, opts, req)
	durationMs := float64(time.Since(start).Milliseconds())

	success := err == nil && result != nil && result.Success
	if recErr := e.learner.RecordExecution(ctx, pattern.ID, success, durationMs); recErr != nil {
		// Recording is best-effort: the execution result itself is what the
		// caller needs, a failed counter update shouldn't mask it.
		return result, err
	}

	return result, err
}
