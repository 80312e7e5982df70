// Command uom-server runs the sandbox-first processing orchestrator: the
// Dispatch Gate, the stage pipeline, and the control API that fronts them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/sandboxfirst/uom/config"
	"github.com/sandboxfirst/uom/pkg/api"
	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/clients"
	"github.com/sandboxfirst/uom/pkg/decision"
	"github.com/sandboxfirst/uom/pkg/gate"
	"github.com/sandboxfirst/uom/pkg/orchestrator"
	"github.com/sandboxfirst/uom/pkg/patterns"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

func main() {
	if err := flag.Set("logtostderr", "true"); err != nil {
		glog.Fatal(err)
	}

	cli, err := config.ParseCli(os.Args[1:])
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	group, ctx := errgroup.WithContext(context.Background())

	breakers := newBreakerRegistry(cli)
	sandbox := clients.NewScanClient(string(types.ServiceCyberAgent), cli.CyberAgentURL, breakers.For("cyberagent"))
	analyzeServices := newAnalyzeServices(cli, breakers)

	var learner *patterns.Learner
	if cli.PatternsDBConnectionString != "" {
		learner, err = patterns.NewLearner(patterns.LearnerOptions{
			PostgresConnectionString: cli.PatternsDBConnectionString,
			RedisURL:                 cli.PatternsRedisURL,
			MinSuccessRate:           cli.MinPatternSuccessRate,
		})
		if err != nil {
			glog.Fatalf("error creating pattern learner: %s", err)
		}
	} else {
		glog.Info("patterns-db-connection-string was not set, pattern cache is disabled")
	}

	var executor *patterns.Executor
	if learner != nil {
		executor = patterns.NewExecutor(analyzeServices[types.ServiceMageAgent], learner)
	}

	engine := decision.NewEngine(newEngineOptions(ctx, cli, learner, breakers))

	var objectStore *clients.ObjectStoreClient
	if cli.ObjectStoreURL != "" {
		objectStore, err = clients.NewObjectStoreClient(clients.ObjectStoreOptions{}, breakers.For("objectstore"))
		if err != nil {
			glog.Fatalf("error creating object store client: %s", err)
		}
	}

	var storage *clients.StorageClient
	if cli.PatternsDBConnectionString != "" {
		storage, err = clients.NewStorageClient(clients.StorageOptions{
			PostgresConnectionString: cli.PatternsDBConnectionString,
			QdrantURL:                cli.QdrantURL,
			GraphRAGURL:              cli.GraphRAGURL,
		}, map[types.StorageSink]*breaker.Service{
			types.SinkPostgres: breakers.For("storage-postgres"),
			types.SinkQdrant:   breakers.For("storage-qdrant"),
			types.SinkGraphRAG: breakers.For("storage-graphrag"),
		})
		if err != nil {
			glog.Fatalf("error creating storage client: %s", err)
		}
	}

	notifier := clients.NewNotifyClient(cli.SlackWebhookURL, breakers.For("notify"))

	orch := orchestrator.New(orchestrator.Options{
		Engine:            engine,
		Sandbox:           sandbox,
		Processors:        analyzeProcessors(analyzeServices),
		Storage:           storageOrNil(storage),
		Notifier:          notifier,
		Learner:           learnerOrNil(learner),
		MaxConcurrentJobs: cli.MaxConcurrentJobs,
		JobTimeout:        cli.JobTimeout,
		SandboxTimeout:    cli.SandboxTimeout,
	})

	g := gate.New(gate.Options{
		Orchestrator: orch,
		Learner:      learner,
		Executor:     executor,
		ObjectStore:  objectStore,
		Services:     analyzeServices,
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, g, orch)
	})
	group.Go(func() error {
		return api.ListenAndServeInternal(ctx, cli, orch)
	})
	group.Go(func() error {
		return handleSignals(ctx)
	})

	if err := group.Wait(); err != nil {
		glog.Infof("shutdown complete, reason: %s", err)
	}
}

// newBreakerRegistry builds one breaker per external collaborator, all
// tuned from the same cli-provided thresholds - spec.md doesn't call for
// per-service tuning, so a single shared Config keeps the flag surface
// small (see DESIGN.md's Open Question decisions).
func newBreakerRegistry(cli config.Cli) *breaker.Registry {
	shared := breaker.Config{
		FailureThreshold: uint32(cli.BreakerFailureThreshold),
		SuccessThreshold: uint32(cli.BreakerSuccessThreshold),
		OpenTimeout:      cli.BreakerOpenTimeout,
	}
	names := []string{
		"cyberagent", "videoagent", "geoagent", "github-manager", "mageagent",
		"anthropic", "bedrock", "objectstore", "storage-postgres",
		"storage-qdrant", "storage-graphrag", "notify",
	}
	cfg := make(map[string]breaker.Config, len(names))
	for _, n := range names {
		cfg[n] = shared
	}
	return breaker.NewRegistry(names, cfg)
}

// newAnalyzeServices builds the synchronous-analyze client for every
// service either the Dispatch Gate's short circuits or Stage 5 processing
// may call: CyberAgent and VideoAgent/GitHubManager/MageAgent for the
// Gate, plus GeoAgent for Stage 5 routing.
func newAnalyzeServices(cli config.Cli, breakers *breaker.Registry) map[types.TargetService]*clients.AnalyzeClient {
	return map[types.TargetService]*clients.AnalyzeClient{
		types.ServiceCyberAgent:    clients.NewAnalyzeClient(string(types.ServiceCyberAgent), cli.CyberAgentURL, breakers.For("cyberagent")),
		types.ServiceVideoAgent:    clients.NewAnalyzeClient(string(types.ServiceVideoAgent), cli.VideoAgentURL, breakers.For("videoagent")),
		types.ServiceGeoAgent:      clients.NewAnalyzeClient(string(types.ServiceGeoAgent), cli.GeoAgentURL, breakers.For("geoagent")),
		types.ServiceGitHubManager: clients.NewAnalyzeClient(string(types.ServiceGitHubManager), cli.GitHubManagerURL, breakers.For("github-manager")),
		types.ServiceMageAgent:     clients.NewAnalyzeClient(string(types.ServiceMageAgent), cli.MageAgentURL, breakers.For("mageagent")),
	}
}

// analyzeProcessors adapts the shared analyze-client map onto Stage 5's
// narrower processClient interface.
func analyzeProcessors(services map[types.TargetService]*clients.AnalyzeClient) map[types.TargetService]interface {
	Analyze(ctx context.Context, opts clients.CallOptions, req clients.AnalyzeRequest) (*types.ProcessingResult, error)
} {
	out := make(map[types.TargetService]interface {
		Analyze(ctx context.Context, opts clients.CallOptions, req clients.AnalyzeRequest) (*types.ProcessingResult, error)
	}, len(services))
	for k, v := range services {
		out[k] = v
	}
	return out
}

// newEngineOptions builds the Decision Engine's two LLM tiers. Either may
// end up nil - Anthropic when no API key is configured, Bedrock when
// loading the AWS default credential chain fails - in which case the
// Engine degrades to the next tier down, same as a scan service being
// unreachable degrades Stage 2.
func newEngineOptions(ctx context.Context, cli config.Cli, learner *patterns.Learner, breakers *breaker.Registry) decision.EngineOptions {
	opts := decision.EngineOptions{Patterns: learner}

	if cli.AnthropicAPIKey != "" {
		opts.Primary = decision.NewAnthropicBackend(decision.AnthropicOptions{
			APIKey: cli.AnthropicAPIKey,
			Model:  cli.AnthropicModel,
		})
		opts.PrimaryBreaker = breakers.For("anthropic")
	}

	if cli.BedrockRegion != "" && cli.BedrockModelID != "" {
		backend, err := decision.NewBedrockBackend(ctx, decision.BedrockOptions{
			Region:  cli.BedrockRegion,
			ModelID: cli.BedrockModelID,
		})
		if err != nil {
			glog.Warningf("bedrock fallback backend unavailable, decisions will not fall back past the primary LLM: %s", err)
		} else {
			opts.Fallback = backend
			opts.FallbackBreaker = breakers.For("bedrock")
		}
	}

	return opts
}

// storageOrNil avoids wrapping a nil *clients.StorageClient in a non-nil
// orchestrator.storageClient interface value, the same guard
// gate.New applies to its own optional collaborators.
func storageOrNil(s *clients.StorageClient) interface {
	Store(ctx context.Context, opts clients.CallOptions, job *types.Job, decision types.PostProcessDecision) error
} {
	if s == nil {
		return nil
	}
	return s
}

func learnerOrNil(l *patterns.Learner) interface {
	RecordSuccess(ctx context.Context, key string, executionTimeMs float64) error
	RecordFailure(ctx context.Context, key string, executionTimeMs float64) error
} {
	if l == nil {
		return nil
	}
	return l
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
