package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Cli holds every knob the uom-server binary can be started with, bound
// from flags and (via ff) from CATALYST_UOM_-prefixed environment
// variables. Field names mirror the flag name in PascalCase.
type Cli struct {
	HTTPAddress     string
	InternalAddress string
	APIKey          string

	// Upstream collaborators the Dispatch Gate and Orchestrator call out to.
	CyberAgentURL    string
	VideoAgentURL    string
	GeoAgentURL      string
	GitHubManagerURL string
	MageAgentURL     string

	// Post-process sinks.
	ObjectStoreURL string
	QdrantURL      string
	GraphRAGURL    string

	// Durable storage for the pattern cache.
	PatternsDBConnectionString string
	PatternsRedisURL           string

	// LLM Decision Engine backends.
	AnthropicAPIKey  string
	AnthropicModel   string
	BedrockRegion    string
	BedrockModelID   string

	// Escalation notifications.
	SlackWebhookURL string

	// Concurrency / timeout bounds.
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	SandboxTimeout    time.Duration

	// Circuit breaker tuning, shared across every external service unless
	// a future per-service override is added.
	BreakerFailureThreshold uint
	BreakerSuccessThreshold uint
	BreakerOpenTimeout      time.Duration

	// Pattern cache eligibility.
	MinPatternSuccessRate float64
}

// ParseCli builds the flag set, parses os.Args[1:] with ff (picking up
// CATALYST_UOM_-prefixed env vars for anything not passed on the command
// line), and returns the populated Cli.
func ParseCli(args []string) (Cli, error) {
	fs := flag.NewFlagSet("uom-server", flag.ContinueOnError)
	cli := Cli{}

	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind for external-facing HTTP handling")
	fs.StringVar(&cli.InternalAddress, "http-internal-addr", "127.0.0.1:7979", "Address to bind for internal/metrics HTTP handling")
	fs.StringVar(&cli.APIKey, "api-key", "", "X-API-Key value required on every inbound request")

	fs.StringVar(&cli.CyberAgentURL, "cyberagent-url", "", "Base URL of the CyberAgent scan service")
	fs.StringVar(&cli.VideoAgentURL, "videoagent-url", "", "Base URL of the VideoAgent scan service")
	fs.StringVar(&cli.GeoAgentURL, "geoagent-url", "", "Base URL of the GeoAgent scan service")
	fs.StringVar(&cli.GitHubManagerURL, "githubmanager-url", "", "Base URL of the GitHubManager scan service")
	fs.StringVar(&cli.MageAgentURL, "mageagent-url", "", "Base URL of the MageAgent analyze service")

	fs.StringVar(&cli.ObjectStoreURL, "object-store-url", "", "s3://bucket URL used for fetching/writing FileContext storage paths")
	fs.StringVar(&cli.QdrantURL, "qdrant-url", "", "Base URL of the Qdrant post-process sink")
	fs.StringVar(&cli.GraphRAGURL, "graphrag-url", "", "Base URL of the GraphRAG post-process sink")

	fs.StringVar(&cli.PatternsDBConnectionString, "patterns-db-connection-string", "", "Postgres connection string for the pattern cache. Takes the form: host=X port=X user=X password=X dbname=X")
	fs.StringVar(&cli.PatternsRedisURL, "patterns-redis-url", "", "Redis URL used as a read-through cache in front of the pattern cache's Postgres store")

	fs.StringVar(&cli.AnthropicAPIKey, "anthropic-api-key", "", "API key for the primary LLM backend")
	fs.StringVar(&cli.AnthropicModel, "anthropic-model", "claude-3-5-sonnet-20241022", "Model ID to use against the primary LLM backend")
	fs.StringVar(&cli.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for the fallback LLM backend")
	fs.StringVar(&cli.BedrockModelID, "bedrock-model-id", "anthropic.claude-3-sonnet-20240229-v1:0", "Model ID to use against the fallback LLM backend")

	fs.StringVar(&cli.SlackWebhookURL, "slack-webhook-url", "", "Incoming webhook URL used to notify reviewers of escalated jobs")

	fs.IntVar(&cli.MaxConcurrentJobs, "max-concurrent-jobs", DefaultMaxConcurrentJobs, "Maximum number of jobs the orchestrator will run at once")
	fs.DurationVar(&cli.JobTimeout, "job-timeout", DefaultJobTimeout, "Wall-clock cap for a whole job, Stage 1 through Stage 6")
	fs.DurationVar(&cli.SandboxTimeout, "sandbox-timeout", DefaultSandboxTimeout, "Wall-clock cap for the sandbox analysis stage")

	fs.UintVar(&cli.BreakerFailureThreshold, "breaker-failure-threshold", DefaultFailureThreshold, "Consecutive failures before a service's circuit breaker opens")
	fs.UintVar(&cli.BreakerSuccessThreshold, "breaker-success-threshold", DefaultSuccessThreshold, "Consecutive successes required in half-open state before a breaker closes")
	fs.DurationVar(&cli.BreakerOpenTimeout, "breaker-open-timeout", DefaultOpenTimeoutMin, "How long a breaker stays open before allowing a half-open probe")

	fs.Float64Var(&cli.MinPatternSuccessRate, "min-pattern-success-rate", DefaultMinPatternSuccessRate, "Minimum successRate FindPattern requires before serving a cached pattern")

	version := fs.Bool("version", false, "print application version")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("CATALYST_UOM"),
	)
	if err != nil {
		return cli, fmt.Errorf("error parsing cli: %w", err)
	}
	if len(fs.Args()) > 0 {
		return cli, fmt.Errorf("unexpected extra arguments on command line: %v", fs.Args())
	}

	if *version {
		fmt.Printf("uom-server version: %s\n", Version)
		os.Exit(0)
	}

	return cli, nil
}
