package clients

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	uomerrors "github.com/sandboxfirst/uom/errors"
	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// StorageClient fans a completed job's result out to the sinks its
// PostProcessDecision named, each behind its own circuit breaker so one
// failing sink does not stop the others from being written. Sinks are
// written one after another, so a slow sink delays the ones after it.
type StorageClient struct {
	db      *sql.DB
	http    *http.Client
	qdrantURL, graphragURL string
	breakers map[types.StorageSink]*breaker.Service
}

// StorageOptions configures every sink StorageClient can write to.
type StorageOptions struct {
	PostgresConnectionString string
	QdrantURL, GraphRAGURL   string
}

func NewStorageClient(opts StorageOptions, breakers map[types.StorageSink]*breaker.Service) (*StorageClient, error) {
	db, err := sql.Open("postgres", opts.PostgresConnectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	return &StorageClient{
		db:          db,
		http:        newRetryableHTTPClient(15 * time.Second),
		qdrantURL:   opts.QdrantURL,
		graphragURL: opts.GraphRAGURL,
		breakers:    breakers,
	}, nil
}

// Store writes job's result and extracted content to every sink named in
// decision.StoreIn. If one or more sinks fail, the others are still
// attempted, and a StoragePartialError naming every failed sink is
// returned so the caller can decide whether to retry just those.
func (c *StorageClient) Store(ctx context.Context, opts CallOptions, job *types.Job, decision types.PostProcessDecision) error {
	var failed []string
	var lastErr error

	for _, sink := range decision.StoreIn {
		var err error
		switch sink {
		case types.SinkPostgres:
			err = c.storePostgres(ctx, job)
		case types.SinkQdrant:
			err = c.storeHTTPSink(ctx, opts, types.SinkQdrant, c.qdrantURL, job, decision)
		case types.SinkGraphRAG:
			err = c.storeHTTPSink(ctx, opts, types.SinkGraphRAG, c.graphragURL, job, decision)
		default:
			err = fmt.Errorf("unknown storage sink %q", sink)
		}

		if err != nil {
			log.LogNoRequestID("storage sink write failed", "jobId", job.ID, "sink", sink, "err", err)
			failed = append(failed, string(sink))
			lastErr = err
		}
	}

	if len(failed) > 0 {
		return uomerrors.NewStoragePartialError(failed, lastErr)
	}
	return nil
}

func (c *StorageClient) storePostgres(ctx context.Context, job *types.Job) error {
	svc := c.breakers[types.SinkPostgres]
	_, err := svc.ExecuteCtx(ctx, func(ctx context.Context) (any, error) {
		extracted := ""
		if job.ProcessingResult != nil {
			extracted = job.ProcessingResult.ExtractedContent
		}
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO job_results (job_id, correlation_id, mime_type, status, extracted_content, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (job_id) DO UPDATE SET status = EXCLUDED.status, extracted_content = EXCLUDED.extracted_content
		`, job.ID, job.CorrelationID, job.File.MimeType, job.Status, extracted)
		return nil, err
	})
	return err
}

type sinkPayload struct {
	JobID            string            `json:"jobId"`
	CorrelationID    string            `json:"correlationId"`
	MimeType         string            `json:"mimeType"`
	ExtractedContent string            `json:"extractedContent"`
	Metadata         map[string]string `json:"metadata"`
	IndexForSearch   bool              `json:"indexForSearch"`
	GenerateEmbeddings bool            `json:"generateEmbeddings"`
}

func (c *StorageClient) storeHTTPSink(ctx context.Context, opts CallOptions, sink types.StorageSink, baseURL string, job *types.Job, decision types.PostProcessDecision) error {
	svc := c.breakers[sink]

	payload := sinkPayload{
		JobID:              job.ID,
		CorrelationID:      job.CorrelationID,
		MimeType:           job.File.MimeType,
		IndexForSearch:     decision.IndexForSearch,
		GenerateEmbeddings: decision.GenerateEmbeddings,
	}
	if job.ProcessingResult != nil {
		payload.ExtractedContent = job.ProcessingResult.ExtractedContent
		payload.Metadata = job.ProcessingResult.Metadata
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", sink, err)
	}

	_, err = svc.ExecuteCtx(ctx, func(ctx context.Context) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/documents", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		commonHeaders(req, opts.APIKey, opts.CorrelationID, opts.OrgID)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("%s store returned %d: %s", sink, resp.StatusCode, string(b))
		}
		return nil, nil
	})
	return err
}
