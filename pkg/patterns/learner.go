package patterns

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/sandboxfirst/uom/cache"
	"github.com/sandboxfirst/uom/config"
	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// FindResult is what FindPattern returns on a hit.
type FindResult struct {
	Pattern    *types.ProcessingPattern
	Confidence float64
	Reason     string
}

// Learner is the pattern cache described in spec §4.3: a hot in-memory
// layer (cache.Cache, mirroring the orchestrator's job table), a
// read-through Redis layer, and Postgres as the durable store of record.
type Learner struct {
	db             *sql.DB
	redis          *redis.Client
	hot            *cache.Cache[*types.ProcessingPattern]
	minSuccessRate float64
}

// LearnerOptions configures Learner's backing stores.
type LearnerOptions struct {
	PostgresConnectionString string
	RedisURL                 string
	MinSuccessRate           float64
}

func NewLearner(opts LearnerOptions) (*Learner, error) {
	db, err := sql.Open("postgres", opts.PostgresConnectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	var redisClient *redis.Client
	if opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
	}

	minSuccessRate := opts.MinSuccessRate
	if minSuccessRate == 0 {
		minSuccessRate = config.DefaultMinPatternSuccessRate
	}

	return &Learner{
		db:             db,
		redis:          redisClient,
		hot:            cache.New[*types.ProcessingPattern](),
		minSuccessRate: minSuccessRate,
	}, nil
}

// eligible matches the minimum-sample-size decision in DESIGN.md: a pattern
// is only trusted once it has accumulated config.MinPatternSampleSize
// executions, and its successRate clears minSuccessRate.
func (l *Learner) eligible(p *types.ProcessingPattern) bool {
	total := p.SuccessCount + p.FailureCount
	return total >= config.MinPatternSampleSize && p.SuccessRate >= l.minSuccessRate
}

// FindPattern returns the best pattern stored under key, if any, and if it
// clears the eligibility floor. Lookup order: hot cache, Redis, Postgres -
// each hit populates the faster layers above it.
func (l *Learner) FindPattern(ctx context.Context, key string) (*FindResult, bool, error) {
	if p, ok := l.hot.GetOK(key); ok {
		if !l.eligible(p) {
			return nil, false, nil
		}
		return &FindResult{Pattern: p, Confidence: clampConfidence(p.SuccessRate), Reason: "hot cache hit"}, true, nil
	}

	if l.redis != nil {
		if p, err := l.getFromRedis(ctx, key); err != nil {
			log.LogNoRequestID("pattern redis lookup failed", "key", key, "err", err)
		} else if p != nil {
			l.hot.Store(key, p)
			if !l.eligible(p) {
				return nil, false, nil
			}
			return &FindResult{Pattern: p, Confidence: clampConfidence(p.SuccessRate), Reason: "redis cache hit"}, true, nil
		}
	}

	p, err := l.getFromPostgres(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, nil
	}

	l.hot.Store(key, p)
	l.setRedis(ctx, key, p)

	if !l.eligible(p) {
		return nil, false, nil
	}
	return &FindResult{Pattern: p, Confidence: clampConfidence(p.SuccessRate), Reason: "postgres lookup"}, true, nil
}

func clampConfidence(successRate float64) float64 {
	if successRate < 0 {
		return 0
	}
	if successRate > 1 {
		return 1
	}
	return successRate
}

// StorePattern creates a new pattern for key with successCount=1,
// failureCount=0, successRate=1.0, per spec §4.3.
func (l *Learner) StorePattern(ctx context.Context, key, mimeType, body, language string, packages []string) (string, error) {
	p := &types.ProcessingPattern{
		ID:                  uuid.NewString(),
		MimeType:            mimeType,
		FileCharacteristics: key,
		ProcessingCode:      body,
		Language:            language,
		Packages:            packages,
		SuccessCount:        1,
		FailureCount:        0,
		SuccessRate:         1.0,
		CreatedAt:           config.Clock.GetTime(),
		UpdatedAt:           config.Clock.GetTime(),
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processing_patterns
			(id, mime_type, file_characteristics, processing_code, language, packages,
			 success_count, failure_count, success_rate, average_execution_time_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.MimeType, p.FileCharacteristics, p.ProcessingCode, p.Language, pq.Array(p.Packages),
		p.SuccessCount, p.FailureCount, p.SuccessRate, p.AverageExecutionTimeMs, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("storing pattern: %w", err)
	}

	l.hot.Store(key, p)
	l.setRedis(ctx, key, p)

	return p.ID, nil
}

// RecordExecution updates a pattern's counters and rolling-average
// execution time atomically (via a single UPDATE with a read-modify-write
// done inside Postgres, not in application code, to avoid a lost-update
// race between concurrent executions of the same pattern).
func (l *Learner) RecordExecution(ctx context.Context, patternID string, success bool, executionTimeMs float64) error {
	var successDelta, failureDelta int
	if success {
		successDelta = 1
	} else {
		failureDelta = 1
	}

	_, err := l.db.ExecContext(ctx, `
		UPDATE processing_patterns
		SET success_count = success_count + $2,
		    failure_count = failure_count + $3,
		    average_execution_time_ms = (average_execution_time_ms * (success_count + failure_count) + $4) / (success_count + failure_count + 1),
		    success_rate = (success_count + $2)::float8 / NULLIF(success_count + failure_count + 1, 0),
		    updated_at = $5
		WHERE id = $1
	`, patternID, successDelta, failureDelta, executionTimeMs, config.Clock.GetTime())
	if err != nil {
		return fmt.Errorf("recording pattern execution: %w", err)
	}

	// The hot/redis copies may now be stale; the simplest correct fix is to
	// drop them and let the next FindPattern re-read Postgres.
	l.invalidate(ctx, patternID)
	return nil
}

// RecordSuccess is the orchestrator's post-processing wrapper: look up the
// pattern by key and record a success against it.
func (l *Learner) RecordSuccess(ctx context.Context, key string, executionTimeMs float64) error {
	return l.recordByKey(ctx, key, true, executionTimeMs)
}

// RecordFailure is RecordSuccess's counterpart, called when the job the
// pattern was learned from ultimately failed. executionTimeMs is the job's
// actual elapsed processing time, not a placeholder zero: RecordExecution's
// running average feeds every recorded sample, success or failure, so a
// hardcoded 0 here would drag the average toward zero on every failure.
func (l *Learner) RecordFailure(ctx context.Context, key string, executionTimeMs float64) error {
	return l.recordByKey(ctx, key, false, executionTimeMs)
}

func (l *Learner) recordByKey(ctx context.Context, key string, success bool, executionTimeMs float64) error {
	p, ok, err := l.FindPattern(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		if p2, ok2 := l.hot.GetOK(key); ok2 {
			return l.RecordExecution(ctx, p2.ID, success, executionTimeMs)
		}
		return nil
	}
	return l.RecordExecution(ctx, p.Pattern.ID, success, executionTimeMs)
}

func (l *Learner) invalidate(ctx context.Context, patternID string) {
	var staleKeys []string
	l.hot.Range(func(key string, p *types.ProcessingPattern) bool {
		if p.ID == patternID {
			staleKeys = append(staleKeys, key)
		}
		return true
	})
	for _, key := range staleKeys {
		l.hot.Remove("", key)
		if l.redis != nil {
			l.redis.Del(ctx, redisKey(key))
		}
	}
}

func redisKey(key string) string {
	return "uom:pattern:" + key
}
