package patterns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

func (l *Learner) getFromRedis(ctx context.Context, key string) (*types.ProcessingPattern, error) {
	raw, err := l.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, err
	}

	var p types.ProcessingPattern
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling cached pattern: %w", err)
	}
	return &p, nil
}

func (l *Learner) setRedis(ctx context.Context, key string, p *types.ProcessingPattern) {
	if l.redis == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		log.LogNoRequestID("marshaling pattern for redis", "key", key, "err", err)
		return
	}
	if err := l.redis.Set(ctx, redisKey(key), raw, 24*time.Hour).Err(); err != nil {
		log.LogNoRequestID("writing pattern to redis", "key", key, "err", err)
	}
}

func isRedisNil(err error) bool {
	return err != nil && err.Error() == "redis: nil"
}

func (l *Learner) getFromPostgres(ctx context.Context, key string) (*types.ProcessingPattern, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, mime_type, file_characteristics, processing_code, language, packages,
		       success_count, failure_count, success_rate, average_execution_time_ms, created_at, updated_at
		FROM processing_patterns
		WHERE file_characteristics = $1
		ORDER BY success_rate DESC, success_count DESC
		LIMIT 1
	`, key)

	var p types.ProcessingPattern
	err := row.Scan(&p.ID, &p.MimeType, &p.FileCharacteristics, &p.ProcessingCode, &p.Language, pq.Array(&p.Packages),
		&p.SuccessCount, &p.FailureCount, &p.SuccessRate, &p.AverageExecutionTimeMs, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying pattern: %w", err)
	}

	return &p, nil
}
