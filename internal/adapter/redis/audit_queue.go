package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/eventrelay/internal/domain"
)

const auditQueueKey = "jobs:audit"

// AuditQueue pushes audit entries onto a capped list on the jobs pool
// for an out-of-process worker to drain.
type AuditQueue struct {
	rdb    goredis.UniversalClient
	maxLen int64
}

var _ domain.AuditSink = (*AuditQueue)(nil)

func NewAuditQueue(rdb goredis.UniversalClient, maxLen int64) *AuditQueue {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &AuditQueue{rdb: rdb, maxLen: maxLen}
}

func (q *AuditQueue) Record(ctx context.Context, entry domain.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, auditQueueKey, payload)
		p.LTrim(ctx, auditQueueKey, 0, q.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue audit entry: %w", err)
	}
	return nil
}

// Pending returns up to n most recent queued entries, newest first.
func (q *AuditQueue) Pending(ctx context.Context, n int64) ([]domain.AuditEntry, error) {
	raw, err := q.rdb.LRange(ctx, auditQueueKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit queue: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
