package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courseattend/internal/attendance"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// ReportCache caches monthly attendance summaries in redis. Entries expire
// after ttl and are dropped eagerly when a bulk mark touches the month, so
// a miss or a redis outage only costs a re-aggregation.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache builds a cache on an existing client.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ReportCache{client: client, ttl: ttl}
}

func reportKey(courseID string, year, month int) string {
	return fmt.Sprintf("report:monthly:%s:%d-%02d", courseID, year, month)
}

// GetMonthly returns a cached report, if any.
func (c *ReportCache) GetMonthly(ctx context.Context, courseID string, year, month int) ([]attendance.MonthlySummary, bool) {
	raw, err := c.client.Get(ctx, reportKey(courseID, year, month)).Bytes()
	if err != nil {
		return nil, false
	}
	var report []attendance.MonthlySummary
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, false
	}
	return report, true
}

// SetMonthly stores a report with the configured ttl. Failures are silent;
// the cache is best-effort.
func (c *ReportCache) SetMonthly(ctx context.Context, courseID string, year, month int, report []attendance.MonthlySummary) {
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, reportKey(courseID, year, month), raw, c.ttl).Err()
}

// InvalidateMonthly drops the cached report for one course month.
func (c *ReportCache) InvalidateMonthly(ctx context.Context, courseID string, year, month int) {
	_ = c.client.Del(ctx, reportKey(courseID, year, month)).Err()
}
