package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chama-pay/chama_ledger/internal/logging"
)

const cacheKey = "fees:rules"

// CachedSource keeps the rule table in Redis for ttl in front of another
// source. Redis failures fall through to the inner source.
type CachedSource struct {
	inner  Source
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedSource wraps inner with a Redis cache.
func NewCachedSource(inner Source, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSource {
	return &CachedSource{inner: inner, client: client, ttl: ttl, logger: logging.Component(logger, "fees.cache")}
}

func (s *CachedSource) Rules(ctx context.Context) ([]Rule, error) {
	raw, err := s.client.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var rules []Rule
		if jerr := json.Unmarshal(raw, &rules); jerr == nil {
			return rules, nil
		}
		s.logger.Warn("discarding malformed fee cache entry")
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("fee cache read failed", "error", err)
	}

	rules, err := s.inner.Rules(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rules); err == nil {
		if err := s.client.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
			s.logger.Warn("fee cache write failed", "error", err)
		}
	}
	return rules, nil
}

// Invalidate drops the cached table so the next snapshot reads the inner source.
func (s *CachedSource) Invalidate(ctx context.Context) error {
	return s.client.Del(ctx, cacheKey).Err()
}

// Upsert writes through to the inner source and drops the cached table. A
// failed invalidation is logged; the entry still expires after ttl.
func (s *CachedSource) Upsert(ctx context.Context, r Rule) error {
	w, ok := s.inner.(Writer)
	if !ok {
		return fmt.Errorf("fee source %T is read-only", s.inner)
	}
	if err := w.Upsert(ctx, r); err != nil {
		return err
	}
	if err := s.Invalidate(ctx); err != nil {
		s.logger.Warn("fee cache invalidation failed", "transaction_type", r.TransactionType, "error", err)
	}
	return nil
}
