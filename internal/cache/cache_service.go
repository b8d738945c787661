package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"whitelist-engine/internal/config"
	"whitelist-engine/internal/models"
)

// Cache key prefixes
const (
	featuresPrefix  = "features:"  // features:phone_hash
	resultPrefix    = "ml_result:" // ml_result:phone_hash
	whitelistPrefix = "whitelist:" // whitelist:user_id:contact_phone
)

// whitelistAbsent is the sentinel cached for a confirmed whitelist miss so
// repeated lookups skip the database.
const whitelistAbsent = "null"

// DecisionCache is the Redis-backed cache in front of the evaluation path.
// Every read is bounded by the lookup timeout and every failure reads as a
// miss; the cache never makes a request slower than going to the source.
type DecisionCache struct {
	client *redis.Client
	cfg    config.RedisConfig
	logger *zap.Logger
}

// NewDecisionCache creates the decision cache.
func NewDecisionCache(client *redis.Client, cfg *config.Config, logger *zap.Logger) *DecisionCache {
	return &DecisionCache{
		client: client,
		cfg:    cfg.Redis,
		logger: logger,
	}
}

// GetFeatures returns cached phone features, if present.
func (c *DecisionCache) GetFeatures(ctx context.Context, phoneHash string) (*models.PhoneFeatures, bool) {
	var features models.PhoneFeatures
	if !c.get(ctx, featuresPrefix+phoneHash, &features) {
		return nil, false
	}
	return &features, true
}

// SetFeatures caches extracted features. Best-effort.
func (c *DecisionCache) SetFeatures(ctx context.Context, phoneHash string, features *models.PhoneFeatures) {
	c.set(ctx, featuresPrefix+phoneHash, features, c.cfg.FeatureCacheTTL)
}

// GetResult returns a cached evaluation result, if present.
func (c *DecisionCache) GetResult(ctx context.Context, phoneHash string) (*models.EvaluationResult, bool) {
	var result models.EvaluationResult
	if !c.get(ctx, resultPrefix+phoneHash, &result) {
		return nil, false
	}
	return &result, true
}

// SetResult caches an evaluation result. Best-effort.
func (c *DecisionCache) SetResult(ctx context.Context, phoneHash string, result *models.EvaluationResult) {
	c.set(ctx, resultPrefix+phoneHash, result, c.cfg.ResultCacheTTL)
}

// GetWhitelist returns a cached whitelist lookup. The boolean reports whether
// the cache held an answer at all; a cached miss returns (nil, true).
func (c *DecisionCache) GetWhitelist(ctx context.Context, userID uuid.UUID, phone string) (*models.WhitelistEntry, bool) {
	key := whitelistKey(userID, phone)

	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	data, err := c.client.Get(lookupCtx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("whitelist cache read failed", zap.Error(err))
		}
		return nil, false
	}

	if data == whitelistAbsent {
		return nil, true
	}

	var entry models.WhitelistEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.Warn("corrupt whitelist cache entry, dropping",
			zap.String("key", key),
			zap.Error(err))
		c.client.Del(context.Background(), key)
		return nil, false
	}

	return &entry, true
}

// SetWhitelist caches a whitelist lookup outcome, including misses.
func (c *DecisionCache) SetWhitelist(ctx context.Context, userID uuid.UUID, phone string, entry *models.WhitelistEntry) {
	key := whitelistKey(userID, phone)

	if entry == nil {
		if err := c.client.Set(context.Background(), key, whitelistAbsent, c.cfg.WhitelistTTL).Err(); err != nil {
			c.logger.Debug("whitelist cache write failed", zap.Error(err))
		}
		return
	}

	c.set(ctx, key, entry, c.cfg.WhitelistTTL)
}

// InvalidateWhitelist drops the cached lookup after a whitelist mutation.
func (c *DecisionCache) InvalidateWhitelist(ctx context.Context, userID uuid.UUID, phone string) {
	if err := c.client.Del(ctx, whitelistKey(userID, phone)).Err(); err != nil {
		c.logger.Debug("whitelist cache invalidation failed", zap.Error(err))
	}
}

// get reads and decodes one key under the lookup timeout.
func (c *DecisionCache) get(ctx context.Context, key string, out interface{}) bool {
	start := time.Now()

	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	data, err := c.client.Get(lookupCtx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("cache read failed",
				zap.String("key", key),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("corrupt cache entry, dropping",
			zap.String("key", key),
			zap.Error(err))
		c.client.Del(context.Background(), key)
		return false
	}

	return true
}

// set encodes and writes one key. Write failures are logged and swallowed.
func (c *DecisionCache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("failed to encode cache value",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	if err := c.client.Set(context.Background(), key, data, ttl).Err(); err != nil {
		c.logger.Debug("cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

func whitelistKey(userID uuid.UUID, phone string) string {
	return fmt.Sprintf("%s%s:%s", whitelistPrefix, userID.String(), phone)
}
