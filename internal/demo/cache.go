package demo

import (
	"fmt"
	"time"

	"github.com/mattn/go-colorable"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scusemua/time-simulator/internal/domain"
)

const CategoryCache = "Cache"

// EventRecorder is implemented by *event_log.EventLog.
type EventRecorder interface {
	Record(name string, category string, data interface{}) (domain.Event, error)
}

type cacheEntry struct {
	Value     interface{}
	ExpiresAt time.Time
}

// TemporalCache is a key-value cache whose entries expire after an amount of (virtual) time.
//
// Expired entries are evicted each time the cache is notified that time has advanced.
// Reads also check expiry against the cache's TimeProvider, so an entry is never returned after it expires,
// even if it has not been evicted yet.
type TemporalCache struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	entries           cmap.ConcurrentMap[string, cacheEntry]
	defaultExpiration time.Duration
	timeProvider      domain.TimeProvider
	recorder          EventRecorder
}

func NewTemporalCache(timeProvider domain.TimeProvider, defaultExpiration time.Duration, atom *zap.AtomicLevel) *TemporalCache {
	cache := &TemporalCache{
		entries:           cmap.New[cacheEntry](),
		defaultExpiration: defaultExpiration,
		timeProvider:      timeProvider,
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for temporal cache")
	}

	cache.logger = logger.Named("cache")
	cache.sugaredLogger = cache.logger.Sugar()

	return cache
}

// SetEventRecorder makes the cache record an event each time an entry expires.
func (c *TemporalCache) SetEventRecorder(recorder EventRecorder) {
	c.recorder = recorder
}

// Set stores a value that expires after the given duration, or after the cache's default expiration
// if no duration is given. Returns the time at which the entry expires.
func (c *TemporalCache) Set(key string, value interface{}, expiration ...time.Duration) time.Time {
	ttl := c.defaultExpiration
	if len(expiration) > 0 {
		ttl = expiration[0]
	}

	expiresAt := c.timeProvider.UtcNow().Add(ttl)
	c.entries.Set(key, cacheEntry{Value: value, ExpiresAt: expiresAt})

	c.logger.Debug("Set cache entry.", zap.String("key", key), zap.Time("expires_at", expiresAt))
	return expiresAt
}

// TryGet returns the value stored under the given key, if it exists and has not expired.
func (c *TemporalCache) TryGet(key string) (interface{}, bool) {
	entry, ok := c.entries.Get(key)
	if !ok || !entry.ExpiresAt.After(c.timeProvider.UtcNow()) {
		c.logger.Debug("Cache miss.", zap.String("key", key))
		return nil, false
	}

	c.logger.Debug("Cache hit.", zap.String("key", key))
	return entry.Value, true
}

// Len returns the number of entries that have not yet been evicted.
func (c *TemporalCache) Len() int {
	return c.entries.Count()
}

// OnTimeAdvanced evicts every entry whose expiration time is at or before newTime.
func (c *TemporalCache) OnTimeAdvanced(newTime time.Time, _ time.Duration) error {
	for item := range c.entries.IterBuffered() {
		if item.Val.ExpiresAt.After(newTime) {
			continue
		}

		removed := c.entries.RemoveCb(item.Key, func(_ string, current cacheEntry, exists bool) bool {
			// The entry may have been replaced since the snapshot was taken.
			return exists && !current.ExpiresAt.After(newTime)
		})
		if !removed {
			continue
		}

		c.sugaredLogger.Debugf("Cache entry \"%s\" expired at %v.", item.Key, item.Val.ExpiresAt)

		if c.recorder != nil {
			if _, err := c.recorder.Record(fmt.Sprintf("Cache entry expired: %s", item.Key), CategoryCache, nil); err != nil {
				return err
			}
		}
	}

	return nil
}
