package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"study-mate/domain"
)

// Backend is the persistence used by the API. Storage and Cache implement it.
type Backend interface {
	FetchBoard(ctx context.Context, userID string) (domain.Columns, error)
	CreateTask(ctx context.Context, userID string, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	MoveTask(ctx context.Context, userID, taskID string, to domain.Status, index int) (domain.Columns, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, s domain.Settings) (domain.Settings, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error)
	FetchStats(ctx context.Context, userID string) (domain.Stats, error)
	EnqueueSession(ctx context.Context, cmd domain.SessionCommand) error
}

// Cache wraps a Backend with Redis-backed caching for read operations.
// Redis failures never fail a request; the backing store is used instead.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func boardCacheKey(userID string) string    { return "board:" + userID }
func settingsCacheKey(userID string) string { return "settings:" + userID }
func statsCacheKey(userID string) string    { return "stats:" + userID }

// generationKey counts the writes to the entity cached under key. A fill
// only lands while the count still matches the one seen by the missed read,
// so a read that overlapped a write cannot cache the older value.
func generationKey(key string) string { return "gen:" + key }

const (
	generationTTL = 24 * time.Hour
	// noFill marks a read whose generation is unknown.
	noFill = -1
)

var errStaleFill = errors.New("cache generation changed")

func (c *Cache) FetchBoard(ctx context.Context, userID string) (domain.Columns, error) {
	key := boardCacheKey(userID)
	var cols domain.Columns
	gen, hit := c.load(ctx, key, &cols)
	if hit {
		return cols.Clone(), nil
	}
	cols, err := c.base.FetchBoard(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, gen, cols)
	return cols, nil
}

func (c *Cache) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	key := settingsCacheKey(userID)
	var s domain.Settings
	gen, hit := c.load(ctx, key, &s)
	if hit {
		return s, nil
	}
	s, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}
	c.store(ctx, key, gen, s)
	return s, nil
}

func (c *Cache) FetchStats(ctx context.Context, userID string) (domain.Stats, error) {
	key := statsCacheKey(userID)
	var st domain.Stats
	gen, hit := c.load(ctx, key, &st)
	if hit {
		return st, nil
	}
	st, err := c.base.FetchStats(ctx, userID)
	if err != nil {
		return domain.Stats{}, err
	}
	c.store(ctx, key, gen, st)
	return st, nil
}

func (c *Cache) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	return c.base.ListSessions(ctx, userID, limit)
}

func (c *Cache) CreateTask(ctx context.Context, userID string, in domain.TaskInput) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, userID, in)
	if err == nil {
		c.Evict(ctx, userID, domain.EntityBoard)
	}
	return t, err
}

func (c *Cache) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, userID, taskID, patch)
	if err == nil {
		c.Evict(ctx, userID, domain.EntityBoard)
	}
	return t, err
}

func (c *Cache) MoveTask(ctx context.Context, userID, taskID string, to domain.Status, index int) (domain.Columns, error) {
	cols, err := c.base.MoveTask(ctx, userID, taskID, to, index)
	if err == nil {
		c.Evict(ctx, userID, domain.EntityBoard)
	}
	return cols, err
}

func (c *Cache) DeleteTask(ctx context.Context, userID, taskID string) error {
	err := c.base.DeleteTask(ctx, userID, taskID)
	if err == nil {
		c.Evict(ctx, userID, domain.EntityBoard)
	}
	return err
}

func (c *Cache) SaveSettings(ctx context.Context, userID string, s domain.Settings) (domain.Settings, error) {
	saved, err := c.base.SaveSettings(ctx, userID, s)
	if err == nil {
		c.Evict(ctx, userID, domain.EntitySettings)
	}
	return saved, err
}

func (c *Cache) EnqueueSession(ctx context.Context, cmd domain.SessionCommand) error {
	return c.base.EnqueueSession(ctx, cmd)
}

// Evict drops the cached reads affected by a change to entityType and bumps
// their generations.
func (c *Cache) Evict(ctx context.Context, userID, entityType string) {
	if c.redis == nil {
		return
	}
	var keys []string
	switch entityType {
	case domain.EntityBoard:
		keys = []string{boardCacheKey(userID)}
	case domain.EntitySettings:
		keys = []string{settingsCacheKey(userID), statsCacheKey(userID)}
	case domain.EntitySessions:
		keys = []string{statsCacheKey(userID)}
	default:
		keys = []string{boardCacheKey(userID), settingsCacheKey(userID), statsCacheKey(userID)}
	}
	_, err := c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		for _, k := range keys {
			p.Incr(ctx, generationKey(k))
			p.Expire(ctx, generationKey(k), generationTTL)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("cache eviction failed")
	}
}

// load reads key together with its generation. On a miss the generation is
// returned for the following store; it is noFill when Redis is unreachable.
func (c *Cache) load(ctx context.Context, key string, out any) (int64, bool) {
	if c.redis == nil {
		return noFill, false
	}
	vals, err := c.redis.MGet(ctx, key, generationKey(key)).Result()
	if err != nil || len(vals) != 2 {
		return noFill, false
	}
	gen, err := parseGeneration(vals[1])
	if err != nil {
		return noFill, false
	}
	data, ok := vals[0].(string)
	if !ok {
		return gen, false
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return gen, false
	}
	return gen, true
}

func parseGeneration(v any) (int64, error) {
	switch g := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(g, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected generation %T", v)
	}
}

// store caches v under key unless its generation moved past gen.
func (c *Cache) store(ctx context.Context, key string, gen int64, v any) {
	if c.redis == nil || c.ttl == 0 || gen == noFill {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	genKey := generationKey(key)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if errors.Is(err, redis.Nil) {
			cur, err = 0, nil
		}
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, errStaleFill) && !errors.Is(err, redis.TxFailedErr) {
		log.WithError(err).WithField("key", key).Debug("cache fill failed")
	}
}
