package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joeshaw/envdecode"
	mlerrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	maxUpdateRetries = 16
	// keys outlive the idle timeout so the reaper, not Redis, ends sessions
	expiryGrace = time.Hour
)

// Config for the Redis session store. Defaults can be loaded via envdecode.
type Config struct {
	Addr      string `env:"REDIS_ADDR,default=localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB,default=0"`
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=middlelayer:sessions:"`
}

// ConfigFromEnv reads Config from the environment.
func ConfigFromEnv() Config {
	var cfg Config
	// envdecode reports an error when no variable is set; the tag defaults still apply.
	_ = envdecode.Decode(&cfg)
	return cfg
}

// Hydrator restores the runtime parts of a session read back from Redis.
type Hydrator func(s *sessions.Session) error

type Store struct {
	client  redis.UniversalClient
	prefix  string
	hydrate Hydrator
}

var _ sessions.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, hydrate Hydrator) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[redisstore.New] redis ping: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix, hydrate), nil
}

func NewWithClient(client redis.UniversalClient, prefix string, hydrate Hydrator) *Store {
	if prefix == "" {
		prefix = "middlelayer:sessions:"
	}
	return &Store{client: client, prefix: prefix, hydrate: hydrate}
}

func (st *Store) Close() error {
	return st.client.Close()
}

func (st *Store) key(id string) string {
	return st.prefix + "s:" + id
}

func (st *Store) indexKey() string {
	return st.prefix + "index"
}

func (st *Store) Get(ctx context.Context, id string) (*sessions.Session, error) {
	raw, err := st.client.Get(ctx, st.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, mlerrors.Wrapf(mlerrors.ErrSessionNotFound, "[redisstore.Get] %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("[redisstore.Get] %s: %w", id, err)
	}
	return st.decode(raw)
}

func (st *Store) Put(ctx context.Context, s *sessions.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("[redisstore.Put] session id is required")
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("[redisstore.Put] %s: %w", s.ID, err)
	}
	_, err = st.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, st.key(s.ID), payload, ttl(s))
		p.SAdd(ctx, st.indexKey(), s.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redisstore.Put] %s: %w", s.ID, err)
	}
	return nil
}

func (st *Store) Delete(ctx context.Context, id string) (*sessions.Session, error) {
	var get *redis.StringCmd
	_, err := st.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, st.key(id))
		p.Del(ctx, st.key(id))
		p.SRem(ctx, st.indexKey(), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("[redisstore.Delete] %s: %w", id, err)
	}
	raw, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[redisstore.Delete] %s: %w", id, err)
	}
	return st.decode(raw)
}

func (st *Store) Update(ctx context.Context, id string, fn func(s *sessions.Session) sessions.Mutation) (*sessions.Session, error) {
	key := st.key(id)
	var out *sessions.Session

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return mlerrors.Wrapf(mlerrors.ErrSessionNotFound, "[redisstore.Update] %s", id)
		}
		if err != nil {
			return err
		}
		s, err := st.decode(raw)
		if err != nil {
			return err
		}

		switch fn(s) {
		case sessions.Save:
			s.ID = id
			payload, err := json.Marshal(s)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, payload, ttl(s))
				return nil
			})
			out = s
			return err
		case sessions.Remove:
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				p.SRem(ctx, st.indexKey(), id)
				return nil
			})
			out = nil
			return err
		default:
			out = s
			return nil
		}
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := st.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if mlerrors.Is(err, mlerrors.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("[redisstore.Update] %s: %w", id, err)
	}
	return nil, mlerrors.Wrapf(mlerrors.ErrInfrastructure, "[redisstore.Update] %s: too much contention", id)
}

func (st *Store) List(ctx context.Context) ([]*sessions.Session, error) {
	ids, err := st.client.SMembers(ctx, st.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("[redisstore.List] %w", err)
	}
	sort.Strings(ids)

	out := make([]*sessions.Session, 0, len(ids))
	for _, id := range ids {
		s, err := st.Get(ctx, id)
		if mlerrors.Is(err, mlerrors.ErrSessionNotFound) {
			// key expired under us; drop the stale index entry
			st.client.SRem(ctx, st.indexKey(), id)
			continue
		}
		if err != nil {
			log.Err(err).Str("session", id).Msg("skipping unreadable session")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (st *Store) decode(raw []byte) (*sessions.Session, error) {
	var s sessions.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("[redisstore.decode] %w", err)
	}
	if st.hydrate != nil {
		if err := st.hydrate(&s); err != nil {
			return nil, fmt.Errorf("[redisstore.decode] %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

func ttl(s *sessions.Session) time.Duration {
	if s.Timeout <= 0 {
		return 0
	}
	return s.Timeout + expiryGrace
}
