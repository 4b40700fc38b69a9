package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/quickoh/relay/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

// hincrbyScript increments a hash field, drops it at or below zero and
// refreshes the key expiry while the hash still exists.
var hincrbyScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if v <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return v
`)

// incrWindowScript sets the expiry only on the 0 -> 1 transition.
var incrWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return c
`)

type ValkeyBackend struct {
	client    redis.UniversalClient
	cluster   *redis.ClusterClient
	isCluster bool
}

// NewValkeyBackend creates a new Valkey backend.
// Supports both single node and cluster modes based on URI format
func NewValkeyBackend(valkeyURI string) (*ValkeyBackend, error) {
	log := log.WithField("prefix", "NewValkeyBackend")

	uris := strings.Split(valkeyURI, ",")

	var client redis.UniversalClient
	var clusterClient *redis.ClusterClient
	isCluster := false

	// Several URIs or an ElastiCache configuration endpoint mean cluster mode.
	if len(uris) > 1 {
		isCluster = true
	} else if strings.Contains(strings.ToLower(valkeyURI), "clustercfg") {
		isCluster = true
	}

	if isCluster {
		var addrs []string
		var firstOpts *redis.Options
		if len(uris) > 1 {
			addrs = make([]string, len(uris))
			for i, uri := range uris {
				opts, err := redis.ParseURL(strings.TrimSpace(uri))
				if err != nil {
					return nil, fmt.Errorf("failed to parse URI %d: %w", i+1, err)
				}
				addrs[i] = opts.Addr
				if i == 0 {
					firstOpts = opts
				}
			}
		} else {
			raw := strings.TrimSpace(uris[0])
			opts, err := redis.ParseURL(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to parse URI: %w", err)
			}
			// Seed with the configuration endpoint host, go-redis discovers the nodes.
			u, _ := url.Parse(raw)
			seed := opts.Addr
			if u != nil && strings.Contains(strings.ToLower(u.Host), "clustercfg") {
				seed = u.Host
			}
			addrs = []string{seed}
			firstOpts = opts
		}

		log.Infof("Using cluster mode with %d node seed(s)", len(addrs))

		clusterClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          addrs,
			Password:       firstOpts.Password,
			Username:       firstOpts.Username,
			TLSConfig:      firstOpts.TLSConfig,
			ReadOnly:       config.Config.ValkeyReadOnly,
			RouteByLatency: config.Config.ValkeyRouteByLatency,
			RouteRandomly:  config.Config.ValkeyRouteRandomly,
			MaxRedirects:   config.Config.ValkeyMaxRedirects,
			ReadTimeout:    parseTimeout("VALKEY_READ_TIMEOUT", config.Config.ValkeyReadTimeout, 30*time.Second),
			WriteTimeout:   parseTimeout("VALKEY_WRITE_TIMEOUT", config.Config.ValkeyWriteTimeout, 30*time.Second),
			DialTimeout:    parseTimeout("VALKEY_DIAL_TIMEOUT", config.Config.ValkeyDialTimeout, 10*time.Second),
			PoolTimeout:    parseTimeout("VALKEY_POOL_TIMEOUT", config.Config.ValkeyPoolTimeout, 30*time.Second),
		})
		client = clusterClient
	} else {
		opts, err := redis.ParseURL(strings.TrimSpace(uris[0]))
		if err != nil {
			return nil, fmt.Errorf("failed to parse URI: %w", err)
		}
		log.Info("Using single-node mode")
		client = redis.NewClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pingWithRetry(ctx, client, config.Config.ValkeyConnectRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	log.Info("Successfully connected to Valkey")
	return &ValkeyBackend{
		client:    client,
		cluster:   clusterClient,
		isCluster: isCluster,
	}, nil
}

func parseTimeout(name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.WithField("prefix", "NewValkeyBackend").Warnf("invalid %s '%s', using default %s: %v", name, value, fallback, err)
		return fallback
	}
	return d
}

// pingWithRetry pings with exponential backoff starting at 100ms.
func pingWithRetry(ctx context.Context, client redis.UniversalClient, maxRetries uint64) error {
	log := log.WithField("prefix", "pingWithRetry")
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(100*time.Millisecond))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			log.Debugf("ping attempt %d failed: %v", attempt, err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (s *ValkeyBackend) HIncrBy(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	v, err := hincrbyScript.Run(ctx, s.client, []string{key}, field, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("hincrby", err)
	}
	return v, nil
}

func (s *ValkeyBackend) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable("hset", err)
	}
	return nil
}

func (s *ValkeyBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.client.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("hgetall", err)
	}
	if res == nil {
		res = map[string]string{}
	}
	return res, nil
}

func (s *ValkeyBackend) HDel(ctx context.Context, key string, ttl time.Duration, fields ...string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, fields...)
		// no-op once the last field is gone and the key disappeared
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable("hdel", err)
	}
	return nil
}

func (s *ValkeyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *ValkeyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return v, nil
}

// Del removes keys one command each, so keys may live in different cluster slots.
func (s *ValkeyBackend) Del(ctx context.Context, keys ...string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (s *ValkeyBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	c, err := incrWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return c, nil
}

// HealthCheck verifies the connection to Valkey
func (s *ValkeyBackend) HealthCheck() error {
	log := log.WithField("prefix", "ValkeyBackend.HealthCheck")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("valkey health check failed: %w", err)
	}

	log.Debug("Valkey is healthy")
	return nil
}

func (s *ValkeyBackend) Close() error {
	return s.client.Close()
}
