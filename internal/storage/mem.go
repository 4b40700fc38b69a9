package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quickoh/relay/internal/ntp"
)

var expiredKeysMetric = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_expired_keys",
	Help: "The total number of keys removed by the memory backend sweeper",
})

type entry struct {
	value    []byte
	fields   map[string]string
	expireAt time.Time
}

func (e *entry) IsExpired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemBackend keeps everything in process memory. Expiry is evaluated lazily
// on access and by a sweeper that runs every second until Close.
type MemBackend struct {
	db    map[string]*entry
	lock  sync.Mutex
	clock ntp.TimeProvider
	stop  chan struct{}
	once  sync.Once
}

func NewMemBackend(clock ntp.TimeProvider) *MemBackend {
	if clock == nil {
		clock = ntp.NewLocalTimeProvider()
	}
	s := &MemBackend{
		db:    map[string]*entry{},
		clock: clock,
		stop:  make(chan struct{}),
	}
	go s.watcher()
	return s
}

func (s *MemBackend) watcher() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemBackend) removeExpired() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	now := s.clock.Now()
	removed := 0
	for key, e := range s.db {
		if e.IsExpired(now) {
			delete(s.db, key)
			removed++
		}
	}
	expiredKeysMetric.Add(float64(removed))
	return removed
}

// live returns the entry for key, dropping it when expired. Caller holds the lock.
func (s *MemBackend) live(key string) *entry {
	e, ok := s.db[key]
	if !ok {
		return nil
	}
	if e.IsExpired(s.clock.Now()) {
		delete(s.db, key)
		return nil
	}
	return e
}

func (s *MemBackend) HIncrBy(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{fields: map[string]string{}}
	}
	if e.fields == nil {
		e.fields = map[string]string{}
	}
	current, _ := strconv.ParseInt(e.fields[field], 10, 64)
	next := current + delta
	if next <= 0 {
		delete(e.fields, field)
	} else {
		e.fields[field] = strconv.FormatInt(next, 10)
	}
	if len(e.fields) == 0 {
		delete(s.db, key)
		return next, nil
	}
	e.expireAt = s.clock.Now().Add(ttl)
	s.db[key] = e
	return next, nil
}

func (s *MemBackend) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	e := s.live(key)
	if e == nil || e.fields == nil {
		e = &entry{fields: make(map[string]string, len(fields))}
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	e.expireAt = s.clock.Now().Add(ttl)
	s.db[key] = e
	return nil
}

func (s *MemBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	res := map[string]string{}
	if e := s.live(key); e != nil {
		for k, v := range e.fields {
			res[k] = v
		}
	}
	return res, nil
}

func (s *MemBackend) HDel(ctx context.Context, key string, ttl time.Duration, fields ...string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	e := s.live(key)
	if e == nil {
		return nil
	}
	for _, f := range fields {
		delete(e.fields, f)
	}
	if len(e.fields) == 0 {
		delete(s.db, key)
		return nil
	}
	e.expireAt = s.clock.Now().Add(ttl)
	return nil
}

func (s *MemBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.db[key] = &entry{value: v, expireAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	e := s.live(key)
	if e == nil || e.value == nil {
		return nil, ErrNotFound
	}
	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, nil
}

func (s *MemBackend) Del(ctx context.Context, keys ...string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, key := range keys {
		delete(s.db, key)
	}
	return nil
}

func (s *MemBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{expireAt: s.clock.Now().Add(window)}
		s.db[key] = e
	}
	count, _ := strconv.ParseInt(string(e.value), 10, 64)
	count++
	e.value = []byte(strconv.FormatInt(count, 10))
	return count, nil
}

// HealthCheck always succeeds for the memory backend.
func (s *MemBackend) HealthCheck() error {
	return nil
}

func (s *MemBackend) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
