package ntp

import (
	"sync"
	"time"
)

// LocalTimeProvider provides time based on the local system clock.
type LocalTimeProvider struct{}

// NewLocalTimeProvider creates a new local time provider.
func NewLocalTimeProvider() *LocalTimeProvider {
	return &LocalTimeProvider{}
}

func (l *LocalTimeProvider) Now() time.Time {
	return time.Now()
}

// NowUnixMilli returns the current local system time in Unix milliseconds.
func (l *LocalTimeProvider) NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// ManualTimeProvider only moves when told to.
type ManualTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualTimeProvider(start time.Time) *ManualTimeProvider {
	return &ManualTimeProvider{now: start}
}

func (m *ManualTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualTimeProvider) NowUnixMilli() int64 {
	return m.Now().UnixMilli()
}

func (m *ManualTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *ManualTimeProvider) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
