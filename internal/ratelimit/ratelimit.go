// Package ratelimit implements fixed-window counters keyed by action and
// caller. A window starts with the first hit and is never extended by later
// hits.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var ErrRateLimited = errors.New("too many requests")

var (
	rejectedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limit_rejections",
		Help: "The total number of calls rejected by a rate limit",
	}, []string{"action"})
	failOpenMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limit_fail_open",
		Help: "The total number of calls allowed because the counter store failed",
	}, []string{"action"})
)

// Counter is the atomic increment-with-window primitive of the backing store.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// ParseRule reads "<limit>/<window>", e.g. "30/60s" or "3/5m". A bare number
// after the slash is taken as seconds.
func ParseRule(s string) (Rule, error) {
	limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rule{}, fmt.Errorf("invalid rate rule %q: expected <limit>/<window>", s)
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return Rule{}, fmt.Errorf("invalid rate rule %q: limit must be a positive integer", s)
	}
	var window time.Duration
	if secs, err := strconv.Atoi(windowStr); err == nil {
		window = time.Duration(secs) * time.Second
	} else if window, err = time.ParseDuration(windowStr); err != nil {
		return Rule{}, fmt.Errorf("invalid rate rule %q: %w", s, err)
	}
	if window <= 0 {
		return Rule{}, fmt.Errorf("invalid rate rule %q: window must be positive", s)
	}
	return Rule{Limit: limit, Window: window}, nil
}

type Limiter struct {
	counter Counter
}

func New(counter Counter) *Limiter {
	return &Limiter{counter: counter}
}

func Key(actionPrefix, identifier string) string {
	return "rate:" + actionPrefix + ":" + identifier
}

// Allow counts one hit for identifier and reports whether it fits in the
// current window. An empty identifier and an unreachable counter both allow.
func (l *Limiter) Allow(ctx context.Context, actionPrefix, identifier string, limit int, window time.Duration) bool {
	if identifier == "" {
		return true
	}
	count, err := l.counter.IncrWindow(ctx, Key(actionPrefix, identifier), window)
	if err != nil {
		failOpenMetric.WithLabelValues(actionPrefix).Inc()
		log.WithFields(log.Fields{
			"prefix": "Limiter.Allow",
			"action": actionPrefix,
		}).Warnf("rate limit counter failed, allowing: %v", err)
		return true
	}
	if count > int64(limit) {
		rejectedMetric.WithLabelValues(actionPrefix).Inc()
		return false
	}
	return true
}

func (l *Limiter) AllowRule(ctx context.Context, actionPrefix, identifier string, rule Rule) bool {
	return l.Allow(ctx, actionPrefix, identifier, rule.Limit, rule.Window)
}

// AllowEvent is the realtime form, counted under rate:socket:<action>:<identity>.
func (l *Limiter) AllowEvent(ctx context.Context, action, identity string, rule Rule) bool {
	return l.AllowRule(ctx, "socket:"+action, identity, rule)
}
