package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/quickoh/relay/internal/utils"
)

var ErrTooManyConnections = errors.New("too many simultaneous connections")

// ConnectionsLimiter caps simultaneous realtime sockets per client IP.
type ConnectionsLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	max         int
	realIP      *utils.RealIPExtractor
}

func NewConnectionLimiter(max int, extractor *utils.RealIPExtractor) *ConnectionsLimiter {
	return &ConnectionsLimiter{
		connections: map[string]int{},
		max:         max,
		realIP:      extractor,
	}
}

// LeaseConnection takes one slot for the request's client IP and returns the
// function that gives it back. The release function is safe to call twice.
func (l *ConnectionsLimiter) LeaseConnection(request *http.Request) (release func(), err error) {
	key := l.realIP.Extract(request)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.connections[key] >= l.max {
		return nil, fmt.Errorf("%w: %d max per client", ErrTooManyConnections, l.max)
	}
	l.connections[key]++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.connections[key]--
			if l.connections[key] <= 0 {
				delete(l.connections, key)
			}
		})
	}, nil
}

// Active returns the number of leased slots for ip.
func (l *ConnectionsLimiter) Active(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}
