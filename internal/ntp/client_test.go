package ntp

import (
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
)

// answer builds a response that passes Validate.
func answer(offset time.Duration) *ntp.Response {
	now := time.Now()
	return &ntp.Response{
		ClockOffset:    offset,
		Stratum:        2,
		RTT:            10 * time.Millisecond,
		RootDelay:      10 * time.Millisecond,
		RootDispersion: 10 * time.Millisecond,
		Leap:           ntp.LeapNoWarning,
		Time:           now,
		ReferenceTime:  now.Add(-time.Minute),
	}
}

func TestClientSync(t *testing.T) {
	tests := []struct {
		name    string
		answers map[string]*ntp.Response
		synced  bool
		offset  time.Duration
	}{
		{"first server answers", map[string]*ntp.Response{"a": answer(2 * time.Second)}, true, 2 * time.Second},
		{"falls through to second", map[string]*ntp.Response{"b": answer(-3 * time.Second)}, true, -3 * time.Second},
		{"offset out of range", map[string]*ntp.Response{"a": answer(2 * time.Hour)}, false, 0},
		{"nobody answers", map[string]*ntp.Response{}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(Options{Servers: []string{"a", "b"}})
			c.query = func(server string, _ ntp.QueryOptions) (*ntp.Response, error) {
				if res, ok := tt.answers[server]; ok {
					return res, nil
				}
				return nil, errors.New("timeout")
			}
			if got := c.sync(); got != tt.synced {
				t.Fatalf("sync() = %v, want %v", got, tt.synced)
			}
			if got := time.Duration(c.offset.Load()); got != tt.offset {
				t.Errorf("offset = %v, want %v", got, tt.offset)
			}
		})
	}
}

func TestClientKeepsOffsetWhenServersGoAway(t *testing.T) {
	c := NewClient(Options{Servers: []string{"a"}})
	up := true
	c.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		if up {
			return answer(time.Minute), nil
		}
		return nil, errors.New("unreachable")
	}
	c.sync()
	up = false
	c.sync()

	if d := c.Now().Sub(time.Now()); d < 59*time.Second || d > 61*time.Second {
		t.Errorf("expected about a minute ahead, got %v", d)
	}
}
