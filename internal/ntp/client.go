package ntp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "ntp")

// maxOffset bounds the correction applied to the local clock. A larger
// measured offset is treated as a bad server answer.
const maxOffset = time.Hour

var errOffsetTooLarge = errors.New("clock offset out of range")

var defaultServers = []string{"time.google.com", "time.cloudflare.com", "pool.ntp.org"}

type Options struct {
	Servers      []string
	SyncInterval time.Duration
	QueryTimeout time.Duration
}

// Client is a TimeProvider that corrects local time by the offset measured
// against the first NTP server that answers. Until a sync succeeds it is
// plain local time.
type Client struct {
	opts   Options
	offset atomic.Int64 // time.Duration
	query  func(server string, opts ntp.QueryOptions) (*ntp.Response, error)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

func NewClient(opts Options) *Client {
	if len(opts.Servers) == 0 {
		opts.Servers = defaultServers
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 5 * time.Minute
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	return &Client{
		opts:  opts,
		query: ntp.QueryWithOptions,
		stop:  make(chan struct{}),
	}
}

// Start syncs once synchronously, then keeps syncing until Stop or ctx is done.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		log.WithFields(logrus.Fields{
			"servers":       c.opts.Servers,
			"sync_interval": c.opts.SyncInterval,
		}).Info("starting NTP client")
		c.sync()
		go c.loop(ctx)
	})
}

func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		log.Info("NTP client stopped")
	})
}

func (c *Client) loop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.sync()
		}
	}
}

// sync keeps the previous offset when no server gives a usable answer.
func (c *Client) sync() bool {
	for _, server := range c.opts.Servers {
		offset, err := c.measure(server)
		if err != nil {
			log.WithField("server", server).Debugf("NTP query failed: %v", err)
			continue
		}
		c.offset.Store(int64(offset))
		log.WithFields(logrus.Fields{
			"server": server,
			"offset": offset,
		}).Info("clock synchronized")
		return true
	}
	log.Warn("no NTP server answered, keeping the last offset")
	return false
}

func (c *Client) measure(server string) (time.Duration, error) {
	res, err := c.query(server, ntp.QueryOptions{Timeout: c.opts.QueryTimeout})
	if err != nil {
		return 0, err
	}
	if err := res.Validate(); err != nil {
		return 0, err
	}
	if res.ClockOffset > maxOffset || res.ClockOffset < -maxOffset {
		return 0, errOffsetTooLarge
	}
	return res.ClockOffset, nil
}

func (c *Client) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *Client) NowUnixMilli() int64 {
	return c.Now().UnixMilli()
}
