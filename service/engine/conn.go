package engine

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"MaterniChat/logger"
	"MaterniChat/service/transport"
	"MaterniChat/tools/errs"
)

// ===== config =====

type ConnConf struct {
	MaxRetries int              // consecutive failed attempts before failed
	RetryDelay time.Duration    // fixed delay between attempts
	Clock      func() time.Time // injectable clock; nil => time.Now
}

func (c *ConnConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 1000 * time.Millisecond
	}
}

// Conn owns the single live transport of one engine instance and drives the
// disconnected/connecting/connected/reconnecting/failed state machine.
// Public calls never block on the network; outcomes arrive via onStatus and
// onError.
type Conn struct {
	conf ConnConf
	tr   transport.Transport

	mu       sync.Mutex
	status   Status
	endpoint string
	identity string
	retries  int
	gen      int // bumped on Connect/Disconnect, invalidates older dial loops
	stopCh   chan struct{}

	onStatus func(Status)
	onError  func(error)
	onDown   func(err error) // fired when a live session ends, before status events
}

func NewConn(conf ConnConf, tr transport.Transport, onStatus func(Status), onError func(error), onDown func(error)) *Conn {
	conf.norm()
	return &Conn{
		conf:     conf,
		tr:       tr,
		status:   StatusDisconnected,
		onStatus: onStatus,
		onError:  onError,
		onDown:   onDown,
	}
}

// Connect validates the target and kicks off the dial loop. A Conn already
// connecting/connected is left alone.
func (c *Conn) Connect(endpoint, identity string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}
	if strings.TrimSpace(identity) == "" {
		return errs.ErrConfiguration.WithDetail("empty identity token")
	}

	c.mu.Lock()
	switch c.status {
	case StatusConnecting, StatusConnected, StatusReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.endpoint, c.identity = endpoint, identity
	c.retries = 0
	c.gen++
	gen := c.gen
	if c.stopCh != nil {
		close(c.stopCh)
	}
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.status = StatusConnecting
	c.mu.Unlock()

	c.emitStatus(StatusConnecting)
	go c.run(gen, stop)
	return nil
}

// Disconnect is idempotent explicit teardown; any state goes straight to
// disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	wasLive := c.status == StatusConnected
	c.gen++
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.status = StatusDisconnected
	c.mu.Unlock()

	_ = c.tr.Close()
	if wasLive && c.onDown != nil {
		c.onDown(nil)
	}
	c.emitStatus(StatusDisconnected)
}

// HandleClose is wired to the transport's OnClose: an unexpected drop of a
// live session. Explicit teardown never lands here.
func (c *Conn) HandleClose(err error) {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.status = StatusReconnecting
	c.retries = 0
	gen := c.gen
	stop := c.stopCh
	c.mu.Unlock()

	logger.Warnf("[conn] dropped: %v", err)
	if c.onDown != nil {
		c.onDown(err)
	}
	c.emitError(errs.ErrConnection.WrapMsg("connection dropped", "err", err))
	c.emitStatus(StatusReconnecting)
	go c.run(gen, stop)
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Conn) IsConnected() bool { return c.Status() == StatusConnected }

// Retries reports the consecutive failed attempts of the current cycle.
func (c *Conn) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// ===== dial loop =====

func (c *Conn) run(gen int, stop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		c.mu.Lock()
		endpoint, identity := c.endpoint, c.identity
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}

		err := c.tr.Dial(ctx, endpoint, identity)
		if err == nil {
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				_ = c.tr.Close()
				return
			}
			c.retries = 0
			c.status = StatusConnected
			c.mu.Unlock()
			c.emitStatus(StatusConnected)
			return
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.retries++
		attempt := c.retries
		exhausted := attempt >= c.conf.MaxRetries
		if exhausted {
			c.status = StatusFailed
		}
		c.mu.Unlock()

		if exhausted {
			// terminal: exactly one error event, then stop retrying
			c.emitError(errs.ErrConnection.WrapMsg("retries exhausted", "attempts", attempt, "err", err))
			c.emitStatus(StatusFailed)
			return
		}
		c.emitError(errs.ErrConnection.WrapMsg("dial failed", "attempt", attempt, "err", err))

		select {
		case <-stop:
			return
		case <-time.After(c.conf.RetryDelay):
		}
	}
}

func (c *Conn) emitStatus(s Status) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

func (c *Conn) emitError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errs.ErrConfiguration.WithDetail("empty endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return errs.ErrConfiguration.WrapMsg("malformed endpoint", "err", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return errs.ErrConfiguration.WrapMsg("unsupported scheme", "scheme", u.Scheme)
	}
	if u.Host == "" {
		return errs.ErrConfiguration.WithDetail("endpoint without host")
	}
	return nil
}
