package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"MaterniChat/logger"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ===== config =====

type WSConf struct {
	HandshakeTimeout time.Duration    // dial + auth handshake bound
	WriteDeadline    time.Duration    // per-frame write deadline
	SendQueueSize    int              // outbound queue consumed by one writer goroutine
	PendingTTL       time.Duration    // unresolved ack entries older than this are dropped
	SweepEvery       time.Duration    // pending sweep period
	Clock            func() time.Time // injectable clock; nil => time.Now
}

func (c *WSConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 5 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 30 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
}

// ===== client =====

type pendingAck struct {
	cb        func(Ack)
	createdAt time.Time
}

// WSClient is the gorilla/websocket Transport. One live session at a time;
// read and write run on dedicated goroutines, acks resolve by AckID.
type WSClient struct {
	conf    WSConf
	handler Handler

	mu       sync.Mutex
	conn     *websocket.Conn
	sendCh   chan []byte
	stopCh   chan struct{}
	closed   bool // explicit Close, suppresses OnClose
	pending  map[string]*pendingAck
	pendingM sync.Mutex
}

func NewWSClient(conf WSConf) *WSClient {
	conf.norm()
	return &WSClient{
		conf:    conf,
		pending: make(map[string]*pendingAck),
	}
}

func (c *WSClient) SetHandler(h Handler) { c.handler = h }

func (c *WSClient) Dial(ctx context.Context, endpoint, identity string) error {
	u, err := wsURL(endpoint)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.conf.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.Wrapf(err, "dial %s", u)
	}

	if err := c.handshake(conn, identity); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.sendCh = make(chan []byte, c.conf.SendQueueSize)
	c.stopCh = make(chan struct{})
	c.closed = false
	stop := c.stopCh
	send := c.sendCh
	c.mu.Unlock()

	go c.writePump(conn, send, stop)
	go c.readPump(conn, stop)
	go c.sweeper(stop)
	return nil
}

// handshake sends the auth frame and waits for the server's connect ack.
func (c *WSClient) handshake(conn *websocket.Conn, identity string) error {
	payload, err := PayloadMap(AuthPayload{Token: identity})
	if err != nil {
		return err
	}
	raw, err := EncodeFrame(&Frame{Event: EventAuth, Payload: payload})
	if err != nil {
		return err
	}
	deadline := c.conf.Clock().Add(c.conf.HandshakeTimeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set handshake write deadline")
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errors.Wrap(err, "write auth frame")
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return errors.Wrap(err, "set handshake read deadline")
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return errors.Wrap(err, "read handshake reply")
	}
	_ = conn.SetReadDeadline(time.Time{})

	f, err := ParseFrame(data)
	if err != nil {
		return err
	}
	switch f.Event {
	case EventConnect:
		return nil
	case EventError:
		ep, derr := DecodePayload[ErrorPayload](f)
		if derr != nil {
			return errors.New("auth rejected")
		}
		return errors.Errorf("auth rejected: %s", ep.Message)
	default:
		return errors.Errorf("unexpected handshake frame event=%s", f.Event)
	}
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.conn == nil || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.stopCh)
	c.mu.Unlock()

	c.dropPending()
	return conn.Close()
}

func (c *WSClient) Emit(event string, payload any) error {
	m, err := PayloadMap(payload)
	if err != nil {
		return err
	}
	return c.enqueue(&Frame{Event: event, Payload: m})
}

func (c *WSClient) EmitWithAck(event, ackID string, payload any, cb func(Ack)) error {
	if ackID == "" {
		return errors.New("empty ackID")
	}
	m, err := PayloadMap(payload)
	if err != nil {
		return err
	}

	c.pendingM.Lock()
	c.pending[ackID] = &pendingAck{cb: cb, createdAt: c.conf.Clock()}
	c.pendingM.Unlock()

	if err := c.enqueue(&Frame{Event: event, AckID: ackID, Payload: m}); err != nil {
		c.pendingM.Lock()
		delete(c.pending, ackID)
		c.pendingM.Unlock()
		return err
	}
	return nil
}

func (c *WSClient) enqueue(f *Frame) error {
	raw, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	send, stop, live := c.sendCh, c.stopCh, c.conn != nil && !c.closed
	c.mu.Unlock()
	if !live {
		return errors.New("transport not connected")
	}
	select {
	case send <- raw:
		return nil
	case <-stop:
		return errors.New("transport closed")
	default:
		return errors.New("send queue full")
	}
}

// ===== pumps =====

func (c *WSClient) writePump(conn *websocket.Conn, send <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case raw := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(c.conf.WriteDeadline)); err != nil {
				logger.Warnf("[ws] set write deadline: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Warnf("[ws] write: %v", err)
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *WSClient) readPump(conn *websocket.Conn, stop <-chan struct{}) {
	var readErr error
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		f, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[ws] bad frame err=%v sample=%q", perr, sample)
			continue
		}
		if f.Event == EventAck {
			c.resolveAck(f)
			continue
		}
		if c.handler != nil {
			c.handler.OnFrame(f)
		}
	}

	c.mu.Lock()
	stale := c.stopCh != stop // a newer Dial already replaced this session
	explicit := c.closed
	if !stale && !explicit {
		c.closed = true
		close(c.stopCh)
	}
	c.mu.Unlock()

	_ = conn.Close()
	if stale {
		return
	}
	c.dropPending()

	if !explicit && c.handler != nil {
		c.handler.OnClose(readErr)
	}
}

func (c *WSClient) resolveAck(f *Frame) {
	ack, err := DecodePayload[Ack](f)
	if err != nil {
		logger.Warnf("[ws] bad ack frame ackID=%s err=%v", f.AckID, err)
		return
	}
	c.pendingM.Lock()
	p, ok := c.pending[f.AckID]
	if ok {
		delete(c.pending, f.AckID)
	}
	c.pendingM.Unlock()
	if ok && p.cb != nil {
		p.cb(*ack)
	}
}

func (c *WSClient) dropPending() {
	c.pendingM.Lock()
	c.pending = make(map[string]*pendingAck)
	c.pendingM.Unlock()
}

// sweeper drops pending entries whose ack never arrived; callers run their
// own timeout, so no callback fires here.
func (c *WSClient) sweeper(stop <-chan struct{}) {
	t := time.NewTicker(c.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			c.pendingM.Lock()
			for id, p := range c.pending {
				if now.Sub(p.createdAt) > c.conf.PendingTTL {
					delete(c.pending, id)
				}
			}
			c.pendingM.Unlock()
		}
	}
}

// wsURL normalizes http(s) endpoints onto ws(s).
func wsURL(endpoint string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", errors.New("empty endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("endpoint without host")
	}
	return u.String(), nil
}
