package wsremote

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

// DefaultReconnectInterval is used when Options leaves it zero.
const DefaultReconnectInterval = 2 * time.Second

// ErrRejected wraps the reason the server gave for refusing a write.
var ErrRejected = errors.New("write rejected by remote")

// Options configures a Client.
type Options struct {
	// URL is the server base, e.g. ws://localhost:8787.
	URL               string
	ReconnectInterval time.Duration
	Paths             remote.PathMap
	Clock             clock.Clock
	Logger            *zap.SugaredLogger
	Dialer            *websocket.Dialer
}

// Client is a remote.Source backed by a wsremote Server.
type Client struct {
	base     *url.URL
	interval time.Duration
	paths    remote.PathMap
	clock    clock.Clock
	log      *zap.SugaredLogger
	dialer   *websocket.Dialer

	mu       sync.Mutex
	sessions map[string]*session
}

var _ remote.Source = (*Client)(nil)

// NewClient validates opts and returns a client. No connection is made
// until the first Subscribe.
func NewClient(opts Options) (*Client, error) {
	base, err := parseBase(opts.URL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:     base,
		interval: opts.ReconnectInterval,
		paths:    opts.Paths,
		clock:    opts.Clock,
		log:      opts.Logger,
		dialer:   opts.Dialer,
		sessions: make(map[string]*session),
	}
	if c.interval <= 0 {
		c.interval = DefaultReconnectInterval
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse remote url %q", raw), remote.ErrMisconfigured)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, errors.Mark(
			errors.WithHint(errors.Newf("unsupported remote url scheme %q", u.Scheme), "use ws://host:port or wss://host:port"),
			remote.ErrMisconfigured)
	}
	if u.Host == "" {
		return nil, errors.Mark(errors.Newf("remote url %q has no host", raw), remote.ErrMisconfigured)
	}
	return u, nil
}

// Subscribe starts a session for userID. The first dial happens in the
// background; failures arrive on the stream.
func (c *Client) Subscribe(ctx context.Context, userID string) (remote.Stream, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.Mark(errors.New("subscribe without user id"), remote.ErrMisconfigured)
	}

	target := *c.base
	target.Path = c.base.Path + "/ws/users/" + userID
	target.RawPath = c.base.EscapedPath() + UserPath(userID)

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		client: c,
		user:   userID,
		target: target.String(),
		box:    remote.NewMailbox[remote.Event](),
		ctx:    sctx,
		cancel: cancel,
		acks:   make(map[string]chan error),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	old := c.sessions[userID]
	c.sessions[userID] = s
	c.mu.Unlock()
	// Close takes c.mu through forget.
	if old != nil {
		old.Close()
	}

	go s.run()
	return s, nil
}

// Write sends one field over the user's session and waits for the ack.
func (c *Client) Write(ctx context.Context, userID string, key state.Key, value any) error {
	path, err := c.paths.Path(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	s := c.sessions[userID]
	c.mu.Unlock()
	if s == nil {
		return errors.Wrapf(remote.ErrUnavailable, "no session for %q", userID)
	}
	return s.write(ctx, path, value)
}

func (c *Client) forget(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.user] == s {
		delete(c.sessions, s.user)
	}
}

type session struct {
	client *Client
	user   string
	target string
	box    *remote.Mailbox[remote.Event]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	acks    map[string]chan error
	writeMu sync.Mutex

	closeOnce sync.Once
}

func (s *session) Events() <-chan remote.Event {
	return s.box.C()
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		s.client.forget(s)
	})
	return nil
}

func (s *session) run() {
	defer close(s.done)
	defer s.box.Close()
	log := s.client.log.With("user", s.user)

	for {
		conn, err := s.dial()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Debugw("Dial failed", "target", s.target, "error", err)
			s.box.Put(remote.Event{Err: err})
			if errors.Is(err, remote.ErrMisconfigured) {
				return
			}
			if !s.pause() {
				return
			}
			continue
		}

		log.Debugw("Connected", "target", s.target)
		err = s.read(conn)
		s.drop(conn)
		if s.ctx.Err() != nil {
			return
		}
		log.Debugw("Connection lost", "error", err)
		s.box.Put(remote.Event{Err: errors.Mark(errors.Wrap(err, "connection lost"), remote.ErrStreamClosed)})
		if !s.pause() {
			return
		}
	}
}

func (s *session) dial() (*websocket.Conn, error) {
	conn, resp, err := s.client.dialer.DialContext(s.ctx, s.target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			return nil, errors.Mark(
				errors.Wrapf(err, "subscribe %s: status %d", s.target, resp.StatusCode),
				remote.ErrMisconfigured)
		}
		return nil, errors.Mark(errors.Wrapf(err, "dial %s", s.target), remote.ErrUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		conn.Close()
		return nil, s.ctx.Err()
	}
	s.conn = conn
	return conn, nil
}

func (s *session) pause() bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-s.client.clock.After(s.client.interval):
		return true
	}
}

func (s *session) read(conn *websocket.Conn) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case typeDoc:
			snap, skipped := s.client.paths.Decode(f.Doc)
			if len(skipped) > 0 {
				s.client.log.Warnw("Ignoring malformed fields", "user", s.user, "paths", skipped)
			}
			s.box.Put(remote.Event{Snapshot: snap})
		case typeError:
			s.box.Put(remote.Event{Err: errors.Newf("remote: %s", f.Error)})
		case typeAck:
			var err error
			if f.Error != "" {
				err = errors.Wrap(ErrRejected, f.Error)
			}
			s.resolve(f.ID, err)
		}
	}
}

func (s *session) drop(conn *websocket.Conn) {
	conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
	for id, ch := range s.acks {
		ch <- errors.Wrap(remote.ErrUnavailable, "connection lost before ack")
		delete(s.acks, id)
	}
}

func (s *session) resolve(id string, err error) {
	s.mu.Lock()
	ch, ok := s.acks[id]
	delete(s.acks, id)
	s.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (s *session) write(ctx context.Context, path string, value any) error {
	id, err := uuid.NewV7()
	if err != nil {
		return errors.Wrap(err, "generate write id")
	}
	ack := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return errors.Wrapf(remote.ErrUnavailable, "write %s", path)
	}
	s.acks[id.String()] = ack
	s.mu.Unlock()

	s.writeMu.Lock()
	err = conn.WriteJSON(frame{Type: typeWrite, ID: id.String(), Path: path, Value: value})
	s.writeMu.Unlock()
	if err != nil {
		s.resolve(id.String(), nil)
		return errors.Mark(errors.Wrapf(err, "send write %s", path), remote.ErrUnavailable)
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		s.resolve(id.String(), nil)
		return errors.Wrapf(ctx.Err(), "await ack for %s", path)
	case <-s.ctx.Done():
		return errors.Wrapf(remote.ErrUnavailable, "session closed during write %s", path)
	}
}
