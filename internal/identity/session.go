package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/remote"
)

// DefaultSessionDebounce absorbs the burst of events one save produces.
const DefaultSessionDebounce = 50 * time.Millisecond

// User is the signed-in account as stored in the session file.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session is a Provider backed by a JSON session file. Writing the file
// signs a user in, deleting it signs them out. The directory is watched
// rather than the file so that deletes and atomic replaces are seen.
type Session struct {
	path     string
	watcher  *fsnotify.Watcher
	log      *zap.SugaredLogger
	clock    clock.Clock
	debounce time.Duration

	mu     sync.Mutex
	user   User
	timer  *clock.Timer
	box    *remote.Mailbox[string]
	done   chan struct{}
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger.
func WithSessionLogger(l *zap.SugaredLogger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithSessionClock sets the clock used for debouncing reloads.
func WithSessionClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithSessionDebounce sets how long the file must be quiet before it is
// re-read.
func WithSessionDebounce(d time.Duration) SessionOption {
	return func(s *Session) { s.debounce = d }
}

// OpenSession reads the session file at path, if any, and starts watching
// it. A missing file means nobody is signed in.
func OpenSession(path string, opts ...SessionOption) (*Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "session path %s", path)
	}
	s := &Session{
		path:     abs,
		debounce: DefaultSessionDebounce,
		box:      remote.NewMailbox[string](),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, errors.Wrapf(err, "create session directory")
	}
	u, err := ReadSession(abs)
	if err != nil {
		s.log.Warnw("Ignoring unreadable session file", "path", abs, "error", err)
	}
	s.user = u

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create session watcher")
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}
	s.watcher = w

	go s.watchLoop()
	return s, nil
}

// Current returns the signed-in user id, or "".
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.ID
}

// User returns the signed-in account and whether there is one.
func (s *Session) User() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.user.ID != ""
}

// Changes carries the new id after each sign-in, switch or sign-out.
func (s *Session) Changes() <-chan string {
	return s.box.C()
}

// Path returns the watched file.
func (s *Session) Path() string {
	return s.path
}

// Close stops watching and closes Changes.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	err := s.watcher.Close()
	<-s.done
	s.box.Close()
	return err
}

func (s *Session) watchLoop() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.log.Debugw("Session file changed", "path", ev.Name, "op", ev.Op.String())
			s.scheduleReload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warnw("Session watcher error", "error", err)
		}
	}
}

func (s *Session) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.debounce, s.reload)
}

func (s *Session) reload() {
	u, err := ReadSession(s.path)
	if err != nil {
		// A half-written file keeps the current user until the next event.
		s.log.Warnw("Session reload failed", "path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || u.ID == s.user.ID {
		s.user = u
		return
	}
	s.log.Infow("Session changed", "from", s.user.ID, "to", u.ID)
	s.user = u
	s.box.Put(u.ID)
}

// ReadSession parses the session file at path. A missing file yields the
// zero User and no error.
func ReadSession(path string) (User, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return User{}, nil
	}
	if err != nil {
		return User{}, errors.Wrapf(err, "read session %s", path)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return User{}, nil
	}
	var u User
	if err := json.Unmarshal(b, &u); err != nil {
		return User{}, errors.Wrapf(err, "parse session %s", path)
	}
	u.ID = strings.TrimSpace(u.ID)
	return u, nil
}

// WriteSession signs u in by replacing the session file atomically.
func WriteSession(path string, u User) error {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return errors.WithHint(errors.New("session without user id"), "pass a non-empty id")
	}
	b, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create session directory")
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "create session file")
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write session file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close session file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "replace session file")
	}
	return nil
}

// ClearSession signs out by removing the session file.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove session %s", path)
	}
	return nil
}
