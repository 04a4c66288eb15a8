package remote

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/state"
)

// NodeSource exposes a Node as a Source.
//
// Decoding happens inside the node's publish, so by the time Write returns
// the resulting snapshot is already waiting on the stream.
type NodeSource struct {
	node  *Node
	paths PathMap
	log   *zap.SugaredLogger
}

// NodeSourceOption configures a NodeSource.
type NodeSourceOption func(*NodeSource)

// WithNodeSourceLogger sets the logger for skipped fields.
func WithNodeSourceLogger(l *zap.SugaredLogger) NodeSourceOption {
	return func(s *NodeSource) {
		if l != nil {
			s.log = l
		}
	}
}

var _ Source = (*NodeSource)(nil)

// NewNodeSource adapts n using paths for key translation.
func NewNodeSource(n *Node, paths PathMap, opts ...NodeSourceOption) *NodeSource {
	s := &NodeSource{node: n, paths: paths, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Node returns the adapted node.
func (s *NodeSource) Node() *Node {
	return s.node
}

// Subscribe attaches to the node and decodes documents into snapshots.
func (s *NodeSource) Subscribe(_ context.Context, userID string) (Stream, error) {
	if s.node == nil {
		return nil, errors.Mark(errors.New("no remote node configured"), ErrMisconfigured)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.Mark(errors.New("subscribe without user id"), ErrMisconfigured)
	}

	st := &nodeStream{box: NewMailbox[Event]()}
	paths, log := s.paths, s.log
	st.sub = s.node.Attach(userID, func(u Update) {
		if u.Err != nil {
			st.box.Put(Event{Err: u.Err})
			return
		}
		snap, skipped := paths.Decode(u.Doc)
		if len(skipped) > 0 {
			log.Warnw("Ignoring malformed fields", "user", userID, "paths", skipped)
		}
		st.box.Put(Event{Snapshot: snap})
	})
	return st, nil
}

// Write stores one field.
func (s *NodeSource) Write(ctx context.Context, userID string, key state.Key, value any) error {
	if s.node == nil {
		return errors.Mark(errors.New("no remote node configured"), ErrMisconfigured)
	}
	path, err := s.paths.Path(key)
	if err != nil {
		return err
	}
	return s.node.Write(ctx, userID, path, value)
}

type nodeStream struct {
	sub       *Subscription
	box       *Mailbox[Event]
	closeOnce sync.Once
}

func (s *nodeStream) Events() <-chan Event {
	return s.box.C()
}

func (s *nodeStream) Close() error {
	s.closeOnce.Do(func() {
		s.sub.Close()
		s.box.Close()
	})
	return nil
}
