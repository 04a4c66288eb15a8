package remote

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
)

// Update is what a node subscription receives: the user's whole document,
// or the error that interrupted the connection.
type Update struct {
	Doc map[string]any
	Err error
}

// WriteRecord is one accepted write, kept in arrival order.
type WriteRecord struct {
	User  string
	Path  string
	Value any
}

// Node is an in-process realtime store. It keeps one flat document per
// user and pushes the whole document to every subscriber of that user after
// each change.
//
// Faults can be injected for tests and demos: FailWrites rejects writes,
// SetOnline(false) parks deliveries and rejects writes, Interrupt pushes an
// error to every subscriber, and HoldWrites keeps writes in flight.
type Node struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	subs     map[string]map[*Subscription]struct{}
	writes   []WriteRecord
	failWith error
	offline  bool
	hold     chan struct{}
}

// NewNode returns an online node with no documents.
func NewNode() *Node {
	return &Node{
		docs: make(map[string]map[string]any),
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription receives updates for one user.
type Subscription struct {
	node    *Node
	user    string
	deliver func(Update)
	box     *Mailbox[Update]
}

// Updates returns the latest-only update channel. It is nil for
// subscriptions made with Attach.
func (s *Subscription) Updates() <-chan Update {
	if s.box == nil {
		return nil
	}
	return s.box.C()
}

// Close detaches the subscription and closes Updates.
func (s *Subscription) Close() error {
	s.node.mu.Lock()
	if set, ok := s.node.subs[s.user]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.node.subs, s.user)
		}
	}
	s.node.mu.Unlock()
	if s.box != nil {
		s.box.Close()
	}
	return nil
}

// Subscribe attaches to user's document through a latest-only mailbox.
// When the node is online the current document is delivered at once,
// even if it is empty.
func (n *Node) Subscribe(user string) *Subscription {
	box := NewMailbox[Update]()
	sub := n.Attach(user, func(u Update) { box.Put(u) })
	sub.box = box
	return sub
}

// Attach is Subscribe with a callback instead of a mailbox. deliver runs
// with the node locked, so it must not block or call back into the node.
func (n *Node) Attach(user string, deliver func(Update)) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &Subscription{node: n, user: user, deliver: deliver}
	set, ok := n.subs[user]
	if !ok {
		set = make(map[*Subscription]struct{})
		n.subs[user] = set
	}
	set[sub] = struct{}{}

	if !n.offline {
		sub.deliver(Update{Doc: maps.Clone(n.docOf(user))})
	}
	return sub
}

// Write stores value at path for user and publishes the new document
// before returning.
func (n *Node) Write(ctx context.Context, user, path string, value any) error {
	if err := n.waitHold(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.offline {
		return errors.Wrapf(ErrUnavailable, "write %s", path)
	}
	if n.failWith != nil {
		return errors.Wrapf(n.failWith, "write %s", path)
	}

	doc := n.docs[user]
	if doc == nil {
		doc = make(map[string]any)
		n.docs[user] = doc
	}
	doc[path] = value
	n.writes = append(n.writes, WriteRecord{User: user, Path: path, Value: value})
	n.publishLocked(user)
	return nil
}

// Set changes a value on the remote side, as a device or another client
// would. Unlike Write it is never rejected and is not logged.
func (n *Node) Set(user, path string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	doc := n.docs[user]
	if doc == nil {
		doc = make(map[string]any)
		n.docs[user] = doc
	}
	doc[path] = value
	n.publishLocked(user)
}

// Seed replaces user's document without logging writes.
func (n *Node) Seed(user string, doc map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.docs[user] = maps.Clone(doc)
	n.publishLocked(user)
}

// Document returns a copy of user's document.
func (n *Node) Document(user string) map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return maps.Clone(n.docOf(user))
}

// Writes returns a copy of the write log.
func (n *Node) Writes() []WriteRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]WriteRecord(nil), n.writes...)
}

// FailWrites makes every following write fail with err. A nil err
// restores normal writes.
func (n *Node) FailWrites(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failWith = err
}

// SetOnline toggles connectivity. Going online delivers every user's
// current document to its subscribers.
func (n *Node) SetOnline(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.offline = !online
	if online {
		for user := range n.subs {
			n.publishLocked(user)
		}
	}
}

// Interrupt pushes err to every subscriber of every user.
func (n *Node) Interrupt(err error) {
	if err == nil {
		err = ErrStreamClosed
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, set := range n.subs {
		for sub := range set {
			sub.deliver(Update{Err: err})
		}
	}
}

// HoldWrites parks every following write until the returned release
// function is called or the write's context ends.
func (n *Node) HoldWrites() (release func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	hold := make(chan struct{})
	n.hold = hold
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			if n.hold == hold {
				n.hold = nil
			}
			n.mu.Unlock()
			close(hold)
		})
	}
}

// Users lists, in order, every user with a document or a subscriber.
func (n *Node) Users() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	seen := make(map[string]struct{}, len(n.docs)+len(n.subs))
	for u := range n.docs {
		seen[u] = struct{}{}
	}
	for u := range n.subs {
		seen[u] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Subscribers returns how many subscriptions are attached to user.
func (n *Node) Subscribers(user string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[user])
}

func (n *Node) waitHold(ctx context.Context) error {
	n.mu.Lock()
	hold := n.hold
	n.mu.Unlock()
	if hold == nil {
		return nil
	}
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "write held")
	}
}

func (n *Node) docOf(user string) map[string]any {
	if doc := n.docs[user]; doc != nil {
		return doc
	}
	return map[string]any{}
}

func (n *Node) publishLocked(user string) {
	if n.offline {
		return
	}
	set := n.subs[user]
	if len(set) == 0 {
		return
	}
	doc := maps.Clone(n.docOf(user))
	for sub := range set {
		sub.deliver(Update{Doc: doc})
	}
}
