// Package identity supplies the signed-in user id to the engine.
//
// A Provider reports the current id and announces changes; Bind feeds
// those changes into anything with a SetIdentity method. An empty id
// means nobody is signed in.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/homesync/internal/remote"
)

// Provider reports who is signed in.
type Provider interface {
	// Current returns the current user id, or "".
	Current() string
	// Changes carries the latest id after each change. Intermediate ids
	// may be skipped. A nil channel means the id never changes.
	Changes() <-chan string
}

// Target receives identity changes. *engine.Engine satisfies it.
type Target interface {
	SetIdentity(userID string) error
}

// Static is a Provider whose id only changes when Set is called.
type Static struct {
	mu  sync.Mutex
	id  string
	box *remote.Mailbox[string]
}

// NewStatic returns a provider holding id.
func NewStatic(id string) *Static {
	return &Static{id: strings.TrimSpace(id), box: remote.NewMailbox[string]()}
}

// Current returns the held id.
func (s *Static) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Changes returns the change channel.
func (s *Static) Changes() <-chan string {
	return s.box.C()
}

// Set replaces the held id and announces it when it differs.
func (s *Static) Set(id string) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.id {
		return
	}
	s.id = id
	s.box.Put(id)
}

// Bind applies p's current id to t and then every change until ctx ends
// or the change channel closes.
func Bind(ctx context.Context, p Provider, t Target) error {
	if err := t.SetIdentity(p.Current()); err != nil {
		return err
	}
	changes := p.Changes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			if err := t.SetIdentity(id); err != nil {
				return err
			}
		}
	}
}
