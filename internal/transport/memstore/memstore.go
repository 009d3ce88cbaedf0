// Package memstore is an in-process Transport used by tests and the ctl
// demo mode. It reproduces the remote store's full-snapshot semantics:
// every write under a subscribed path re-delivers the complete collection.
package memstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"chatsync/internal/transport"
)

// Store is an in-memory Transport implementation.
type Store struct {
	mu     sync.Mutex
	leaves map[string]json.RawMessage // exact leaf path -> value
	subs   map[string][]chan transport.Snapshot

	writeErr error
	offline  bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		leaves: make(map[string]json.RawMessage),
		subs:   make(map[string][]chan transport.Snapshot),
	}
}

// FailWrites makes subsequent WriteAt calls return err. Pass nil to heal.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// SetOffline toggles a simulated connectivity loss: all operations fail
// with transport.ErrDisconnected while offline.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// Online reports whether the store is reachable. Used as the netmon probe.
func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.offline
}

// Subscribe emits the current collection at path, then re-emits it on
// every write beneath path.
func (s *Store) Subscribe(ctx context.Context, path string) (<-chan transport.Snapshot, error) {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return nil, transport.ErrDisconnected
	}
	ch := make(chan transport.Snapshot, 16)
	s.subs[path] = append(s.subs[path], ch)
	ch <- s.snapshotLocked(path)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		chans := s.subs[path]
		for i, c := range chans {
			if c == ch {
				s.subs[path] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	return ch, nil
}

// WriteAt upserts value at the exact path and fans the enclosing
// collection out to subscribers.
func (s *Store) WriteAt(_ context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return transport.ErrDisconnected
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.leaves[path] = data

	for prefix, chans := range s.subs {
		if !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		snap := s.snapshotLocked(prefix)
		for _, ch := range chans {
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return nil
}

// ReadOnce fetches the current value at path: the leaf value if one
// exists, otherwise the collection of direct children.
func (s *Store) ReadOnce(_ context.Context, path string) (transport.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return transport.Snapshot{}, transport.ErrDisconnected
	}
	if v, ok := s.leaves[path]; ok {
		return transport.Snapshot{Path: path, Value: v}, nil
	}
	return s.snapshotLocked(path), nil
}

// snapshotLocked builds the full-value snapshot for a collection path:
// a JSON object keyed by the child segment beneath path.
func (s *Store) snapshotLocked(path string) transport.Snapshot {
	children := make(map[string]json.RawMessage)
	for leaf, v := range s.leaves {
		rest, ok := strings.CutPrefix(leaf, path+"/")
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		children[rest] = v
	}
	if len(children) == 0 {
		return transport.Snapshot{Path: path}
	}
	data, _ := json.Marshal(children)
	return transport.Snapshot{Path: path, Value: data}
}
