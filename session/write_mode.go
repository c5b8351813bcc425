package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// WriteMode selects when attribute changes reach the backing store.
type WriteMode uint8

const (
	// WriteModeBatch writes changes only when the session is saved.
	WriteModeBatch WriteMode = iota
	// WriteModeBackground additionally pushes every mutation of a persisted session as
	// a best-effort write, in addition to the batched save.
	WriteModeBackground
)

func (m WriteMode) String() string {
	switch m {
	case WriteModeBatch:
		return "batch"
	case WriteModeBackground:
		return "background"
	default:
		return fmt.Sprintf("WriteMode(%d)", uint8(m))
	}
}

// UnmarshalText parses "batch" or "background" (case-insensitive).
func (m *WriteMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "batch":
		*m = WriteModeBatch
	case "background":
		*m = WriteModeBackground
	default:
		return fmt.Errorf("invalid write mode %q", string(text))
	}
	return nil
}

func (m WriteMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// writePolicy decides whether a mutation is also written immediately. It is chosen
// once per store and shared by every session the store hands out.
type writePolicy interface {
	attributePut(s *Session, name string, value any)
	attributesRemoved(s *Session, names ...string)
	lastAccessedChanged(s *Session)
	maxInactiveChanged(s *Session)
}

type batchPolicy struct{}

func (batchPolicy) attributePut(*Session, string, any)    {}
func (batchPolicy) attributesRemoved(*Session, ...string) {}
func (batchPolicy) lastAccessedChanged(*Session)          {}
func (batchPolicy) maxInactiveChanged(*Session)           {}

// backgroundWriteTimeout bounds each best-effort write.
const backgroundWriteTimeout = 5 * time.Second

type backgroundPolicy struct {
	store *Store
}

func (p backgroundPolicy) attributePut(s *Session, name string, value any) {
	if s.IsNew() {
		return
	}
	data, err := s.encodeValue(value)
	if err != nil {
		p.store.bestEffortFailed("background attribute encode", s.id, err)
		return
	}
	p.write(s.id, "background attribute write", func(ctx context.Context, key string) error {
		field, err := p.store.cs.encode(attributeField(name))
		if err != nil {
			return err
		}
		return p.store.client.HSet(ctx, key, field, data)
	})
}

func (p backgroundPolicy) attributesRemoved(s *Session, names ...string) {
	if s.IsNew() || len(names) == 0 {
		return
	}
	fields := make([]string, 0, len(names))
	for _, name := range names {
		fields = append(fields, attributeField(name))
	}
	p.write(s.id, "background attribute delete", func(ctx context.Context, key string) error {
		encoded, err := p.store.encodeAll(fields)
		if err != nil {
			return err
		}
		return p.store.client.HDel(ctx, key, encoded...)
	})
}

func (p backgroundPolicy) lastAccessedChanged(s *Session) {
	p.metadata(s, fieldLastAccessed, encodeMillis(s.lastAccessed))
}

func (p backgroundPolicy) maxInactiveChanged(s *Session) {
	p.metadata(s, fieldMaxInactive, encodeSeconds(s.maxInactive))
}

func (p backgroundPolicy) metadata(s *Session, field string, value []byte) {
	if s.IsNew() {
		return
	}
	p.write(s.id, "background metadata write", func(ctx context.Context, key string) error {
		encoded, err := p.store.cs.encode(field)
		if err != nil {
			return err
		}
		return p.store.client.HSet(ctx, key, encoded, value)
	})
}

func (p backgroundPolicy) write(id, op string, fn func(ctx context.Context, key string) error) {
	st := p.store
	key, err := st.sessionKey(id)
	if err != nil {
		st.bestEffortFailed(op, id, err)
		return
	}

	st.writes.enqueue(id, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundWriteTimeout)
		defer cancel()
		if err := fn(ctx, key); err != nil {
			st.bestEffortFailed(op, id, err)
		}
	})
}

// writeQueue runs background writes one at a time in submission order, so a later
// mutation of an attribute always lands after an earlier one.
type writeQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []queuedWrite
	running bool
	// last is the sequence of the newest queued write per session id.
	last map[string]uint64
	seq  uint64
	done uint64
}

type queuedWrite struct {
	seq uint64
	id  string
	run func()
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{last: make(map[string]uint64)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *writeQueue) enqueue(id string, run func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	q.pending = append(q.pending, queuedWrite{seq: q.seq, id: id, run: run})
	q.last[id] = q.seq
	if !q.running {
		q.running = true
		go q.drain()
	}
}

func (q *writeQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		w := q.pending[0]
		q.pending[0] = queuedWrite{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		w.run()

		q.mu.Lock()
		q.done = w.seq
		if q.last[w.id] == w.seq {
			delete(q.last, w.id)
		}
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// flush blocks until every write queued so far for id has run.
func (q *writeQueue) flush(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	target, ok := q.last[id]
	if !ok {
		return
	}
	for q.done < target {
		q.cond.Wait()
	}
}

// wait blocks until the queue is empty and idle.
func (q *writeQueue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.running {
		q.cond.Wait()
	}
}

func policyFor(mode WriteMode, store *Store) writePolicy {
	if mode == WriteModeBackground {
		return backgroundPolicy{store: store}
	}
	return batchPolicy{}
}
