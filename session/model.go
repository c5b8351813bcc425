package session

import (
	"sort"
	"time"
)

// Modification is a bit set of the mutation kinds observed since the last save.
type Modification uint8

const (
	// ModCreated marks a session built by [Store.NewSession] and not yet persisted.
	ModCreated Modification = 1 << iota
	// ModCleared marks a session whose attributes were all removed.
	ModCleared
	// ModAddition marks an attribute put or a metadata change.
	ModAddition
	// ModRemoval marks an attribute removal.
	ModRemoval
)

// Has reports whether every bit of o is set in m.
func (m Modification) Has(o Modification) bool {
	return m&o == o
}

// encodedValue is an attribute value read from the backing store and not yet decoded.
type encodedValue []byte

// tracker is the dirty-tracking state owned by a single Session.
type tracker struct {
	mods     Modification
	modified map[string]struct{}
	removed  map[string]struct{}
}

func newTracker() tracker {
	return tracker{
		modified: make(map[string]struct{}),
		removed:  make(map[string]struct{}),
	}
}

func (t *tracker) put(name string) {
	t.mods |= ModAddition
	t.modified[name] = struct{}{}
	delete(t.removed, name)
}

func (t *tracker) remove(name string) {
	t.mods |= ModRemoval
	t.removed[name] = struct{}{}
	delete(t.modified, name)
}

func (t *tracker) reset() {
	t.mods = 0
	clear(t.modified)
	clear(t.removed)
}

// Session is one logical user session.
//
// A Session is owned by a single caller at a time. It performs no locking; sharing a
// live Session between goroutines that mutate or save it is not supported.
type Session struct {
	id           string
	creationTime time.Time
	lastAccessed time.Time
	maxInactive  time.Duration
	attributes   map[string]any

	track      tracker
	serializer ValueSerializer
	policy     writePolicy
}

func newSession(id string, now time.Time, maxInactive time.Duration, serializer ValueSerializer, policy writePolicy) *Session {
	serializer, policy = withDefaults(serializer, policy)
	now = truncateMillis(now)
	s := &Session{
		id:           id,
		creationTime: now,
		lastAccessed: now,
		maxInactive:  clampInterval(maxInactive),
		attributes:   make(map[string]any),
		track:        newTracker(),
		serializer:   serializer,
		policy:       policy,
	}
	s.track.mods = ModCreated
	return s
}

// ID returns the immutable session identifier.
func (s *Session) ID() string { return s.id }

// CreationTime returns when the session was first created.
func (s *Session) CreationTime() time.Time { return s.creationTime }

// LastAccessedTime returns the last time the session was accessed.
func (s *Session) LastAccessedTime() time.Time { return s.lastAccessed }

// MaxInactiveInterval returns the idle timeout. Zero means the session is deleted on
// the next save.
func (s *Session) MaxInactiveInterval() time.Duration { return s.maxInactive }

// IsNew reports whether the session has never been persisted.
func (s *Session) IsNew() bool { return s.track.mods.Has(ModCreated) }

// IsExpired reports whether last-accessed plus the idle timeout is not in the future.
func (s *Session) IsExpired() bool {
	return s.expiredAt(time.Now())
}

func (s *Session) expiredAt(now time.Time) bool {
	return !now.Before(s.lastAccessed.Add(s.maxInactive))
}

// SetLastAccessedTime records an access. The change is part of the next delta.
func (s *Session) SetLastAccessedTime(t time.Time) {
	s.lastAccessed = truncateMillis(t)
	s.track.mods |= ModAddition
	s.policy.lastAccessedChanged(s)
}

// SetMaxInactiveInterval changes the idle timeout, rounded to whole seconds as it is
// stored. Negative values clamp to zero.
func (s *Session) SetMaxInactiveInterval(d time.Duration) {
	s.maxInactive = clampInterval(d)
	s.track.mods |= ModAddition
	s.policy.maxInactiveChanged(s)
}

// Put stores an attribute. A nil value removes it.
func (s *Session) Put(name string, value any) {
	if value == nil {
		s.Remove(name)
		return
	}
	s.attributes[name] = value
	s.track.put(name)
	s.policy.attributePut(s, name, value)
}

// Get returns an attribute, decoding it with the session's serializer on first access.
// Values that fail to decode are reported as absent.
func (s *Session) Get(name string) (any, bool) {
	v, ok := s.attributes[name]
	if !ok {
		return nil, false
	}
	raw, encoded := v.(encodedValue)
	if !encoded {
		return v, true
	}

	var out any
	if err := s.serializer.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	s.attributes[name] = out
	return out, true
}

// Decode unmarshals the named attribute into dst. It reports false when the attribute
// does not exist.
func (s *Session) Decode(name string, dst any) (bool, error) {
	v, ok := s.attributes[name]
	if !ok {
		return false, nil
	}
	raw, encoded := v.(encodedValue)
	if !encoded {
		data, err := s.serializer.Marshal(v)
		if err != nil {
			return true, err
		}
		raw = data
	}
	return true, s.serializer.Unmarshal(raw, dst)
}

// Contains reports whether the attribute is set.
func (s *Session) Contains(name string) bool {
	_, ok := s.attributes[name]
	return ok
}

// Remove deletes an attribute.
func (s *Session) Remove(name string) {
	if _, ok := s.attributes[name]; !ok {
		return
	}
	delete(s.attributes, name)
	s.track.remove(name)
	s.policy.attributesRemoved(s, name)
}

// Clear removes every attribute.
func (s *Session) Clear() {
	if len(s.attributes) == 0 {
		return
	}
	names := s.Names()
	for _, name := range names {
		delete(s.attributes, name)
		s.track.remove(name)
	}
	s.track.mods |= ModCleared
	s.policy.attributesRemoved(s, names...)
}

// Names returns the attribute names in sorted order.
func (s *Session) Names() []string {
	names := make([]string, 0, len(s.attributes))
	for name := range s.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modifications returns the mutation kinds recorded since the last save.
func (s *Session) Modifications() Modification { return s.track.mods }

// Delta returns the field writes that persist the session's changes since its last
// save, keyed by field name. It is empty when nothing changed.
func (s *Session) Delta() (map[string][]byte, error) {
	if s.track.mods == 0 {
		return map[string][]byte{}, nil
	}

	delta := make(map[string][]byte, len(s.track.modified)+3)
	delta[fieldLastAccessed] = encodeMillis(s.lastAccessed)
	delta[fieldMaxInactive] = encodeSeconds(s.maxInactive)

	names := s.track.modified
	if s.IsNew() {
		delta[fieldCreationTime] = encodeMillis(s.creationTime)
		names = make(map[string]struct{}, len(s.attributes))
		for name := range s.attributes {
			names[name] = struct{}{}
		}
	}

	for name := range names {
		value, ok := s.attributes[name]
		if !ok {
			continue
		}
		data, err := s.encodeValue(value)
		if err != nil {
			return nil, err
		}
		delta[attributeField(name)] = data
	}
	return delta, nil
}

// removedNames returns the attribute names removed since the last save.
func (s *Session) removedNames() []string {
	if len(s.track.removed) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.track.removed))
	for name := range s.track.removed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Session) encodeValue(v any) ([]byte, error) {
	if raw, ok := v.(encodedValue); ok {
		return raw, nil
	}
	return s.serializer.Marshal(v)
}

// markSaved clears dirty tracking, including the created flag.
func (s *Session) markSaved() {
	s.track.reset()
}

func withDefaults(serializer ValueSerializer, policy writePolicy) (ValueSerializer, writePolicy) {
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	if policy == nil {
		policy = batchPolicy{}
	}
	return serializer, policy
}

func clampInterval(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d.Round(time.Second)
}

func truncateMillis(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
