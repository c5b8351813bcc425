package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

const (
	fieldCreationTime = "Creation-Time"
	fieldLastAccessed = "Last-Accessed"
	fieldMaxInactive  = "Max-Inactive-Interval"
	attributePrefix   = "attr:"
)

// ErrUnknownCharset is returned when the configured character set has no encoding.
var ErrUnknownCharset = errors.New("unknown charset")

func attributeField(name string) string {
	return attributePrefix + name
}

func encodeMillis(t time.Time) []byte {
	return strconv.AppendInt(nil, t.UnixMilli(), 10)
}

func encodeSeconds(d time.Duration) []byte {
	return strconv.AppendInt(nil, int64(d/time.Second), 10)
}

func decodeMillis(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return time.UnixMilli(ms)
}

func decodeSeconds(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 || secs > int64(time.Duration(1<<63-1)/time.Second) {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// record is a session hash as read from the backing store, with field names already
// decoded from the store charset.
type record map[string]string

// decodeRecord rehydrates a persisted session. It never fails: malformed timestamps
// fall back to now and a malformed interval falls back to defaultInterval.
func decodeRecord(id string, r record, now time.Time, defaultInterval time.Duration, serializer ValueSerializer, policy writePolicy) *Session {
	serializer, policy = withDefaults(serializer, policy)
	now = truncateMillis(now)
	s := &Session{
		id:           id,
		creationTime: decodeMillis(r[fieldCreationTime], now),
		lastAccessed: decodeMillis(r[fieldLastAccessed], now),
		maxInactive:  decodeSeconds(r[fieldMaxInactive], defaultInterval),
		attributes:   make(map[string]any, len(r)),
		track:        newTracker(),
		serializer:   serializer,
		policy:       policy,
	}
	for field, value := range r {
		name, ok := strings.CutPrefix(field, attributePrefix)
		if !ok {
			continue
		}
		s.attributes[name] = encodedValue(value)
	}
	return s
}

// charset transcodes key and field names between Go strings and the store charset.
type charset struct {
	name string
	enc  encoding.Encoding
}

// CheckCharset reports whether name is a character set the store can transcode keys
// through.
func CheckCharset(name string) error {
	_, err := newCharset(name)
	return err
}

func newCharset(name string) (charset, error) {
	if name == "" {
		name = "UTF-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return charset{}, fmt.Errorf("%w: %s", ErrUnknownCharset, name)
	}
	if enc == unicode.UTF8 {
		enc = nil
	}
	return charset{name: name, enc: enc}, nil
}

func (c charset) encode(s string) (string, error) {
	if c.enc == nil {
		return s, nil
	}
	return c.enc.NewEncoder().String(s)
}

func (c charset) decode(s string) (string, error) {
	if c.enc == nil {
		return s, nil
	}
	return c.enc.NewDecoder().String(s)
}
