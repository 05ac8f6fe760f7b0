// Package approval implements the two-strike confirmation cache. The first
// sighting of a soft-blocked request records a strike; an identical request
// within the TTL consumes it and is allowed.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a first strike waits for its confirmation.
const DefaultTTL = 600 * time.Second

// ErrStoreUnavailable wraps lock, read and write failures. Callers treat it
// as "no prior approval on record".
var ErrStoreUnavailable = errors.New("approval store unavailable")

// Result is the outcome of a Check.
type Result int

const (
	// Fresh means no live strike existed; one has now been recorded.
	Fresh Result = iota
	// Consumed means a live strike existed and has been removed.
	Consumed
)

func (r Result) String() string {
	if r == Consumed {
		return "consumed"
	}
	return "fresh"
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Record is one live strike.
type Record struct {
	Namespace   string
	Fingerprint string
	RecordedAt  time.Time
	ExpiresAt   time.Time
}

// Store is a namespaced fingerprint cache with atomic check-and-consume.
type Store interface {
	Check(namespace, fingerprint string) (Result, error)
	List() ([]Record, error)
	Clear() error
}

// Fingerprint digests a normalized request. Identical tool, payload and
// resolved targets give the same fingerprint.
func Fingerprint(tool, payload string, targets []string) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(payload)))
	for _, t := range targets {
		h.Write([]byte{0})
		h.Write([]byte(t))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// strikes is the per-namespace state shared by both stores.
type strikes map[string]time.Time

// purge drops strikes at or past their TTL. It reports whether anything was
// removed.
func (s strikes) purge(now time.Time, ttl time.Duration) bool {
	changed := false
	for fp, at := range s {
		if now.Sub(at) >= ttl {
			delete(s, fp)
			changed = true
		}
	}
	return changed
}

// consume applies the two-strike rule to fp.
func (s strikes) consume(fp string, now time.Time) Result {
	if _, ok := s[fp]; ok {
		delete(s, fp)
		return Consumed
	}
	s[fp] = now
	return Fresh
}

func (s strikes) records(ns string, ttl time.Duration) []Record {
	out := make([]Record, 0, len(s))
	for fp, at := range s {
		out = append(out, Record{Namespace: ns, Fingerprint: fp, RecordedAt: at, ExpiresAt: at.Add(ttl)})
	}
	return out
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Namespace != recs[j].Namespace {
			return recs[i].Namespace < recs[j].Namespace
		}
		return recs[i].RecordedAt.Before(recs[j].RecordedAt)
	})
}

// MemoryStore keeps strikes in process memory behind a mutex. It suits a
// long-lived gateway process, dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock Clock
	data  map[string]strikes
}

func NewMemoryStore(ttl time.Duration, clock Clock) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryStore{ttl: ttl, clock: clock, data: make(map[string]strikes)}
}

func (m *MemoryStore) Check(namespace, fingerprint string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	s, ok := m.data[namespace]
	if !ok {
		s = make(strikes)
		m.data[namespace] = s
	}
	s.purge(now, m.ttl)
	return s.consume(fingerprint, now), nil
}

func (m *MemoryStore) List() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []Record
	for ns, s := range m.data {
		s.purge(now, m.ttl)
		out = append(out, s.records(ns, m.ttl)...)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]strikes)
	return nil
}
