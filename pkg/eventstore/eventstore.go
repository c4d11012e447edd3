// Package eventstore implements the optional Event Store (C15): an
// append-only log of every event a session produced, with replay. It is
// wired with google/uuid for record identity (matching the teacher's use
// of uuid for session/request IDs) and github.com/goccy/go-json for the
// file-backed variant's line-delimited encoding, consistent with the
// faster JSON codec pkg/normalize already uses on the hot path.
package eventstore

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
)

// Record is one stored event, anchored to its session and position.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`

	// Payload is the JSON-encoded event, kept opaque here since event.Event
	// is a closed interface with no exported constructor from raw data;
	// Replay callers that need the typed event reconstruct it from Kind
	// plus whatever fields their own decoder expects.
	Payload json.RawMessage `json:"payload"`
}

// Store appends events and replays them back in order.
type Store interface {
	Append(sessionID string, ev event.Event) (Record, error)
	Replay(sessionID string) ([]Record, error)
	Close() error
}

// MemoryStore is an in-process Store backed by a map; records are never
// persisted past process lifetime.
type MemoryStore struct {
	mu      sync.Mutex
	bySess  map[string][]Record
	nextSeq map[string]int
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySess:  make(map[string][]Record),
		nextSeq: make(map[string]int),
	}
}

// Append encodes ev and appends it to sessionID's log.
func (s *MemoryStore) Append(sessionID string, ev event.Event) (Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("eventstore: encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[sessionID]
	s.nextSeq[sessionID] = seq + 1

	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		Kind:      ev.Kind(),
		At:        ev.Timestamp(),
		Payload:   payload,
	}
	s.bySess[sessionID] = append(s.bySess[sessionID], rec)
	return rec, nil
}

// Replay returns every record appended for sessionID, in append order.
func (s *MemoryStore) Replay(sessionID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.bySess[sessionID]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error { return nil }

// FileStore is an append-only, line-delimited-JSON Store backed by a
// single file shared across sessions. Replay re-reads the whole file and
// filters by session, trading replay cost for append simplicity, which
// is acceptable for the diagnostic/audit use spec.md §4.9 describes this
// component for.
type FileStore struct {
	mu      sync.Mutex
	f       *os.File
	nextSeq map[string]int
}

// NewFileStore opens (creating if necessary) path for append.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", path, err)
	}
	return &FileStore{f: f, nextSeq: make(map[string]int)}, nil
}

// Append encodes ev as one JSON line and writes it to the file.
func (s *FileStore) Append(sessionID string, ev event.Event) (Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("eventstore: encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[sessionID]
	s.nextSeq[sessionID] = seq + 1

	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		Kind:      ev.Kind(),
		At:        ev.Timestamp(),
		Payload:   payload,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("eventstore: encode record: %w", err)
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("eventstore: write record: %w", err)
	}

	return rec, nil
}

// Replay scans the backing file from the start and returns every record
// belonging to sessionID, in append order.
func (s *FileStore) Replay(sessionID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("eventstore: seek: %w", err)
	}

	var out []Record
	scanner := bufio.NewScanner(s.f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: scan: %w", err)
	}

	if _, err := s.f.Seek(0, 2); err != nil {
		return nil, fmt.Errorf("eventstore: seek to end: %w", err)
	}

	return out, nil
}

// Close closes the backing file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
