// Package audit appends an immutable record of every state-changing attempt
// to a line-oriented JSON log. Records are write-once; the application never
// mutates or deletes them.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Source    string    `json:"source"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Success   bool      `json:"success"`
}

// Sink writes audit entries to an append-only file. A single mutex
// serializes appends so concurrent writers never interleave partial lines.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// Open creates a Sink appending to path, creating the file if needed.
func Open(path string) (*Sink, error) {
	return OpenWithClock(path, func() time.Time { return time.Now().UTC() })
}

// OpenWithClock creates a Sink with a custom clock (for testing).
func OpenWithClock(path string, now func() time.Time) (*Sink, error) {
	if now == nil {
		return nil, fmt.Errorf("audit: nil clock")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Sink{file: file, now: now}, nil
}

// Log appends one entry, filling in id and timestamp. Failures to write the
// audit trail are reported on the process log but never fail the operation;
// the entry's content already reached the caller's control flow.
func (s *Sink) Log(actor, source, action, target, detail string, success bool) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Actor:     actor,
		Source:    source,
		Action:    action,
		Target:    target,
		Detail:    detail,
		Success:   success,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("audit: marshal entry: %v", err)
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		log.Printf("audit: append entry: %v", err)
	}
}

// Tail returns up to n most recent entries, oldest first. Lines that fail to
// parse are skipped; the log may predate a field change.
func (s *Sink) Tail(n int) ([]Entry, error) {
	s.mu.Lock()
	name := s.file.Name()
	s.mu.Unlock()

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Close releases the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
