package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neoauto/sniper/internal/risk"
)

// Entry event types.
const (
	EventExit = "exit"
	EventNote = "note"
)

// Entry is one recorded event. Entries are append-only: the journal keeps a
// capped in-memory tail for the control surface and appends every entry to a
// JSONL file for post-mortem replay.
type Entry struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"ts"`
	Mint      string          `json:"mint,omitempty"`
	Symbol    string          `json:"symbol,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Journal records exit decisions and operator notes.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	entries []Entry
	maxBuf  int
}

// NewJournal opens a journal appending to path. An empty path keeps the
// journal memory-only. maxBuf caps the in-memory tail; oldest entries are
// discarded first.
func NewJournal(path string, maxBuf int) (*Journal, error) {
	if maxBuf < 0 {
		maxBuf = 0
	}
	j := &Journal{maxBuf: maxBuf}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("audit: create journal dir: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("audit: open journal: %w", err)
		}
		j.file = file
	}
	return j, nil
}

// RecordExit journals an executed exit decision.
func (j *Journal) RecordExit(ev risk.ExitEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("mint", ev.Mint).Msg("audit: marshal exit event")
		return
	}
	j.record(Entry{
		ID:        ev.ID,
		EventType: EventExit,
		Timestamp: ev.At,
		Mint:      ev.Mint,
		Symbol:    ev.Symbol,
		Detail:    string(ev.Kind),
		Payload:   payload,
	})
}

// RecordNote journals a free-form operator or lifecycle note.
func (j *Journal) RecordNote(id, detail string) {
	j.record(Entry{
		ID:        id,
		EventType: EventNote,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

func (j *Journal) record(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.maxBuf > 0 {
		if len(j.entries) >= j.maxBuf {
			j.entries = j.entries[1:]
		}
		j.entries = append(j.entries, entry)
	}

	if j.file == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("audit: marshal journal entry")
		return
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Msg("audit: append journal entry")
	}
}

// Recent returns the in-memory tail, oldest first.
func (j *Journal) Recent() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
