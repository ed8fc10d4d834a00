package manager

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const journalVersion = 1

// Direction says whether a journal entry executed or undid its step.
type Direction string

const (
	DirectionAdvance Direction = "advance"
	DirectionRetreat Direction = "retreat"
)

// JournalEntry records one executed or undone step and the clone checksum after it.
type JournalEntry struct {
	Index         int
	Direction     Direction
	Kind          string
	ItemID        string
	AdvancementID string
	Level         int
	Synthetic     bool
	Checksum      string
	At            time.Time
}

// Journal is the ordered history of a session's step executions.
type Journal struct {
	SessionID   string
	CharacterID string
	Entries     []JournalEntry
	mu          sync.RWMutex
}

// NewJournal creates an empty journal.
func NewJournal(sessionID, characterID string) *Journal {
	return &Journal{
		SessionID:   sessionID,
		CharacterID: characterID,
		Entries:     make([]JournalEntry, 0),
	}
}

// Record appends an entry.
func (j *Journal) Record(entry JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Entries = append(j.Entries, entry)
}

// Size returns the number of recorded entries.
func (j *Journal) Size() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return len(j.Entries)
}

// EntryAt returns the entry at index.
func (j *Journal) EntryAt(index int) (JournalEntry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if index >= 0 && index < len(j.Entries) {
		return j.Entries[index], true
	}
	return JournalEntry{}, false
}

// Snapshot returns a copy of the entries.
func (j *Journal) Snapshot() []JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]JournalEntry, len(j.Entries))
	copy(out, j.Entries)
	return out
}

// SaveToFile writes the journal to <directory>/<session id>.journal as gzipped gob.
func (j *Journal) SaveToFile(directory string) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	filename := filepath.Join(directory, fmt.Sprintf("%s.journal", j.SessionID))
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	encoder := gob.NewEncoder(gzipWriter)

	metadata := journalMetadata{
		SessionID:   j.SessionID,
		CharacterID: j.CharacterID,
		Timestamp:   time.Now(),
		Version:     journalVersion,
		EntryCount:  len(j.Entries),
	}
	if err := encoder.Encode(&metadata); err != nil {
		_ = gzipWriter.Close()
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	for i := range j.Entries {
		if err := encoder.Encode(&j.Entries[i]); err != nil {
			_ = gzipWriter.Close()
			return fmt.Errorf("failed to encode entry %d: %w", i, err)
		}
	}

	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	return file.Close()
}

// LoadJournal reads a journal written by SaveToFile.
func LoadJournal(directory, sessionID string) (*Journal, error) {
	filename := filepath.Join(directory, fmt.Sprintf("%s.journal", sessionID))

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decoder := gob.NewDecoder(gzipReader)

	var metadata journalMetadata
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if metadata.Version != journalVersion {
		return nil, fmt.Errorf("unsupported journal version: %d", metadata.Version)
	}

	journal := NewJournal(metadata.SessionID, metadata.CharacterID)
	for i := 0; i < metadata.EntryCount; i++ {
		var entry JournalEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry %d: %w", i, err)
		}
		journal.Entries = append(journal.Entries, entry)
	}

	return journal, nil
}

type journalMetadata struct {
	SessionID   string
	CharacterID string
	Timestamp   time.Time
	Version     int
	EntryCount  int
}
