package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// History is an append-only evaluation log.
type History interface {
	Append(entry HistoryEntry) error
	// Entries returns every entry in append order.
	Entries() ([]HistoryEntry, error)
	Flush() error
	Close() error
	Path() string
}

const (
	jsonlHistoryFile  = "history.jsonl"
	sqliteHistoryFile = "history.db"
)

// OpenHistory opens the history backend of kind in dir, creating it if needed.
// Existing entries are kept.
func OpenHistory(kind, dir string) (History, error) {
	switch kind {
	case "", "jsonl":
		return NewJSONLHistory(filepath.Join(dir, jsonlHistoryFile))
	case "sqlite":
		return NewSQLiteHistory(filepath.Join(dir, sqliteHistoryFile))
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", kind)
	}
}

// DetectHistory opens whichever history backend exists in dir.
func DetectHistory(dir string) (History, error) {
	for _, b := range []struct{ kind, file string }{{"sqlite", sqliteHistoryFile}, {"jsonl", jsonlHistoryFile}} {
		if _, err := os.Stat(filepath.Join(dir, b.file)); err == nil {
			return OpenHistory(b.kind, dir)
		}
	}
	return nil, &NotFoundError{What: "history in " + dir}
}

// JSONLHistory writes one JSON object per line.
// It uses buffered I/O and is safe for concurrent use.
type JSONLHistory struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewJSONLHistory opens path in append mode.
func NewJSONLHistory(path string) (*JSONLHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	return &JSONLHistory{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Append buffers one entry.
func (h *JSONLHistory) Append(entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if _, err := h.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write history entry: %w", err)
	}
	if err := h.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file.
func (h *JSONLHistory) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush history: %w", err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync history: %w", err)
	}
	return nil
}

// Entries flushes pending writes and reads the file back.
func (h *JSONLHistory) Entries() ([]HistoryEntry, error) {
	if err := h.Flush(); err != nil {
		return nil, err
	}
	return ReadJSONLHistory(h.path)
}

// Close flushes buffered data and closes the file.
func (h *JSONLHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.writer.Flush(); err != nil {
		h.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %w", err)
	}
	return nil
}

// Path returns the history file path.
func (h *JSONLHistory) Path() string {
	return h.path
}

// ReadJSONLHistory reads every entry of a JSONL history file. A truncated
// final line, left by a crash mid-append, is ignored.
func ReadJSONLHistory(path string) ([]HistoryEntry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{What: filepath.Base(path)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	return decodeJSONL(file)
}

func decodeJSONL(r io.Reader) ([]HistoryEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []HistoryEntry
	var pending error
	for scanner.Scan() {
		if pending != nil {
			return nil, pending
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			pending = fmt.Errorf("failed to unmarshal history entry: %w", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	return entries, nil
}
