// Package txlog appends terminal payout outcomes to a JSON lines file that the
// /tx-log endpoint and the tx-log command read back.
package txlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const filePermissions = 0o640

// Entry is one line of the relay log.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Buyer        string    `json:"buyer"`
	StableAmount string    `json:"stableAmount"`
	PayoutAmount string    `json:"payoutAmount"`
	SourceTxHash string    `json:"sourceTxHash"`
	LogIndex     uint      `json:"logIndex"`
	SourceBlock  uint64    `json:"sourceBlock"`
	Status       string    `json:"status"`
	DestTxHash   string    `json:"destTxHash,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Writer appends entries. Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open creates the file and its directory when missing.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create relay log directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open relay log %s", path)
	}
	return &Writer{path: path, file: f}, nil
}

// Path returns the log file location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes entry as one line and syncs it to disk.
func (w *Writer) Append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode relay log entry")
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(line); err != nil {
		return errors.Wrap(err, "failed to append relay log entry")
	}
	return w.file.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Read loads every entry in path, oldest first. A torn last line from a crash is ignored.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan relay log")
	}
	return entries, nil
}
