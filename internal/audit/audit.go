// Package audit is the append-only decision log. Each evaluation appends one
// JSON line; nothing here rewrites or deletes earlier lines.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gzhole/agentgate/internal/redact"
)

// MaxPayload is the byte ceiling for the payload excerpt.
const MaxPayload = 512

type Entry struct {
	ID         string   `json:"id"`
	Timestamp  string   `json:"timestamp"`
	Outcome    string   `json:"outcome"`
	Tool       string   `json:"tool"`
	HostTool   string   `json:"host_tool,omitempty"`
	Phase      string   `json:"phase,omitempty"`
	Payload    string   `json:"payload"`
	Reason     string   `json:"reason,omitempty"`
	Rules      []string `json:"rules,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Advisory   string   `json:"advisory,omitempty"`
	Source     string   `json:"source,omitempty"`
	UserAction string   `json:"user_action,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Time parses the entry timestamp. The zero time is returned for
// unparseable values.
func (e Entry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

type Logger struct {
	file *os.File
	mu   sync.Mutex
	now  func() time.Time
}

func New(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &Logger{file: file, now: time.Now}, nil
}

// Log appends one entry. The payload is redacted and cut to MaxPayload;
// the reason, advisory and error are redacted.
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	}
	entry.Payload = redact.Excerpt(entry.Payload, MaxPayload)
	entry.Reason = redact.Redact(entry.Reason)
	entry.Advisory = redact.Redact(entry.Advisory)
	if entry.Error != "" {
		entry.Error = redact.Redact(entry.Error)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = l.file.Write(data)
	return err
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Read returns every well-formed entry in the log. A missing log is empty.
func Read(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if e, ok := parseLine(scanner.Text()); ok {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}

func parseLine(line string) (Entry, bool) {
	if strings.TrimSpace(line) == "" {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return Entry{}, false // skip malformed lines
	}
	return e, true
}
