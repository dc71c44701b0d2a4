package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends one JSON line per registry operation. A nil logger or an
// empty path disables the trail without changing call sites.
type Logger struct {
	path string
	mu   sync.Mutex
}

// Event records what happened to which plugin during which phase.
type Event struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Plugin    string `json:"plugin,omitempty"`
	Version   string `json:"version,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// Event statuses.
const (
	StatusOK    = "ok"
	StatusSkip  = "skip"
	StatusError = "error"
)

func New(path string) *Logger {
	return &Logger{path: path}
}

func (l *Logger) Log(ev Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	blob, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(blob, '\n')); err != nil {
		return err
	}
	return nil
}
