package refdiscovery

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"refind/internal/logger"
	"refind/internal/util"
)

// Status of one reference in the discovery pipeline. Transitions are
// monotonic: a reference never moves back to an earlier status, so a
// processed reference stays processed across restarts.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPending    Status = "pending"
	StatusFailed     Status = "failed"
	StatusProcessed  Status = "processed"
)

var statusRank = map[Status]int{
	StatusNotStarted: 0,
	StatusPending:    1,
	StatusFailed:     2,
	StatusProcessed:  3,
}

// Record is the persisted per-reference state.
type Record struct {
	Status    Status    `json:"status"`
	Title     string    `json:"title,omitempty"`
	DOI       string    `json:"doi,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker keeps reference statuses in memory and mirrors every change to
// processed_refs.json so progress survives restarts.
type Tracker struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	log     *slog.Logger
}

func NewTracker(metadataDir string) *Tracker {
	t := &Tracker{
		path:    filepath.Join(metadataDir, "references", "processed_refs.json"),
		records: make(map[string]Record),
		log:     logger.WithComponent("reftracker"),
	}
	if err := util.ReadJSON(t.path, &t.records); err != nil && !os.IsNotExist(err) {
		t.log.Warn("could not load reference state, starting fresh", "path", t.path, "error", err)
		t.records = make(map[string]Record)
	}
	return t
}

func (t *Tracker) Status(key string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[key]; ok {
		return rec.Status
	}
	return StatusNotStarted
}

// All returns a snapshot of key to status.
func (t *Tracker) All() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(t.records))
	for k, rec := range t.records {
		out[k] = rec.Status
	}
	return out
}

func (t *Tracker) ProcessedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rec := range t.records {
		if rec.Status == StatusProcessed {
			n++
		}
	}
	return n
}

func (t *Tracker) MarkPending(key, title, doi string) bool {
	return t.transition(key, Record{Status: StatusPending, Title: title, DOI: doi})
}

func (t *Tracker) MarkProcessed(key string) bool {
	return t.transition(key, Record{Status: StatusProcessed})
}

func (t *Tracker) MarkFailed(key string, cause error) bool {
	rec := Record{Status: StatusFailed}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return t.transition(key, rec)
}

// transition applies the update only if it does not move the reference
// backwards. Returns whether the update was applied.
func (t *Tracker) transition(key string, next Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.records[key]
	if prev.Status != "" && statusRank[next.Status] <= statusRank[prev.Status] {
		return false
	}
	if next.Title == "" {
		next.Title = prev.Title
	}
	if next.DOI == "" {
		next.DOI = prev.DOI
	}
	next.UpdatedAt = time.Now().UTC()
	t.records[key] = next

	if err := util.WriteJSONAtomic(t.path, t.records); err != nil {
		t.log.Warn("could not persist reference state", "path", t.path, "error", err)
	}
	return true
}
