// Package snapshot makes the persisted collections durable by storing them
// as one JSON document in an external backend.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wplacebot/internal/schedule"
)

const (
	Version         = 1
	DefaultDebounce = time.Second
	saveTimeout     = 30 * time.Second
)

var (
	ErrNoSnapshot = errors.New("no snapshot found")
	ErrMalformed  = errors.New("malformed snapshot")
	ErrTooLarge   = errors.New("snapshot exceeds message limit")
)

// Collection is one persisted document, addressed by its file name.
type Collection interface {
	Name() string
	ReadRaw() (json.RawMessage, error)
	Validate(raw json.RawMessage) error
	WriteRaw(raw json.RawMessage) error
}

// Backend stores encoded snapshots. Latest returns ErrNoSnapshot when nothing
// was stored and ErrMalformed when the newest entry cannot be decoded.
type Backend interface {
	Put(ctx context.Context, doc []byte) error
	Latest(ctx context.Context) ([]byte, error)
}

type Document struct {
	Version int                        `json:"version"`
	TS      int64                      `json:"ts"`
	Reason  string                     `json:"reason"`
	Data    map[string]json.RawMessage `json:"data"`
}

type Status string

const (
	StatusRestored  Status = "restored"
	StatusNoChannel Status = "no_channel"
	StatusNotFound  Status = "not_found"
	StatusMalformed Status = "malformed"
	StatusFailed    Status = "failed"
)

type RestoreResult struct {
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Collections []string  `json:"collections,omitempty"`
	SavedReason string    `json:"savedReason,omitempty"`
	SavedAt     time.Time `json:"savedAt,omitempty"`
}

func (r RestoreResult) Restored() bool { return r.Status == StatusRestored }

type Store struct {
	backend  Backend
	cols     []Collection
	clock    schedule.Clock
	debounce time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	gen       uint64
	pending   bool
	reason    string
	timer     schedule.Timer
	lastSave  time.Time
	lastCause string
}

// New builds a store. A nil backend disables saving and restoring; requests
// are then accepted and dropped.
func New(backend Backend, cols []Collection, clock schedule.Clock, debounce time.Duration, logger *slog.Logger) *Store {
	if clock == nil {
		clock = schedule.Real
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{backend: backend, cols: cols, clock: clock, debounce: debounce, log: logger}
}

func (s *Store) Enabled() bool { return s.backend != nil }

// Save writes a snapshot now. It reports false without error when no
// backend is configured.
func (s *Store) Save(ctx context.Context, reason string) (bool, error) {
	if s.backend == nil {
		s.log.Warn("snapshot backend not configured, skipping save", "reason", reason)
		return false, nil
	}
	doc := Document{Version: Version, TS: s.clock.Now().UnixMilli(), Reason: reason, Data: map[string]json.RawMessage{}}
	for _, c := range s.cols {
		raw, err := c.ReadRaw()
		if err != nil {
			return false, fmt.Errorf("snapshot %s: %w", c.Name(), err)
		}
		doc.Data[c.Name()] = raw
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	if err := s.backend.Put(ctx, body); err != nil {
		if errors.Is(err, ErrTooLarge) {
			s.log.Error("snapshot too large, not saved", "reason", reason, "bytes", len(body), "err", err)
		}
		return false, fmt.Errorf("store snapshot: %w", err)
	}
	s.mu.Lock()
	s.lastSave, s.lastCause = s.clock.Now(), reason
	s.mu.Unlock()
	s.log.Info("snapshot saved", "reason", reason, "bytes", len(body))
	return true, nil
}

// Restore overwrites local collections with the newest snapshot. Nothing is
// written unless every collection in the snapshot validates.
func (s *Store) Restore(ctx context.Context) RestoreResult {
	if s.backend == nil {
		return RestoreResult{Status: StatusNoChannel, Reason: "snapshot backend not configured"}
	}
	body, err := s.backend.Latest(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		return RestoreResult{Status: StatusNotFound, Reason: err.Error()}
	case errors.Is(err, ErrMalformed):
		return RestoreResult{Status: StatusMalformed, Reason: err.Error()}
	case err != nil:
		return RestoreResult{Status: StatusFailed, Reason: err.Error()}
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return RestoreResult{Status: StatusMalformed, Reason: "json parse error: " + err.Error()}
	}
	if len(doc.Data) == 0 {
		return RestoreResult{Status: StatusMalformed, Reason: "no data"}
	}
	var apply []Collection
	for _, c := range s.cols {
		raw, ok := doc.Data[c.Name()]
		if !ok {
			continue
		}
		if err := c.Validate(raw); err != nil {
			return RestoreResult{Status: StatusMalformed, Reason: fmt.Sprintf("%s: %v", c.Name(), err)}
		}
		apply = append(apply, c)
	}
	res := RestoreResult{Status: StatusRestored, SavedReason: doc.Reason}
	if doc.TS > 0 {
		res.SavedAt = time.UnixMilli(doc.TS).UTC()
	}
	for _, c := range apply {
		if err := c.WriteRaw(doc.Data[c.Name()]); err != nil {
			return RestoreResult{Status: StatusFailed, Reason: err.Error(), Collections: res.Collections}
		}
		res.Collections = append(res.Collections, c.Name())
	}
	s.log.Info("snapshot restored", "collections", res.Collections, "saved_reason", doc.Reason)
	return res
}

// Request schedules a save after the debounce window. A newer request
// replaces the pending one, reason included.
func (s *Store) Request(reason string) {
	if s.backend == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending = true
	s.reason = reason
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(gen) })
}

func (s *Store) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	reason := s.reason
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if _, err := s.Save(ctx, reason); err != nil {
		s.log.Error("snapshot save failed", "reason", reason, "err", err)
	}
}

// Flush runs a pending request right away.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	s.pending = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	reason := s.reason
	s.mu.Unlock()
	_, err := s.Save(ctx, reason)
	return err
}

// Pending reports whether a debounced save is waiting, and for which reason.
func (s *Store) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.pending
}

// LastSaved returns when the last snapshot was written and why.
func (s *Store) LastSaved() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSave, s.lastCause
}
