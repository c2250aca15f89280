package fabrication

import (
	"sync"
	"time"

	"github.com/forgeware/orderforge/internal/domain"
)

// Status is a fabrication worker's in-memory "current status" register
// (§4.5), read by the machine status HTTP surface. It is deliberately not
// persisted: a restarted worker starts idle, which is the correct state
// since any in-flight job will be redelivered by the bus.
type Status struct {
	mu        sync.RWMutex
	pieceType domain.PieceType
	busy      bool
	pieceID   string
	since     time.Time
}

// NewStatus constructs an idle Status for pieceType.
func NewStatus(pieceType domain.PieceType) *Status {
	return &Status{pieceType: pieceType}
}

// BeginJob marks the worker busy building pieceID.
func (s *Status) BeginJob(pieceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = true
	s.pieceID = pieceID
	s.since = time.Now()
}

// EndJob returns the worker to idle.
func (s *Status) EndJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.pieceID = ""
	s.since = time.Now()
}

// Snapshot is a point-in-time view of a worker's status, safe to marshal.
type Snapshot struct {
	PieceType domain.PieceType `json:"piece_type"`
	Busy      bool             `json:"busy"`
	PieceID   string           `json:"piece_id,omitempty"`
	Since     time.Time        `json:"since"`
}

// Snapshot reads the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{PieceType: s.pieceType, Busy: s.busy, PieceID: s.pieceID, Since: s.since}
}
