// Package jobs keeps the registry of asynchronous render jobs.
//
// The registry is purely in memory. Records expire after a configurable age
// and the registry is capped at a fixed size; both bounds are enforced lazily
// on the Create and Get paths so no background sweeper is needed.
package jobs

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	DefaultMaxAge    = time.Hour
	DefaultMaxJobs   = 200
	DefaultMediaType = "application/octet-stream"

	idLength = 12
)

// Type is the kind of artifact a job produces.
type Type string

const (
	TypeBin            Type = "bin"
	TypeBaseplate      Type = "baseplate"
	TypePlate          Type = "plate"
	TypePlateContainer Type = "plate-3mf"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Active reports whether the status still counts against concurrency quotas.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Record is a snapshot of one job. Records handed out by the Store are
// copies; mutating them has no effect on the registry.
type Record struct {
	ID              string
	Type            Type
	Status          Status
	CreatedAt       time.Time
	ResultBytes     []byte
	ResultFilename  string
	ResultMediaType string
	Error           string
	ClientIP        string

	seq uint64
}

// Store is the job registry. All methods are safe for concurrent use and
// serialized by a single mutex.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*Record
	maxAge  time.Duration
	maxJobs int
	clock   clock.PassiveClock
	nextSeq uint64
	newID   func() string
}

// NewStore creates a registry whose records expire after maxAge and which
// holds at most maxJobs records. Non-positive values fall back to defaults.
func NewStore(maxAge time.Duration, maxJobs int, clk clock.PassiveClock) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{
		jobs:    make(map[string]*Record),
		maxAge:  maxAge,
		maxJobs: maxJobs,
		clock:   clk,
		newID:   randomID,
	}
}

func randomID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:idLength]
}

// Create registers a new pending job and returns its snapshot. It never
// fails: after inserting, expired records are purged and the oldest records
// are evicted until the registry is back within its cap.
func (s *Store) Create(t Type, clientIP string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for {
		if _, taken := s.jobs[id]; !taken {
			break
		}
		id = s.newID()
	}

	s.nextSeq++
	rec := &Record{
		ID:              id,
		Type:            t,
		Status:          StatusPending,
		CreatedAt:       s.clock.Now(),
		ResultMediaType: DefaultMediaType,
		ClientIP:        clientIP,
		seq:             s.nextSeq,
	}
	s.jobs[id] = rec
	s.purgeLocked()

	return *rec
}

// Get returns the job with the given id. Expired records are deleted on read.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return Record{}, false
	}
	if s.expiredLocked(rec, s.clock.Now()) {
		delete(s.jobs, id)
		return Record{}, false
	}
	return *rec, true
}

// SetRunning moves a pending job to running.
func (s *Store) SetRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.jobs[id]; ok && rec.Status == StatusPending {
		rec.Status = StatusRunning
	}
}

// SetComplete stores the artifact of an active job and marks it complete.
func (s *Store) SetComplete(id string, data []byte, filename, mediaType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || !rec.Status.Active() {
		return
	}
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	rec.Status = StatusComplete
	rec.ResultBytes = data
	rec.ResultFilename = filename
	rec.ResultMediaType = mediaType
}

// SetFailed records the error of an active job and marks it failed.
func (s *Store) SetFailed(id string, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || !rec.Status.Active() {
		return
	}
	rec.Status = StatusFailed
	rec.Error = msg
}

// ActiveCount returns the number of live pending or running jobs.
func (s *Store) ActiveCount() int {
	return s.countActive(func(*Record) bool { return true })
}

// ActiveCountFor is ActiveCount restricted to one client.
func (s *Store) ActiveCountFor(clientIP string) int {
	return s.countActive(func(r *Record) bool { return r.ClientIP == clientIP })
}

func (s *Store) countActive(match func(*Record) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for _, rec := range s.jobs {
		if rec.Status.Active() && !s.expiredLocked(rec, now) && match(rec) {
			n++
		}
	}
	return n
}

// Len returns the number of records held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Store) expiredLocked(rec *Record, now time.Time) bool {
	return now.Sub(rec.CreatedAt) > s.maxAge
}

func (s *Store) purgeLocked() {
	now := s.clock.Now()
	for id, rec := range s.jobs {
		if s.expiredLocked(rec, now) {
			delete(s.jobs, id)
		}
	}

	for len(s.jobs) > s.maxJobs {
		var oldest *Record
		for _, rec := range s.jobs {
			if oldest == nil || rec.CreatedAt.Before(oldest.CreatedAt) ||
				(rec.CreatedAt.Equal(oldest.CreatedAt) && rec.seq < oldest.seq) {
				oldest = rec
			}
		}
		delete(s.jobs, oldest.ID)
	}
}
