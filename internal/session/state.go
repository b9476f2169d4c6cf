package session

import (
	"sync"
	"time"
)

// State is a consistent copy of the session fields. The gateway handle itself
// never leaves the package; HasClient only reports whether one is held.
type State struct {
	PairingCode  string
	Ready        bool
	BoundNumber  string
	HasClient    bool
	Since        time.Time // last applied transition
	PairingSince time.Time // when the current pairing phase began; zero outside it
	Observed     bool      // a lifecycle transition happened in this process
}

// record is the mutable singleton behind Store.
type record struct {
	client       Gateway
	generation   uint64
	pairingCode  string
	ready        bool
	boundNumber  string
	since        time.Time
	pairingSince time.Time
	observed     bool
}

// Store holds the process-wide session record. Reads are safe from any
// goroutine; writes happen only through update, which the Controller calls
// with its transition lock held.
type Store struct {
	mu  sync.RWMutex
	rec record
}

// NewStore returns an empty (disconnected) store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns all public fields read under one lock.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.state()
}

func (s *Store) PairingCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.pairingCode
}

func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.ready
}

func (s *Store) BoundNumber() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.boundNumber
}

// current returns the held client, its generation and a snapshot together.
func (s *Store) current() (Gateway, uint64, State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.client, s.rec.generation, s.rec.state()
}

// update applies fn as a single atomic mutation.
func (s *Store) update(fn func(r *record)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.rec)
	return s.rec.state()
}

func (r *record) state() State {
	return State{
		PairingCode:  r.pairingCode,
		Ready:        r.ready,
		BoundNumber:  r.boundNumber,
		HasClient:    r.client != nil,
		Since:        r.since,
		PairingSince: r.pairingSince,
		Observed:     r.observed,
	}
}

// clear resets every lifecycle field and releases the client reference.
func (r *record) clear() {
	r.client = nil
	r.pairingCode = ""
	r.ready = false
	r.boundNumber = ""
	r.pairingSince = time.Time{}
}
