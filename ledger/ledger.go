// Package ledger is the in-memory record of every disbursement this process
// has initiated, partitioned into pending and completed sets. The two
// partitions are disjoint: a transaction id lives in exactly one of them at
// any time, and moves between them happen atomically under a single mutex.
// Nothing is ever deleted; terminal entries stay in the completed partition
// for the life of the process.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reliefgrid/treasury/fund"
)

// Store owns the pending and completed partitions. Every read or mutation is
// a critical section on one mutex, which is what makes a sweep move, an
// emergency stop, and an admin query mutually safe.
type Store struct {
	mu        sync.Mutex
	pending   map[string]*fund.Disbursement
	completed map[string]*fund.Disbursement

	// byEvent indexes every recorded disbursement by event id, in either
	// partition. One event funds at most one disbursement per process.
	byEvent map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		pending:   make(map[string]*fund.Disbursement),
		completed: make(map[string]*fund.Disbursement),
		byEvent:   make(map[string]string),
	}
}

// Insert records a new pending disbursement. The entry must carry a unique
// transaction id and pending status.
func (s *Store) Insert(d *fund.Disbursement) error {
	if d.Status != fund.StatusPending {
		return ErrNotPending
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[d.TransactionID]; ok {
		return ErrDuplicateID
	}
	if _, ok := s.completed[d.TransactionID]; ok {
		return ErrDuplicateID
	}

	s.pending[d.TransactionID] = d
	s.byEvent[d.EventID] = d.TransactionID
	return nil
}

// HasEvent reports whether a disbursement for the event id exists in either
// partition.
func (s *Store) HasEvent(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEvent[eventID]
	return ok
}

// Pending returns a snapshot of the pending partition. The returned copies
// are safe to read outside the lock; status resolution goes back through
// Complete, which re-checks the entry is still pending.
func (s *Store) Pending() []fund.Disbursement {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]fund.Disbursement, 0, len(s.pending))
	for _, d := range s.pending {
		out = append(out, snapshotOf(d))
	}
	return out
}

// Complete atomically moves a pending entry to the completed partition with
// the given terminal status. It refuses entries that are no longer pending,
// which guarantees a sweep can never overwrite an emergency stop (or another
// sweep's result) that got there first.
func (s *Store) Complete(transactionID string, status fund.Status) error {
	if !status.Terminal() {
		return ErrNotTerminal
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.pending[transactionID]
	if !ok {
		if _, done := s.completed[transactionID]; done {
			return ErrNotPending
		}
		return ErrNotFound
	}

	d.Status = status
	delete(s.pending, transactionID)
	s.completed[transactionID] = d
	return nil
}

// StopAll moves every pending entry to the completed partition with stopped
// status and returns the ids that were stopped. After it returns the pending
// partition is empty.
func (s *Store) StopAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := make([]string, 0, len(s.pending))
	for id, d := range s.pending {
		d.Status = fund.StatusStopped
		s.completed[id] = d
		stopped = append(stopped, id)
	}
	s.pending = make(map[string]*fund.Disbursement)
	return stopped
}

// Snapshot is a point-in-time view of one disbursement for the admin surface.
// TransferRefs is populated only for completed entries.
type Snapshot struct {
	TransactionID  string          `json:"transaction_id"`
	EventID        string          `json:"event_id"`
	Status         fund.Status     `json:"status"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	RecipientCount int             `json:"recipients"`
	CreatedAt      time.Time       `json:"created_at"`
	TransferRefs   []string        `json:"transfer_refs,omitempty"`
}

// Get returns a snapshot of the disbursement, consistent with whichever
// partition currently holds it.
func (s *Store) Get(transactionID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.pending[transactionID]; ok {
		return Snapshot{
			TransactionID:  d.TransactionID,
			EventID:        d.EventID,
			Status:         d.Status,
			TotalAmount:    d.TotalAmount,
			RecipientCount: len(d.Recipients),
			CreatedAt:      d.CreatedAt,
		}, nil
	}
	if d, ok := s.completed[transactionID]; ok {
		refs := make([]string, len(d.TransferRefs))
		copy(refs, d.TransferRefs)
		return Snapshot{
			TransactionID:  d.TransactionID,
			EventID:        d.EventID,
			Status:         d.Status,
			TotalAmount:    d.TotalAmount,
			RecipientCount: len(d.Recipients),
			CreatedAt:      d.CreatedAt,
			TransferRefs:   refs,
		}, nil
	}
	return Snapshot{}, ErrNotFound
}

// Stats aggregates counts and summed amounts over both partitions plus a
// status histogram over the completed partition.
type Stats struct {
	PendingCount    int                 `json:"pending_transactions"`
	CompletedCount  int                 `json:"completed_transactions"`
	PendingAmount   decimal.Decimal     `json:"pending_amount"`
	CompletedAmount decimal.Decimal     `json:"completed_amount"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	StatusCounts    map[fund.Status]int `json:"status_distribution"`
}

// Stats computes aggregate statistics in one critical section, so it can
// never observe a transaction mid-move.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		PendingCount:    len(s.pending),
		CompletedCount:  len(s.completed),
		PendingAmount:   decimal.Zero,
		CompletedAmount: decimal.Zero,
		StatusCounts: map[fund.Status]int{
			fund.StatusConfirmed: 0,
			fund.StatusFailed:    0,
			fund.StatusTimeout:   0,
			fund.StatusStopped:   0,
		},
	}
	for _, d := range s.pending {
		stats.PendingAmount = stats.PendingAmount.Add(d.TotalAmount)
	}
	for _, d := range s.completed {
		stats.CompletedAmount = stats.CompletedAmount.Add(d.TotalAmount)
		stats.StatusCounts[d.Status]++
	}
	stats.TotalAmount = stats.PendingAmount.Add(stats.CompletedAmount)
	return stats
}

// snapshotOf deep-copies the slices so sweep reads don't alias live entries.
func snapshotOf(d *fund.Disbursement) fund.Disbursement {
	cp := *d
	cp.Recipients = make([]fund.Recipient, len(d.Recipients))
	copy(cp.Recipients, d.Recipients)
	cp.TransferRefs = make([]string, len(d.TransferRefs))
	copy(cp.TransferRefs, d.TransferRefs)
	return cp
}
