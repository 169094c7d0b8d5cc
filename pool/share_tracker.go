package pool

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"argon-gpu-miner/log"

	"github.com/zeebo/blake3"
)

// MAX_TRACKED_JOBS is how many recent jobs duplicate detection covers.
const MAX_TRACKED_JOBS = 4

// Share is a submission queued for the network layer.
type Share struct {
	ID     string
	Submit JobSubmit
}

// PendingShare represents a share waiting for pool response
type PendingShare struct {
	Submit       JobSubmit
	SubmittedAt  time.Time
	ResponseChan chan ShareResult
	CancelFunc   context.CancelFunc // To cancel the timeout goroutine
}

// ShareResult contains the pool's response for a share
type ShareResult struct {
	Accepted bool
	Error    *PoolError
}

// ShareTracker is the submission sink handed to the miner. It drops
// duplicates, queues shares for the network layer and keeps track of the
// ones still waiting for a pool verdict.
type ShareTracker struct {
	mu            sync.RWMutex
	pendingShares map[string]*PendingShare
	seen          map[string]string // share id -> job id
	jobs          []string          // jobs with entries in seen, oldest first
	timeout       time.Duration

	queue chan Share

	accepted atomic.Uint64
	rejected atomic.Uint64
	expired  atomic.Uint64
	dropped  atomic.Uint64
}

// NewShareTracker creates a share tracker whose queue holds up to backlog
// shares; pending shares are rejected after timeout.
func NewShareTracker(timeout time.Duration, backlog int) *ShareTracker {
	return &ShareTracker{
		pendingShares: make(map[string]*PendingShare),
		seen:          make(map[string]string),
		timeout:       timeout,
		queue:         make(chan Share, backlog),
	}
}

// ShareID identifies a share by its job and nonce.
func ShareID(jobID string, nonce uint32) string {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], nonce)

	h := blake3.New()
	h.Write([]byte(jobID))
	h.Write(n[:])

	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Queue is read by the network layer, which sends each share and later calls
// Resolve with the pool's reply.
func (st *ShareTracker) Queue() <-chan Share {
	return st.queue
}

// Submit is safe to call from several device workers at once and never blocks:
// a share that does not fit in the queue is dropped.
func (st *ShareTracker) Submit(s JobSubmit) {
	shareID := ShareID(s.JobID, s.Nonce)

	st.mu.Lock()
	if _, dup := st.seen[shareID]; dup {
		st.mu.Unlock()
		log.Debugf("Duplicate share %s from %s ignored", shareID, s.DeviceName)
		return
	}

	pending := &PendingShare{
		Submit:       s,
		SubmittedAt:  time.Now(),
		ResponseChan: make(chan ShareResult, 1),
	}

	select {
	case st.queue <- Share{ID: shareID, Submit: s}:
	default:
		st.mu.Unlock()
		st.dropped.Add(1)
		log.Warnf("Share queue full, dropping share from %s for job %s", s.DeviceName, s.JobID)
		return
	}

	st.seen[shareID] = s.JobID
	st.trackJob(s.JobID)
	st.pendingShares[shareID] = pending
	st.startResponseWaiter(shareID, pending)
	st.mu.Unlock()

	log.Infof("Share found by %s for job %s, nonce %08x", s.DeviceName, s.JobID, s.Nonce)
}

// Resolve hands the pool's reply to a submitted share to its waiter.
// It reports false when the share is unknown or already timed out.
func (st *ShareTracker) Resolve(shareID string, reply PoolMessage) bool {
	pending := st.GetPendingShare(shareID)
	if pending == nil {
		return false
	}

	result := ShareResult{Accepted: reply.Error == nil, Error: reply.Error}

	select {
	case pending.ResponseChan <- result:
		return true
	default:
		return false
	}
}

// ForgetJob clears duplicate detection for shares of jobID.
func (st *ShareTracker) ForgetJob(jobID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.forgetJob(jobID)
}

// st.mu must be held.
func (st *ShareTracker) forgetJob(jobID string) {
	for id, job := range st.seen {
		if job == jobID {
			delete(st.seen, id)
		}
	}

	for i, job := range st.jobs {
		if job == jobID {
			st.jobs = append(st.jobs[:i], st.jobs[i+1:]...)
			break
		}
	}
}

// trackJob remembers jobID as the newest job and forgets the oldest once more
// than MAX_TRACKED_JOBS have shares. st.mu must be held.
func (st *ShareTracker) trackJob(jobID string) {
	if len(st.jobs) > 0 && st.jobs[len(st.jobs)-1] == jobID {
		return
	}

	for i, job := range st.jobs {
		if job == jobID {
			st.jobs = append(st.jobs[:i], st.jobs[i+1:]...)
			break
		}
	}
	st.jobs = append(st.jobs, jobID)

	for len(st.jobs) > MAX_TRACKED_JOBS {
		log.Debugf("Forgetting shares of job %s", st.jobs[0])
		st.forgetJob(st.jobs[0])
	}
}

// RemovePendingShare removes a share from tracking
func (st *ShareTracker) RemovePendingShare(shareID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if pending, exists := st.pendingShares[shareID]; exists {
		if pending.CancelFunc != nil {
			pending.CancelFunc()
		}
		delete(st.pendingShares, shareID)
		log.Debugf("Removed pending share %s (total pending: %d)", shareID, len(st.pendingShares))
	}
}

// GetPendingShare retrieves a pending share by ID
func (st *ShareTracker) GetPendingShare(shareID string) *PendingShare {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.pendingShares[shareID]
}

// st.mu must be held.
func (st *ShareTracker) startResponseWaiter(shareID string, pending *PendingShare) {
	ctx, cancel := context.WithTimeout(context.Background(), st.timeout)
	pending.CancelFunc = cancel

	go func() {
		defer cancel()
		defer st.RemovePendingShare(shareID)

		select {
		case result := <-pending.ResponseChan:
			if result.Accepted {
				st.accepted.Add(1)
				log.Infof("Share from %s accepted (%s)", pending.Submit.DeviceName, time.Since(pending.SubmittedAt).Round(time.Millisecond))
				return
			}

			st.rejected.Add(1)
			if result.Error != nil {
				log.Errf("Share from %s rejected: %s", pending.Submit.DeviceName, result.Error.Message)
			} else {
				log.Err("Share from", pending.Submit.DeviceName, "rejected")
			}

		case <-ctx.Done():
			st.expired.Add(1)
			log.Warnf("Share %s timed out after %v waiting for pool response", shareID, st.timeout)
		}
	}()
}

// GetPendingCount returns the number of shares awaiting responses
func (st *ShareTracker) GetPendingCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.pendingShares)
}

// ShareStats is a snapshot of the tracker's counters.
type ShareStats struct {
	Accepted uint64
	Rejected uint64
	Expired  uint64
	Dropped  uint64
}

func (st *ShareTracker) Stats() ShareStats {
	return ShareStats{
		Accepted: st.accepted.Load(),
		Rejected: st.rejected.Load(),
		Expired:  st.expired.Load(),
		Dropped:  st.dropped.Load(),
	}
}
