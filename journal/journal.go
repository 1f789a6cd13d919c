package journal

import (
	"sync"

	"github.com/pingcap/errors"

	"dbcluster/action"
)

// ErrClosed is returned when appending to a journal whose member has caught
// up or left the cluster.
var ErrClosed = errors.New("journal: closed")

// Journal is the ordered queue of actions a synchronizing member has not
// applied yet. Entries leave the journal strictly in the order they entered.
type Journal struct {
	mu       sync.Mutex
	entries  []*action.Action
	closed   bool
	appended uint64
}

func New() *Journal {
	return &Journal{}
}

func (j *Journal) Append(a *action.Action) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.entries = append(j.entries, a)
	j.appended++
	return nil
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Appended is the number of actions ever appended.
func (j *Journal) Appended() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appended
}

// Take removes and returns up to max of the oldest entries, all of them when
// max <= 0.
func (j *Journal) Take(max int) []*action.Action {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := len(j.entries)
	if max > 0 && max < n {
		n = max
	}
	batch := make([]*action.Action, n)
	copy(batch, j.entries[:n])
	// drop references so drained actions can be collected
	for i := 0; i < n; i++ {
		j.entries[i] = nil
	}
	j.entries = j.entries[n:]
	return batch
}

// Drain applies entries oldest first until the journal is empty. An entry
// leaves the journal only after apply succeeds for it, so on error the
// failing entry is still at the head. Entries appended while draining are
// drained too.
func (j *Journal) Drain(apply func(*action.Action) error) (int, error) {
	applied := 0
	for {
		j.mu.Lock()
		if len(j.entries) == 0 {
			j.mu.Unlock()
			return applied, nil
		}
		head := j.entries[0]
		j.mu.Unlock()

		if err := apply(head); err != nil {
			return applied, errors.Trace(err)
		}

		j.mu.Lock()
		if j.closed {
			j.mu.Unlock()
			return applied + 1, errors.Trace(ErrClosed)
		}
		j.entries[0] = nil
		j.entries = j.entries[1:]
		j.mu.Unlock()
		applied++
	}
}

// Close rejects further appends and discards what is left, returning the
// number of discarded entries.
func (j *Journal) Close() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	n := len(j.entries)
	j.entries = nil
	return n
}

func (j *Journal) Closed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}
