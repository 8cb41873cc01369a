package hub

import (
	"slices"
	"time"
)

type QueueEntry struct {
	UserID     string
	Username   string
	EnqueuedAt time.Time
}

// AdmissionQueue is the FIFO of users waiting for the next session.
// It is owned by the hub goroutine and is not safe for concurrent use.
type AdmissionQueue struct {
	entries []QueueEntry
}

func NewAdmissionQueue() *AdmissionQueue {
	return &AdmissionQueue{}
}

// Push appends e unless the user is already waiting. It returns the
// 1-based position of the user and whether it was added.
func (q *AdmissionQueue) Push(e QueueEntry) (int, bool) {
	if pos := q.Position(e.UserID); pos > 0 {
		return pos, false
	}
	q.entries = append(q.entries, e)
	return len(q.entries), true
}

// Position is 1-based; 0 means not queued.
func (q *AdmissionQueue) Position(userID string) int {
	for i, e := range q.entries {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

func (q *AdmissionQueue) Peek() (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	return q.entries[0], true
}

func (q *AdmissionQueue) Pop() (QueueEntry, bool) {
	e, ok := q.Peek()
	if ok {
		q.entries = q.entries[1:]
	}
	return e, ok
}

func (q *AdmissionQueue) Remove(userID string) bool {
	pos := q.Position(userID)
	if pos == 0 {
		return false
	}
	q.entries = slices.Delete(q.entries, pos-1, pos)
	return true
}

func (q *AdmissionQueue) Len() int { return len(q.entries) }

// Entries returns a copy in arrival order.
func (q *AdmissionQueue) Entries() []QueueEntry {
	return slices.Clone(q.entries)
}
