package session

import (
	"sync"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// DefaultMaxNotices bounds a session's pending notice queue
const DefaultMaxNotices = 20

// Notices is a bounded FIFO of user-visible notices for one session.
// When full, the oldest notice is dropped.
type Notices struct {
	mu    sync.Mutex
	items []entitlement.Notice
	max   int
}

// NewNotices creates a queue holding at most max notices
func NewNotices(max int) *Notices {
	if max <= 0 {
		max = DefaultMaxNotices
	}
	return &Notices{max: max}
}

// Notify implements entitlement.Notifier
func (n *Notices) Notify(notice entitlement.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.items) >= n.max {
		n.items = n.items[1:]
	}
	n.items = append(n.items, notice)
}

// Drain returns the pending notices in arrival order and empties the queue
func (n *Notices) Drain() []entitlement.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.items
	n.items = nil
	if out == nil {
		out = []entitlement.Notice{}
	}
	return out
}

// Len returns the number of pending notices
func (n *Notices) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}
