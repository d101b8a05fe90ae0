package call

import "sync"

// mailbox is an unbounded FIFO of events. Once sealed it rejects new
// events so the caller can release whatever they carry.
type mailbox struct {
	mu     sync.Mutex
	queue  []Event
	sealed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// put enqueues ev and reports false when the mailbox is sealed.
func (m *mailbox) put(ev Event) bool {
	m.mu.Lock()
	if m.sealed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// take removes every queued event.
func (m *mailbox) take() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.queue
	m.queue = nil
	return evs
}

// seal rejects further events and returns what was still queued.
func (m *mailbox) seal() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
	evs := m.queue
	m.queue = nil
	return evs
}
