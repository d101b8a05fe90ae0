package webrtc

// candidateQueue holds remote candidates that arrived before the remote
// description. Callers serialize access.
type candidateQueue[T any] struct {
	ready   bool
	pending []T
}

// offer applies c now when ready, otherwise buffers it.
func (q *candidateQueue[T]) offer(c T, apply func(T) error) error {
	if !q.ready {
		q.pending = append(q.pending, c)
		return nil
	}
	return apply(c)
}

// open marks the queue ready and applies the buffered candidates in arrival
// order. Every candidate is attempted; the first error is returned.
func (q *candidateQueue[T]) open(apply func(T) error) error {
	q.ready = true
	pending := q.pending
	q.pending = nil

	var first error
	for _, c := range pending {
		if err := apply(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (q *candidateQueue[T]) len() int { return len(q.pending) }
